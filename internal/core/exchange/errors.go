package exchange

import "errors"

var (
	ErrInvalidToken  = errors.New("exchange: invalid token address")
	ErrInvalidRate   = errors.New("exchange: invalid exchange rate")
	ErrInvalidOracle = errors.New("exchange: invalid oracle address")
	ErrNotOracle     = errors.New("exchange: caller is not the oracle")
)
