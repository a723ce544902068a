package allocation

import "errors"

var (
	ErrArityMismatch           = errors.New("allocation: tokens and percentages must be non-empty and of equal length")
	ErrDuplicateToken          = errors.New("allocation: token listed more than once")
	ErrRateUnavailable         = errors.New("allocation: exchange rate unavailable")
	ErrDistributionNotComplete = errors.New("allocation: distribution must total 10000 basis points")
	ErrReallocationNotDue      = errors.New("allocation: reallocation not due")
)
