package token

import "errors"

var (
	ErrUnknownAsset        = errors.New("token: unknown asset")
	ErrTransferRejected    = errors.New("token: transfer rejected")
	ErrInsufficientBalance = errors.New("token: insufficient balance")
	ErrInvalidAmount       = errors.New("token: invalid amount")
)
