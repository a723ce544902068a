package access

import "errors"

var (
	ErrUnauthorized = errors.New("access: unauthorized")
	ErrNoPrincipal  = errors.New("access: no principal in context")
	ErrInvalidOwner = errors.New("access: invalid owner address")

	ErrInvalidAddress = errors.New("access: malformed address")
)
