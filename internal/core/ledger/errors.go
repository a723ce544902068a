package ledger

import (
	"errors"
	"fmt"

	"github.com/ogurasousui/codex-payroll-ledger/internal/core/access"
)

var (
	ErrNotOwner        = fmt.Errorf("ledger: not owner: %w", access.ErrUnauthorized)
	ErrInvalidAddress  = errors.New("ledger: invalid address")
	ErrInvalidToken    = errors.New("ledger: invalid token address")
	ErrInvalidRate     = errors.New("ledger: invalid pegged rate")
	ErrInvalidAmount   = errors.New("ledger: invalid amount")
	ErrAlreadyExists   = errors.New("ledger: employee already exists")
	ErrUnknownEmployee = errors.New("ledger: unknown employee")
	ErrCorruptSnapshot = errors.New("ledger: corrupt snapshot")
	ErrInvariantBroken = errors.New("ledger: invariant broken")
)
