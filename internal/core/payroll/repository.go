package payroll

import (
	"context"
	"math/big"
	"time"

	"github.com/google/uuid"
	"github.com/ogurasousui/codex-payroll-ledger/internal/core/access"
	"github.com/ogurasousui/codex-payroll-ledger/internal/core/ledger"
)

// Repository は従業員台帳の永続化ミラーです。
type Repository interface {
	SaveEmployee(ctx context.Context, employee *ledger.Employee) error
	DeleteEmployee(ctx context.Context, id ledger.ID) error
	SaveState(ctx context.Context, state State) error
	Load(ctx context.Context) (*Snapshot, error)
	AppendDisbursements(ctx context.Context, entries []Disbursement) error
}

// State は従業員以外に永続化する台帳の状態です。
type State struct {
	NextID ledger.ID
	Owner  access.Address
}

// Snapshot は永続化された台帳全体です。
type Snapshot struct {
	State     State
	Employees []*ledger.Employee
}

// TransactionManager はトランザクション制御の抽象化です。
type TransactionManager interface {
	WithinReadOnly(ctx context.Context, fn func(context.Context) error) error
	WithinReadWrite(ctx context.Context, fn func(context.Context) error) error
}

type noopTransactionManager struct{}

func (noopTransactionManager) WithinReadOnly(ctx context.Context, fn func(context.Context) error) error {
	if fn == nil {
		return nil
	}
	return fn(ctx)
}

func (noopTransactionManager) WithinReadWrite(ctx context.Context, fn func(context.Context) error) error {
	if fn == nil {
		return nil
	}
	return fn(ctx)
}

type noopRepository struct{}

func (noopRepository) SaveEmployee(context.Context, *ledger.Employee) error {
	return nil
}

func (noopRepository) DeleteEmployee(context.Context, ledger.ID) error {
	return nil
}

func (noopRepository) SaveState(context.Context, State) error {
	return nil
}

func (noopRepository) Load(context.Context) (*Snapshot, error) {
	return &Snapshot{}, nil
}

func (noopRepository) AppendDisbursements(context.Context, []Disbursement) error {
	return nil
}

// DisbursementKind は送金の発生元です。
type DisbursementKind string

const (
	KindPayday      DisbursementKind = "payday"
	KindEscapeHatch DisbursementKind = "escape_hatch"
)

// Disbursement は 1 回の送金試行の記録です。失敗した試行も記録されます。
type Disbursement struct {
	RunID      uuid.UUID
	Kind       DisbursementKind
	EmployeeID ledger.ID
	Recipient  access.Address
	Token      access.Address
	Amount     *big.Int
	Succeeded  bool
	Reason     string
	At         time.Time
}

// Report は支給または緊急引き出し 1 回分の結果です。
type Report struct {
	RunID   uuid.UUID
	Kind    DisbursementKind
	At      time.Time
	Entries []Disbursement
}

// Paid は成功した送金のみを返します。
func (r *Report) Paid() []Disbursement {
	return r.filter(true)
}

// Skipped は失敗してスキップされた送金のみを返します。
func (r *Report) Skipped() []Disbursement {
	return r.filter(false)
}

func (r *Report) filter(succeeded bool) []Disbursement {
	out := make([]Disbursement, 0, len(r.Entries))
	for _, e := range r.Entries {
		if e.Succeeded == succeeded {
			out = append(out, e)
		}
	}
	return out
}
