package payroll

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/ogurasousui/codex-payroll-ledger/internal/core/access"
	"github.com/ogurasousui/codex-payroll-ledger/internal/core/allocation"
	"github.com/ogurasousui/codex-payroll-ledger/internal/core/ledger"
	"github.com/ogurasousui/codex-payroll-ledger/internal/core/token"
)

// Config は Controller の依存関係と支給ポリシーです。
type Config struct {
	Logger     *slog.Logger
	Clock      clockwork.Clock
	Gate       *access.Gate
	Store      *ledger.Store
	Engine     *allocation.Engine
	Assets     *token.Catalog
	Treasury   access.Address
	Repository Repository
	Tx         TransactionManager
	// PayPeriod は支給間隔です。0 の場合はいつでも支給できます。
	PayPeriod time.Duration
}

// Validate は必須項目を検証します。
func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Gate == nil {
		return errors.New("gate is required")
	}
	if cfg.Store == nil {
		return errors.New("store is required")
	}
	if cfg.Engine == nil {
		return errors.New("allocation engine is required")
	}
	if cfg.Assets == nil {
		return errors.New("asset catalog is required")
	}
	if access.NormalizeAddress(string(cfg.Treasury)).IsZero() {
		return errors.New("treasury address is required")
	}
	if cfg.PayPeriod < 0 {
		return errors.New("pay period must not be negative")
	}
	return nil
}

// Controller は従業員のライフサイクル、給与支給、緊急引き出し、バーンレート・ランウェイ分析をまとめます。
// すべての呼び出しは内部で直列化され、変更系の呼び出しは全体が成功するか何も変更しないかのどちらかです。
// 例外は Payday と EscapeHatch のトークンごとの送金で、失敗した送金はスキップされます。
type Controller struct {
	mu        sync.RWMutex
	log       *slog.Logger
	clock     clockwork.Clock
	gate      *access.Gate
	store     *ledger.Store
	engine    *allocation.Engine
	assets    *token.Catalog
	treasury  access.Address
	repo      Repository
	tx        TransactionManager
	payPeriod time.Duration
}

// New は Controller を生成します。
func New(cfg Config) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Repository == nil {
		cfg.Repository = noopRepository{}
	}
	if cfg.Tx == nil {
		cfg.Tx = noopTransactionManager{}
	}
	return &Controller{
		log:       cfg.Logger,
		clock:     cfg.Clock,
		gate:      cfg.Gate,
		store:     cfg.Store,
		engine:    cfg.Engine,
		assets:    cfg.Assets,
		treasury:  access.NormalizeAddress(string(cfg.Treasury)),
		repo:      cfg.Repository,
		tx:        cfg.Tx,
		payPeriod: cfg.PayPeriod,
	}, nil
}

// Treasury は給与支払い口座のアドレスを返します。
func (c *Controller) Treasury() access.Address {
	return c.treasury
}

// PayPeriod は支給間隔を返します。
func (c *Controller) PayPeriod() time.Duration {
	return c.payPeriod
}

// mutate は apply をストアの作業単位として実行し、続けて persist を読み書きトランザクション内で実行します。
// どちらかが失敗した場合はメモリ上の変更も巻き戻されます。呼び出し側で c.mu を保持してください。
func (c *Controller) mutate(ctx context.Context, op string, apply, persist func(ctx context.Context) error) error {
	err := c.store.Atomically(ctx, func(ctx context.Context) error {
		if err := apply(ctx); err != nil {
			return err
		}
		if persist == nil {
			return nil
		}
		if err := c.tx.WithinReadWrite(ctx, persist); err != nil {
			return fmt.Errorf("%w: %w", ErrPersist, err)
		}
		return nil
	})
	c.observe(op, err)
	return err
}

func (c *Controller) observe(op string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
		c.log.Debug("payroll: operation failed", "operation", op, "error", err)
	}
	MetricOperationsTotal.WithLabelValues(op, status).Inc()
	MetricActiveEmployees.Set(float64(c.store.Count()))
}

func (c *Controller) saveEmployee(ctx context.Context, id ledger.ID) error {
	emp, ok := c.store.Employee(id)
	if !ok {
		return nil
	}
	return c.repo.SaveEmployee(ctx, emp)
}

func (c *Controller) state() State {
	return State{NextID: c.store.NextID(), Owner: c.gate.Owner()}
}

func (c *Controller) addressOf(id ledger.ID) (access.Address, error) {
	addr, ok := c.store.AddressOf(id)
	if !ok {
		return "", fmt.Errorf("%w: id %d", ledger.ErrUnknownEmployee, id)
	}
	return addr, nil
}

// AddEmployee は従業員を追加します。管理者のみ実行できます。
// 最終支給日時は現在時刻で初期化されるため、採用前の期間分は支給されません。
func (c *Controller) AddEmployee(ctx context.Context, addr access.Address, yearlyUSDSalary *big.Int) (*ledger.Employee, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.gate.RequireOwner(ctx); err != nil {
		return nil, err
	}
	addr = access.NormalizeAddress(string(addr))
	if addr.IsZero() {
		return nil, ledger.ErrInvalidAddress
	}
	if yearlyUSDSalary == nil || yearlyUSDSalary.Sign() <= 0 {
		return nil, ErrZeroSalary
	}

	var id ledger.ID
	err := c.mutate(ctx, "add_employee",
		func(ctx context.Context) error {
			var err error
			id, err = c.store.Add(ctx, addr, yearlyUSDSalary, c.clock.Now())
			return err
		},
		func(ctx context.Context) error {
			if err := c.saveEmployee(ctx, id); err != nil {
				return err
			}
			return c.repo.SaveState(ctx, c.state())
		},
	)
	if err != nil {
		return nil, err
	}

	c.log.Info("payroll: employee added", "id", id, "address", addr)
	emp, _ := c.store.Employee(id)
	return emp, nil
}

// SetEmployeeAddress は id の従業員のアドレスを付け替えます。管理者のみ実行できます。
func (c *Controller) SetEmployeeAddress(ctx context.Context, id ledger.ID, newAddr access.Address) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.gate.RequireOwner(ctx); err != nil {
		return err
	}
	oldAddr, err := c.addressOf(id)
	if err != nil {
		return err
	}
	return c.rekey(ctx, "set_employee_address", id, oldAddr, newAddr)
}

// ChangeAddress は呼び出し元従業員自身のアドレスを newAddr に付け替えます。
func (c *Controller) ChangeAddress(ctx context.Context, newAddr access.Address) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	caller, err := access.Caller(ctx)
	if err != nil {
		return err
	}
	id, ok := c.store.IDOf(caller)
	if !ok {
		return fmt.Errorf("%w: %w", access.ErrUnauthorized, ledger.ErrUnknownEmployee)
	}
	oldAddr, err := c.addressOf(id)
	if err != nil {
		return err
	}
	if err := access.RequireSelf(ctx, oldAddr); err != nil {
		return err
	}
	return c.rekey(c.gate.AsOwner(ctx), "change_address", id, oldAddr, newAddr)
}

func (c *Controller) rekey(ctx context.Context, op string, id ledger.ID, oldAddr, newAddr access.Address) error {
	err := c.mutate(ctx, op,
		func(ctx context.Context) error {
			return c.store.SetAddress(ctx, oldAddr, newAddr)
		},
		func(ctx context.Context) error {
			return c.saveEmployee(ctx, id)
		},
	)
	if err != nil {
		return err
	}
	c.log.Info("payroll: employee address changed", "id", id, "from", oldAddr, "to", access.NormalizeAddress(string(newAddr)))
	return nil
}

// SetEmployeeSalary は年間給与を変更し、記録済みの配分率とペッグ済みレートから支給額を再計算します。
// 管理者のみ実行できます。
func (c *Controller) SetEmployeeSalary(ctx context.Context, id ledger.ID, yearlyUSDSalary *big.Int) (*ledger.Employee, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.gate.RequireOwner(ctx); err != nil {
		return nil, err
	}
	if yearlyUSDSalary == nil || yearlyUSDSalary.Sign() <= 0 {
		return nil, ErrZeroSalary
	}
	addr, err := c.addressOf(id)
	if err != nil {
		return nil, err
	}

	err = c.mutate(ctx, "set_employee_salary",
		func(ctx context.Context) error {
			if err := c.store.SetYearlyUSDSalary(ctx, addr, yearlyUSDSalary); err != nil {
				return err
			}
			return c.engine.Reprice(ctx, addr)
		},
		func(ctx context.Context) error {
			return c.saveEmployee(ctx, id)
		},
	)
	if err != nil {
		return nil, err
	}

	emp, _ := c.store.Employee(id)
	return emp, nil
}

// RemoveEmployee は従業員を削除します。管理者のみ実行できます。ID は再利用されません。
func (c *Controller) RemoveEmployee(ctx context.Context, id ledger.ID) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.gate.RequireOwner(ctx); err != nil {
		return err
	}
	addr, err := c.addressOf(id)
	if err != nil {
		return err
	}

	err = c.mutate(ctx, "remove_employee",
		func(ctx context.Context) error {
			return c.store.Remove(ctx, addr)
		},
		func(ctx context.Context) error {
			return c.repo.DeleteEmployee(ctx, id)
		},
	)
	if err != nil {
		return err
	}
	c.log.Info("payroll: employee removed", "id", id, "address", addr)
	return nil
}

// DetermineAllocation は呼び出し元従業員のトークン配分を決定します。従業員本人のみ実行できます。
func (c *Controller) DetermineAllocation(ctx context.Context, tokens []access.Address, basisPoints []uint32) (*ledger.Employee, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var emp *ledger.Employee
	err := c.mutate(ctx, "determine_allocation",
		func(ctx context.Context) error {
			var err error
			emp, err = c.engine.DetermineAllocation(ctx, tokens, basisPoints)
			return err
		},
		func(ctx context.Context) error {
			return c.repo.SaveEmployee(ctx, emp)
		},
	)
	if err != nil {
		return nil, err
	}
	c.log.Info("payroll: allocation determined", "id", emp.ID, "tokens", len(emp.AllocatedTokens))
	return emp, nil
}

// TransferOwnership は管理者を newOwner に変更します。管理者のみ実行できます。
func (c *Controller) TransferOwnership(ctx context.Context, newOwner access.Address) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	previous := c.gate.Owner()
	err := c.tx.WithinReadWrite(ctx, func(txCtx context.Context) error {
		if err := c.gate.TransferOwnership(txCtx, newOwner); err != nil {
			return err
		}
		if err := c.repo.SaveState(txCtx, c.state()); err != nil {
			return fmt.Errorf("%w: %w", ErrPersist, err)
		}
		return nil
	})
	if err != nil {
		if c.gate.Owner() != previous {
			// 永続化に失敗したため元の管理者に戻す
			_ = c.gate.TransferOwnership(c.gate.AsOwner(ctx), previous)
		}
		c.observe("transfer_ownership", err)
		return err
	}
	c.observe("transfer_ownership", nil)
	c.log.Info("payroll: ownership transferred", "from", previous, "to", c.gate.Owner())
	return nil
}

// Restore は永続化ミラーから台帳と管理者を復元します。起動時に一度だけ呼び出します。
func (c *Controller) Restore(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var snap *Snapshot
	err := c.tx.WithinReadOnly(ctx, func(txCtx context.Context) error {
		var err error
		snap, err = c.repo.Load(txCtx)
		return err
	})
	if err != nil {
		return fmt.Errorf("load ledger: %w", err)
	}
	if snap == nil {
		return nil
	}

	if err := c.store.Restore(snap.Employees, snap.State.NextID); err != nil {
		return err
	}
	if owner := access.NormalizeAddress(string(snap.State.Owner)); !owner.IsZero() && owner != c.gate.Owner() {
		if err := c.gate.TransferOwnership(c.gate.AsOwner(ctx), owner); err != nil {
			return err
		}
	}
	if err := c.store.Verify(); err != nil {
		return err
	}

	MetricActiveEmployees.Set(float64(c.store.Count()))
	c.log.Info("payroll: ledger restored", "employees", c.store.Count(), "next_id", c.store.NextID(), "owner", c.gate.Owner())
	return nil
}

// Owner は現在の管理者アドレスを返します。
func (c *Controller) Owner() access.Address {
	return c.gate.Owner()
}

// EmployeeCount は在籍中の従業員数を返します。
func (c *Controller) EmployeeCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.store.Count()
}

// NextEmployeeID は次に払い出す従業員 ID を返します。
func (c *Controller) NextEmployeeID() ledger.ID {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.store.NextID()
}

// Employee は id の従業員を返します。
func (c *Controller) Employee(id ledger.ID) (*ledger.Employee, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	emp, ok := c.store.Employee(id)
	if !ok {
		return nil, fmt.Errorf("%w: id %d", ledger.ErrUnknownEmployee, id)
	}
	return emp, nil
}

// EmployeeByAddress は addr の従業員を返します。
func (c *Controller) EmployeeByAddress(addr access.Address) (*ledger.Employee, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	emp, ok := c.store.EmployeeByAddress(addr)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ledger.ErrUnknownEmployee, addr)
	}
	return emp, nil
}

// Employees は在籍中の全従業員を ID 昇順で返します。
func (c *Controller) Employees() []*ledger.Employee {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.store.Employees()
}
