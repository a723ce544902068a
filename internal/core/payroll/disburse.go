package payroll

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
	"github.com/ogurasousui/codex-payroll-ledger/internal/core/access"
	"github.com/ogurasousui/codex-payroll-ledger/internal/core/ledger"
	"github.com/ogurasousui/codex-payroll-ledger/internal/core/token"
)

// Payday は呼び出し元従業員に、支給額が 0 でない全トークンを支給します。従業員本人のみ実行できます。
//
// 送金に失敗したトークンはスキップされ、他のトークンの支給は継続します。最終支給日時は結果によらず現在時刻に進みます。
// 支給日時は従業員単位で 1 つだけ保持するため、支給周期内に再度呼び出すと前回成功したトークンも再び支給されます。
//
// 送金後の永続化に失敗した場合も、送金結果と最終支給日時はメモリ上に残り、Report とエラーの両方を返します。
func (c *Controller) Payday(ctx context.Context) (*Report, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	caller, err := access.Caller(ctx)
	if err != nil {
		return nil, err
	}
	emp, ok := c.store.EmployeeByAddress(caller)
	if !ok {
		c.observe("payday", ledger.ErrUnknownEmployee)
		return nil, ledger.ErrUnknownEmployee
	}
	if err := access.RequireSelf(ctx, emp.Address); err != nil {
		return nil, err
	}

	now := c.clock.Now()
	if c.payPeriod > 0 && now.Sub(emp.LatestPaydayAt) < c.payPeriod {
		err := fmt.Errorf("%w: next payday at %s", ErrPaydayNotDue, emp.LatestPaydayAt.Add(c.payPeriod).Format(time.RFC3339))
		c.observe("payday", err)
		return nil, err
	}

	report := c.newReport(KindPayday, now)
	for _, st := range emp.SalaryTokens {
		if st.Amount.Sign() <= 0 {
			continue
		}
		entry := Disbursement{
			RunID:      report.RunID,
			Kind:       KindPayday,
			EmployeeID: emp.ID,
			Recipient:  emp.Address,
			Token:      st.Token,
			Amount:     st.Amount,
			At:         now,
		}
		err := c.transfer(ctx, st.Token, emp.Address, st.Amount)
		report.record(c, entry, err)
	}

	adminCtx := c.gate.AsOwner(ctx)
	if err := c.store.SetLatestPayday(adminCtx, emp.Address, now); err != nil {
		return report, err
	}

	err = c.tx.WithinReadWrite(ctx, func(txCtx context.Context) error {
		if err := c.saveEmployee(txCtx, emp.ID); err != nil {
			return err
		}
		return c.repo.AppendDisbursements(txCtx, report.Entries)
	})
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrPersist, err)
		c.log.Error("payroll: payday executed but not persisted", "run_id", report.RunID, "error", err)
		c.observe("payday", err)
		return report, err
	}

	c.observe("payday", nil)
	c.log.Info("payroll: payday", "run_id", report.RunID, "id", emp.ID,
		"paid", len(report.Paid()), "skipped", len(report.Skipped()))
	return report, nil
}

// EscapeHatch は給与支払い口座の全トークン残高を管理者へ送金します。管理者のみ実行できます。
//
// 対象は登録済みの全トークンと、いずれかの従業員がペッグしたことのある全トークンです。
// forced が false の場合、送金に失敗したトークンはスキップされ口座に残ります。
// forced が true で、トークンが強制送金を提供する場合はそれを使用し、失敗した時点で ErrEscapeAborted を返して中断します。
// 強制送金を提供しないトークンでは forced は結果に影響しません。
func (c *Controller) EscapeHatch(ctx context.Context, forced bool) (*Report, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.gate.RequireOwner(ctx); err != nil {
		c.observe("escape_hatch", err)
		return nil, err
	}

	owner := c.gate.Owner()
	report := c.newReport(KindEscapeHatch, c.clock.Now())

	var aborted error
	for _, t := range c.knownTokens() {
		asset, ok := c.assets.Asset(t)
		if !ok {
			c.log.Warn("payroll: escape hatch skipped unknown token", "run_id", report.RunID, "token", t)
			continue
		}
		balance, err := asset.BalanceOf(ctx, c.treasury)
		if err != nil {
			c.log.Warn("payroll: escape hatch balance unavailable", "run_id", report.RunID, "token", t, "error", err)
			continue
		}
		if balance == nil || balance.Sign() <= 0 {
			continue
		}

		entry := Disbursement{
			RunID:     report.RunID,
			Kind:      KindEscapeHatch,
			Recipient: owner,
			Token:     t,
			Amount:    new(big.Int).Set(balance),
			At:        report.At,
		}

		if f, ok := asset.(token.Forcible); forced && ok {
			err = token.SafeForceTransfer(ctx, f, owner, balance)
			report.record(c, entry, err)
			if err != nil {
				aborted = fmt.Errorf("%w: %s: %w", ErrEscapeAborted, t, err)
				break
			}
			continue
		}

		err = c.transfer(ctx, t, owner, balance)
		report.record(c, entry, err)
	}

	persistErr := c.tx.WithinReadWrite(ctx, func(txCtx context.Context) error {
		return c.repo.AppendDisbursements(txCtx, report.Entries)
	})
	if persistErr != nil {
		persistErr = fmt.Errorf("%w: %w", ErrPersist, persistErr)
		c.log.Error("payroll: escape hatch executed but not persisted", "run_id", report.RunID, "error", persistErr)
	}

	switch {
	case aborted != nil:
		c.observe("escape_hatch", aborted)
		c.log.Error("payroll: escape hatch aborted", "run_id", report.RunID, "forced", forced, "error", aborted)
		return report, aborted
	case persistErr != nil:
		c.observe("escape_hatch", persistErr)
		return report, persistErr
	}

	c.observe("escape_hatch", nil)
	c.log.Info("payroll: escape hatch", "run_id", report.RunID, "forced", forced,
		"drained", len(report.Paid()), "skipped", len(report.Skipped()))
	return report, nil
}

// knownTokens は登録済みトークンに、従業員がペッグしたトークンを重複なく追加して返します。
func (c *Controller) knownTokens() []access.Address {
	seen := make(map[access.Address]struct{})
	var out []access.Address
	add := func(t access.Address) {
		t = access.NormalizeAddress(string(t))
		if _, ok := seen[t]; ok {
			return
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}

	for _, a := range c.assets.Assets() {
		add(a.Address())
	}
	for _, emp := range c.store.Employees() {
		for _, p := range emp.PeggedTokens {
			add(p.Token)
		}
	}
	return out
}

func (c *Controller) transfer(ctx context.Context, t, to access.Address, amount *big.Int) error {
	asset, ok := c.assets.Asset(t)
	if !ok {
		return fmt.Errorf("%w: %s", token.ErrUnknownAsset, t)
	}
	return token.SafeTransfer(ctx, asset, to, amount)
}

func (c *Controller) newReport(kind DisbursementKind, at time.Time) *Report {
	return &Report{RunID: uuid.New(), Kind: kind, At: at}
}

func (r *Report) record(c *Controller, entry Disbursement, err error) {
	status := "ok"
	entry.Succeeded = err == nil
	if err != nil {
		status = "skipped"
		entry.Reason = err.Error()
		c.log.Warn("payroll: transfer skipped", "run_id", r.RunID, "kind", r.Kind,
			"token", entry.Token, "amount", entry.Amount, "error", err)
	}
	r.Entries = append(r.Entries, entry)
	MetricDisbursementsTotal.WithLabelValues(string(r.Kind), status).Inc()
}
