package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/ogurasousui/codex-payroll-ledger/internal/core/access"
	"github.com/ogurasousui/codex-payroll-ledger/internal/core/ledger"
	"github.com/ogurasousui/codex-payroll-ledger/internal/core/payroll"
	pgdb "github.com/ogurasousui/codex-payroll-ledger/internal/platform/db/postgres"
)

const (
	uniqueViolationCode = "23505"
	checkViolationCode  = "23514"
)

const (
	upsertEmployeeSQL = `
        INSERT INTO employees (id, address, yearly_usd_salary, latest_allocation_at, latest_payday_at, updated_at)
        VALUES ($1, $2, $3::numeric, $4, $5, now())
        ON CONFLICT (id) DO UPDATE
           SET address = EXCLUDED.address,
               yearly_usd_salary = EXCLUDED.yearly_usd_salary,
               latest_allocation_at = EXCLUDED.latest_allocation_at,
               latest_payday_at = EXCLUDED.latest_payday_at,
               updated_at = now()
    `

	deleteAllocatedSQL = `DELETE FROM employee_allocated_tokens WHERE employee_id = $1`
	deletePeggedSQL    = `DELETE FROM employee_pegged_tokens WHERE employee_id = $1`
	deleteSalarySQL    = `DELETE FROM employee_salary_tokens WHERE employee_id = $1`

	insertAllocatedSQL = `
        INSERT INTO employee_allocated_tokens (employee_id, position, token_address, basis_points)
        SELECT $1, t.ord - 1, t.token, t.bps
          FROM unnest($2::text[], $3::int[]) WITH ORDINALITY AS t(token, bps, ord)
    `

	insertPeggedSQL = `
        INSERT INTO employee_pegged_tokens (employee_id, position, token_address, rate)
        SELECT $1, t.ord - 1, t.token, t.rate::numeric
          FROM unnest($2::text[], $3::text[]) WITH ORDINALITY AS t(token, rate, ord)
    `

	insertSalarySQL = `
        INSERT INTO employee_salary_tokens (employee_id, position, token_address, amount)
        SELECT $1, t.ord - 1, t.token, t.amount::numeric
          FROM unnest($2::text[], $3::text[]) WITH ORDINALITY AS t(token, amount, ord)
    `

	deleteEmployeeSQL = `DELETE FROM employees WHERE id = $1`

	upsertStateSQL = `
        INSERT INTO payroll_state (id, next_employee_id, owner_address, updated_at)
        VALUES (1, $1, $2, now())
        ON CONFLICT (id) DO UPDATE
           SET next_employee_id = EXCLUDED.next_employee_id,
               owner_address = EXCLUDED.owner_address,
               updated_at = now()
    `

	selectStateSQL = `SELECT next_employee_id, owner_address FROM payroll_state WHERE id = 1`

	selectEmployeesSQL = `
        SELECT id, address, yearly_usd_salary::text, latest_allocation_at, latest_payday_at
          FROM employees
         ORDER BY id
    `

	selectAllocatedSQL = `
        SELECT employee_id, token_address, basis_points::text
          FROM employee_allocated_tokens
         ORDER BY employee_id, position
    `

	selectPeggedSQL = `
        SELECT employee_id, token_address, rate::text
          FROM employee_pegged_tokens
         ORDER BY employee_id, position
    `

	selectSalarySQL = `
        SELECT employee_id, token_address, amount::text
          FROM employee_salary_tokens
         ORDER BY employee_id, position
    `

	insertDisbursementsSQL = `
        INSERT INTO disbursements (run_id, kind, employee_id, recipient, token_address, amount, succeeded, reason, occurred_at)
        SELECT t.run_id::uuid, t.kind, NULLIF(t.employee_id, 0), t.recipient, t.token, t.amount::numeric, t.succeeded, t.reason, t.occurred_at
          FROM unnest($1::text[], $2::text[], $3::bigint[], $4::text[], $5::text[], $6::text[], $7::bool[], $8::text[], $9::timestamptz[])
            AS t(run_id, kind, employee_id, recipient, token, amount, succeeded, reason, occurred_at)
    `
)

// PayrollRepository は PostgreSQL を利用した従業員台帳の永続化ミラーです。
// 金額は NUMERIC(78,0) に 10 進文字列として保存します。
type PayrollRepository struct {
	pool pgdb.Queryer
}

var _ payroll.Repository = (*PayrollRepository)(nil)

// NewPayrollRepository は PayrollRepository を生成します。
func NewPayrollRepository(pool pgdb.Queryer) *PayrollRepository {
	return &PayrollRepository{pool: pool}
}

// SaveEmployee は従業員の行とトークン集合を置き換えます。
func (r *PayrollRepository) SaveEmployee(ctx context.Context, e *ledger.Employee) error {
	exec := pgdb.QueryerFromContext(ctx, r.pool)

	if _, err := exec.Exec(ctx, upsertEmployeeSQL,
		int64(e.ID),
		string(e.Address),
		e.YearlyUSDSalary.String(),
		nullableTime(e.LatestAllocationAt),
		nullableTime(e.LatestPaydayAt),
	); err != nil {
		return translatePgError(err)
	}

	for _, stmt := range []string{deleteAllocatedSQL, deletePeggedSQL, deleteSalarySQL} {
		if _, err := exec.Exec(ctx, stmt, int64(e.ID)); err != nil {
			return translatePgError(err)
		}
	}

	if len(e.AllocatedTokens) > 0 {
		tokens := make([]string, len(e.AllocatedTokens))
		bps := make([]int32, len(e.AllocatedTokens))
		for i, a := range e.AllocatedTokens {
			tokens[i] = string(a.Token)
			bps[i] = int32(a.BasisPoints)
		}
		if _, err := exec.Exec(ctx, insertAllocatedSQL, int64(e.ID), tokens, bps); err != nil {
			return translatePgError(err)
		}
	}

	if len(e.PeggedTokens) > 0 {
		tokens := make([]string, len(e.PeggedTokens))
		rates := make([]string, len(e.PeggedTokens))
		for i, p := range e.PeggedTokens {
			tokens[i] = string(p.Token)
			rates[i] = p.Rate.String()
		}
		if _, err := exec.Exec(ctx, insertPeggedSQL, int64(e.ID), tokens, rates); err != nil {
			return translatePgError(err)
		}
	}

	if len(e.SalaryTokens) > 0 {
		tokens := make([]string, len(e.SalaryTokens))
		amounts := make([]string, len(e.SalaryTokens))
		for i, s := range e.SalaryTokens {
			tokens[i] = string(s.Token)
			amounts[i] = s.Amount.String()
		}
		if _, err := exec.Exec(ctx, insertSalarySQL, int64(e.ID), tokens, amounts); err != nil {
			return translatePgError(err)
		}
	}
	return nil
}

// DeleteEmployee は従業員とトークン集合を削除します。存在しない場合は何もしません。
func (r *PayrollRepository) DeleteEmployee(ctx context.Context, id ledger.ID) error {
	exec := pgdb.QueryerFromContext(ctx, r.pool)
	if _, err := exec.Exec(ctx, deleteEmployeeSQL, int64(id)); err != nil {
		return translatePgError(err)
	}
	return nil
}

// SaveState は次の従業員 ID と管理者を保存します。
func (r *PayrollRepository) SaveState(ctx context.Context, state payroll.State) error {
	exec := pgdb.QueryerFromContext(ctx, r.pool)
	if _, err := exec.Exec(ctx, upsertStateSQL, int64(state.NextID), string(state.Owner)); err != nil {
		return translatePgError(err)
	}
	return nil
}

// Load は台帳全体を読み込みます。状態行が存在しない場合は空の Snapshot を返します。
func (r *PayrollRepository) Load(ctx context.Context) (*payroll.Snapshot, error) {
	exec := pgdb.QueryerFromContext(ctx, r.pool)
	snap := &payroll.Snapshot{}

	var (
		nextID int64
		owner  string
	)
	err := exec.QueryRow(ctx, selectStateSQL).Scan(&nextID, &owner)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return snap, nil
	case err != nil:
		return nil, translatePgError(err)
	}
	snap.State = payroll.State{NextID: ledger.ID(nextID), Owner: access.Address(owner)}

	byID := make(map[ledger.ID]*ledger.Employee)
	rows, err := exec.Query(ctx, selectEmployeesSQL)
	if err != nil {
		return nil, translatePgError(err)
	}
	for rows.Next() {
		emp, err := scanLedgerEmployee(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		byID[emp.ID] = emp
		snap.Employees = append(snap.Employees, emp)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, translatePgError(err)
	}

	if err := loadTokenRows(ctx, exec, selectAllocatedSQL, byID, func(emp *ledger.Employee, token access.Address, value string) error {
		var bps uint32
		if _, err := fmt.Sscan(value, &bps); err != nil {
			return err
		}
		emp.AllocatedTokens = append(emp.AllocatedTokens, ledger.Allocation{Token: token, BasisPoints: bps})
		return nil
	}); err != nil {
		return nil, err
	}

	if err := loadTokenRows(ctx, exec, selectPeggedSQL, byID, func(emp *ledger.Employee, token access.Address, value string) error {
		rate, err := parseAmount(value)
		if err != nil {
			return err
		}
		emp.PeggedTokens = append(emp.PeggedTokens, ledger.Peg{Token: token, Rate: rate})
		return nil
	}); err != nil {
		return nil, err
	}

	if err := loadTokenRows(ctx, exec, selectSalarySQL, byID, func(emp *ledger.Employee, token access.Address, value string) error {
		amount, err := parseAmount(value)
		if err != nil {
			return err
		}
		emp.SalaryTokens = append(emp.SalaryTokens, ledger.TokenAmount{Token: token, Amount: amount})
		return nil
	}); err != nil {
		return nil, err
	}

	return snap, nil
}

// AppendDisbursements は送金記録を追記します。
func (r *PayrollRepository) AppendDisbursements(ctx context.Context, entries []payroll.Disbursement) error {
	if len(entries) == 0 {
		return nil
	}

	n := len(entries)
	var (
		runIDs      = make([]string, n)
		kinds       = make([]string, n)
		employeeIDs = make([]int64, n)
		recipients  = make([]string, n)
		tokens      = make([]string, n)
		amounts     = make([]string, n)
		succeeded   = make([]bool, n)
		reasons     = make([]string, n)
		occurredAt  = make([]time.Time, n)
	)
	for i, d := range entries {
		runIDs[i] = d.RunID.String()
		kinds[i] = string(d.Kind)
		employeeIDs[i] = int64(d.EmployeeID)
		recipients[i] = string(d.Recipient)
		tokens[i] = string(d.Token)
		amounts[i] = "0"
		if d.Amount != nil {
			amounts[i] = d.Amount.String()
		}
		succeeded[i] = d.Succeeded
		reasons[i] = d.Reason
		occurredAt[i] = d.At.UTC()
	}

	exec := pgdb.QueryerFromContext(ctx, r.pool)
	if _, err := exec.Exec(ctx, insertDisbursementsSQL,
		runIDs, kinds, employeeIDs, recipients, tokens, amounts, succeeded, reasons, occurredAt,
	); err != nil {
		return translatePgError(err)
	}
	return nil
}

func loadTokenRows(
	ctx context.Context,
	exec pgdb.Queryer,
	query string,
	byID map[ledger.ID]*ledger.Employee,
	apply func(emp *ledger.Employee, token access.Address, value string) error,
) error {
	rows, err := exec.Query(ctx, query)
	if err != nil {
		return translatePgError(err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			employeeID int64
			token      string
			value      string
		)
		if err := rows.Scan(&employeeID, &token, &value); err != nil {
			return translatePgError(err)
		}
		emp, ok := byID[ledger.ID(employeeID)]
		if !ok {
			return fmt.Errorf("%w: token row for missing employee %d", ledger.ErrCorruptSnapshot, employeeID)
		}
		if err := apply(emp, access.Address(token), value); err != nil {
			return fmt.Errorf("%w: employee %d token %s: %w", ledger.ErrCorruptSnapshot, employeeID, token, err)
		}
	}
	return translatePgError(rows.Err())
}

func scanLedgerEmployee(row pgx.Row) (*ledger.Employee, error) {
	var (
		id           int64
		address      string
		salary       string
		allocationAt sql.NullTime
		paydayAt     sql.NullTime
	)
	if err := row.Scan(&id, &address, &salary, &allocationAt, &paydayAt); err != nil {
		return nil, translatePgError(err)
	}

	yearly, err := parseAmount(salary)
	if err != nil {
		return nil, fmt.Errorf("%w: employee %d salary: %w", ledger.ErrCorruptSnapshot, id, err)
	}

	emp := &ledger.Employee{
		ID:              ledger.ID(id),
		Address:         access.Address(address),
		YearlyUSDSalary: yearly,
	}
	if allocationAt.Valid {
		emp.LatestAllocationAt = allocationAt.Time.UTC()
	}
	if paydayAt.Valid {
		emp.LatestPaydayAt = paydayAt.Time.UTC()
	}
	return emp, nil
}

func parseAmount(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid numeric %q", s)
	}
	return v, nil
}

func nullableTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func translatePgError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case uniqueViolationCode:
			return fmt.Errorf("%w: %s", ledger.ErrAlreadyExists, pgErr.ConstraintName)
		case checkViolationCode:
			return fmt.Errorf("%w: %s", ledger.ErrInvariantBroken, pgErr.ConstraintName)
		}
	}
	return err
}
