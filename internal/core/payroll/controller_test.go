package payroll_test

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/ogurasousui/codex-payroll-ledger/internal/adapters/token/memory"
	"github.com/ogurasousui/codex-payroll-ledger/internal/core/access"
	"github.com/ogurasousui/codex-payroll-ledger/internal/core/allocation"
	"github.com/ogurasousui/codex-payroll-ledger/internal/core/exchange"
	"github.com/ogurasousui/codex-payroll-ledger/internal/core/ledger"
	"github.com/ogurasousui/codex-payroll-ledger/internal/core/payroll"
	"github.com/ogurasousui/codex-payroll-ledger/internal/core/token"
	"github.com/stretchr/testify/require"
)

const (
	ownerAddr  access.Address = "0x00000000000000000000000000000000000000aa"
	oracleAddr access.Address = "0x00000000000000000000000000000000000000ab"
	treasury   access.Address = "0x00000000000000000000000000000000000000f0"
	alice      access.Address = "0x00000000000000000000000000000000000000c1"
	bob        access.Address = "0x00000000000000000000000000000000000000c2"
	carol      access.Address = "0x00000000000000000000000000000000000000c3"
	tokenA     access.Address = "0x00000000000000000000000000000000000000a1"
	tokenB     access.Address = "0x00000000000000000000000000000000000000a2"
	tokenC     access.Address = "0x00000000000000000000000000000000000000a3"
	tokenD     access.Address = "0x00000000000000000000000000000000000000a4"
)

var allTokens = []access.Address{tokenA, tokenB, tokenC, tokenD}

type fakeRepo struct {
	mu            sync.Mutex
	employees     map[ledger.ID]*ledger.Employee
	state         payroll.State
	disbursements []payroll.Disbursement
	failWith      error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{employees: make(map[ledger.ID]*ledger.Employee)}
}

func (r *fakeRepo) SaveEmployee(_ context.Context, e *ledger.Employee) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failWith != nil {
		return r.failWith
	}
	r.employees[e.ID] = e
	return nil
}

func (r *fakeRepo) DeleteEmployee(_ context.Context, id ledger.ID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failWith != nil {
		return r.failWith
	}
	delete(r.employees, id)
	return nil
}

func (r *fakeRepo) SaveState(_ context.Context, state payroll.State) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failWith != nil {
		return r.failWith
	}
	r.state = state
	return nil
}

func (r *fakeRepo) Load(context.Context) (*payroll.Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	snap := &payroll.Snapshot{State: r.state}
	for _, e := range r.employees {
		snap.Employees = append(snap.Employees, e)
	}
	return snap, nil
}

func (r *fakeRepo) AppendDisbursements(_ context.Context, entries []payroll.Disbursement) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failWith != nil {
		return r.failWith
	}
	r.disbursements = append(r.disbursements, entries...)
	return nil
}

func (r *fakeRepo) fail(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failWith = err
}

type env struct {
	ctrl   *payroll.Controller
	gate   *access.Gate
	store  *ledger.Store
	oracle *exchange.Oracle
	vault  *memory.Vault
	assets *token.Catalog
	clock  *clockwork.FakeClock
	repo   *fakeRepo
}

func newEnv(t *testing.T, payPeriod time.Duration) *env {
	t.Helper()

	gate, err := access.NewGate(ownerAddr)
	require.NoError(t, err)
	oracle, err := exchange.NewOracle(gate, oracleAddr)
	require.NoError(t, err)

	vault := memory.NewVault(treasury)
	assets := token.NewCatalog(
		vault.Token(tokenA, 18),
		vault.Token(tokenB, 7),
		vault.Token(tokenC, 0),
		vault.Token(tokenD, 4),
	)

	clock := clockwork.NewFakeClockAt(time.Date(2025, 4, 1, 9, 0, 0, 0, time.UTC))
	store := ledger.NewStore(gate)
	repo := newFakeRepo()

	ctrl, err := payroll.New(payroll.Config{
		Logger:     slog.New(slog.DiscardHandler),
		Clock:      clock,
		Gate:       gate,
		Store:      store,
		Engine:     allocation.NewEngine(store, gate, oracle, assets, clock, allocation.DefaultCooldown),
		Assets:     assets,
		Treasury:   treasury,
		Repository: repo,
		PayPeriod:  payPeriod,
	})
	require.NoError(t, err)

	oracleCtx := as(oracleAddr)
	require.NoError(t, oracle.SetExchangeRate(oracleCtx, tokenA, e18(t, "2")))
	require.NoError(t, oracle.SetExchangeRate(oracleCtx, tokenB, e18(t, "2.5")))
	require.NoError(t, oracle.SetExchangeRate(oracleCtx, tokenC, e18(t, "6")))
	require.NoError(t, oracle.SetExchangeRate(oracleCtx, tokenD, e18(t, "4")))

	return &env{
		ctrl:   ctrl,
		gate:   gate,
		store:  store,
		oracle: oracle,
		vault:  vault,
		assets: assets,
		clock:  clock,
		repo:   repo,
	}
}

func as(addr access.Address) context.Context {
	return access.WithPrincipal(context.Background(), addr)
}

func owner() context.Context {
	return as(ownerAddr)
}

func mustInt(t *testing.T, s string) *big.Int {
	t.Helper()
	v, ok := new(big.Int).SetString(s, 10)
	require.True(t, ok, "bad integer literal %q", s)
	return v
}

func e18(t *testing.T, v string) *big.Int {
	t.Helper()
	r, ok := new(big.Rat).SetString(v)
	require.True(t, ok)
	r.Mul(r, new(big.Rat).SetInt(exchange.Scale(18)))
	require.True(t, r.IsInt())
	return new(big.Int).Set(r.Num())
}

func (e *env) hire(t *testing.T, addr access.Address, salary string) *ledger.Employee {
	t.Helper()
	emp, err := e.ctrl.AddEmployee(owner(), addr, e18(t, salary))
	require.NoError(t, err)
	return emp
}

func (e *env) fund(t *testing.T, tok access.Address, amount *big.Int) {
	t.Helper()
	require.NoError(t, e.vault.Mint(tok, treasury, amount))
}

func TestNew_Validate(t *testing.T) {
	t.Parallel()

	_, err := payroll.New(payroll.Config{})
	require.Error(t, err)
}

func TestController_AddEmployee(t *testing.T) {
	t.Parallel()

	e := newEnv(t, 0)

	_, err := e.ctrl.AddEmployee(as(alice), bob, e18(t, "1000"))
	require.ErrorIs(t, err, access.ErrUnauthorized)

	_, err = e.ctrl.AddEmployee(owner(), "", e18(t, "1000"))
	require.ErrorIs(t, err, ledger.ErrInvalidAddress)
	_, err = e.ctrl.AddEmployee(owner(), "0x0000000000000000000000000000000000000000", e18(t, "1000"))
	require.ErrorIs(t, err, ledger.ErrInvalidAddress)

	_, err = e.ctrl.AddEmployee(owner(), alice, big.NewInt(0))
	require.ErrorIs(t, err, payroll.ErrZeroSalary)
	_, err = e.ctrl.AddEmployee(owner(), alice, nil)
	require.ErrorIs(t, err, payroll.ErrZeroSalary)

	emp := e.hire(t, alice, "24000")
	require.Equal(t, ledger.ID(1), emp.ID)
	require.Equal(t, e.clock.Now(), emp.LatestPaydayAt, "payday is seeded at hire")
	require.True(t, emp.LatestAllocationAt.IsZero())

	_, err = e.ctrl.AddEmployee(owner(), alice, e18(t, "1"))
	require.ErrorIs(t, err, ledger.ErrAlreadyExists)

	require.Equal(t, 1, e.ctrl.EmployeeCount())
	require.Equal(t, ledger.ID(2), e.ctrl.NextEmployeeID())
	require.Contains(t, e.repo.employees, ledger.ID(1))
	require.Equal(t, ledger.ID(2), e.repo.state.NextID)
	require.Equal(t, ownerAddr, e.repo.state.Owner)
}

func TestController_AddEmployee_CanonicalAddress(t *testing.T) {
	t.Parallel()

	e := newEnv(t, 0)

	short, err := e.ctrl.AddEmployee(owner(), "0xc1", e18(t, "1000"))
	require.NoError(t, err)
	require.Equal(t, access.Address("0x00000000000000000000000000000000000000c1"), short.Address)

	_, err = e.ctrl.AddEmployee(owner(), "0x00000000000000000000000000000000000000C1", e18(t, "1000"))
	require.ErrorIs(t, err, ledger.ErrAlreadyExists)

	_, err = e.ctrl.AddEmployee(owner(), "not-an-address", e18(t, "1000"))
	require.ErrorIs(t, err, ledger.ErrInvalidAddress)

	require.Equal(t, 1, e.ctrl.EmployeeCount())
	require.Equal(t, ledger.ID(2), e.ctrl.NextEmployeeID())
}

func TestController_Burnrate(t *testing.T) {
	t.Parallel()

	e := newEnv(t, 0)

	_, err := e.ctrl.CalculatePayrollBurnrate(as(alice))
	require.ErrorIs(t, err, access.ErrUnauthorized)

	burnrate := func() string {
		t.Helper()
		v, err := e.ctrl.CalculatePayrollBurnrate(owner())
		require.NoError(t, err)
		return v.String()
	}

	first := e.hire(t, alice, "24000")
	require.Equal(t, e18(t, "2000").String(), burnrate())

	_, err = e.ctrl.SetEmployeeSalary(owner(), first.ID, e18(t, "30000"))
	require.NoError(t, err)
	require.Equal(t, e18(t, "2500").String(), burnrate())

	second := e.hire(t, bob, "24000")
	require.Equal(t, e18(t, "4500").String(), burnrate())

	require.NoError(t, e.ctrl.RemoveEmployee(owner(), first.ID))
	require.NoError(t, e.ctrl.RemoveEmployee(owner(), second.ID))
	require.Equal(t, "0", burnrate())
}

func TestController_RemoveAndReAdd(t *testing.T) {
	t.Parallel()

	e := newEnv(t, 0)
	emp := e.hire(t, alice, "24000")
	_, err := e.ctrl.DetermineAllocation(as(alice), []access.Address{tokenA}, []uint32{10000})
	require.NoError(t, err)

	require.ErrorIs(t, e.ctrl.RemoveEmployee(as(alice), emp.ID), access.ErrUnauthorized)
	require.ErrorIs(t, e.ctrl.RemoveEmployee(owner(), 99), ledger.ErrUnknownEmployee)
	require.NoError(t, e.ctrl.RemoveEmployee(owner(), emp.ID))

	_, err = e.ctrl.EmployeeByAddress(alice)
	require.ErrorIs(t, err, ledger.ErrUnknownEmployee)
	_, err = e.ctrl.Employee(emp.ID)
	require.ErrorIs(t, err, ledger.ErrUnknownEmployee)
	require.NotContains(t, e.repo.employees, emp.ID)
	require.Zero(t, e.store.Totals().MonthlyPayout(tokenA).Sign())

	again := e.hire(t, alice, "12000")
	require.Equal(t, ledger.ID(2), again.ID, "freed ids are never reused")
	require.Empty(t, again.AllocatedTokens)
	require.Empty(t, again.PeggedTokens)
	require.Empty(t, again.SalaryTokens)
	require.NoError(t, e.store.Verify())
}

func TestController_AddressChanges(t *testing.T) {
	t.Parallel()

	e := newEnv(t, 0)
	emp := e.hire(t, alice, "24000")
	e.hire(t, carol, "24000")

	require.ErrorIs(t, e.ctrl.SetEmployeeAddress(as(alice), emp.ID, bob), access.ErrUnauthorized)
	require.ErrorIs(t, e.ctrl.SetEmployeeAddress(owner(), 42, bob), ledger.ErrUnknownEmployee)
	require.ErrorIs(t, e.ctrl.SetEmployeeAddress(owner(), emp.ID, carol), ledger.ErrAlreadyExists)
	require.ErrorIs(t, e.ctrl.SetEmployeeAddress(owner(), emp.ID, ""), ledger.ErrInvalidAddress)

	require.NoError(t, e.ctrl.SetEmployeeAddress(owner(), emp.ID, bob))
	got, err := e.ctrl.Employee(emp.ID)
	require.NoError(t, err)
	require.Equal(t, bob, got.Address)

	err = e.ctrl.ChangeAddress(as(alice), alice)
	require.ErrorIs(t, err, access.ErrUnauthorized, "alice is no longer mapped")
	require.ErrorIs(t, err, ledger.ErrUnknownEmployee)

	require.NoError(t, e.ctrl.ChangeAddress(as(bob), alice))
	got, err = e.ctrl.EmployeeByAddress(alice)
	require.NoError(t, err)
	require.Equal(t, emp.ID, got.ID)
	require.Equal(t, alice, e.repo.employees[emp.ID].Address)
}

func TestController_SetEmployeeSalaryReprices(t *testing.T) {
	t.Parallel()

	e := newEnv(t, 0)
	emp := e.hire(t, alice, "24000")

	_, err := e.ctrl.DetermineAllocation(as(alice), []access.Address{tokenA, tokenB, tokenC}, []uint32{5000, 3000, 2000})
	require.NoError(t, err)

	_, err = e.ctrl.SetEmployeeSalary(owner(), emp.ID, big.NewInt(0))
	require.ErrorIs(t, err, payroll.ErrZeroSalary)
	_, err = e.ctrl.SetEmployeeSalary(as(alice), emp.ID, e18(t, "36000"))
	require.ErrorIs(t, err, access.ErrUnauthorized)

	got, err := e.ctrl.SetEmployeeSalary(owner(), emp.ID, e18(t, "36000"))
	require.NoError(t, err)
	require.Equal(t, e18(t, "750").String(), got.SalaryTokenAmount(tokenA).String())
	require.Equal(t, "3600000000", got.SalaryTokenAmount(tokenB).String())
	require.Equal(t, "100", got.SalaryTokenAmount(tokenC).String())
	require.Equal(t, got.SalaryTokens, e.repo.employees[emp.ID].SalaryTokens)
}

func TestController_DetermineAllocation(t *testing.T) {
	t.Parallel()

	e := newEnv(t, 0)
	e.hire(t, alice, "24000")

	_, err := e.ctrl.DetermineAllocation(owner(), allTokens, []uint32{5000, 3000, 1000, 1000})
	require.ErrorIs(t, err, access.ErrUnauthorized)

	emp, err := e.ctrl.DetermineAllocation(as(alice), allTokens, []uint32{5000, 3000, 1000, 1000})
	require.NoError(t, err)
	require.Equal(t, e18(t, "500").String(), emp.SalaryTokenAmount(tokenA).String())
	require.Equal(t, "2400000000", emp.SalaryTokenAmount(tokenB).String())
	require.Equal(t, "33", emp.SalaryTokenAmount(tokenC).String())
	require.Equal(t, "500000", emp.SalaryTokenAmount(tokenD).String())
	require.Len(t, e.repo.employees[emp.ID].AllocatedTokens, 4)

	_, err = e.ctrl.DetermineAllocation(as(alice), allTokens, []uint32{2500, 2500, 2500, 2500})
	require.ErrorIs(t, err, allocation.ErrReallocationNotDue)

	e.clock.Advance(allocation.DefaultCooldown)
	emp, err = e.ctrl.DetermineAllocation(as(alice), allTokens, []uint32{2500, 2500, 2500, 2500})
	require.NoError(t, err)
	require.Equal(t, uint32(2500), emp.AllocatedBasisPoints(tokenD))
}

func TestController_PersistFailureRollsBack(t *testing.T) {
	t.Parallel()

	e := newEnv(t, 0)
	emp := e.hire(t, alice, "24000")

	boom := errors.New("connection reset")
	e.repo.fail(boom)

	_, err := e.ctrl.AddEmployee(owner(), bob, e18(t, "12000"))
	require.ErrorIs(t, err, payroll.ErrPersist)
	require.ErrorIs(t, err, boom)
	require.Equal(t, 1, e.ctrl.EmployeeCount())
	require.Equal(t, ledger.ID(2), e.ctrl.NextEmployeeID())

	_, err = e.ctrl.DetermineAllocation(as(alice), []access.Address{tokenA}, []uint32{10000})
	require.ErrorIs(t, err, payroll.ErrPersist)
	got, err := e.ctrl.Employee(emp.ID)
	require.NoError(t, err)
	require.Empty(t, got.AllocatedTokens)
	require.True(t, got.LatestAllocationAt.IsZero())

	require.ErrorIs(t, e.ctrl.RemoveEmployee(owner(), emp.ID), payroll.ErrPersist)
	require.Equal(t, 1, e.ctrl.EmployeeCount())

	require.ErrorIs(t, e.ctrl.TransferOwnership(owner(), bob), payroll.ErrPersist)
	require.Equal(t, ownerAddr, e.ctrl.Owner())

	burnrate, err := e.ctrl.CalculatePayrollBurnrate(owner())
	require.NoError(t, err)
	require.Equal(t, e18(t, "2000").String(), burnrate.String())
	require.NoError(t, e.store.Verify())
}

func TestController_TransferOwnership(t *testing.T) {
	t.Parallel()

	e := newEnv(t, 0)

	require.ErrorIs(t, e.ctrl.TransferOwnership(as(bob), bob), access.ErrUnauthorized)
	require.NoError(t, e.ctrl.TransferOwnership(owner(), bob))
	require.Equal(t, bob, e.ctrl.Owner())
	require.Equal(t, bob, e.repo.state.Owner)

	_, err := e.ctrl.AddEmployee(owner(), alice, e18(t, "1"))
	require.ErrorIs(t, err, access.ErrUnauthorized)
	_, err = e.ctrl.AddEmployee(as(bob), alice, e18(t, "1"))
	require.NoError(t, err)
}

func TestController_Restore(t *testing.T) {
	t.Parallel()

	src := newEnv(t, 0)
	src.hire(t, alice, "24000")
	gone := src.hire(t, bob, "12000")
	src.hire(t, carol, "36000")
	_, err := src.ctrl.DetermineAllocation(as(alice), allTokens, []uint32{5000, 3000, 1000, 1000})
	require.NoError(t, err)
	require.NoError(t, src.ctrl.RemoveEmployee(owner(), gone.ID))
	require.NoError(t, src.ctrl.TransferOwnership(owner(), bob))

	dst := newEnv(t, 0)
	ctrl, err := payroll.New(payroll.Config{
		Logger:     slog.New(slog.DiscardHandler),
		Clock:      dst.clock,
		Gate:       dst.gate,
		Store:      dst.store,
		Engine:     allocation.NewEngine(dst.store, dst.gate, dst.oracle, dst.assets, dst.clock, allocation.DefaultCooldown),
		Assets:     dst.assets,
		Treasury:   treasury,
		Repository: src.repo,
	})
	require.NoError(t, err)
	require.NoError(t, ctrl.Restore(context.Background()))

	require.Equal(t, 2, ctrl.EmployeeCount())
	require.Equal(t, ledger.ID(4), ctrl.NextEmployeeID())
	require.Equal(t, bob, ctrl.Owner())

	restored, err := ctrl.EmployeeByAddress(alice)
	require.NoError(t, err)
	require.Equal(t, "33", restored.SalaryTokenAmount(tokenC).String())
	require.Equal(t, "33", dst.store.Totals().MonthlyPayout(tokenC).String())

	burnrate, err := ctrl.CalculatePayrollBurnrate(as(bob))
	require.NoError(t, err)
	require.Equal(t, e18(t, "5000").String(), burnrate.String())

	added, err := ctrl.AddEmployee(as(bob), "0x00000000000000000000000000000000000000c9", e18(t, "1"))
	require.NoError(t, err)
	require.Equal(t, ledger.ID(4), added.ID)
}

func TestController_Runway(t *testing.T) {
	t.Parallel()

	e := newEnv(t, 0)

	_, err := e.ctrl.CalculatePayrollRunway(as(alice))
	require.ErrorIs(t, err, access.ErrUnauthorized)

	runway, err := e.ctrl.CalculatePayrollRunway(owner())
	require.NoError(t, err)
	require.True(t, runway.Unconstrained)
	require.Zero(t, runway.Days.Sign())

	e.hire(t, alice, "24000")
	_, err = e.ctrl.DetermineAllocation(as(alice), allTokens, []uint32{5000, 3000, 1000, 1000})
	require.NoError(t, err)

	e.fund(t, tokenA, e18(t, "1000"))
	e.fund(t, tokenB, mustInt(t, "7200000000"))
	e.fund(t, tokenC, big.NewInt(40))

	runway, err = e.ctrl.CalculatePayrollRunway(owner())
	require.NoError(t, err)
	require.False(t, runway.Unconstrained)
	require.Zero(t, runway.Days.Sign(), "token D has no coverage")
	require.Len(t, runway.Tokens, 4)

	e.fund(t, tokenD, mustInt(t, "2500000"))
	runway, err = e.ctrl.CalculatePayrollRunway(owner())
	require.NoError(t, err)

	days := make(map[access.Address]string)
	for _, tr := range runway.Tokens {
		days[tr.Token] = tr.Days.String()
	}
	require.Equal(t, map[access.Address]string{tokenA: "60", tokenB: "90", tokenC: "30", tokenD: "150"}, days)
	require.Equal(t, "30", runway.Days.String(), "the scarcest token binds")
}

func TestController_PaydayPartialFailure(t *testing.T) {
	t.Parallel()

	e := newEnv(t, 0)
	e.hire(t, alice, "24000")
	_, err := e.ctrl.DetermineAllocation(as(alice), allTokens, []uint32{5000, 3000, 1000, 1000})
	require.NoError(t, err)

	e.fund(t, tokenA, e18(t, "1000"))
	e.fund(t, tokenB, mustInt(t, "4800000000"))
	e.fund(t, tokenC, big.NewInt(66))
	e.fund(t, tokenD, mustInt(t, "499999"))

	_, err = e.ctrl.Payday(as(bob))
	require.ErrorIs(t, err, ledger.ErrUnknownEmployee)

	e.clock.Advance(time.Hour)
	report, err := e.ctrl.Payday(as(alice))
	require.NoError(t, err)
	require.Len(t, report.Paid(), 3)
	require.Len(t, report.Skipped(), 1)
	require.Equal(t, tokenD, report.Skipped()[0].Token)
	require.Equal(t, token.ErrTransferRejected.Error(), report.Skipped()[0].Reason)

	require.Equal(t, e18(t, "500").String(), e.vault.Balance(tokenA, alice).String())
	require.Equal(t, "2400000000", e.vault.Balance(tokenB, alice).String())
	require.Equal(t, "33", e.vault.Balance(tokenC, alice).String())
	require.Zero(t, e.vault.Balance(tokenD, alice).Sign())
	require.Equal(t, "499999", e.vault.Balance(tokenD, treasury).String())

	emp, err := e.ctrl.EmployeeByAddress(alice)
	require.NoError(t, err)
	require.Equal(t, e.clock.Now(), emp.LatestPaydayAt, "timestamp advances despite the skipped token")

	e.fund(t, tokenD, big.NewInt(1))
	report, err = e.ctrl.Payday(as(alice))
	require.NoError(t, err)
	require.Len(t, report.Paid(), 4)
	require.Empty(t, report.Skipped())

	// the retry pays every token again, including those already paid
	require.Equal(t, e18(t, "1000").String(), e.vault.Balance(tokenA, alice).String())
	require.Equal(t, "4800000000", e.vault.Balance(tokenB, alice).String())
	require.Equal(t, "66", e.vault.Balance(tokenC, alice).String())
	require.Equal(t, "500000", e.vault.Balance(tokenD, alice).String())

	require.Len(t, e.repo.disbursements, 8)
	require.NotEqual(t, e.repo.disbursements[0].RunID, e.repo.disbursements[4].RunID)
	require.Equal(t, payroll.KindPayday, e.repo.disbursements[0].Kind)
}

func TestController_PaydayPeriod(t *testing.T) {
	t.Parallel()

	period := 30 * 24 * time.Hour
	e := newEnv(t, period)
	e.hire(t, alice, "24000")
	_, err := e.ctrl.DetermineAllocation(as(alice), []access.Address{tokenA}, []uint32{10000})
	require.NoError(t, err)
	e.fund(t, tokenA, e18(t, "10000"))

	_, err = e.ctrl.Payday(as(alice))
	require.ErrorIs(t, err, payroll.ErrPaydayNotDue, "a new hire waits one full period")

	e.clock.Advance(period - time.Minute)
	_, err = e.ctrl.Payday(as(alice))
	require.ErrorIs(t, err, payroll.ErrPaydayNotDue)

	e.clock.Advance(time.Minute)
	report, err := e.ctrl.Payday(as(alice))
	require.NoError(t, err)
	require.Len(t, report.Paid(), 1)
	require.Equal(t, e18(t, "1000").String(), e.vault.Balance(tokenA, alice).String())

	_, err = e.ctrl.Payday(as(alice))
	require.ErrorIs(t, err, payroll.ErrPaydayNotDue)
}

func TestController_PaydayWithoutAllocation(t *testing.T) {
	t.Parallel()

	e := newEnv(t, 0)
	e.hire(t, alice, "24000")

	report, err := e.ctrl.Payday(as(alice))
	require.NoError(t, err)
	require.Empty(t, report.Entries)
}

func TestController_EscapeHatch(t *testing.T) {
	t.Parallel()

	e := newEnv(t, 0)
	for i, tok := range allTokens {
		e.fund(t, tok, big.NewInt(int64(100*(i+1))))
	}
	e.vault.SetFault(tokenC, memory.FaultPanic)

	_, err := e.ctrl.EscapeHatch(as(alice), false)
	require.ErrorIs(t, err, access.ErrUnauthorized)

	report, err := e.ctrl.EscapeHatch(owner(), false)
	require.NoError(t, err)
	require.Len(t, report.Paid(), 3)
	require.Len(t, report.Skipped(), 1)

	require.Equal(t, "100", e.vault.Balance(tokenA, ownerAddr).String())
	require.Equal(t, "200", e.vault.Balance(tokenB, ownerAddr).String())
	require.Zero(t, e.vault.Balance(tokenC, ownerAddr).Sign())
	require.Equal(t, "300", e.vault.Balance(tokenC, treasury).String(), "the faulty token stays in the payroll")
	require.Equal(t, "400", e.vault.Balance(tokenD, ownerAddr).String())

	e.vault.SetFault(tokenC, memory.FaultNone)
	report, err = e.ctrl.EscapeHatch(owner(), false)
	require.NoError(t, err)
	require.Len(t, report.Paid(), 1, "already drained tokens are not retried")
	require.Equal(t, "300", e.vault.Balance(tokenC, ownerAddr).String())
	require.Zero(t, e.vault.Balance(tokenC, treasury).Sign())
	require.Equal(t, payroll.KindEscapeHatch, e.repo.disbursements[len(e.repo.disbursements)-1].Kind)
}

func TestController_EscapeHatchForced(t *testing.T) {
	t.Parallel()

	e := newEnv(t, 0)
	e.fund(t, tokenA, big.NewInt(10))
	e.fund(t, tokenC, big.NewInt(30))
	e.vault.SetFault(tokenC, memory.FaultError)

	report, err := e.ctrl.EscapeHatch(owner(), true)
	require.NoError(t, err)
	require.Len(t, report.Paid(), 2, "forced transfers bypass the faulty transfer path")
	require.Equal(t, "30", e.vault.Balance(tokenC, ownerAddr).String())
}

type brokenAsset struct {
	addr access.Address
}

func (b brokenAsset) Address() access.Address { return b.addr }
func (b brokenAsset) Decimals() uint8         { return 0 }

func (b brokenAsset) Transfer(context.Context, access.Address, *big.Int) (bool, error) {
	return false, nil
}

func (b brokenAsset) BalanceOf(context.Context, access.Address) (*big.Int, error) {
	return big.NewInt(5), nil
}

func (b brokenAsset) ForceTransfer(context.Context, access.Address, *big.Int) error {
	return errors.New("frozen")
}

func TestController_EscapeHatchForcedAborts(t *testing.T) {
	t.Parallel()

	e := newEnv(t, 0)
	frozen := access.Address("0x00000000000000000000000000000000000000a0")
	e.assets.Register(brokenAsset{addr: frozen})
	e.fund(t, tokenA, big.NewInt(10))

	report, err := e.ctrl.EscapeHatch(owner(), true)
	require.ErrorIs(t, err, payroll.ErrEscapeAborted)
	require.Len(t, report.Paid(), 1, "tokens before the failure were drained")
	require.Equal(t, frozen, report.Skipped()[0].Token)

	report, err = e.ctrl.EscapeHatch(owner(), false)
	require.NoError(t, err, "unforced escape skips the frozen token")
	require.Len(t, report.Skipped(), 1)
}
