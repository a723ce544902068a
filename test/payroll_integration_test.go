//go:build integration

package integration

import (
	"context"
	"log/slog"
	"math/big"
	"os"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	repo "github.com/ogurasousui/codex-payroll-ledger/internal/adapters/repository/postgres"
	"github.com/ogurasousui/codex-payroll-ledger/internal/adapters/token/memory"
	"github.com/ogurasousui/codex-payroll-ledger/internal/core/access"
	"github.com/ogurasousui/codex-payroll-ledger/internal/core/allocation"
	"github.com/ogurasousui/codex-payroll-ledger/internal/core/exchange"
	"github.com/ogurasousui/codex-payroll-ledger/internal/core/ledger"
	"github.com/ogurasousui/codex-payroll-ledger/internal/core/payroll"
	"github.com/ogurasousui/codex-payroll-ledger/internal/core/token"
	"github.com/ogurasousui/codex-payroll-ledger/internal/platform/config"
	pg "github.com/ogurasousui/codex-payroll-ledger/internal/platform/db/postgres"
	"github.com/stretchr/testify/require"
)

const migrationsDir = "../assets/migrations"

const (
	ownerAddr  access.Address = "0x00000000000000000000000000000000000000aa"
	oracleAddr access.Address = "0x00000000000000000000000000000000000000ab"
	treasury   access.Address = "0x00000000000000000000000000000000000000f0"
	alice      access.Address = "0x00000000000000000000000000000000000000c1"
	bob        access.Address = "0x00000000000000000000000000000000000000c2"
	tokenA     access.Address = "0x00000000000000000000000000000000000000a1"
	tokenB     access.Address = "0x00000000000000000000000000000000000000a2"
)

type stack struct {
	ctrl  *payroll.Controller
	vault *memory.Vault
}

func newStack(t *testing.T, db *repo.PayrollRepository, tx payroll.TransactionManager, clock clockwork.Clock) *stack {
	t.Helper()

	gate, err := access.NewGate(ownerAddr)
	require.NoError(t, err)
	oracle, err := exchange.NewOracle(gate, oracleAddr)
	require.NoError(t, err)

	oracleCtx := access.WithPrincipal(context.Background(), oracleAddr)
	require.NoError(t, oracle.SetExchangeRate(oracleCtx, tokenA, big.NewInt(2)))
	require.NoError(t, oracle.SetExchangeRate(oracleCtx, tokenB, big.NewInt(5)))

	vault := memory.NewVault(treasury)
	assets := token.NewCatalog(vault.Token(tokenA, 0), vault.Token(tokenB, 0))
	store := ledger.NewStore(gate)

	ctrl, err := payroll.New(payroll.Config{
		Logger:     slog.New(slog.DiscardHandler),
		Clock:      clock,
		Gate:       gate,
		Store:      store,
		Engine:     allocation.NewEngine(store, gate, oracle, assets, clock, allocation.DefaultCooldown),
		Assets:     assets,
		Treasury:   treasury,
		Repository: db,
		Tx:         tx,
	})
	require.NoError(t, err)
	return &stack{ctrl: ctrl, vault: vault}
}

func TestPayrollLedgerRoundTripIntegration(t *testing.T) {
	cfg, err := config.Load(configPathFromEnv())
	require.NoError(t, err)
	require.True(t, cfg.Database.Enabled, "integration test requires database.enabled")

	log := slog.New(slog.DiscardHandler)
	require.NoError(t, pg.Migrate(log, "drop", migrationsDir, cfg.Database.DSN()))
	require.NoError(t, pg.Migrate(log, "up", migrationsDir, cfg.Database.DSN()))

	ctx := context.Background()
	pool, err := pg.NewPool(ctx, cfg.Database, log)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	db := repo.NewPayrollRepository(pool)
	tx := pg.NewTransactionManager(pool)
	clock := clockwork.NewFakeClockAt(time.Date(2025, 4, 1, 9, 0, 0, 0, time.UTC))

	first := newStack(t, db, tx, clock)
	owner := access.WithPrincipal(ctx, ownerAddr)

	_, err = first.ctrl.AddEmployee(owner, alice, big.NewInt(24000))
	require.NoError(t, err)
	_, err = first.ctrl.AddEmployee(owner, bob, big.NewInt(12000))
	require.NoError(t, err)

	_, err = first.ctrl.DetermineAllocation(access.WithPrincipal(ctx, alice), []access.Address{tokenA, tokenB}, []uint32{5000, 5000})
	require.NoError(t, err)

	require.NoError(t, first.vault.Mint(tokenA, treasury, big.NewInt(10000)))
	require.NoError(t, first.vault.Mint(tokenB, treasury, big.NewInt(10000)))
	report, err := first.ctrl.Payday(access.WithPrincipal(ctx, alice))
	require.NoError(t, err)
	require.Len(t, report.Paid(), 2)

	require.NoError(t, first.ctrl.RemoveEmployee(owner, 2))
	require.NoError(t, first.ctrl.TransferOwnership(owner, bob))

	second := newStack(t, db, tx, clock)
	require.NoError(t, second.ctrl.Restore(ctx))

	require.Equal(t, bob, second.ctrl.Owner())
	require.Equal(t, 1, second.ctrl.EmployeeCount())
	require.Equal(t, ledger.ID(3), second.ctrl.NextEmployeeID())

	restored, err := second.ctrl.Employee(1)
	require.NoError(t, err)
	original, err := first.ctrl.Employee(1)
	require.NoError(t, err)
	require.Equal(t, original.AllocatedTokens, restored.AllocatedTokens)
	require.Equal(t, "500", restored.SalaryTokenAmount(tokenA).String())
	require.Equal(t, "200", restored.SalaryTokenAmount(tokenB).String())
	require.True(t, original.LatestPaydayAt.Equal(restored.LatestPaydayAt))

	burnrate, err := second.ctrl.CalculatePayrollBurnrate(access.WithPrincipal(ctx, bob))
	require.NoError(t, err)
	require.Equal(t, "2000", burnrate.String())

	var disbursements int
	require.NoError(t, pool.QueryRow(ctx, `SELECT count(*) FROM disbursements WHERE kind = 'payday'`).Scan(&disbursements))
	require.Equal(t, 2, disbursements)
}

func configPathFromEnv() string {
	if v := os.Getenv("CONFIG_PATH"); v != "" {
		return v
	}
	return "../assets/local.yaml"
}
