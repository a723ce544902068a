package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/jonboulle/clockwork"
	"github.com/ogurasousui/codex-payroll-ledger/internal/adapters/grpc/handler"
	"github.com/ogurasousui/codex-payroll-ledger/internal/adapters/repository/postgres"
	"github.com/ogurasousui/codex-payroll-ledger/internal/adapters/token/memory"
	"github.com/ogurasousui/codex-payroll-ledger/internal/core/access"
	"github.com/ogurasousui/codex-payroll-ledger/internal/core/allocation"
	"github.com/ogurasousui/codex-payroll-ledger/internal/core/exchange"
	"github.com/ogurasousui/codex-payroll-ledger/internal/core/ledger"
	"github.com/ogurasousui/codex-payroll-ledger/internal/core/payroll"
	"github.com/ogurasousui/codex-payroll-ledger/internal/core/token"
	"github.com/ogurasousui/codex-payroll-ledger/internal/platform/config"
	pg "github.com/ogurasousui/codex-payroll-ledger/internal/platform/db/postgres"
	"github.com/ogurasousui/codex-payroll-ledger/internal/platform/logger"
	"github.com/ogurasousui/codex-payroll-ledger/internal/platform/server"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "assets/local.yaml"
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log := logger.New(cfg.Log.Level)

	gate, err := access.NewGate(access.Address(cfg.Payroll.Owner))
	if err != nil {
		return fmt.Errorf("create gate: %w", err)
	}
	oracle, err := exchange.NewOracle(gate, access.Address(cfg.Payroll.Oracle))
	if err != nil {
		return fmt.Errorf("create oracle: %w", err)
	}

	treasury := access.Address(cfg.Payroll.Treasury)
	vault, assets, err := seedTreasury(ctx, log, cfg, treasury, oracle)
	if err != nil {
		return err
	}

	clock := clockwork.NewRealClock()
	store := ledger.NewStore(gate)
	pcfg := payroll.Config{
		Logger:    log,
		Clock:     clock,
		Gate:      gate,
		Store:     store,
		Engine:    allocation.NewEngine(store, gate, oracle, assets, clock, cfg.Payroll.AllocationCooldown),
		Assets:    assets,
		Treasury:  treasury,
		PayPeriod: cfg.Payroll.PayPeriod,
	}

	if cfg.Database.Enabled {
		dbPool, err := pg.NewPool(ctx, cfg.Database, log)
		if err != nil {
			return fmt.Errorf("initialize database pool: %w", err)
		}
		defer dbPool.Close()

		pcfg.Repository = postgres.NewPayrollRepository(dbPool)
		pcfg.Tx = pg.NewTransactionManager(dbPool)
	} else {
		log.Warn("database disabled; ledger is kept in memory only")
	}

	ctrl, err := payroll.New(pcfg)
	if err != nil {
		return fmt.Errorf("create payroll controller: %w", err)
	}
	if cfg.Database.Enabled {
		if err := ctrl.Restore(ctx); err != nil {
			return fmt.Errorf("restore ledger: %w", err)
		}
	}

	log.Info("payroll: ready",
		"owner", ctrl.Owner(),
		"treasury", ctrl.Treasury(),
		"employees", ctrl.EmployeeCount(),
		"assets", len(assets.Assets()),
		"vault_holder", vault.Holder(),
		"pay_period", ctrl.PayPeriod(),
	)

	if !isLoopback(cfg.Server.ListenAddr) {
		log.Warn("server: caller identity is read from unauthenticated metadata; expose only behind an authenticating proxy",
			"listen_addr", cfg.Server.ListenAddr,
			"metadata_key", handler.PrincipalMetadataKey,
		)
	}

	srv := server.New(server.Config{
		ListenAddr:  cfg.Server.ListenAddr,
		MetricsAddr: cfg.Server.MetricsAddr,
	}, log, handler.NewPayrollGrpcHandler(ctrl, oracle))

	if err := srv.Run(ctx); err != nil {
		return fmt.Errorf("server stopped: %w", err)
	}
	return nil
}

// isLoopback は addr がループバックインターフェースのみで待ち受けるかどうかを返します。
func isLoopback(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// seedTreasury は設定のトークンを支払い口座に登録し、初期残高と初期レートを投入します。
func seedTreasury(ctx context.Context, log *slog.Logger, cfg *config.Config, treasury access.Address, oracle *exchange.Oracle) (*memory.Vault, *token.Catalog, error) {
	vault := memory.NewVault(treasury)
	assets := token.NewCatalog()
	oracleCtx := access.WithPrincipal(ctx, oracle.OracleAddress())

	for _, tc := range cfg.Tokens {
		addr := access.Address(tc.Address)
		assets.Register(vault.Token(addr, tc.Decimals))

		if tc.TreasuryBalance.Sign() > 0 {
			if err := vault.Mint(addr, treasury, tc.TreasuryBalance); err != nil {
				return nil, nil, fmt.Errorf("seed %s balance: %w", tc.Symbol, err)
			}
		}
		if tc.USDRate.Sign() > 0 {
			if err := oracle.SetExchangeRate(oracleCtx, addr, tc.USDRate); err != nil {
				return nil, nil, fmt.Errorf("seed %s rate: %w", tc.Symbol, err)
			}
		}
		log.Debug("payroll: token registered",
			"symbol", tc.Symbol,
			"address", tc.Address,
			"decimals", tc.Decimals,
			"balance", tc.TreasuryBalance.String(),
		)
	}
	return vault, assets, nil
}
