package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/ogurasousui/codex-payroll-ledger/internal/platform/config"
	pg "github.com/ogurasousui/codex-payroll-ledger/internal/platform/db/postgres"
	"github.com/ogurasousui/codex-payroll-ledger/internal/platform/logger"
)

func main() {
	var (
		configPath    = flag.String("config", "", "path to config file (defaults to CONFIG_PATH env or assets/local.yaml)")
		migrationsDir = flag.String("dir", pg.DefaultMigrationsDir, "directory containing migration files")
	)
	flag.Parse()

	action := "up"
	if flag.NArg() > 0 {
		action = flag.Arg(0)
	}

	if err := run(effectiveConfigPath(*configPath), action, *migrationsDir); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(cfgPath, action, dir string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if !cfg.Database.Enabled {
		return fmt.Errorf("database is disabled in %s", cfgPath)
	}

	log := logger.New(cfg.Log.Level)
	if err := pg.Migrate(log, action, dir, cfg.Database.DSN()); err != nil {
		return fmt.Errorf("migration %s: %w", action, err)
	}
	return nil
}

func effectiveConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if env := os.Getenv("CONFIG_PATH"); env != "" {
		return env
	}
	return "assets/local.yaml"
}
