package postgres

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strconv"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
)

// DefaultMigrationsDir は台帳スキーマのマイグレーションファイルの既定ディレクトリです。
const DefaultMigrationsDir = "assets/migrations"

// Migrate は dir のマイグレーションに対して action を実行します。
// action は up / down / drop / version / steps:<n> のいずれかです。
func Migrate(log *slog.Logger, action, dir, dsn string) error {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("resolve path for %s: %w", dir, err)
	}
	absDir = filepath.ToSlash(absDir)

	m, err := migrate.New(fmt.Sprintf("file://%s", absDir), dsn)
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}
	defer m.Close()

	switch action {
	case "up":
		if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return err
		}
	case "down":
		if err := m.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return err
		}
	case "drop":
		if err := m.Drop(); err != nil {
			return err
		}
	case "version":
	default:
		n, ok := parseSteps(action)
		if !ok {
			return fmt.Errorf("unsupported action %q", action)
		}
		if err := m.Steps(n); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return err
		}
	}

	version, dirty, err := m.Version()
	switch {
	case errors.Is(err, migrate.ErrNilVersion):
		log.Info("migrate: no migration applied", "action", action)
	case err != nil:
		return err
	default:
		log.Info("migrate: done", "action", action, "version", version, "dirty", dirty)
	}
	return nil
}

func parseSteps(action string) (int, bool) {
	const prefix = "steps:"
	if len(action) <= len(prefix) || action[:len(prefix)] != prefix {
		return 0, false
	}
	n, err := strconv.Atoi(action[len(prefix):])
	if err != nil || n == 0 {
		return 0, false
	}
	return n, true
}
