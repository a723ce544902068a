package config

import (
	"fmt"
	"math/big"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/ogurasousui/codex-payroll-ledger/internal/core/access"
	"gopkg.in/yaml.v3"
)

// EnvPrefix は環境変数による上書きに使用する接頭辞です。
const EnvPrefix = "PAYROLL_"

const defaultAllocationCooldown = 180 * 24 * time.Hour

// Config はアプリケーション全体の設定を表現します。
type Config struct {
	Server   ServerConfig   `yaml:"server" envPrefix:"SERVER_"`
	Database DatabaseConfig `yaml:"database" envPrefix:"DB_"`
	Log      LogConfig      `yaml:"log" envPrefix:"LOG_"`
	Payroll  PayrollConfig  `yaml:"payroll"`
	Tokens   []TokenConfig  `yaml:"tokens"`
}

// ServerConfig は gRPC サーバーとメトリクス公開に関する設定です。
type ServerConfig struct {
	ListenAddr  string `yaml:"listen_addr" env:"LISTEN_ADDR"`
	MetricsAddr string `yaml:"metrics_addr" env:"METRICS_ADDR"`
}

// DatabaseConfig は PostgreSQL 接続に関する設定です。Enabled が false の場合、台帳はメモリ上のみで保持されます。
type DatabaseConfig struct {
	Enabled            bool          `yaml:"enabled" env:"ENABLED"`
	Host               string        `yaml:"host" env:"HOST"`
	Port               int           `yaml:"port" env:"PORT"`
	User               string        `yaml:"user" env:"USER"`
	Password           string        `yaml:"password" env:"PASSWORD"`
	Name               string        `yaml:"name" env:"NAME"`
	SSLMode            string        `yaml:"ssl_mode" env:"SSL_MODE"`
	MaxOpenConns       int           `yaml:"max_open_conns"`
	MaxIdleConns       int           `yaml:"max_idle_conns"`
	ConnMaxLifetime    time.Duration `yaml:"-"`
	ConnMaxIdleTime    time.Duration `yaml:"-"`
	ConnMaxLifetimeRaw string        `yaml:"conn_max_lifetime"`
	ConnMaxIdleTimeRaw string        `yaml:"conn_max_idle_time"`
}

// LogConfig はログ出力に関する設定です。
type LogConfig struct {
	Level string `yaml:"level" env:"LEVEL"`
}

// PayrollConfig は台帳の管理者、支払い口座、オラクルと時間に関するポリシーです。
// allocation_cooldown を省略した場合は 180 日 (4320h) になります。
type PayrollConfig struct {
	Owner                 string        `yaml:"owner" env:"OWNER"`
	Treasury              string        `yaml:"treasury" env:"TREASURY"`
	Oracle                string        `yaml:"oracle" env:"ORACLE"`
	AllocationCooldown    time.Duration `yaml:"-"`
	PayPeriod             time.Duration `yaml:"-"`
	AllocationCooldownRaw string        `yaml:"allocation_cooldown" env:"ALLOCATION_COOLDOWN"`
	PayPeriodRaw          string        `yaml:"pay_period" env:"PAY_PERIOD"`
}

// TokenConfig は支払い口座で扱うトークンの定義です。
// USDRate は 1 トークン (10^decimals 最小単位) あたりの基準通貨建てレートを 1e18 倍した整数で、空の場合はレート未設定です。
// TreasuryBalance は起動時に支払い口座へ入金する残高です。
type TokenConfig struct {
	Address            string   `yaml:"address"`
	Symbol             string   `yaml:"symbol"`
	Decimals           uint8    `yaml:"decimals"`
	USDRateRaw         string   `yaml:"usd_rate"`
	TreasuryBalanceRaw string   `yaml:"treasury_balance"`
	USDRate            *big.Int `yaml:"-"`
	TreasuryBalance    *big.Int `yaml:"-"`
}

// Load は指定されたパスから設定ファイルを読み込み、PAYROLL_ 接頭辞の環境変数で上書きします。
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read file %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}

	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("config: parse env: %w", err)
	}

	if err := cfg.validateAndNormalize(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) validateAndNormalize() error {
	if c.Server.ListenAddr == "" {
		return fmt.Errorf("config: server.listen_addr must be set")
	}
	if c.Server.MetricsAddr != "" {
		if _, _, err := net.SplitHostPort(c.Server.MetricsAddr); err != nil {
			return fmt.Errorf("config: server.metrics_addr: %w", err)
		}
	}

	if c.Database.Enabled {
		if err := c.Database.validateAndNormalize(); err != nil {
			return err
		}
	}

	c.Log.Level = strings.ToLower(strings.TrimSpace(c.Log.Level))
	switch c.Log.Level {
	case "":
		c.Log.Level = "info"
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: log.level %q is not supported", c.Log.Level)
	}

	if err := c.Payroll.validateAndNormalize(); err != nil {
		return err
	}

	seen := make(map[string]struct{}, len(c.Tokens))
	for i := range c.Tokens {
		tok := &c.Tokens[i]
		if err := tok.validateAndNormalize(); err != nil {
			return fmt.Errorf("config: tokens[%d]: %w", i, err)
		}
		if _, dup := seen[tok.Address]; dup {
			return fmt.Errorf("config: tokens[%d]: duplicate address %s", i, tok.Address)
		}
		seen[tok.Address] = struct{}{}
	}

	return nil
}

func (d *DatabaseConfig) validateAndNormalize() error {
	if d.Host == "" {
		return fmt.Errorf("config: database.host must be set")
	}
	if d.Port == 0 {
		return fmt.Errorf("config: database.port must be set")
	}
	if d.User == "" {
		return fmt.Errorf("config: database.user must be set")
	}
	if d.Password == "" {
		return fmt.Errorf("config: database.password must be set")
	}
	if d.Name == "" {
		return fmt.Errorf("config: database.name must be set")
	}
	if d.SSLMode == "" {
		d.SSLMode = "disable"
	}

	lifetime, err := parseDurationAllowEmpty(d.ConnMaxLifetimeRaw)
	if err != nil {
		return fmt.Errorf("config: database.conn_max_lifetime: %w", err)
	}
	d.ConnMaxLifetime = lifetime

	idleTime, err := parseDurationAllowEmpty(d.ConnMaxIdleTimeRaw)
	if err != nil {
		return fmt.Errorf("config: database.conn_max_idle_time: %w", err)
	}
	d.ConnMaxIdleTime = idleTime

	return nil
}

func (p *PayrollConfig) validateAndNormalize() error {
	for _, f := range []struct {
		name  string
		value *string
	}{
		{"owner", &p.Owner},
		{"treasury", &p.Treasury},
		{"oracle", &p.Oracle},
	} {
		if strings.TrimSpace(*f.value) == "" {
			return fmt.Errorf("config: payroll.%s must be set", f.name)
		}
		addr, err := normalizeAddress(*f.value)
		if err != nil {
			return fmt.Errorf("config: payroll.%s: %w", f.name, err)
		}
		*f.value = addr
	}

	p.AllocationCooldown = defaultAllocationCooldown
	if p.AllocationCooldownRaw != "" {
		cooldown, err := time.ParseDuration(p.AllocationCooldownRaw)
		if err != nil {
			return fmt.Errorf("config: payroll.allocation_cooldown: %w", err)
		}
		p.AllocationCooldown = cooldown
	}

	period, err := parseDurationAllowEmpty(p.PayPeriodRaw)
	if err != nil {
		return fmt.Errorf("config: payroll.pay_period: %w", err)
	}
	p.PayPeriod = period

	if p.AllocationCooldown < 0 || p.PayPeriod < 0 {
		return fmt.Errorf("config: payroll durations must not be negative")
	}
	return nil
}

func (t *TokenConfig) validateAndNormalize() error {
	if strings.TrimSpace(t.Address) == "" {
		return fmt.Errorf("address must be set")
	}
	addr, err := normalizeAddress(t.Address)
	if err != nil {
		return err
	}
	t.Address = addr
	if t.Symbol == "" {
		t.Symbol = t.Address
	}

	rate, err := parseAmountAllowEmpty(t.USDRateRaw)
	if err != nil {
		return fmt.Errorf("usd_rate: %w", err)
	}
	t.USDRate = rate

	balance, err := parseAmountAllowEmpty(t.TreasuryBalanceRaw)
	if err != nil {
		return fmt.Errorf("treasury_balance: %w", err)
	}
	t.TreasuryBalance = balance
	return nil
}

func normalizeAddress(raw string) (string, error) {
	addr, err := access.ParseAddress(raw)
	if err != nil {
		return "", err
	}
	return addr.String(), nil
}

func parseDurationAllowEmpty(raw string) (time.Duration, error) {
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, err
	}
	return d, nil
}

func parseAmountAllowEmpty(raw string) (*big.Int, error) {
	raw = strings.ReplaceAll(strings.TrimSpace(raw), "_", "")
	if raw == "" {
		return new(big.Int), nil
	}
	v, ok := new(big.Int).SetString(raw, 10)
	if !ok || v.Sign() < 0 {
		return nil, fmt.Errorf("invalid non-negative integer %q", raw)
	}
	return v, nil
}

// DSN は pgx 用の接続文字列を返します。認証情報は URL エンコードされます。
func (d DatabaseConfig) DSN() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(d.User, d.Password),
		Host:     net.JoinHostPort(d.Host, strconv.Itoa(d.Port)),
		Path:     "/" + d.Name,
		RawQuery: "sslmode=" + url.QueryEscape(d.SSLMode),
	}
	return u.String()
}
