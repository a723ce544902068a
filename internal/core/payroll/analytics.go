package payroll

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ogurasousui/codex-payroll-ledger/internal/core/access"
)

const (
	monthsPerYear = 12
	daysPerMonth  = 30
)

// TokenRunway はトークン 1 種類分のランウェイです。
type TokenRunway struct {
	Token         access.Address
	Balance       *big.Int
	MonthlyPayout *big.Int
	Days          *big.Int
}

// Runway は給与支払い口座の残高で給与を支払い続けられる日数です。
// Days は月額支給総額が 0 でない全トークンのうち最小の日数です。
// 支給対象のトークンが 1 つもない場合は Unconstrained が true になり Days は 0 です。
type Runway struct {
	Days          *big.Int
	Unconstrained bool
	Tokens        []TokenRunway
}

// CalculatePayrollBurnrate は年間給与総額を 12 で割った月額の給与コストを返します。管理者のみ実行できます。
func (c *Controller) CalculatePayrollBurnrate(ctx context.Context) (*big.Int, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if err := c.gate.RequireOwner(ctx); err != nil {
		return nil, err
	}
	burnrate := new(big.Int).Quo(c.store.Totals().YearlySalary(), big.NewInt(monthsPerYear))

	f, _ := new(big.Float).SetInt(burnrate).Float64()
	MetricMonthlyBurnrate.Set(f)
	return burnrate, nil
}

// CalculatePayrollRunway はトークンごとに floor(残高 / 月額支給総額) * 30 日を求め、その最小値を返します。
// 1 か月分に満たないトークンがあれば 0 です。管理者のみ実行できます。
func (c *Controller) CalculatePayrollRunway(ctx context.Context) (*Runway, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if err := c.gate.RequireOwner(ctx); err != nil {
		return nil, err
	}

	totals := c.store.Totals()
	tokens := totals.PayoutTokens()
	runway := &Runway{
		Days:          new(big.Int),
		Unconstrained: len(tokens) == 0,
		Tokens:        make([]TokenRunway, 0, len(tokens)),
	}

	for _, t := range tokens {
		payout := totals.MonthlyPayout(t)
		balance, err := c.treasuryBalance(ctx, t)
		if err != nil {
			return nil, err
		}
		days := new(big.Int).Quo(balance, payout)
		days.Mul(days, big.NewInt(daysPerMonth))

		runway.Tokens = append(runway.Tokens, TokenRunway{
			Token:         t,
			Balance:       balance,
			MonthlyPayout: payout,
			Days:          days,
		})
		if len(runway.Tokens) == 1 || days.Cmp(runway.Days) < 0 {
			runway.Days.Set(days)
		}
	}
	return runway, nil
}

// treasuryBalance は給与支払い口座の token 残高を返します。カタログにないトークンの残高は 0 とみなします。
func (c *Controller) treasuryBalance(ctx context.Context, t access.Address) (*big.Int, error) {
	asset, ok := c.assets.Asset(t)
	if !ok {
		return new(big.Int), nil
	}
	balance, err := asset.BalanceOf(ctx, c.treasury)
	if err != nil {
		return nil, fmt.Errorf("balance of %s: %w", t, err)
	}
	if balance == nil {
		return new(big.Int), nil
	}
	return balance, nil
}
