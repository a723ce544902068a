package allocation

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/ogurasousui/codex-payroll-ledger/internal/core/access"
	"github.com/ogurasousui/codex-payroll-ledger/internal/core/exchange"
	"github.com/ogurasousui/codex-payroll-ledger/internal/core/ledger"
)

// DefaultCooldown は再配分までに必要な期間の既定値 (180 日) です。
const DefaultCooldown = 180 * 24 * time.Hour

const monthsPerYear = 12

// DecimalsSource はトークンの小数桁数を提供します。
type DecimalsSource interface {
	Decimals(token access.Address) (uint8, bool)
}

// Engine は従業員が選んだ配分率と現在の為替レートからトークン建て月額給与を算出します。
type Engine struct {
	store    *ledger.Store
	gate     *access.Gate
	rates    exchange.RateProvider
	decimals DecimalsSource
	clock    clockwork.Clock
	cooldown time.Duration
}

// NewEngine は Engine を生成します。cooldown が 0 の場合は常に再配分できます。
func NewEngine(store *ledger.Store, gate *access.Gate, rates exchange.RateProvider, decimals DecimalsSource, clock clockwork.Clock, cooldown time.Duration) *Engine {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if cooldown < 0 {
		cooldown = 0
	}
	return &Engine{
		store:    store,
		gate:     gate,
		rates:    rates,
		decimals: decimals,
		clock:    clock,
		cooldown: cooldown,
	}
}

// DetermineAllocation は呼び出し元従業員の配分を tokens と basisPoints で置き換えます。
// 管理者は呼び出せません。配分履歴のうちペッグ済みレートは残り、今回選ばれなかったトークンの支給額は 0 になります。
func (e *Engine) DetermineAllocation(ctx context.Context, tokens []access.Address, basisPoints []uint32) (*ledger.Employee, error) {
	caller, err := access.Caller(ctx)
	if err != nil {
		return nil, err
	}
	if e.gate.IsOwner(ctx) {
		return nil, fmt.Errorf("%w: allocation is employee self-service", access.ErrUnauthorized)
	}

	emp, ok := e.store.EmployeeByAddress(caller)
	if !ok {
		return nil, ledger.ErrUnknownEmployee
	}
	if err := access.RequireSelf(ctx, emp.Address); err != nil {
		return nil, err
	}

	if len(tokens) == 0 || len(tokens) != len(basisPoints) {
		return nil, ErrArityMismatch
	}

	normalized := make([]access.Address, len(tokens))
	seen := make(map[access.Address]struct{}, len(tokens))
	for i, t := range tokens {
		token := access.NormalizeAddress(string(t))
		if _, dup := seen[token]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateToken, token)
		}
		seen[token] = struct{}{}
		normalized[i] = token
	}

	for _, token := range normalized {
		if !e.rates.IsAvailable(token) {
			return nil, fmt.Errorf("%w: %s", ErrRateUnavailable, token)
		}
		if _, ok := e.decimals.Decimals(token); !ok {
			return nil, fmt.Errorf("%w: %s is not a known asset", ErrRateUnavailable, token)
		}
	}

	var sum uint64
	for _, bps := range basisPoints {
		sum += uint64(bps)
	}
	if sum != ledger.TotalBasisPoints {
		return nil, fmt.Errorf("%w: got %d", ErrDistributionNotComplete, sum)
	}

	now := e.clock.Now()
	if !emp.LatestAllocationAt.IsZero() && now.Sub(emp.LatestAllocationAt) < e.cooldown {
		return nil, fmt.Errorf("%w: last allocation at %s", ErrReallocationNotDue, emp.LatestAllocationAt.Format(time.RFC3339))
	}

	adminCtx := e.gate.AsOwner(ctx)
	err = e.store.Atomically(adminCtx, func(ctx context.Context) error {
		if err := e.store.ClearAllocatedAndSalaryTokens(ctx, caller); err != nil {
			return err
		}
		for i, token := range normalized {
			rate := e.rates.RateOf(token)
			if rate.Sign() <= 0 {
				return fmt.Errorf("%w: %s", ErrRateUnavailable, token)
			}
			decimals, _ := e.decimals.Decimals(token)

			if err := e.store.SetPeggedToken(ctx, caller, token, rate); err != nil {
				return err
			}
			if err := e.store.SetAllocatedToken(ctx, caller, token, basisPoints[i]); err != nil {
				return err
			}
			amount := MonthlyTokenSalary(emp.YearlyUSDSalary, basisPoints[i], rate, decimals)
			if err := e.store.SetSalaryToken(ctx, caller, token, amount); err != nil {
				return err
			}
		}
		return e.store.SetLatestTokenAllocation(ctx, caller, now)
	})
	if err != nil {
		return nil, err
	}

	updated, _ := e.store.EmployeeByAddress(caller)
	return updated, nil
}

// Reprice は現在の年間給与から、記録済みの配分率とペッグ済みレートを用いて全配分トークンの支給額を再計算します。
// 最新レートは参照しません。ctx は管理者プリンシパルである必要があります。
func (e *Engine) Reprice(ctx context.Context, addr access.Address) error {
	emp, ok := e.store.EmployeeByAddress(addr)
	if !ok {
		return ledger.ErrUnknownEmployee
	}

	return e.store.Atomically(ctx, func(ctx context.Context) error {
		for _, a := range emp.AllocatedTokens {
			decimals, ok := e.decimals.Decimals(a.Token)
			if !ok {
				return fmt.Errorf("%w: %s is not a known asset", ErrRateUnavailable, a.Token)
			}
			amount := MonthlyTokenSalary(emp.YearlyUSDSalary, a.BasisPoints, emp.PeggedRate(a.Token), decimals)
			if err := e.store.SetSalaryToken(ctx, emp.Address, a.Token, amount); err != nil {
				return err
			}
		}
		return nil
	})
}

// MonthlyTokenSalary は yearlyUSDSalary * basisPoints * 10^decimals / (10000 * 12 * rate) を切り捨てで返します。
// 乗算をすべて除算より先に行うため、段階的に除算した場合と同じ結果になります。rate が 0 以下なら 0 です。
func MonthlyTokenSalary(yearlyUSDSalary *big.Int, basisPoints uint32, rate *big.Int, decimals uint8) *big.Int {
	if yearlyUSDSalary == nil || rate == nil || rate.Sign() <= 0 {
		return new(big.Int)
	}

	numerator := new(big.Int).Mul(yearlyUSDSalary, new(big.Int).SetUint64(uint64(basisPoints)))
	numerator.Mul(numerator, exchange.Scale(decimals))

	denominator := big.NewInt(ledger.TotalBasisPoints * monthsPerYear)
	denominator.Mul(denominator, rate)

	return numerator.Quo(numerator, denominator)
}
