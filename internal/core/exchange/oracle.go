package exchange

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ogurasousui/codex-payroll-ledger/internal/core/access"
	"github.com/ogurasousui/codex-payroll-ledger/internal/core/registry"
)

// Oracle はオラクル役のプリンシパルだけが更新できるレート表です。RateProvider を実装します。
type Oracle struct {
	gate *access.Gate

	mu     sync.RWMutex
	oracle access.Address
	rates  *registry.Indexed[access.Address, *big.Int]
}

var _ RateProvider = (*Oracle)(nil)

// NewOracle は oracle をレート更新者とする Oracle を生成します。
// オラクルの交代は gate の管理者のみが行えます。
func NewOracle(gate *access.Gate, oracle access.Address) (*Oracle, error) {
	oracle = access.NormalizeAddress(string(oracle))
	if oracle.IsZero() {
		return nil, ErrInvalidOracle
	}
	return &Oracle{
		gate:   gate,
		oracle: oracle,
		rates:  registry.New[access.Address, *big.Int](),
	}, nil
}

// SetExchangeRate は token のレートを設定します。オラクルのみ実行できます。
func (o *Oracle) SetExchangeRate(ctx context.Context, token access.Address, rate *big.Int) error {
	caller, _ := access.PrincipalFromContext(ctx)

	o.mu.Lock()
	defer o.mu.Unlock()

	if caller != o.oracle {
		return fmt.Errorf("%w: %w", ErrNotOracle, access.ErrUnauthorized)
	}
	token = access.NormalizeAddress(string(token))
	if token.IsZero() {
		return ErrInvalidToken
	}
	if rate == nil || rate.Sign() <= 0 {
		return ErrInvalidRate
	}
	o.rates.Set(token, new(big.Int).Set(rate))
	return nil
}

// SetOracle はオラクルを交代します。管理者のみ実行できます。
func (o *Oracle) SetOracle(ctx context.Context, oracle access.Address) error {
	if err := o.gate.RequireOwner(ctx); err != nil {
		return err
	}
	oracle = access.NormalizeAddress(string(oracle))
	if oracle.IsZero() {
		return ErrInvalidOracle
	}
	o.mu.Lock()
	o.oracle = oracle
	o.mu.Unlock()
	return nil
}

// OracleAddress は現在のオラクルを返します。
func (o *Oracle) OracleAddress() access.Address {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.oracle
}

// RateOf は token のレートを返します。未設定なら 0 です。
func (o *Oracle) RateOf(token access.Address) *big.Int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if rate, ok := o.rates.Get(access.NormalizeAddress(string(token))); ok {
		return new(big.Int).Set(rate)
	}
	return new(big.Int)
}

// IsAvailable は token にレートが設定済みかどうかを返します。
func (o *Oracle) IsAvailable(token access.Address) bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.rates.Contains(access.NormalizeAddress(string(token)))
}

// AvailableTokens はレート設定済みのトークンを最初に設定された順で返します。
func (o *Oracle) AvailableTokens() []access.Address {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.rates.Keys()
}
