package token

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ogurasousui/codex-payroll-ledger/internal/core/access"
)

// Asset は給与支払い口座が保有するトークンを操作する能力です。
// Transfer は支払い口座から to へ amount を送金します。false の返却とエラーはどちらも送金失敗を意味します。
type Asset interface {
	Address() access.Address
	Decimals() uint8
	Transfer(ctx context.Context, to access.Address, amount *big.Int) (bool, error)
	BalanceOf(ctx context.Context, holder access.Address) (*big.Int, error)
}

// Forcible は通常の Transfer では拒否される状況でも実行される強制送金を提供する Asset です。
type Forcible interface {
	ForceTransfer(ctx context.Context, to access.Address, amount *big.Int) error
}

// SafeTransfer は asset.Transfer を呼び出し、false 返却・エラー・panic をすべて単一の失敗として返します。
// 呼び出し側は失敗をスキップして処理を継続できます。
func SafeTransfer(ctx context.Context, asset Asset, to access.Address, amount *big.Int) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: panic: %v", ErrTransferRejected, r)
		}
	}()

	ok, err := asset.Transfer(ctx, to, amount)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrTransferRejected, err)
	}
	if !ok {
		return ErrTransferRejected
	}
	return nil
}

// SafeForceTransfer は Forcible.ForceTransfer を panic から保護して呼び出します。
func SafeForceTransfer(ctx context.Context, asset Forcible, to access.Address, amount *big.Int) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: panic: %v", ErrTransferRejected, r)
		}
	}()
	return asset.ForceTransfer(ctx, to, amount)
}
