package exchange

import (
	"math/big"

	"github.com/ogurasousui/codex-payroll-ledger/internal/core/access"
)

// RateProvider は基準通貨建てのトークン為替レートを提供する外部協調者です。
// レートはトークン最小単位ではなく 1 トークンあたりの基準通貨額（18 桁固定小数点）です。
type RateProvider interface {
	// RateOf は token のレートを返します。未設定なら 0 です。
	RateOf(token access.Address) *big.Int
	// IsAvailable は token にレートが設定済みかどうかを返します。
	IsAvailable(token access.Address) bool
}

var ten = big.NewInt(10)

// Peg は基準通貨額 usdAmount をレート rate でトークン建てに換算し、decimals 桁の最小単位で返します。
// usdAmount が 0 なら他の引数に関わらず 0 を返します。端数は切り捨てです。
func Peg(usdAmount, rate *big.Int, decimals uint8) (*big.Int, error) {
	if usdAmount == nil || usdAmount.Sign() == 0 {
		return new(big.Int), nil
	}
	if rate == nil || rate.Sign() <= 0 {
		return nil, ErrInvalidRate
	}
	out := new(big.Int).Mul(usdAmount, Scale(decimals))
	return out.Quo(out, rate), nil
}

// Scale は 10^decimals を返します。
func Scale(decimals uint8) *big.Int {
	return new(big.Int).Exp(ten, big.NewInt(int64(decimals)), nil)
}
