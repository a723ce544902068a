package ledger

import (
	"math/big"

	"github.com/ogurasousui/codex-payroll-ledger/internal/core/access"
	"github.com/ogurasousui/codex-payroll-ledger/internal/core/registry"
)

// Totals は在籍者全体の集計値です。
// monthlyPayout には総額が 0 でないトークンのみが、最初に支給額を持った順で並びます。
type Totals struct {
	yearlySalary  *big.Int
	monthlyPayout *registry.Indexed[access.Address, *big.Int]
}

func newTotals() *Totals {
	return &Totals{
		yearlySalary:  new(big.Int),
		monthlyPayout: registry.New[access.Address, *big.Int](),
	}
}

func (t *Totals) addYearly(v *big.Int) {
	t.yearlySalary.Add(t.yearlySalary, v)
}

func (t *Totals) subYearly(v *big.Int) {
	t.yearlySalary.Sub(t.yearlySalary, v)
}

// applyPayoutDelta は token の月額支給総額から oldAmount を引き newAmount を加えます。nil は 0 扱いです。
func (t *Totals) applyPayoutDelta(token access.Address, oldAmount, newAmount *big.Int) {
	total := new(big.Int)
	if current, ok := t.monthlyPayout.Get(token); ok {
		total.Set(current)
	}
	if oldAmount != nil {
		total.Sub(total, oldAmount)
	}
	if newAmount != nil {
		total.Add(total, newAmount)
	}
	t.setPayout(token, total)
}

func (t *Totals) setPayout(token access.Address, total *big.Int) {
	if total == nil || total.Sign() == 0 {
		t.monthlyPayout.Remove(token)
		return
	}
	t.monthlyPayout.Set(token, total)
}

// TotalsView は Totals の読み取り専用ビューです。返却値はすべてコピーです。
type TotalsView struct {
	t *Totals
}

// YearlySalary は在籍者全員の年間給与総額を返します。
func (v TotalsView) YearlySalary() *big.Int {
	return new(big.Int).Set(v.t.yearlySalary)
}

// MonthlyPayout は token の月額支給総額を返します。
func (v TotalsView) MonthlyPayout(token access.Address) *big.Int {
	if total, ok := v.t.monthlyPayout.Get(access.NormalizeAddress(string(token))); ok {
		return new(big.Int).Set(total)
	}
	return new(big.Int)
}

// PayoutTokens は月額支給総額が 0 でないトークンを返します。
func (v TotalsView) PayoutTokens() []access.Address {
	return v.t.monthlyPayout.Keys()
}

// PayoutTokenCount は月額支給総額が 0 でないトークンの数を返します。
func (v TotalsView) PayoutTokenCount() int {
	return v.t.monthlyPayout.Len()
}
