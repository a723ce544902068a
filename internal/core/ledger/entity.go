package ledger

import (
	"math/big"
	"time"

	"github.com/ogurasousui/codex-payroll-ledger/internal/core/access"
)

// ID は従業員の在籍期間中に不変な密な整数 ID です。0 は「従業員なし」を表します。
type ID uint64

// NoEmployee は従業員が存在しないことを表すセンチネル ID です。
const NoEmployee ID = 0

// TotalBasisPoints は配分率の合計として要求される 100% (basis points) です。
const TotalBasisPoints = 10000

// Allocation はトークンごとの配分率 (basis points) です。
type Allocation struct {
	Token       access.Address
	BasisPoints uint32
}

// Peg は配分時点で記録したトークンの為替レートのスナップショットです。
type Peg struct {
	Token access.Address
	Rate  *big.Int
}

// TokenAmount はトークン建ての金額です。
type TokenAmount struct {
	Token  access.Address
	Amount *big.Int
}

// Employee は従業員レコードの読み取り専用スナップショットです。
// スライスの順序はストア内の列挙順と一致します。
type Employee struct {
	ID                 ID
	Address            access.Address
	YearlyUSDSalary    *big.Int
	AllocatedTokens    []Allocation
	PeggedTokens       []Peg
	SalaryTokens       []TokenAmount
	LatestAllocationAt time.Time
	LatestPaydayAt     time.Time
}

// AllocatedBasisPoints は token の配分率を返します。未配分なら 0 です。
func (e *Employee) AllocatedBasisPoints(token access.Address) uint32 {
	for _, a := range e.AllocatedTokens {
		if a.Token == token {
			return a.BasisPoints
		}
	}
	return 0
}

// PeggedRate は token のペッグ済みレートを返します。未記録なら 0 です。
func (e *Employee) PeggedRate(token access.Address) *big.Int {
	for _, p := range e.PeggedTokens {
		if p.Token == token {
			return new(big.Int).Set(p.Rate)
		}
	}
	return new(big.Int)
}

// SalaryTokenAmount は token の毎月の支給額を返します。未設定なら 0 です。
func (e *Employee) SalaryTokenAmount(token access.Address) *big.Int {
	for _, s := range e.SalaryTokens {
		if s.Token == token {
			return new(big.Int).Set(s.Amount)
		}
	}
	return new(big.Int)
}
