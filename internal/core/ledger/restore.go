package ledger

import (
	"fmt"
	"math/big"

	"github.com/ogurasousui/codex-payroll-ledger/internal/core/access"
	"github.com/ogurasousui/codex-payroll-ledger/internal/core/registry"
)

// Restore は永続化済みのスナップショットから台帳全体を再構築します。
// 集計値はここでのみ全件から再計算されます。検証に失敗した場合、現在の状態は変更されません。
func (s *Store) Restore(employees []*Employee, nextID ID) error {
	if nextID == NoEmployee {
		nextID = 1
	}

	addresses := registry.New[access.Address, ID]()
	records := make(map[ID]*record, len(employees))
	totals := newTotals()

	for _, e := range employees {
		if e == nil {
			continue
		}
		rec, err := recordFromSnapshot(e)
		if err != nil {
			return err
		}
		if rec.id >= nextID {
			return fmt.Errorf("%w: employee id %d not below next id %d", ErrCorruptSnapshot, rec.id, nextID)
		}
		if _, dup := records[rec.id]; dup {
			return fmt.Errorf("%w: duplicate employee id %d", ErrCorruptSnapshot, rec.id)
		}
		if addresses.Contains(rec.address) {
			return fmt.Errorf("%w: duplicate address %s", ErrCorruptSnapshot, rec.address)
		}

		records[rec.id] = rec
		addresses.Set(rec.address, rec.id)
		totals.addYearly(rec.yearlyUSDSalary)
		rec.salaryTokens.Range(func(token access.Address, amount *big.Int) bool {
			totals.applyPayoutDelta(token, nil, amount)
			return true
		})
	}

	s.addresses = addresses
	s.records = records
	s.totals = totals
	s.nextID = nextID
	return nil
}

func recordFromSnapshot(e *Employee) (*record, error) {
	addr := access.NormalizeAddress(string(e.Address))
	if e.ID == NoEmployee || addr.IsZero() {
		return nil, fmt.Errorf("%w: employee %d has no identity", ErrCorruptSnapshot, e.ID)
	}
	if e.YearlyUSDSalary == nil || e.YearlyUSDSalary.Sign() <= 0 {
		return nil, fmt.Errorf("%w: employee %d has no salary", ErrCorruptSnapshot, e.ID)
	}

	rec := newRecord(e.ID, addr, e.YearlyUSDSalary, e.LatestPaydayAt)
	rec.latestAllocation = e.LatestAllocationAt

	for _, p := range e.PeggedTokens {
		if p.Rate == nil || p.Rate.Sign() <= 0 {
			return nil, fmt.Errorf("%w: employee %d pegged %s without rate", ErrCorruptSnapshot, e.ID, p.Token)
		}
		rec.pegged.Set(access.NormalizeAddress(string(p.Token)), copyInt(p.Rate))
	}

	var sum uint64
	for _, a := range e.AllocatedTokens {
		token := access.NormalizeAddress(string(a.Token))
		if a.BasisPoints == 0 {
			continue
		}
		if !rec.pegged.Contains(token) {
			return nil, fmt.Errorf("%w: employee %d allocated unpegged token %s", ErrCorruptSnapshot, e.ID, token)
		}
		rec.allocated.Set(token, a.BasisPoints)
		sum += uint64(a.BasisPoints)
	}
	if sum != 0 && sum != TotalBasisPoints {
		return nil, fmt.Errorf("%w: employee %d allocation sums to %d", ErrCorruptSnapshot, e.ID, sum)
	}

	for _, st := range e.SalaryTokens {
		if st.Amount == nil || st.Amount.Sign() < 0 {
			return nil, fmt.Errorf("%w: employee %d has invalid salary token %s", ErrCorruptSnapshot, e.ID, st.Token)
		}
		if st.Amount.Sign() == 0 {
			continue
		}
		rec.salaryTokens.Set(access.NormalizeAddress(string(st.Token)), copyInt(st.Amount))
	}
	return rec, nil
}

// Verify は集計値を全件から再計算し、差分で保持している値と一致するか検証します。
// 配分率の合計が 0 か 10000 であること、配分トークンがペッグ済みであることも確認します。
func (s *Store) Verify() error {
	yearly := new(big.Int)
	payouts := make(map[access.Address]*big.Int)

	for id, rec := range s.records {
		if mapped, ok := s.addresses.Get(rec.address); !ok || mapped != id {
			return fmt.Errorf("%w: address %s does not map to employee %d", ErrInvariantBroken, rec.address, id)
		}
		yearly.Add(yearly, rec.yearlyUSDSalary)

		var sum uint64
		var unpegged access.Address
		rec.allocated.Range(func(token access.Address, bps uint32) bool {
			sum += uint64(bps)
			if !rec.pegged.Contains(token) {
				unpegged = token
				return false
			}
			return true
		})
		if unpegged != "" {
			return fmt.Errorf("%w: employee %d allocated unpegged token %s", ErrInvariantBroken, id, unpegged)
		}
		if sum != 0 && sum != TotalBasisPoints {
			return fmt.Errorf("%w: employee %d allocation sums to %d", ErrInvariantBroken, id, sum)
		}

		rec.salaryTokens.Range(func(token access.Address, amount *big.Int) bool {
			total, ok := payouts[token]
			if !ok {
				total = new(big.Int)
				payouts[token] = total
			}
			total.Add(total, amount)
			return true
		})
	}

	if s.addresses.Len() != len(s.records) {
		return fmt.Errorf("%w: %d addresses for %d records", ErrInvariantBroken, s.addresses.Len(), len(s.records))
	}
	if yearly.Cmp(s.totals.yearlySalary) != 0 {
		return fmt.Errorf("%w: yearly salary total %s, want %s", ErrInvariantBroken, s.totals.yearlySalary, yearly)
	}
	if len(payouts) != s.totals.monthlyPayout.Len() {
		return fmt.Errorf("%w: %d payout tokens, want %d", ErrInvariantBroken, s.totals.monthlyPayout.Len(), len(payouts))
	}
	for token, want := range payouts {
		if got := s.totals.monthlyPayout.Value(token); got == nil || got.Cmp(want) != 0 {
			return fmt.Errorf("%w: monthly payout for %s is %v, want %s", ErrInvariantBroken, token, got, want)
		}
	}
	return nil
}
