package ledger

import (
	"context"
	"math/big"

	"github.com/ogurasousui/codex-payroll-ledger/internal/core/access"
)

// undoLog は Atomically 実行中に最初に変更される直前の状態を保持します。
type undoLog struct {
	records   map[ID]*record
	addresses map[access.Address]ID
	payouts   map[access.Address]*big.Int
	yearly    *big.Int
	nextID    ID
}

// Atomically は fn を単一の作業単位として実行します。
// fn がエラーを返すか panic した場合、fn 内で行われたレコード・アドレス対応・集計値の変更をすべて巻き戻します。
// 入れ子の呼び出しは外側の作業単位に合流します。
func (s *Store) Atomically(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.undo != nil {
		return fn(ctx)
	}

	s.undo = &undoLog{
		records:   make(map[ID]*record),
		addresses: make(map[access.Address]ID),
		payouts:   make(map[access.Address]*big.Int),
		yearly:    new(big.Int).Set(s.totals.yearlySalary),
		nextID:    s.nextID,
	}

	committed := false
	defer func() {
		if !committed {
			s.rollback()
		}
		s.undo = nil
	}()

	if err := fn(ctx); err != nil {
		return err
	}
	committed = true
	return nil
}

func (s *Store) touchRecord(id ID) {
	if s.undo == nil {
		return
	}
	if _, seen := s.undo.records[id]; seen {
		return
	}
	if rec, ok := s.records[id]; ok {
		s.undo.records[id] = rec.clone()
		return
	}
	s.undo.records[id] = nil
}

func (s *Store) touchAddress(addr access.Address) {
	if s.undo == nil {
		return
	}
	if _, seen := s.undo.addresses[addr]; seen {
		return
	}
	s.undo.addresses[addr] = s.addresses.Value(addr)
}

func (s *Store) touchPayout(token access.Address) {
	if s.undo == nil {
		return
	}
	if _, seen := s.undo.payouts[token]; seen {
		return
	}
	if total, ok := s.totals.monthlyPayout.Get(token); ok {
		s.undo.payouts[token] = new(big.Int).Set(total)
		return
	}
	s.undo.payouts[token] = nil
}

func (s *Store) rollback() {
	u := s.undo
	for id, rec := range u.records {
		if rec == nil {
			delete(s.records, id)
			continue
		}
		s.records[id] = rec
	}
	for addr, id := range u.addresses {
		if id == NoEmployee {
			s.addresses.Remove(addr)
			continue
		}
		s.addresses.Set(addr, id)
	}
	for token, total := range u.payouts {
		s.totals.setPayout(token, total)
	}
	s.totals.yearlySalary = u.yearly
	s.nextID = u.nextID
}
