package ledger

import (
	"context"
	"math/big"
	"slices"
	"time"

	"github.com/ogurasousui/codex-payroll-ledger/internal/core/access"
	"github.com/ogurasousui/codex-payroll-ledger/internal/core/registry"
)

type record struct {
	id               ID
	address          access.Address
	yearlyUSDSalary  *big.Int
	allocated        *registry.Indexed[access.Address, uint32]
	pegged           *registry.Indexed[access.Address, *big.Int]
	salaryTokens     *registry.Indexed[access.Address, *big.Int]
	latestAllocation time.Time
	latestPayday     time.Time
}

func newRecord(id ID, addr access.Address, salary *big.Int, paydaySeed time.Time) *record {
	return &record{
		id:              id,
		address:         addr,
		yearlyUSDSalary: new(big.Int).Set(salary),
		allocated:       registry.New[access.Address, uint32](),
		pegged:          registry.New[access.Address, *big.Int](),
		salaryTokens:    registry.New[access.Address, *big.Int](),
		latestPayday:    paydaySeed,
	}
}

func copyInt(v *big.Int) *big.Int {
	return new(big.Int).Set(v)
}

func (r *record) clone() *record {
	c := *r
	c.yearlyUSDSalary = copyInt(r.yearlyUSDSalary)
	c.allocated = r.allocated.Clone(nil)
	c.pegged = r.pegged.Clone(copyInt)
	c.salaryTokens = r.salaryTokens.Clone(copyInt)
	return &c
}

func (r *record) snapshot() *Employee {
	e := &Employee{
		ID:                 r.id,
		Address:            r.address,
		YearlyUSDSalary:    copyInt(r.yearlyUSDSalary),
		AllocatedTokens:    make([]Allocation, 0, r.allocated.Len()),
		PeggedTokens:       make([]Peg, 0, r.pegged.Len()),
		SalaryTokens:       make([]TokenAmount, 0, r.salaryTokens.Len()),
		LatestAllocationAt: r.latestAllocation,
		LatestPaydayAt:     r.latestPayday,
	}
	r.allocated.Range(func(token access.Address, bps uint32) bool {
		e.AllocatedTokens = append(e.AllocatedTokens, Allocation{Token: token, BasisPoints: bps})
		return true
	})
	r.pegged.Range(func(token access.Address, rate *big.Int) bool {
		e.PeggedTokens = append(e.PeggedTokens, Peg{Token: token, Rate: copyInt(rate)})
		return true
	})
	r.salaryTokens.Range(func(token access.Address, amount *big.Int) bool {
		e.SalaryTokens = append(e.SalaryTokens, TokenAmount{Token: token, Amount: copyInt(amount)})
		return true
	})
	return e
}

// Store は従業員レコードと集計値を保持する従業員台帳です。
//
// レコードは ID をキーに保持し、アドレスは address→ID の間接参照としてのみ扱います。
// そのため SetAddress はサブマップの移し替えを伴わず O(1) です。
// 集計値（年間給与総額・トークン別月額支給総額）は各変更と同時に差分で更新され、
// 再計算は Restore 時のみ行います。
//
// すべての変更系メソッドは管理者プリンシパルのみ呼び出せます。Store 自体は並行アクセスに
// 対応しないため、呼び出し側で直列化してください。
type Store struct {
	gate      *access.Gate
	addresses *registry.Indexed[access.Address, ID]
	records   map[ID]*record
	nextID    ID
	totals    *Totals
	undo      *undoLog
}

// NewStore は空の Store を生成します。最初に払い出す ID は 1 です。
func NewStore(gate *access.Gate) *Store {
	return &Store{
		gate:      gate,
		addresses: registry.New[access.Address, ID](),
		records:   make(map[ID]*record),
		nextID:    1,
		totals:    newTotals(),
	}
}

func (s *Store) requireOwner(ctx context.Context) error {
	if err := s.gate.RequireOwner(ctx); err != nil {
		return ErrNotOwner
	}
	return nil
}

func (s *Store) lookup(addr access.Address) (*record, error) {
	id, ok := s.addresses.Get(access.NormalizeAddress(string(addr)))
	if !ok {
		return nil, ErrUnknownEmployee
	}
	return s.records[id], nil
}

// Add は従業員を追加し、払い出した ID を返します。
// paydaySeed は最終支給日時の初期値で、通常は現在時刻を渡します。
func (s *Store) Add(ctx context.Context, addr access.Address, yearlyUSDSalary *big.Int, paydaySeed time.Time) (ID, error) {
	if err := s.requireOwner(ctx); err != nil {
		return NoEmployee, err
	}
	addr = access.NormalizeAddress(string(addr))
	if addr.IsZero() {
		return NoEmployee, ErrInvalidAddress
	}
	if yearlyUSDSalary == nil || yearlyUSDSalary.Sign() < 0 {
		return NoEmployee, ErrInvalidAmount
	}
	if s.addresses.Contains(addr) {
		return NoEmployee, ErrAlreadyExists
	}

	id := s.nextID
	s.touchRecord(id)
	s.touchAddress(addr)

	s.nextID++
	s.records[id] = newRecord(id, addr, yearlyUSDSalary, paydaySeed)
	s.addresses.Set(addr, id)
	s.totals.addYearly(yearlyUSDSalary)
	return id, nil
}

// SetAddress は従業員のアドレスを oldAddr から newAddr へ付け替えます。ID と全フィールドは維持されます。
func (s *Store) SetAddress(ctx context.Context, oldAddr, newAddr access.Address) error {
	if err := s.requireOwner(ctx); err != nil {
		return err
	}
	newAddr = access.NormalizeAddress(string(newAddr))
	if newAddr.IsZero() {
		return ErrInvalidAddress
	}
	if s.addresses.Contains(newAddr) {
		return ErrAlreadyExists
	}
	rec, err := s.lookup(oldAddr)
	if err != nil {
		return err
	}

	s.touchRecord(rec.id)
	s.touchAddress(rec.address)
	s.touchAddress(newAddr)

	s.addresses.Remove(rec.address)
	s.addresses.Set(newAddr, rec.id)
	rec.address = newAddr
	return nil
}

// SetAllocatedToken は配分率を設定します。basisPoints が 0 の場合は配分から除外します。
func (s *Store) SetAllocatedToken(ctx context.Context, addr, token access.Address, basisPoints uint32) error {
	if err := s.requireOwner(ctx); err != nil {
		return err
	}
	rec, err := s.lookup(addr)
	if err != nil {
		return err
	}
	token = access.NormalizeAddress(string(token))
	if token.IsZero() {
		return ErrInvalidToken
	}

	s.touchRecord(rec.id)
	if basisPoints == 0 {
		rec.allocated.Remove(token)
		return nil
	}
	rec.allocated.Set(token, basisPoints)
	return nil
}

// SetPeggedToken はペッグ済みレートを記録します。ペッグ履歴は追加・更新のみで、0 による削除はできません。
func (s *Store) SetPeggedToken(ctx context.Context, addr, token access.Address, rate *big.Int) error {
	if err := s.requireOwner(ctx); err != nil {
		return err
	}
	rec, err := s.lookup(addr)
	if err != nil {
		return err
	}
	token = access.NormalizeAddress(string(token))
	if token.IsZero() {
		return ErrInvalidToken
	}
	if rate == nil || rate.Sign() <= 0 {
		return ErrInvalidRate
	}

	s.touchRecord(rec.id)
	rec.pegged.Set(token, copyInt(rate))
	return nil
}

// SetSalaryToken はトークン建ての月額支給額を設定します。0 の場合は削除します。
// トークン別の月額支給総額は旧値を差し引き新値を加える差分で更新されます。
func (s *Store) SetSalaryToken(ctx context.Context, addr, token access.Address, amount *big.Int) error {
	if err := s.requireOwner(ctx); err != nil {
		return err
	}
	rec, err := s.lookup(addr)
	if err != nil {
		return err
	}
	token = access.NormalizeAddress(string(token))
	if token.IsZero() {
		return ErrInvalidToken
	}
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}

	s.touchRecord(rec.id)
	s.setSalaryToken(rec, token, amount)
	return nil
}

func (s *Store) setSalaryToken(rec *record, token access.Address, amount *big.Int) {
	old := rec.salaryTokens.Value(token)
	s.touchPayout(token)
	s.totals.applyPayoutDelta(token, old, amount)

	if amount.Sign() == 0 {
		rec.salaryTokens.Remove(token)
		return
	}
	rec.salaryTokens.Set(token, copyInt(amount))
}

// ClearAllocatedAndSalaryTokens は配分と支給額をすべて消去します。ペッグ履歴は残ります。
func (s *Store) ClearAllocatedAndSalaryTokens(ctx context.Context, addr access.Address) error {
	if err := s.requireOwner(ctx); err != nil {
		return err
	}
	rec, err := s.lookup(addr)
	if err != nil {
		return err
	}

	s.touchRecord(rec.id)
	for _, token := range rec.salaryTokens.Keys() {
		s.touchPayout(token)
		s.totals.applyPayoutDelta(token, rec.salaryTokens.Value(token), nil)
	}
	rec.salaryTokens.Clear()
	rec.allocated.Clear()
	return nil
}

// SetLatestTokenAllocation は最終配分日時を設定します。
func (s *Store) SetLatestTokenAllocation(ctx context.Context, addr access.Address, at time.Time) error {
	return s.mutate(ctx, addr, func(rec *record) {
		rec.latestAllocation = at
	})
}

// SetLatestPayday は最終支給日時を設定します。
func (s *Store) SetLatestPayday(ctx context.Context, addr access.Address, at time.Time) error {
	return s.mutate(ctx, addr, func(rec *record) {
		rec.latestPayday = at
	})
}

// SetYearlyUSDSalary は年間給与を設定し、年間給与総額を差分で更新します。
func (s *Store) SetYearlyUSDSalary(ctx context.Context, addr access.Address, yearlyUSDSalary *big.Int) error {
	if yearlyUSDSalary == nil || yearlyUSDSalary.Sign() < 0 {
		return ErrInvalidAmount
	}
	return s.mutate(ctx, addr, func(rec *record) {
		s.totals.subYearly(rec.yearlyUSDSalary)
		s.totals.addYearly(yearlyUSDSalary)
		rec.yearlyUSDSalary = copyInt(yearlyUSDSalary)
	})
}

func (s *Store) mutate(ctx context.Context, addr access.Address, fn func(*record)) error {
	if err := s.requireOwner(ctx); err != nil {
		return err
	}
	rec, err := s.lookup(addr)
	if err != nil {
		return err
	}
	s.touchRecord(rec.id)
	fn(rec)
	return nil
}

// Remove は従業員を削除し、集計値から寄与分を差し引きます。解放された ID は再利用されません。
func (s *Store) Remove(ctx context.Context, addr access.Address) error {
	if err := s.requireOwner(ctx); err != nil {
		return err
	}
	rec, err := s.lookup(addr)
	if err != nil {
		return err
	}

	s.touchRecord(rec.id)
	s.touchAddress(rec.address)

	s.totals.subYearly(rec.yearlyUSDSalary)
	rec.salaryTokens.Range(func(token access.Address, amount *big.Int) bool {
		s.touchPayout(token)
		s.totals.applyPayoutDelta(token, amount, nil)
		return true
	})
	s.addresses.Remove(rec.address)
	delete(s.records, rec.id)
	return nil
}

// Count は在籍中の従業員数を返します。
func (s *Store) Count() int {
	return s.addresses.Len()
}

// NextID は次に払い出す ID を返します。
func (s *Store) NextID() ID {
	return s.nextID
}

// IDOf は addr に対応する ID を返します。
func (s *Store) IDOf(addr access.Address) (ID, bool) {
	return s.addresses.Get(access.NormalizeAddress(string(addr)))
}

// AddressOf は id に対応するアドレスを返します。
func (s *Store) AddressOf(id ID) (access.Address, bool) {
	rec, ok := s.records[id]
	if !ok {
		return "", false
	}
	return rec.address, true
}

// Exists は addr が在籍中の従業員かどうかを返します。
func (s *Store) Exists(addr access.Address) bool {
	return s.addresses.Contains(access.NormalizeAddress(string(addr)))
}

// Employee は id の従業員スナップショットを返します。
func (s *Store) Employee(id ID) (*Employee, bool) {
	rec, ok := s.records[id]
	if !ok {
		return nil, false
	}
	return rec.snapshot(), true
}

// EmployeeByAddress は addr の従業員スナップショットを返します。
func (s *Store) EmployeeByAddress(addr access.Address) (*Employee, bool) {
	rec, err := s.lookup(addr)
	if err != nil {
		return nil, false
	}
	return rec.snapshot(), true
}

// Employees は在籍中の全従業員を ID 昇順で返します。
func (s *Store) Employees() []*Employee {
	ids := make([]ID, 0, len(s.records))
	for id := range s.records {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	out := make([]*Employee, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.records[id].snapshot())
	}
	return out
}

// Totals は集計値への読み取り専用ビューを返します。
func (s *Store) Totals() TotalsView {
	return TotalsView{t: s.totals}
}
