package memory

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ogurasousui/codex-payroll-ledger/internal/core/access"
	"github.com/ogurasousui/codex-payroll-ledger/internal/core/token"
)

// Fault はトークンの送金失敗の振る舞いです。
type Fault int

const (
	// FaultNone は正常に送金します。
	FaultNone Fault = iota
	// FaultReturnFalse は送金せずに false を返します。
	FaultReturnFalse
	// FaultError は送金せずにエラーを返します。
	FaultError
	// FaultPanic は送金せずに panic します。
	FaultPanic
)

var errFaulty = errors.New("memory: faulty token")

// Vault は複数トークンの残高をメモリ上で管理する口座簿です。
// 各トークンの Transfer は holder 口座から送金します。
type Vault struct {
	mu       sync.Mutex
	holder   access.Address
	balances map[access.Address]map[access.Address]*big.Int
	faults   map[access.Address]Fault
}

// NewVault は holder を送金元とする Vault を生成します。
func NewVault(holder access.Address) *Vault {
	return &Vault{
		holder:   access.NormalizeAddress(string(holder)),
		balances: make(map[access.Address]map[access.Address]*big.Int),
		faults:   make(map[access.Address]Fault),
	}
}

// Holder は送金元口座のアドレスを返します。
func (v *Vault) Holder() access.Address {
	return v.holder
}

// Token は address のトークンを token.Asset として返します。
func (v *Vault) Token(address access.Address, decimals uint8) *Token {
	return &Token{vault: v, address: access.NormalizeAddress(string(address)), decimals: decimals}
}

// Mint は holder の token 残高を amount 増やします。
func (v *Vault) Mint(tokenAddr, holder access.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return token.ErrInvalidAmount
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	bal := v.balanceLocked(access.NormalizeAddress(string(tokenAddr)), access.NormalizeAddress(string(holder)))
	bal.Add(bal, amount)
	return nil
}

// Burn は holder の token 残高を amount 減らします。
func (v *Vault) Burn(tokenAddr, holder access.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return token.ErrInvalidAmount
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	bal := v.balanceLocked(access.NormalizeAddress(string(tokenAddr)), access.NormalizeAddress(string(holder)))
	if bal.Cmp(amount) < 0 {
		return token.ErrInsufficientBalance
	}
	bal.Sub(bal, amount)
	return nil
}

// SetFault は token の送金失敗の振る舞いを設定します。
func (v *Vault) SetFault(tokenAddr access.Address, fault Fault) {
	v.mu.Lock()
	defer v.mu.Unlock()
	tokenAddr = access.NormalizeAddress(string(tokenAddr))
	if fault == FaultNone {
		delete(v.faults, tokenAddr)
		return
	}
	v.faults[tokenAddr] = fault
}

// Balance は holder の token 残高を返します。
func (v *Vault) Balance(tokenAddr, holder access.Address) *big.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return new(big.Int).Set(v.balanceLocked(access.NormalizeAddress(string(tokenAddr)), access.NormalizeAddress(string(holder))))
}

func (v *Vault) balanceLocked(tokenAddr, holder access.Address) *big.Int {
	book, ok := v.balances[tokenAddr]
	if !ok {
		book = make(map[access.Address]*big.Int)
		v.balances[tokenAddr] = book
	}
	bal, ok := book[holder]
	if !ok {
		bal = new(big.Int)
		book[holder] = bal
	}
	return bal
}

func (v *Vault) move(tokenAddr, to access.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return token.ErrInvalidAmount
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	from := v.balanceLocked(tokenAddr, v.holder)
	if from.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s has %s, need %s", token.ErrInsufficientBalance, tokenAddr, from, amount)
	}
	dest := v.balanceLocked(tokenAddr, access.NormalizeAddress(string(to)))
	from.Sub(from, amount)
	dest.Add(dest, amount)
	return nil
}

func (v *Vault) fault(tokenAddr access.Address) Fault {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.faults[tokenAddr]
}

// Token は Vault 上の 1 トークンです。token.Asset と token.Forcible を実装します。
type Token struct {
	vault    *Vault
	address  access.Address
	decimals uint8
}

var (
	_ token.Asset    = (*Token)(nil)
	_ token.Forcible = (*Token)(nil)
)

func (t *Token) Address() access.Address {
	return t.address
}

func (t *Token) Decimals() uint8 {
	return t.decimals
}

// Transfer は Vault の holder から to へ amount を送金します。
// 残高不足は false を返し、設定された Fault に応じて false・エラー・panic で失敗します。
func (t *Token) Transfer(_ context.Context, to access.Address, amount *big.Int) (bool, error) {
	switch t.vault.fault(t.address) {
	case FaultReturnFalse:
		return false, nil
	case FaultError:
		return false, fmt.Errorf("%w: %s", errFaulty, t.address)
	case FaultPanic:
		panic(fmt.Sprintf("memory: token %s reverted", t.address))
	}

	if err := t.vault.move(t.address, to, amount); err != nil {
		if errors.Is(err, token.ErrInsufficientBalance) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// ForceTransfer は Fault を無視して送金します。残高不足の場合は失敗します。
func (t *Token) ForceTransfer(_ context.Context, to access.Address, amount *big.Int) error {
	return t.vault.move(t.address, to, amount)
}

func (t *Token) BalanceOf(_ context.Context, holder access.Address) (*big.Int, error) {
	return t.vault.Balance(t.address, holder), nil
}
