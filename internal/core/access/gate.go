package access

import (
	"context"
	"fmt"
	"sync"
)

type principalContextKey struct{}

// WithPrincipal は呼び出し元プリンシパルを ctx に格納します。
func WithPrincipal(ctx context.Context, addr Address) context.Context {
	return context.WithValue(ctx, principalContextKey{}, NormalizeAddress(string(addr)))
}

// PrincipalFromContext は ctx に格納された呼び出し元プリンシパルを返します。
func PrincipalFromContext(ctx context.Context) (Address, bool) {
	if ctx == nil {
		return "", false
	}
	addr, ok := ctx.Value(principalContextKey{}).(Address)
	if !ok || addr.IsZero() {
		return "", false
	}
	return addr, true
}

// Gate は単一の管理者プリンシパルによるアクセス制御を提供します。
type Gate struct {
	mu    sync.RWMutex
	owner Address
}

// NewGate は owner を管理者とする Gate を生成します。
func NewGate(owner Address) (*Gate, error) {
	owner = NormalizeAddress(string(owner))
	if owner.IsZero() {
		return nil, ErrInvalidOwner
	}
	return &Gate{owner: owner}, nil
}

// Owner は現在の管理者アドレスを返します。
func (g *Gate) Owner() Address {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.owner
}

// IsOwner は ctx の呼び出し元が管理者かどうかを返します。
func (g *Gate) IsOwner(ctx context.Context) bool {
	caller, ok := PrincipalFromContext(ctx)
	return ok && caller == g.Owner()
}

// Caller は ctx の呼び出し元プリンシパルを返します。格納されていなければ ErrUnauthorized を返します。
func Caller(ctx context.Context) (Address, error) {
	caller, ok := PrincipalFromContext(ctx)
	if !ok {
		return "", fmt.Errorf("%w: %w", ErrUnauthorized, ErrNoPrincipal)
	}
	return caller, nil
}

// RequireOwner は呼び出し元が管理者でなければ ErrUnauthorized を返します。
func (g *Gate) RequireOwner(ctx context.Context) error {
	caller, err := Caller(ctx)
	if err != nil {
		return err
	}
	if caller != g.Owner() {
		return fmt.Errorf("%w: %s is not the owner", ErrUnauthorized, caller)
	}
	return nil
}

// RequireSelf は呼び出し元が addr 本人でなければ ErrUnauthorized を返します。
func RequireSelf(ctx context.Context, addr Address) error {
	caller, err := Caller(ctx)
	if err != nil {
		return err
	}
	if caller != NormalizeAddress(string(addr)) {
		return fmt.Errorf("%w: %s is not %s", ErrUnauthorized, caller, addr)
	}
	return nil
}

// AsOwner は管理者をプリンシパルとする ctx を返します。
// 本人確認を済ませたセルフサービス操作がストアを管理者として呼び出す際に使用します。
func (g *Gate) AsOwner(ctx context.Context) context.Context {
	return WithPrincipal(ctx, g.Owner())
}

// TransferOwnership は管理者を newOwner に変更します。管理者のみ実行できます。
func (g *Gate) TransferOwnership(ctx context.Context, newOwner Address) error {
	if err := g.RequireOwner(ctx); err != nil {
		return err
	}
	newOwner = NormalizeAddress(string(newOwner))
	if newOwner.IsZero() {
		return ErrInvalidOwner
	}
	g.mu.Lock()
	g.owner = newOwner
	g.mu.Unlock()
	return nil
}
