package token

import (
	"sync"

	"github.com/ogurasousui/codex-payroll-ledger/internal/core/access"
	"github.com/ogurasousui/codex-payroll-ledger/internal/core/registry"
)

// Catalog は支払い口座で扱うトークンの登録簿です。登録順に列挙できます。
type Catalog struct {
	mu     sync.RWMutex
	assets *registry.Indexed[access.Address, Asset]
}

// NewCatalog は assets を登録した Catalog を生成します。
func NewCatalog(assets ...Asset) *Catalog {
	c := &Catalog{assets: registry.New[access.Address, Asset]()}
	for _, a := range assets {
		c.Register(a)
	}
	return c
}

// Register は asset を登録します。同じアドレスの既存登録は置き換えます。
func (c *Catalog) Register(asset Asset) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.assets.Set(access.NormalizeAddress(string(asset.Address())), asset)
}

// Asset は token に対応する Asset を返します。
func (c *Catalog) Asset(token access.Address) (Asset, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.assets.Get(access.NormalizeAddress(string(token)))
}

// Decimals は token の小数桁数を返します。
func (c *Catalog) Decimals(token access.Address) (uint8, bool) {
	a, ok := c.Asset(token)
	if !ok {
		return 0, false
	}
	return a.Decimals(), true
}

// Assets は登録済みの Asset を登録順で返します。
func (c *Catalog) Assets() []Asset {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Asset, 0, c.assets.Len())
	c.assets.Range(func(_ access.Address, a Asset) bool {
		out = append(out, a)
		return true
	})
	return out
}
