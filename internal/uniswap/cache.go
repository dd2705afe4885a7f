package uniswap

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"costbasis/internal/model"
)

// OrientationCache caches pool -> token0.
type OrientationCache struct {
	mu   sync.RWMutex
	data map[common.Address]common.Address
}

func NewOrientationCache() *OrientationCache {
	return &OrientationCache{data: make(map[common.Address]common.Address)}
}

func (c *OrientationCache) Get(pool common.Address) (common.Address, bool) {
	c.mu.RLock()
	token0, ok := c.data[pool]
	c.mu.RUnlock()
	return token0, ok
}

func (c *OrientationCache) Set(pool, token0 common.Address) {
	c.mu.Lock()
	c.data[pool] = token0
	c.mu.Unlock()
}

// PairCache caches factory getPair lookups. The key is order-insensitive.
type PairCache struct {
	mu   sync.RWMutex
	data map[[2]common.Address]common.Address
}

func NewPairCache() *PairCache {
	return &PairCache{data: make(map[[2]common.Address]common.Address)}
}

func (c *PairCache) Get(a, b common.Address) (common.Address, bool) {
	c.mu.RLock()
	pool, ok := c.data[pairKey(a, b)]
	c.mu.RUnlock()
	return pool, ok
}

func (c *PairCache) Set(a, b, pool common.Address) {
	c.mu.Lock()
	c.data[pairKey(a, b)] = pool
	c.mu.Unlock()
}

func pairKey(a, b common.Address) [2]common.Address {
	if a.Cmp(b) > 0 {
		a, b = b, a
	}
	return [2]common.Address{a, b}
}

// TokenMetaCache caches token metadata by address.
type TokenMetaCache struct {
	mu   sync.RWMutex
	data map[common.Address]model.TokenMeta
}

func NewTokenMetaCache() *TokenMetaCache {
	return &TokenMetaCache{data: make(map[common.Address]model.TokenMeta)}
}

func (c *TokenMetaCache) Get(address common.Address) (model.TokenMeta, bool) {
	c.mu.RLock()
	meta, ok := c.data[address]
	c.mu.RUnlock()
	return meta, ok
}

func (c *TokenMetaCache) Set(address common.Address, meta model.TokenMeta) {
	c.mu.Lock()
	c.data[address] = meta
	c.mu.Unlock()
}
