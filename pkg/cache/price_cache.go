// Package cache holds the in-process caches shared across components.
package cache

import (
	"hash/fnv"
	"sync"
	"time"
)

const priceShards = 16

// PriceCache is a sharded last-price cache keyed by canonical symbol. The
// ticker stream writes into it; the reconciler reads from it before falling
// back to a REST ticker call.
type PriceCache struct {
	shards [priceShards]*priceShard
}

type priceShard struct {
	mu    sync.RWMutex
	items map[string]priceEntry
}

type priceEntry struct {
	price     float64
	updatedAt time.Time
}

func NewPriceCache() *PriceCache {
	c := &PriceCache{}
	for i := range c.shards {
		c.shards[i] = &priceShard{items: make(map[string]priceEntry)}
	}
	return c
}

func (c *PriceCache) shard(key string) *priceShard {
	h := fnv.New32a()
	h.Write([]byte(key))
	return c.shards[h.Sum32()%priceShards]
}

// Set stores the latest price for a symbol.
func (c *PriceCache) Set(symbol string, price float64) {
	s := c.shard(symbol)
	s.mu.Lock()
	s.items[symbol] = priceEntry{price: price, updatedAt: time.Now()}
	s.mu.Unlock()
}

// Get returns the cached price regardless of age.
func (c *PriceCache) Get(symbol string) (float64, bool) {
	s := c.shard(symbol)
	s.mu.RLock()
	e, ok := s.items[symbol]
	s.mu.RUnlock()
	return e.price, ok
}

// GetFresh returns the cached price only when it is younger than maxAge.
func (c *PriceCache) GetFresh(symbol string, maxAge time.Duration) (float64, bool) {
	s := c.shard(symbol)
	s.mu.RLock()
	e, ok := s.items[symbol]
	s.mu.RUnlock()
	if !ok || time.Since(e.updatedAt) > maxAge {
		return 0, false
	}
	return e.price, true
}

// Len returns total cached symbols.
func (c *PriceCache) Len() int {
	total := 0
	for _, s := range c.shards {
		s.mu.RLock()
		total += len(s.items)
		s.mu.RUnlock()
	}
	return total
}
