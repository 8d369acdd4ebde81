package cache

import (
	"sync"
	"time"
)

// TTL is a small read-through-friendly expiring cache. Callers own the
// fetch-on-miss logic; the cache only stores, expires, and invalidates.
// Safe for concurrent use.
type TTL[V any] struct {
	mu    sync.RWMutex
	ttl   time.Duration
	items map[string]ttlEntry[V]
}

type ttlEntry[V any] struct {
	value   V
	expires time.Time
}

// NewTTL creates a cache whose entries expire after ttl.
func NewTTL[V any](ttl time.Duration) *TTL[V] {
	return &TTL[V]{
		ttl:   ttl,
		items: make(map[string]ttlEntry[V]),
	}
}

// Get returns the value when present and unexpired.
func (c *TTL[V]) Get(key string) (V, bool) {
	c.mu.RLock()
	e, ok := c.items[key]
	c.mu.RUnlock()
	if !ok || time.Now().After(e.expires) {
		var zero V
		return zero, false
	}
	return e.value, true
}

// Set stores the value with a fresh TTL.
func (c *TTL[V]) Set(key string, value V) {
	c.mu.Lock()
	c.items[key] = ttlEntry[V]{value: value, expires: time.Now().Add(c.ttl)}
	c.mu.Unlock()
}

// Invalidate drops one entry (credential rotation).
func (c *TTL[V]) Invalidate(key string) {
	c.mu.Lock()
	delete(c.items, key)
	c.mu.Unlock()
}

// Purge drops every expired entry and returns how many were removed.
func (c *TTL[V]) Purge() int {
	now := time.Now()
	removed := 0
	c.mu.Lock()
	for k, e := range c.items {
		if now.After(e.expires) {
			delete(c.items, k)
			removed++
		}
	}
	c.mu.Unlock()
	return removed
}
