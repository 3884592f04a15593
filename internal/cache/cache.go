// Package cache provides a generic in-memory TTL cache for latticed.
// Used to reduce redundant upstream calls for slow-changing data like
// reporting cycles and report metadata. Thread-safe via sync.RWMutex.
//
// Not intended for execution data (changes frequently) or result artifacts
// (too large).
package cache

import (
	"sync"
	"time"
)

// DefaultTTL is the entry lifetime used when Options.TTL is zero.
const DefaultTTL = 30 * time.Second

// DefaultMaxEntries caps the cache when Options.MaxEntries is zero.
const DefaultMaxEntries = 1000

// Options configures a Cache instance.
type Options struct {
	// TTL is the time-to-live for each entry. Zero uses DefaultTTL (30s).
	TTL time.Duration

	// MaxEntries is the cache size ceiling. Zero uses DefaultMaxEntries (1000).
	MaxEntries int
}

// entry holds a cached value and its expiration time.
type entry[V any] struct {
	value     V
	expiresAt time.Time
}

// Cache is an in-memory map with per-entry TTL and a size ceiling.
//
// When the ceiling is hit, expired entries go first; if the cache is still
// full, the oldest entry by insertion order is dropped.
type Cache[K comparable, V any] struct {
	mu         sync.RWMutex
	entries    map[K]entry[V]
	order      []K // insertion order for eviction
	ttl        time.Duration
	maxEntries int
}

// New creates a Cache, applying defaults for zero-valued options.
func New[K comparable, V any](opts Options) *Cache[K, V] {
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	maxEntries := opts.MaxEntries
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	return &Cache[K, V]{
		entries:    make(map[K]entry[V]),
		order:      make([]K, 0),
		ttl:        ttl,
		maxEntries: maxEntries,
	}
}

// Get returns the live value for key. A missing or expired key reports
// false; expired entries are removed on the way out.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok {
		var zero V
		return zero, false
	}

	if time.Now().After(e.expiresAt) {
		c.mu.Lock()
		c.removeLocked(key)
		c.mu.Unlock()
		var zero V
		return zero, false
	}

	return e.value, true
}

// Set inserts or refreshes an entry, evicting as needed to stay under the
// size ceiling.
func (c *Cache[K, V]) Set(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Updating in place keeps the key's original eviction position.
	if _, exists := c.entries[key]; exists {
		c.entries[key] = entry[V]{
			value:     value,
			expiresAt: time.Now().Add(c.ttl),
		}
		return
	}

	if len(c.entries) >= c.maxEntries {
		c.cleanExpiredLocked()
	}
	if len(c.entries) >= c.maxEntries {
		c.evictOldestLocked()
	}

	c.entries[key] = entry[V]{
		value:     value,
		expiresAt: time.Now().Add(c.ttl),
	}
	c.order = append(c.order, key)
}

// Delete removes one entry. No-op for an absent key.
func (c *Cache[K, V]) Delete(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.removeLocked(key)
}

// Clear drops every entry.
func (c *Cache[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[K]entry[V])
	c.order = c.order[:0]
}

// Len counts stored entries, expired-but-uncleaned ones included.
func (c *Cache[K, V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// TTL reports the configured entry lifetime.
func (c *Cache[K, V]) TTL() time.Duration {
	return c.ttl
}

// MaxEntries reports the configured size ceiling.
func (c *Cache[K, V]) MaxEntries() int {
	return c.maxEntries
}

// removeLocked drops key from the map and the order slice. Caller holds c.mu.
func (c *Cache[K, V]) removeLocked(key K) {
	if _, ok := c.entries[key]; !ok {
		return
	}
	delete(c.entries, key)
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

// cleanExpiredLocked sweeps every expired entry. Caller holds c.mu.
func (c *Cache[K, V]) cleanExpiredLocked() {
	now := time.Now()
	var remaining []K
	for _, k := range c.order {
		if e, ok := c.entries[k]; ok && now.After(e.expiresAt) {
			delete(c.entries, k)
		} else {
			remaining = append(remaining, k)
		}
	}
	c.order = remaining
}

// evictOldestLocked drops the entry with the oldest insertion. Caller holds c.mu.
func (c *Cache[K, V]) evictOldestLocked() {
	if len(c.order) == 0 {
		return
	}
	oldest := c.order[0]
	c.order = c.order[1:]
	delete(c.entries, oldest)
}
