// Package cache memoizes inventory and cost responses keyed by the exact
// batch composition, region, and time window. Differing batches are
// different keys: no partial-key matching, which trades hit rate for
// correctness simplicity.
package cache

import (
	"sort"
	"strings"
	"sync"
	"time"
)

// Key identifies one cached gateway response
type Key struct {
	ResourceTypes []string
	Region        string
	WindowStart   time.Time
	WindowEnd     time.Time
}

// canonical renders a stable map key: types sorted, window in RFC3339
func (k Key) canonical() string {
	sortedTypes := append([]string{}, k.ResourceTypes...)
	sort.Strings(sortedTypes)

	var b strings.Builder
	b.WriteString(strings.Join(sortedTypes, ","))
	b.WriteByte('|')
	b.WriteString(k.Region)
	b.WriteByte('|')
	if !k.WindowStart.IsZero() {
		b.WriteString(k.WindowStart.UTC().Format(time.RFC3339))
	}
	b.WriteByte('|')
	if !k.WindowEnd.IsZero() {
		b.WriteString(k.WindowEnd.UTC().Format(time.RFC3339))
	}
	return b.String()
}

type entry[V any] struct {
	key       Key
	value     V
	expiresAt time.Time
}

// Cache is a TTL cache safe for concurrent use. Writes are idempotent:
// last-writer-wins on the same key is safe because value derivation is
// pure given the key.
type Cache[V any] struct {
	mu      sync.RWMutex
	entries map[string]entry[V]
	now     func() time.Time
}

// New creates an empty cache
func New[V any]() *Cache[V] {
	return &Cache[V]{
		entries: make(map[string]entry[V]),
		now:     time.Now,
	}
}

// Get returns the cached value for a key, or a miss when absent or
// expired. Expired entries are evicted on read.
func (c *Cache[V]) Get(key Key) (V, bool) {
	canonical := key.canonical()

	c.mu.RLock()
	e, ok := c.entries[canonical]
	c.mu.RUnlock()

	var zero V
	if !ok {
		return zero, false
	}
	if c.now().After(e.expiresAt) {
		c.mu.Lock()
		if stale, still := c.entries[canonical]; still && c.now().After(stale.expiresAt) {
			delete(c.entries, canonical)
		}
		c.mu.Unlock()
		return zero, false
	}
	return e.value, true
}

// Put stores a value with a TTL. A non-positive TTL stores nothing.
func (c *Cache[V]) Put(key Key, value V, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key.canonical()] = entry[V]{
		key:       key,
		value:     value,
		expiresAt: c.now().Add(ttl),
	}
}

// Invalidate removes every entry matching the predicate
func (c *Cache[V]) Invalidate(match func(Key) bool) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for canonical, e := range c.entries {
		if match(e.key) {
			delete(c.entries, canonical)
			removed++
		}
	}
	return removed
}

// InvalidateAll drops every entry. Called after a successful policy
// reload, since validation results depend on policy content.
func (c *Cache[V]) InvalidateAll() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := len(c.entries)
	c.entries = make(map[string]entry[V])
	return removed
}

// Len returns the live entry count, counting expired-but-unevicted ones
func (c *Cache[V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
