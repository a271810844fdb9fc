// Package cache wraps hashicorp/golang-lru into the four bounded caches
// frames, strings, code objects, and per-interpreter metadata need, each
// keyed by a stable remote-address fingerprint and each supporting a
// whole-cache InvalidateAll (the only way to drop live entries mid-run,
// used on a CPython 3.14+ code-object-generation bump).
package cache

import lru "github.com/hashicorp/golang-lru/v2"

// Destructor runs once per evicted entry, including entries dropped by
// InvalidateAll.
type Destructor[K comparable, V any] func(key K, value V)

// LRU is a fixed-capacity, destructor-aware cache over comparable keys.
type LRU[K comparable, V any] struct {
	capacity int
	destroy  Destructor[K, V]
	inner    *lru.Cache[K, V]
}

// New constructs an LRU with the given capacity. destroy may be nil.
func New[K comparable, V any](capacity int, destroy Destructor[K, V]) *LRU[K, V] {
	c := &LRU[K, V]{capacity: capacity, destroy: destroy}
	onEvict := func(key K, value V) {
		if c.destroy != nil {
			c.destroy(key, value)
		}
	}
	inner, err := lru.NewWithEvict[K, V](capacity, onEvict)
	if err != nil {
		// Only returns an error for a non-positive size; the core never
		// constructs a zero-capacity cache (capacities are derived from
		// max_stack, which is always >= 1).
		panic(err)
	}
	c.inner = inner
	return c
}

// Get returns the cached value for key, reporting whether it was present.
// A hit does not evict anything else: the entry currently referenced by
// the live stack buffer during a sample is never evicted mid-sample,
// because nothing in this package evicts outside of Add/InvalidateAll.
func (c *LRU[K, V]) Get(key K) (V, bool) {
	return c.inner.Get(key)
}

// Add inserts or updates key, running the destructor on whatever entry
// the LRU evicts to make room (if any).
func (c *LRU[K, V]) Add(key K, value V) {
	c.inner.Add(key, value)
}

// Len reports the number of live entries.
func (c *LRU[K, V]) Len() int { return c.inner.Len() }

// InvalidateAll drops every entry, running the destructor for each (via
// Purge's eviction callback), and leaves the cache ready for reuse.
// golang-lru has no bulk-with-destructor primitive beyond Purge, which
// does invoke the eviction callback per entry, avoiding a hand-rolled
// map underneath.
func (c *LRU[K, V]) InvalidateAll() {
	c.inner.Purge()
}
