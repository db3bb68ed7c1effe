package bounded

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// Cache is a fixed-capacity key-value store with least-recently-used
// eviction. Inserting a new key at capacity evicts exactly one entry, the
// least recently touched one. There is no expiry; eviction is purely
// capacity-driven.
type Cache[K comparable, V any] struct {
	inner *lru.Cache[K, V]
	cap   int
}

func NewCache[K comparable, V any](capacity int) *Cache[K, V] {
	if capacity <= 0 {
		capacity = 1
	}
	inner, err := lru.New[K, V](capacity)
	if err != nil {
		// lru.New only fails on non-positive size, guarded above.
		panic(err)
	}
	return &Cache[K, V]{inner: inner, cap: capacity}
}

// Get returns the value for key and marks it most recently used.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	return c.inner.Get(key)
}

// Peek returns the value for key without touching recency.
func (c *Cache[K, V]) Peek(key K) (V, bool) {
	return c.inner.Peek(key)
}

// Set stores value under key, evicting the least-recently-used entry first
// when the key is new and the cache is full. Reports whether an eviction
// happened.
func (c *Cache[K, V]) Set(key K, value V) bool {
	return c.inner.Add(key, value)
}

func (c *Cache[K, V]) Contains(key K) bool {
	return c.inner.Contains(key)
}

func (c *Cache[K, V]) Remove(key K) bool {
	return c.inner.Remove(key)
}

func (c *Cache[K, V]) Len() int {
	return c.inner.Len()
}

func (c *Cache[K, V]) Cap() int {
	return c.cap
}

// Keys returns all keys ordered most-recently-used first.
func (c *Cache[K, V]) Keys() []K {
	keys := c.inner.Keys()
	for i, j := 0, len(keys)-1; i < j; i, j = i+1, j-1 {
		keys[i], keys[j] = keys[j], keys[i]
	}
	return keys
}

// Values returns all values ordered most-recently-used first.
func (c *Cache[K, V]) Values() []V {
	vals := c.inner.Values()
	for i, j := 0, len(vals)-1; i < j; i, j = i+1, j-1 {
		vals[i], vals[j] = vals[j], vals[i]
	}
	return vals
}

// Entry is one key-value pair from an enumeration.
type Entry[K comparable, V any] struct {
	Key   K
	Value V
}

// Entries returns all pairs ordered most-recently-used first.
func (c *Cache[K, V]) Entries() []Entry[K, V] {
	keys := c.Keys()
	out := make([]Entry[K, V], 0, len(keys))
	for _, k := range keys {
		if v, ok := c.inner.Peek(k); ok {
			out = append(out, Entry[K, V]{Key: k, Value: v})
		}
	}
	return out
}

func (c *Cache[K, V]) Clear() {
	c.inner.Purge()
}
