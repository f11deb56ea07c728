// Package sieve implements a bounded in-memory cache with per-entry TTLs and
// SIEVE eviction.
//
// Entries live in a list ordered by insertion, newest at the head. A hand
// sweeps from the tail toward the head when room is needed: visited entries
// have their flag cleared and are skipped, and the first unvisited (or
// expired) entry is evicted. Reads only set the visited flag, so lookups
// share a read lock and never reorder the list.
package sieve

import (
	"sync"
	"sync/atomic"
	"time"
)

const (
	// DefaultMaxBytes is the default memory budget of a token cache.
	DefaultMaxBytes = 128 * 1024 * 1024
	// DefaultEntryBytes is the assumed average size of a cached token.
	DefaultEntryBytes = 1024
)

// CapacityFor derives an entry count from a memory budget and an average
// entry size. Non-positive inputs fall back to the defaults.
func CapacityFor(maxBytes int64, entryBytes int) int {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	if entryBytes <= 0 {
		entryBytes = DefaultEntryBytes
	}
	capacity := int(maxBytes / int64(entryBytes))
	if capacity < 1 {
		capacity = 1
	}
	return capacity
}

type node[K comparable, V any] struct {
	key       K
	value     V
	expiresAt time.Time
	visited   atomic.Bool
	// prev points toward the head (newer), next toward the tail (older).
	prev, next *node[K, V]
}

// Cache is a fixed-capacity SIEVE cache safe for concurrent use.
type Cache[K comparable, V any] struct {
	mu       sync.RWMutex
	items    map[K]*node[K, V]
	head     *node[K, V]
	tail     *node[K, V]
	hand     *node[K, V]
	capacity int
	now      func() time.Time
	evicted  atomic.Uint64
}

// New creates a cache holding at most capacity entries.
func New[K comparable, V any](capacity int) *Cache[K, V] {
	if capacity < 1 {
		capacity = 1
	}
	return &Cache[K, V]{
		items:    make(map[K]*node[K, V], min(capacity, 1024)),
		capacity: capacity,
		now:      time.Now,
	}
}

// SetNowFunc allows injecting a deterministic clock (useful for tests).
func (c *Cache[K, V]) SetNowFunc(fn func() time.Time) {
	if fn == nil {
		fn = time.Now
	}
	c.mu.Lock()
	c.now = fn
	c.mu.Unlock()
}

// Get returns the value stored under key if it has not expired. An expired
// entry is reported absent and removed.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	var zero V

	c.mu.RLock()
	n, ok := c.items[key]
	if !ok {
		c.mu.RUnlock()
		return zero, false
	}
	if !c.now().Before(n.expiresAt) {
		c.mu.RUnlock()
		c.removeIfExpired(key, n)
		return zero, false
	}
	n.visited.Store(true)
	value := n.value
	c.mu.RUnlock()
	return value, true
}

// ExpiresAt reports when the entry under key expires.
func (c *Cache[K, V]) ExpiresAt(key K) (time.Time, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n, ok := c.items[key]
	if !ok || !c.now().Before(n.expiresAt) {
		return time.Time{}, false
	}
	return n.expiresAt, true
}

// Set stores value under key for ttl. A non-positive ttl stores nothing and
// drops any existing entry for key. Overwriting an existing key keeps its
// position and visited flag.
func (c *Cache[K, V]) Set(key K, value V, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ttl <= 0 {
		if n, ok := c.items[key]; ok {
			c.unlink(n)
		}
		return
	}

	expiresAt := c.now().Add(ttl)
	if n, ok := c.items[key]; ok {
		n.value = value
		n.expiresAt = expiresAt
		return
	}

	for len(c.items) >= c.capacity {
		c.evict()
	}

	n := &node[K, V]{key: key, value: value, expiresAt: expiresAt}
	n.next = c.head
	if c.head != nil {
		c.head.prev = n
	}
	c.head = n
	if c.tail == nil {
		c.tail = n
	}
	c.items[key] = n
}

// Delete removes key if present.
func (c *Cache[K, V]) Delete(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	n, ok := c.items[key]
	if ok {
		c.unlink(n)
	}
	return ok
}

// Purge removes every expired entry and returns how many were dropped.
func (c *Cache[K, V]) Purge() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	removed := 0
	for n := c.tail; n != nil; {
		prev := n.prev
		if !now.Before(n.expiresAt) {
			c.unlink(n)
			removed++
		}
		n = prev
	}
	return removed
}

// Len returns the number of stored entries, including expired entries that
// have not been swept yet.
func (c *Cache[K, V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

func (c *Cache[K, V]) Capacity() int { return c.capacity }

// Evictions returns how many entries were evicted for capacity.
func (c *Cache[K, V]) Evictions() uint64 { return c.evicted.Load() }

// evict removes one entry. Callers must hold the write lock.
func (c *Cache[K, V]) evict() {
	if c.tail == nil {
		return
	}
	now := c.now()
	n := c.hand
	if n == nil {
		n = c.tail
	}
	for n.visited.Load() && now.Before(n.expiresAt) {
		n.visited.Store(false)
		n = n.prev
		if n == nil {
			n = c.tail
		}
	}
	c.hand = n.prev
	c.unlink(n)
	c.evicted.Add(1)
}

// unlink detaches n from the list and the index. Callers must hold the write
// lock.
func (c *Cache[K, V]) unlink(n *node[K, V]) {
	if c.hand == n {
		c.hand = n.prev
	}
	if n.prev != nil {
		n.prev.next = n.next
	} else {
		c.head = n.next
	}
	if n.next != nil {
		n.next.prev = n.prev
	} else {
		c.tail = n.prev
	}
	n.prev, n.next = nil, nil
	delete(c.items, n.key)
}

func (c *Cache[K, V]) removeIfExpired(key K, n *node[K, V]) {
	c.mu.Lock()
	defer c.mu.Unlock()
	current, ok := c.items[key]
	if !ok || current != n || c.now().Before(n.expiresAt) {
		return
	}
	c.unlink(n)
}
