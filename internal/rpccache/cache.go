// Package rpccache provides a TTL-bounded read-through cache for ledger
// reads. Identical reads recur within a single bid flow and across concurrent
// users; caching them keeps rate-limited RPC providers out of the hot path.
package rpccache

import (
	"fmt"
	"hash/fnv"
	"strings"
	"sync"
	"time"
)

// shardCount spreads keys over independent locks so unrelated auctions'
// traffic never serializes on one mutex.
const shardCount = 32

// entry is a cached value with its expiry deadline.
type entry struct {
	value     interface{}
	expiresAt time.Time
}

type shard struct {
	mu      sync.RWMutex
	entries map[string]entry
}

// Cache is a process-wide TTL cache keyed by (method, params). Constructed
// once at process start; never persisted. Write calls must not be cached.
type Cache struct {
	shards [shardCount]*shard
	now    func() time.Time
}

// New creates an empty cache.
func New() *Cache {
	c := &Cache{now: time.Now}
	for i := range c.shards {
		c.shards[i] = &shard{entries: make(map[string]entry)}
	}
	return c
}

// Key builds the canonical cache key for a method and its parameters.
func Key(method string, params ...interface{}) string {
	if len(params) == 0 {
		return method
	}
	parts := make([]string, 0, len(params)+1)
	parts = append(parts, method)
	for _, p := range params {
		parts = append(parts, fmt.Sprintf("%v", p))
	}
	return strings.Join(parts, "|")
}

func (c *Cache) shardFor(key string) *shard {
	h := fnv.New32a()
	h.Write([]byte(key))
	return c.shards[h.Sum32()%shardCount]
}

// Get returns the cached value for key, or false on miss. Entries past their
// expiry are evicted lazily here and reported as misses.
func (c *Cache) Get(key string) (interface{}, bool) {
	s := c.shardFor(key)

	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()

	if !ok {
		return nil, false
	}

	if c.now().After(e.expiresAt) {
		s.mu.Lock()
		// Re-check under the write lock: a concurrent Set may have refreshed.
		if cur, ok := s.entries[key]; ok && c.now().After(cur.expiresAt) {
			delete(s.entries, key)
		}
		s.mu.Unlock()
		return nil, false
	}

	return e.value, true
}

// Set stores value under key for ttl. A non-positive ttl stores nothing.
func (c *Cache) Set(key string, value interface{}, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	s := c.shardFor(key)

	s.mu.Lock()
	s.entries[key] = entry{value: value, expiresAt: c.now().Add(ttl)}
	s.mu.Unlock()
}

// Invalidate removes every entry whose key starts with prefix. Used when a
// write is known to change the underlying value, e.g. after a bid lands.
func (c *Cache) Invalidate(prefix string) int {
	removed := 0
	for _, s := range c.shards {
		s.mu.Lock()
		for key := range s.entries {
			if strings.HasPrefix(key, prefix) {
				delete(s.entries, key)
				removed++
			}
		}
		s.mu.Unlock()
	}
	return removed
}

// Len returns the number of live entries, counting expired-but-unevicted ones.
func (c *Cache) Len() int {
	n := 0
	for _, s := range c.shards {
		s.mu.RLock()
		n += len(s.entries)
		s.mu.RUnlock()
	}
	return n
}
