// Package memory is the fast, bounded tile tier. Entries are ordered by last
// access; once the tier grows past its maximum it is trimmed back down to its
// minimum in one pass so steady-state inserts do not evict one-by-one.
package memory

import (
	"fmt"
	"sync"

	"github.com/hashicorp/golang-lru/v2/simplelru"

	"github.com/stenvall/tilecache/internal/core/observability"
	"github.com/stenvall/tilecache/internal/tile"
)

type Cache struct {
	mu  sync.Mutex
	lru *simplelru.LRU[tile.Index, []byte]
	min int
	max int

	evicted int64
}

// New returns an empty tier. It requires 0 <= min <= max and max > 0.
func New(min, max int) (*Cache, error) {
	if max <= 0 {
		return nil, fmt.Errorf("memory cache: maximum must be > 0 (got %d)", max)
	}
	if min < 0 || min > max {
		return nil, fmt.Errorf("memory cache: minimum %d must be in [0,%d]", min, max)
	}
	// one slot of headroom so the LRU never evicts on its own; trimming is ours
	l, err := simplelru.NewLRU[tile.Index, []byte](max+1, nil)
	if err != nil {
		return nil, fmt.Errorf("memory cache: %w", err)
	}
	return &Cache{lru: l, min: min, max: max}, nil
}

// Get returns the bytes for idx and marks it most recently used.
func (c *Cache) Get(idx tile.Index) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Get(idx)
}

// Peek is Get without touching recency.
func (c *Cache) Peek(idx tile.Index) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Peek(idx)
}

// Add inserts or refreshes idx, then trims to min (at least one entry) if
// the tier exceeds max.
// It returns how many entries were evicted.
func (c *Cache) Add(idx tile.Index, b []byte) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	existed := c.lru.Contains(idx)
	c.lru.Add(idx, b)
	if existed {
		return 0
	}
	if c.lru.Len() <= c.max {
		observability.AddMemoryEntries(1)
		return 0
	}
	// the entry just added always survives, even with min == 0
	floor := max(c.min, 1)
	n := 0
	for c.lru.Len() > floor {
		if _, _, ok := c.lru.RemoveOldest(); !ok {
			break
		}
		n++
	}
	c.evicted += int64(n)
	observability.AddEvictions(n)
	observability.AddMemoryEntries(1 - n)
	return n
}

func (c *Cache) Contains(idx tile.Index) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Contains(idx)
}

func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Evicted is the running total of evictions.
func (c *Cache) Evicted() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.evicted
}

func (c *Cache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	observability.AddMemoryEntries(-c.lru.Len())
	c.lru.Purge()
}

func (c *Cache) Bounds() (min, max int) { return c.min, c.max }
