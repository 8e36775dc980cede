// Package memory provides an in-process LRU cache with per-entry TTL.
//
// It serves single-instance deployments and tests. With several file-service
// instances each would hold its own copy and invalidations would not reach
// the others; use the redis store there.
package memory

import (
	"bytes"
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/marmos91/dittoshare/internal/logger"
	"github.com/marmos91/dittoshare/pkg/cache"
)

// MemoryCacheConfig configures the in-process cache.
type MemoryCacheConfig struct {
	// MaxEntries limits the cache size; the least recently used entry is
	// evicted when full (default: 10000)
	MaxEntries int `mapstructure:"max_entries"`
}

type entry struct {
	key       string
	value     []byte
	expiresAt time.Time
	lruNode   *list.Element
}

// MemoryCache implements cache.Store with an LRU list and a map.
//
// Get promotes the entry in the LRU list, so every operation takes the write
// lock.
type MemoryCache struct {
	mu         sync.Mutex
	entries    map[string]*entry
	lruList    *list.List
	maxEntries int

	now func() time.Time
}

// NewMemoryCache creates an empty cache.
func NewMemoryCache(config MemoryCacheConfig) *MemoryCache {
	maxEntries := config.MaxEntries
	if maxEntries <= 0 {
		maxEntries = 10000
	}

	return &MemoryCache{
		entries:    make(map[string]*entry),
		lruList:    list.New(),
		maxEntries: maxEntries,
		now:        time.Now,
	}
}

func (c *MemoryCache) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, cache.ErrCacheMiss
	}

	if !c.now().Before(e.expiresAt) {
		c.remove(e)
		return nil, cache.ErrCacheMiss
	}

	c.lruList.MoveToFront(e.lruNode)
	return bytes.Clone(e.value), nil
}

func (c *MemoryCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if ttl <= 0 {
		return c.Delete(ctx, key)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	expiresAt := c.now().Add(ttl)

	if existing, ok := c.entries[key]; ok {
		existing.value = bytes.Clone(value)
		existing.expiresAt = expiresAt
		c.lruList.MoveToFront(existing.lruNode)
		return nil
	}

	if len(c.entries) >= c.maxEntries {
		c.evictOldest()
	}

	e := &entry{key: key, value: bytes.Clone(value), expiresAt: expiresAt}
	e.lruNode = c.lruList.PushFront(e)
	c.entries[key] = e
	return nil
}

func (c *MemoryCache) Delete(ctx context.Context, keys ...string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, key := range keys {
		if e, ok := c.entries[key]; ok {
			c.remove(e)
		}
	}
	return nil
}

// Len returns the number of entries, including expired ones not yet reaped.
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *MemoryCache) Healthcheck(ctx context.Context) error {
	return ctx.Err()
}

// Close drops every entry.
func (c *MemoryCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]*entry)
	c.lruList = list.New()
	return nil
}

// evictOldest removes the least recently used entry. Must be called with
// c.mu held.
func (c *MemoryCache) evictOldest() {
	oldest := c.lruList.Back()
	if oldest == nil {
		return
	}
	e := oldest.Value.(*entry)
	c.remove(e)

	logger.Debug("Evicted cache entry: %s", e.key)
}

// remove must be called with c.mu held.
func (c *MemoryCache) remove(e *entry) {
	c.lruList.Remove(e.lruNode)
	delete(c.entries, e.key)
}
