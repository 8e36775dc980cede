// Package catalog is the cache-aside layer in front of the record store.
//
// Two read shapes are cached: a single file by id (cache.FileKey) and the
// list of files an owner has uploaded (cache.OwnerListKey). The list of files
// shared with a user is always read from the record store.
//
// Every mutation commits to the record store first and then invalidates both
// keys of the affected record before returning. A reader that misses the
// cache after a mutation returned therefore sees the committed state; the TTL
// only bounds staleness when an invalidation could not be delivered.
//
// Cache failures never fail a caller. Reads fall back to the record store and
// failed invalidations are logged and counted.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/marmos91/dittoshare/internal/logger"
	"github.com/marmos91/dittoshare/pkg/cache"
	"github.com/marmos91/dittoshare/pkg/metrics"
	"github.com/marmos91/dittoshare/pkg/store/record"
)

const (
	shapeFile      = "file"
	shapeOwnerList = "owner_list"
)

// Config controls caching behavior.
type Config struct {
	// TTL bounds how long an entry may be served (default: 1h)
	TTL time.Duration `mapstructure:"ttl"`

	// InvalidateTimeout bounds each invalidation. Invalidation runs even when
	// the request context was cancelled after the durable write (default: 2s)
	InvalidateTimeout time.Duration `mapstructure:"invalidate_timeout"`
}

// Catalog serves file records through the cache.
type Catalog struct {
	records record.Store
	cache   cache.Store
	metrics metrics.CacheMetrics

	ttl               time.Duration
	invalidateTimeout time.Duration
}

// New creates a Catalog. A nil cache disables caching and nil metrics
// discards observations.
func New(records record.Store, c cache.Store, config Config, m metrics.CacheMetrics) *Catalog {
	if c == nil {
		c = cache.Noop{}
	}
	if m == nil {
		m = metrics.NewNoopCacheMetrics()
	}

	ttl := config.TTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	invalidateTimeout := config.InvalidateTimeout
	if invalidateTimeout <= 0 {
		invalidateTimeout = 2 * time.Second
	}

	return &Catalog{
		records:           records,
		cache:             c,
		metrics:           m,
		ttl:               ttl,
		invalidateTimeout: invalidateTimeout,
	}
}

// GetFile returns the record id if requester owns it or holds a grant.
//
// A cache hit is authorized against the cached copy exactly like a record
// loaded from the store.
func (c *Catalog) GetFile(ctx context.Context, id, requester string) (*record.FileRecord, error) {
	key := cache.FileKey(id)

	var rec *record.FileRecord
	if c.lookup(ctx, shapeFile, key, &rec) && rec != nil {
		return authorizeRead(rec, requester)
	}

	rec, err := c.records.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	c.populate(ctx, key, rec)

	return authorizeRead(rec, requester)
}

// Load reads a record straight from the record store, bypassing the cache.
// Mutations start from this so they never build on a stale snapshot.
func (c *Catalog) Load(ctx context.Context, id string) (*record.FileRecord, error) {
	return c.records.Get(ctx, id)
}

// ListOwned returns the records of owner, newest first.
func (c *Catalog) ListOwned(ctx context.Context, owner string) ([]*record.FileRecord, error) {
	key := cache.OwnerListKey(owner)

	var list []*record.FileRecord
	if c.lookup(ctx, shapeOwnerList, key, &list) && list != nil {
		return list, nil
	}

	list, err := c.records.ListByOwner(ctx, owner)
	if err != nil {
		return nil, err
	}

	c.populate(ctx, key, list)

	return list, nil
}

// ListSharedWith returns the records shared with userID, newest first. This
// path is never cached.
func (c *Catalog) ListSharedWith(ctx context.Context, userID string) ([]*record.FileRecord, error) {
	return c.records.ListSharedWith(ctx, userID)
}

// Create stores a new record and invalidates its owner's list.
func (c *Catalog) Create(ctx context.Context, rec *record.FileRecord) error {
	if err := c.records.Create(ctx, rec); err != nil {
		return err
	}
	c.invalidate(ctx, rec)
	return nil
}

// Save replaces an existing record and invalidates both of its keys.
func (c *Catalog) Save(ctx context.Context, rec *record.FileRecord) error {
	if err := c.records.Update(ctx, rec); err != nil {
		return err
	}
	c.invalidate(ctx, rec)
	return nil
}

// Remove deletes the record and invalidates both of its keys.
func (c *Catalog) Remove(ctx context.Context, rec *record.FileRecord) error {
	if err := c.records.Delete(ctx, rec.ID); err != nil {
		return err
	}
	c.invalidate(ctx, rec)
	return nil
}

// lookup decodes the entry under key into dst. It reports false on a miss,
// on a cache failure and on an undecodable entry.
func (c *Catalog) lookup(ctx context.Context, shape, key string, dst any) bool {
	data, err := c.cache.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, cache.ErrCacheMiss) {
			logger.Warn("Cache read of %s failed, reading record store: %v", key, err)
			c.metrics.RecordFailure("get")
		}
		c.metrics.RecordLookup(shape, false)
		return false
	}

	if err := json.Unmarshal(data, dst); err != nil {
		logger.Warn("Dropping undecodable cache entry %s: %v", key, err)
		c.metrics.RecordFailure("decode")
		c.metrics.RecordLookup(shape, false)
		if err := c.cache.Delete(ctx, key); err != nil {
			c.metrics.RecordFailure("delete")
		}
		return false
	}

	c.metrics.RecordLookup(shape, true)
	return true
}

func (c *Catalog) populate(ctx context.Context, key string, value any) {
	data, err := json.Marshal(value)
	if err != nil {
		logger.Warn("Cannot encode cache entry %s: %v", key, err)
		return
	}

	if err := c.cache.Set(ctx, key, data, c.ttl); err != nil {
		logger.Warn("Cache write of %s failed: %v", key, err)
		c.metrics.RecordFailure("set")
	}
}

// invalidate drops the single-file key and the owner-list key of rec. It is
// detached from ctx's cancellation: the durable write already committed.
func (c *Catalog) invalidate(ctx context.Context, rec *record.FileRecord) {
	keys := []string{cache.FileKey(rec.ID), cache.OwnerListKey(rec.OwnerID)}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.invalidateTimeout)
	defer cancel()

	if err := c.cache.Delete(ctx, keys...); err != nil {
		logger.Warn("Cache invalidation of %v failed, entries expire within %v: %v", keys, c.ttl, err)
		c.metrics.RecordFailure("invalidate")
		return
	}

	c.metrics.RecordInvalidation(len(keys))
}

func authorizeRead(rec *record.FileRecord, requester string) (*record.FileRecord, error) {
	if !rec.CanRead(requester) {
		return nil, record.NewAccessDeniedError(rec.ID)
	}
	return rec, nil
}
