// Package cache defines the key/value cache placed in front of the record
// store, along with the logical keys used for the two cached read shapes.
package cache

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrCacheMiss is returned by Get when the key is absent or expired.
	ErrCacheMiss = errors.New("cache miss")

	// ErrCacheUnavailable wraps failures of the backing cache service.
	ErrCacheUnavailable = errors.New("cache unavailable")
)

// Store is a byte-oriented cache with per-entry TTL.
type Store interface {
	// Get returns the value stored under key or ErrCacheMiss.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value under key for ttl.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes every given key. Missing keys are not an error.
	Delete(ctx context.Context, keys ...string) error

	Healthcheck(ctx context.Context) error
	Close() error
}

const (
	fileKeyPrefix      = "file:"
	ownerListKeyPrefix = "files:owner:"
)

// FileKey is the key of a single cached file record.
func FileKey(fileID string) string {
	return fileKeyPrefix + fileID
}

// OwnerListKey is the key of an owner's cached file list.
func OwnerListKey(ownerID string) string {
	return ownerListKeyPrefix + ownerID
}

// Noop is a Store that never holds anything. It is used when caching is
// disabled so the catalog always reads through to the record store.
type Noop struct{}

func (Noop) Get(context.Context, string) ([]byte, error)              { return nil, ErrCacheMiss }
func (Noop) Set(context.Context, string, []byte, time.Duration) error { return nil }
func (Noop) Delete(context.Context, ...string) error                  { return nil }
func (Noop) Healthcheck(context.Context) error                        { return nil }
func (Noop) Close() error                                             { return nil }
