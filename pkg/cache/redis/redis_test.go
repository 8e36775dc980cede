package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/marmos91/dittoshare/pkg/cache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)

	c, err := NewRedisCache(context.Background(), RedisCacheConfig{
		Addr:      mr.Addr(),
		KeyPrefix: "test:",
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	return c, mr
}

func TestRedisCache_GetSet(t *testing.T) {
	ctx := context.Background()
	c, mr := newTestCache(t)

	_, err := c.Get(ctx, cache.FileKey("f1"))
	assert.ErrorIs(t, err, cache.ErrCacheMiss)

	require.NoError(t, c.Set(ctx, cache.FileKey("f1"), []byte(`{"id":"f1"}`), time.Hour))

	got, err := c.Get(ctx, cache.FileKey("f1"))
	require.NoError(t, err)
	assert.Equal(t, `{"id":"f1"}`, string(got))

	raw, err := mr.Get("test:file:f1")
	require.NoError(t, err)
	assert.Equal(t, `{"id":"f1"}`, raw)
	assert.Equal(t, time.Hour, mr.TTL("test:file:f1"))
}

func TestRedisCache_TTLExpiry(t *testing.T) {
	ctx := context.Background()
	c, mr := newTestCache(t)

	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Minute))
	mr.FastForward(time.Minute + time.Second)

	_, err := c.Get(ctx, "k")
	assert.ErrorIs(t, err, cache.ErrCacheMiss)
}

func TestRedisCache_DeleteMany(t *testing.T) {
	ctx := context.Background()
	c, mr := newTestCache(t)

	require.NoError(t, c.Set(ctx, cache.FileKey("f1"), []byte("x"), time.Hour))
	require.NoError(t, c.Set(ctx, cache.OwnerListKey("u1"), []byte("[]"), time.Hour))

	require.NoError(t, c.Delete(ctx, cache.FileKey("f1"), cache.OwnerListKey("u1"), "missing"))

	assert.False(t, mr.Exists("test:file:f1"))
	assert.False(t, mr.Exists("test:files:owner:u1"))
	assert.NoError(t, c.Delete(ctx))
}

func TestRedisCache_Unavailable(t *testing.T) {
	ctx := context.Background()
	c, mr := newTestCache(t)

	mr.Close()

	_, err := c.Get(ctx, "k")
	assert.ErrorIs(t, err, cache.ErrCacheUnavailable)
	assert.ErrorIs(t, c.Set(ctx, "k", []byte("v"), time.Hour), cache.ErrCacheUnavailable)
	assert.ErrorIs(t, c.Delete(ctx, "k"), cache.ErrCacheUnavailable)
	assert.ErrorIs(t, c.Healthcheck(ctx), cache.ErrCacheUnavailable)
}

func TestNewRedisCache_Unreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := NewRedisCache(ctx, RedisCacheConfig{Addr: addr, DialTimeout: 200 * time.Millisecond})
	assert.Error(t, err)
}

func TestNewRedisCache_RequiresAddr(t *testing.T) {
	_, err := NewRedisCache(context.Background(), RedisCacheConfig{})
	assert.Error(t, err)
}
