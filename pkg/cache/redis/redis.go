// Package redis provides a cache.Store on Redis, shared by every
// file-service instance so one instance's invalidation is seen by all.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/marmos91/dittoshare/internal/logger"
	"github.com/marmos91/dittoshare/pkg/cache"
	"github.com/redis/go-redis/v9"
)

// RedisCacheConfig configures the Redis connection.
type RedisCacheConfig struct {
	Addr     string `mapstructure:"addr" validate:"required"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`

	// KeyPrefix namespaces every key, e.g. "dittoshare:"
	KeyPrefix string `mapstructure:"key_prefix"`

	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// RedisCache implements cache.Store with GET / SET EX / DEL.
type RedisCache struct {
	client    *redis.Client
	keyPrefix string
}

// NewRedisCache connects to Redis and pings it. A cache that cannot be
// reached at startup is a configuration error; later outages only degrade
// reads.
func NewRedisCache(ctx context.Context, config RedisCacheConfig) (*RedisCache, error) {
	if config.Addr == "" {
		return nil, fmt.Errorf("redis cache: addr is required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:         config.Addr,
		Username:     config.Username,
		Password:     config.Password,
		DB:           config.DB,
		DialTimeout:  orDefault(config.DialTimeout, 5*time.Second),
		ReadTimeout:  orDefault(config.ReadTimeout, 3*time.Second),
		WriteTimeout: orDefault(config.WriteTimeout, 3*time.Second),
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", config.Addr, err)
	}

	logger.Info("Redis cache connected: %s (db=%d)", config.Addr, config.DB)

	return &RedisCache{client: client, keyPrefix: config.KeyPrefix}, nil
}

func orDefault(d, def time.Duration) time.Duration {
	if d == 0 {
		return def
	}
	return d
}

func (c *RedisCache) key(k string) string {
	return c.keyPrefix + k
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, error) {
	value, err := c.client.Get(ctx, c.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, cache.ErrCacheMiss
	}
	if err != nil {
		return nil, unavailable(err)
	}
	return value, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return c.Delete(ctx, key)
	}
	if err := c.client.Set(ctx, c.key(key), value, ttl).Err(); err != nil {
		return unavailable(err)
	}
	return nil
}

func (c *RedisCache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}

	prefixed := make([]string, len(keys))
	for i, k := range keys {
		prefixed[i] = c.key(k)
	}

	if err := c.client.Del(ctx, prefixed...).Err(); err != nil {
		return unavailable(err)
	}
	return nil
}

func (c *RedisCache) Healthcheck(ctx context.Context) error {
	if err := c.client.Ping(ctx).Err(); err != nil {
		return unavailable(err)
	}
	return nil
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

// unavailable keeps context errors recognizable and tags the rest as cache
// outages.
func unavailable(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %w", cache.ErrCacheUnavailable, err)
}
