package config

import (
	"context"
	"fmt"

	"github.com/marmos91/dittoshare/internal/logger"
	"github.com/marmos91/dittoshare/pkg/cache"
	memoryCache "github.com/marmos91/dittoshare/pkg/cache/memory"
	redisCache "github.com/marmos91/dittoshare/pkg/cache/redis"
	"github.com/marmos91/dittoshare/pkg/store/blob"
	blobFs "github.com/marmos91/dittoshare/pkg/store/blob/fs"
	blobMemory "github.com/marmos91/dittoshare/pkg/store/blob/memory"
	blobS3 "github.com/marmos91/dittoshare/pkg/store/blob/s3"
	"github.com/marmos91/dittoshare/pkg/store/record"
	recordBadger "github.com/marmos91/dittoshare/pkg/store/record/badger"
	recordMemory "github.com/marmos91/dittoshare/pkg/store/record/memory"
	recordSQLite "github.com/marmos91/dittoshare/pkg/store/record/sqlite"
	"github.com/mitchellh/mapstructure"
)

// CreateRecordStore creates a record store based on configuration.
//
// The Type field selects the implementation; the matching type-specific map
// is decoded into that implementation's config struct.
//
// Supported types:
//   - "memory": pkg/store/record/memory (lost on restart)
//   - "badger": pkg/store/record/badger (embedded key-value store)
//   - "sqlite": pkg/store/record/sqlite (GORM over pure-Go SQLite)
func CreateRecordStore(ctx context.Context, cfg *RecordsConfig) (record.Store, error) {
	switch cfg.Type {
	case "memory":
		var storeCfg recordMemory.MemoryRecordStoreConfig
		if err := decodeOptions(cfg.Memory, &storeCfg); err != nil {
			return nil, fmt.Errorf("failed to decode memory record store config: %w", err)
		}
		return recordMemory.NewMemoryRecordStore(storeCfg), nil

	case "badger":
		var storeCfg recordBadger.BadgerRecordStoreConfig
		if err := decodeOptions(cfg.Badger, &storeCfg); err != nil {
			return nil, fmt.Errorf("failed to decode badger record store config: %w", err)
		}
		store, err := recordBadger.NewBadgerRecordStore(ctx, storeCfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create badger record store: %w", err)
		}
		return store, nil

	case "sqlite":
		var storeCfg recordSQLite.SQLiteRecordStoreConfig
		if err := decodeOptions(cfg.SQLite, &storeCfg); err != nil {
			return nil, fmt.Errorf("failed to decode sqlite record store config: %w", err)
		}
		store, err := recordSQLite.NewSQLiteRecordStore(ctx, storeCfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create sqlite record store: %w", err)
		}
		return store, nil

	default:
		return nil, fmt.Errorf("unknown record store type: %q", cfg.Type)
	}
}

// CreateBlobStore creates a blob store based on configuration.
//
// Supported types:
//   - "memory": pkg/store/blob/memory, served by the file API under /blobs
//   - "fs": pkg/store/blob/fs, served by the file API under /blobs
//   - "s3": pkg/store/blob/s3 (Amazon S3 or a compatible service)
func CreateBlobStore(ctx context.Context, cfg *BlobsConfig) (blob.Store, error) {
	switch cfg.Type {
	case "memory":
		var storeCfg blobMemory.MemoryBlobStoreConfig
		if err := decodeOptions(cfg.Memory, &storeCfg); err != nil {
			return nil, fmt.Errorf("failed to decode memory blob store config: %w", err)
		}
		return blobMemory.NewMemoryBlobStore(storeCfg), nil

	case "fs":
		var storeCfg blobFs.FSBlobStoreConfig
		if err := decodeOptions(cfg.FS, &storeCfg); err != nil {
			return nil, fmt.Errorf("failed to decode fs blob store config: %w", err)
		}
		if storeCfg.BasePath == "" {
			return nil, fmt.Errorf("fs blob store: base_path is required")
		}
		store, err := blobFs.NewFSBlobStore(ctx, storeCfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create fs blob store: %w", err)
		}
		return store, nil

	case "s3":
		var storeCfg blobS3.S3BlobStoreConfig
		if err := decodeOptions(cfg.S3, &storeCfg); err != nil {
			return nil, fmt.Errorf("failed to decode S3 blob store config: %w", err)
		}
		store, err := blobS3.NewS3BlobStore(ctx, storeCfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create S3 blob store: %w", err)
		}
		return store, nil

	default:
		return nil, fmt.Errorf("unknown blob store type: %q", cfg.Type)
	}
}

// CreateCache creates the cache store based on configuration. Type "none"
// returns cache.Noop, which makes every read a miss.
func CreateCache(ctx context.Context, cfg *CacheConfig) (cache.Store, error) {
	switch cfg.Type {
	case "none":
		logger.Info("Record caching disabled")
		return cache.Noop{}, nil

	case "memory":
		var storeCfg memoryCache.MemoryCacheConfig
		if err := decodeOptions(cfg.Memory, &storeCfg); err != nil {
			return nil, fmt.Errorf("failed to decode memory cache config: %w", err)
		}
		return memoryCache.NewMemoryCache(storeCfg), nil

	case "redis":
		var storeCfg redisCache.RedisCacheConfig
		if err := decodeOptions(cfg.Redis, &storeCfg); err != nil {
			return nil, fmt.Errorf("failed to decode redis cache config: %w", err)
		}
		if err := validate.Struct(storeCfg); err != nil {
			return nil, fmt.Errorf("redis cache: %w", formatValidationError(err))
		}
		store, err := redisCache.NewRedisCache(ctx, storeCfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create redis cache: %w", err)
		}
		return store, nil

	default:
		return nil, fmt.Errorf("unknown cache type: %q", cfg.Type)
	}
}

// decodeOptions decodes a type-specific section into dst. Durations may be
// written as strings ("5s") and scalars are weakly typed, matching what
// viper produces from environment variables.
func decodeOptions(options map[string]any, dst any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		WeaklyTypedInput: true,
		Result:           dst,
	})
	if err != nil {
		return err
	}
	return decoder.Decode(options)
}
