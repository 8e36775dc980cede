// Package badger provides a record.Store persisted in BadgerDB.
//
// Records are stored as JSON under "f:<id>" together with two value-less
// secondary indexes (owner and grantee, see keys.go) that are maintained in
// the same transaction as the record, so an index never points at a record
// that was not committed.
package badger

import (
	"context"
	"errors"
	"fmt"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/marmos91/dittoshare/internal/logger"
	"github.com/marmos91/dittoshare/pkg/store/record"
)

// maxConflictRetries bounds how often a write transaction is retried after
// badger reports a conflict with a concurrent transaction.
const maxConflictRetries = 16

// BadgerRecordStore implements record.Store on BadgerDB.
type BadgerRecordStore struct {
	db *badger.DB
}

// BadgerRecordStoreConfig configures the BadgerDB store.
type BadgerRecordStoreConfig struct {
	// DBPath is the directory holding the database files
	DBPath string `mapstructure:"db_path"`

	// InMemory keeps everything in memory (DBPath is ignored)
	InMemory bool `mapstructure:"in_memory"`

	// BlockCacheSizeMB sets badger's block cache (default: 64)
	BlockCacheSizeMB int64 `mapstructure:"block_cache_size_mb"`

	// IndexCacheSizeMB sets badger's index cache (default: 32)
	IndexCacheSizeMB int64 `mapstructure:"index_cache_size_mb"`

	// BadgerOptions overrides every other setting when non-nil
	BadgerOptions *badger.Options `mapstructure:"-"`
}

// NewBadgerRecordStore opens (or creates) a BadgerDB record store.
func NewBadgerRecordStore(ctx context.Context, config BadgerRecordStoreConfig) (*BadgerRecordStore, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var opts badger.Options
	if config.BadgerOptions != nil {
		opts = *config.BadgerOptions
	} else {
		if !config.InMemory && config.DBPath == "" {
			return nil, fmt.Errorf("badger db_path is required")
		}

		if config.InMemory {
			opts = badger.DefaultOptions("").WithInMemory(true)
		} else {
			opts = badger.DefaultOptions(config.DBPath)
		}

		opts = opts.WithLoggingLevel(badger.WARNING)
		opts = opts.WithCompression(options.None) // records are small JSON documents

		blockCacheMB := config.BlockCacheSizeMB
		if blockCacheMB == 0 {
			blockCacheMB = 64
		}
		indexCacheMB := config.IndexCacheSizeMB
		if indexCacheMB == 0 {
			indexCacheMB = 32
		}

		opts = opts.WithBlockCacheSize(blockCacheMB << 20)
		opts = opts.WithIndexCacheSize(indexCacheMB << 20)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB at %s: %w", config.DBPath, err)
	}

	logger.Debug("Badger record store opened (path=%q in_memory=%v)", config.DBPath, config.InMemory)

	return &BadgerRecordStore{db: db}, nil
}

func (s *BadgerRecordStore) Create(ctx context.Context, rec *record.FileRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := record.Validate(rec); err != nil {
		return err
	}

	data, err := encodeRecord(rec)
	if err != nil {
		return err
	}

	return s.update(func(txn *badger.Txn) error {
		if _, err := txn.Get(keyFile(rec.ID)); err == nil {
			return &record.StoreError{Code: record.ErrAlreadyExists, Message: "file already exists", ID: rec.ID}
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}

		return putRecord(txn, rec, data)
	})
}

func (s *BadgerRecordStore) Get(ctx context.Context, id string) (*record.FileRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var rec *record.FileRecord
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		rec, err = getRecord(txn, id)
		return err
	})
	if err != nil {
		return nil, err
	}

	return rec, nil
}

func (s *BadgerRecordStore) Update(ctx context.Context, rec *record.FileRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := record.Validate(rec); err != nil {
		return err
	}

	data, err := encodeRecord(rec)
	if err != nil {
		return err
	}

	return s.update(func(txn *badger.Txn) error {
		existing, err := getRecord(txn, rec.ID)
		if err != nil {
			return err
		}

		if err := deleteIndexes(txn, existing); err != nil {
			return err
		}

		return putRecord(txn, rec, data)
	})
}

func (s *BadgerRecordStore) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return s.update(func(txn *badger.Txn) error {
		existing, err := getRecord(txn, id)
		if err != nil {
			return err
		}

		if err := deleteIndexes(txn, existing); err != nil {
			return err
		}

		return txn.Delete(keyFile(id))
	})
}

func (s *BadgerRecordStore) ListByOwner(ctx context.Context, ownerID string) ([]*record.FileRecord, error) {
	return s.listByIndex(ctx, keyOwnerPrefix(ownerID))
}

func (s *BadgerRecordStore) ListSharedWith(ctx context.Context, userID string) ([]*record.FileRecord, error) {
	return s.listByIndex(ctx, keyGrantPrefix(userID))
}

func (s *BadgerRecordStore) Healthcheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.db.IsClosed() {
		return &record.StoreError{Code: record.ErrIOError, Message: "badger database is closed"}
	}
	return s.db.View(func(txn *badger.Txn) error { return nil })
}

func (s *BadgerRecordStore) Close() error {
	if s.db.IsClosed() {
		return nil
	}
	return s.db.Close()
}

// listByIndex scans an index prefix and loads the referenced records.
func (s *BadgerRecordStore) listByIndex(ctx context.Context, prefix []byte) ([]*record.FileRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := make([]*record.FileRecord, 0)
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			id := idFromIndexKey(it.Item().Key(), prefix)

			rec, err := getRecord(txn, id)
			if record.IsNotFoundError(err) {
				logger.Warn("Dangling index entry %s for missing record %s", it.Item().Key(), id)
				continue
			}
			if err != nil {
				return err
			}
			out = append(out, rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	record.SortNewestFirst(out)
	return out, nil
}

// update runs fn in a read-write transaction, retrying on conflicts with
// concurrent writers.
func (s *BadgerRecordStore) update(fn func(txn *badger.Txn) error) error {
	var err error
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		err = s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
	}
	return &record.StoreError{Code: record.ErrIOError, Message: fmt.Sprintf("transaction conflict: %v", err)}
}

func getRecord(txn *badger.Txn, id string) (*record.FileRecord, error) {
	item, err := txn.Get(keyFile(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, record.NewNotFoundError(id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read record %s: %w", id, err)
	}

	var rec *record.FileRecord
	err = item.Value(func(val []byte) error {
		var decodeErr error
		rec, decodeErr = decodeRecord(val)
		return decodeErr
	})
	return rec, err
}

func putRecord(txn *badger.Txn, rec *record.FileRecord, data []byte) error {
	if err := txn.Set(keyFile(rec.ID), data); err != nil {
		return err
	}
	if err := txn.Set(keyOwner(rec.OwnerID, rec.ID), nil); err != nil {
		return err
	}
	for _, g := range rec.SharedWith {
		if err := txn.Set(keyGrant(g.UserID, rec.ID), nil); err != nil {
			return err
		}
	}
	return nil
}

func deleteIndexes(txn *badger.Txn, rec *record.FileRecord) error {
	if err := txn.Delete(keyOwner(rec.OwnerID, rec.ID)); err != nil {
		return err
	}
	for _, g := range rec.SharedWith {
		if err := txn.Delete(keyGrant(g.UserID, rec.ID)); err != nil {
			return err
		}
	}
	return nil
}
