// Package memory provides an in-process record.Store.
//
// Records are kept as deep copies in a map guarded by a single RWMutex. An
// owner index keeps ListByOwner proportional to the owner's file count.
// Suitable for tests and single-node development setups; nothing survives a
// restart.
package memory

import (
	"context"
	"sync"

	"github.com/marmos91/dittoshare/pkg/store/record"
)

// MemoryRecordStoreConfig configures the in-memory store.
type MemoryRecordStoreConfig struct {
	// MaxRecords caps the number of stored records (0 = unlimited)
	MaxRecords int `mapstructure:"max_records"`
}

// MemoryRecordStore implements record.Store in memory.
type MemoryRecordStore struct {
	mu      sync.RWMutex
	records map[string]*record.FileRecord
	byOwner map[string]map[string]struct{}
	max     int
}

// NewMemoryRecordStore creates an empty store.
func NewMemoryRecordStore(cfg MemoryRecordStoreConfig) *MemoryRecordStore {
	return &MemoryRecordStore{
		records: make(map[string]*record.FileRecord),
		byOwner: make(map[string]map[string]struct{}),
		max:     cfg.MaxRecords,
	}
}

func (s *MemoryRecordStore) Create(ctx context.Context, rec *record.FileRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := record.Validate(rec); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[rec.ID]; exists {
		return &record.StoreError{Code: record.ErrAlreadyExists, Message: "file already exists", ID: rec.ID}
	}
	if s.max > 0 && len(s.records) >= s.max {
		return &record.StoreError{Code: record.ErrIOError, Message: "record limit reached", ID: rec.ID}
	}

	s.records[rec.ID] = rec.Clone()
	s.index(rec.OwnerID, rec.ID)

	return nil
}

func (s *MemoryRecordStore) Get(ctx context.Context, id string) (*record.FileRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[id]
	if !ok {
		return nil, record.NewNotFoundError(id)
	}
	return rec.Clone(), nil
}

func (s *MemoryRecordStore) Update(ctx context.Context, rec *record.FileRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := record.Validate(rec); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.records[rec.ID]
	if !ok {
		return record.NewNotFoundError(rec.ID)
	}

	if existing.OwnerID != rec.OwnerID {
		s.unindex(existing.OwnerID, rec.ID)
		s.index(rec.OwnerID, rec.ID)
	}
	s.records[rec.ID] = rec.Clone()

	return nil
}

func (s *MemoryRecordStore) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return record.NewNotFoundError(id)
	}

	delete(s.records, id)
	s.unindex(rec.OwnerID, id)

	return nil
}

func (s *MemoryRecordStore) ListByOwner(ctx context.Context, ownerID string) ([]*record.FileRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	ids := s.byOwner[ownerID]
	out := make([]*record.FileRecord, 0, len(ids))
	for id := range ids {
		out = append(out, s.records[id].Clone())
	}
	s.mu.RUnlock()

	record.SortNewestFirst(out)
	return out, nil
}

func (s *MemoryRecordStore) ListSharedWith(ctx context.Context, userID string) ([]*record.FileRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	out := make([]*record.FileRecord, 0)
	for _, rec := range s.records {
		if _, ok := rec.GrantFor(userID); ok {
			out = append(out, rec.Clone())
		}
	}
	s.mu.RUnlock()

	record.SortNewestFirst(out)
	return out, nil
}

func (s *MemoryRecordStore) Healthcheck(ctx context.Context) error {
	return ctx.Err()
}

func (s *MemoryRecordStore) Close() error {
	return nil
}

// index and unindex must be called with mu held.
func (s *MemoryRecordStore) index(ownerID, id string) {
	set, ok := s.byOwner[ownerID]
	if !ok {
		set = make(map[string]struct{})
		s.byOwner[ownerID] = set
	}
	set[id] = struct{}{}
}

func (s *MemoryRecordStore) unindex(ownerID, id string) {
	set := s.byOwner[ownerID]
	delete(set, id)
	if len(set) == 0 {
		delete(s.byOwner, ownerID)
	}
}
