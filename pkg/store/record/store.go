// Package record defines file metadata and the durable store that keeps it.
//
// Implementations live in subpackages (memory, badger, sqlite) and are
// exercised by the shared suite in record/testing.
package record

import (
	"context"
	"fmt"
)

// Store is the durable record store.
//
// Every method honors ctx cancellation before touching storage. Returned
// records are copies: mutating them never affects stored state until Update
// is called.
type Store interface {
	// Create persists a new record.
	// Returns ErrAlreadyExists if a record with the same ID exists.
	Create(ctx context.Context, rec *FileRecord) error

	// Get returns the record with id, or ErrNotFound.
	Get(ctx context.Context, id string) (*FileRecord, error)

	// Update replaces a stored record (last write wins).
	// Returns ErrNotFound if the record does not exist.
	Update(ctx context.Context, rec *FileRecord) error

	// Delete removes the record with id, or returns ErrNotFound.
	Delete(ctx context.Context, id string) error

	// ListByOwner returns the records owned by ownerID, newest first.
	ListByOwner(ctx context.Context, ownerID string) ([]*FileRecord, error)

	// ListSharedWith returns the records carrying a grant for userID,
	// newest first.
	ListSharedWith(ctx context.Context, userID string) ([]*FileRecord, error)

	// Healthcheck verifies the store is usable.
	Healthcheck(ctx context.Context) error

	// Close releases the store's resources.
	Close() error
}

// Validate checks the fields every stored record must carry.
func Validate(rec *FileRecord) error {
	switch {
	case rec == nil:
		return &StoreError{Code: ErrInvalidArgument, Message: "record is nil"}
	case rec.ID == "":
		return &StoreError{Code: ErrInvalidArgument, Message: "record id is required"}
	case rec.OwnerID == "":
		return &StoreError{Code: ErrInvalidArgument, Message: "owner id is required", ID: rec.ID}
	case rec.Name == "":
		return &StoreError{Code: ErrInvalidArgument, Message: "file name is required", ID: rec.ID}
	}

	seen := make(map[string]struct{}, len(rec.SharedWith))
	for _, g := range rec.SharedWith {
		if !g.Permission.Valid() {
			return &StoreError{
				Code:    ErrInvalidArgument,
				Message: fmt.Sprintf("invalid permission %q for %s", g.Permission, g.UserID),
				ID:      rec.ID,
			}
		}
		if _, dup := seen[g.UserID]; dup {
			return &StoreError{
				Code:    ErrInvalidArgument,
				Message: fmt.Sprintf("duplicate grant for %s", g.UserID),
				ID:      rec.ID,
			}
		}
		seen[g.UserID] = struct{}{}
	}

	return nil
}
