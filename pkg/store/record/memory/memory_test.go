package memory

import (
	"context"
	"testing"

	"github.com/marmos91/dittoshare/pkg/store/record"
	storetesting "github.com/marmos91/dittoshare/pkg/store/record/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryRecordStore(t *testing.T) {
	suite := &storetesting.StoreTestSuite{
		NewStore: func() record.Store {
			return NewMemoryRecordStore(MemoryRecordStoreConfig{})
		},
	}
	suite.Run(t)
}

func TestMemoryRecordStore_MaxRecords(t *testing.T) {
	store := NewMemoryRecordStore(MemoryRecordStoreConfig{MaxRecords: 1})
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, storetesting.NewRecord("f1", "u1", 0)))

	err := store.Create(ctx, storetesting.NewRecord("f2", "u1", 0))
	code, ok := record.CodeOf(err)
	require.True(t, ok)
	assert.Equal(t, record.ErrIOError, code)
}
