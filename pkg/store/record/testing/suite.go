package testing

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/marmos91/dittoshare/pkg/store/record"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// StoreTestSuite is a conformance suite for record.Store implementations.
// It tests the interface contract, not implementation details, so the same
// suite runs against the memory, badger and sqlite stores.
type StoreTestSuite struct {
	// NewStore creates a fresh, empty store for each test.
	NewStore func() record.Store
}

// Run executes all tests in the suite.
func (suite *StoreTestSuite) Run(test *testing.T) {
	test.Run("Create_Success", suite.TestCreate_Success)
	test.Run("Create_Duplicate", suite.TestCreate_Duplicate)
	test.Run("Create_Invalid", suite.TestCreate_Invalid)
	test.Run("Get_NotFound", suite.TestGet_NotFound)
	test.Run("Get_ReturnsCopy", suite.TestGet_ReturnsCopy)
	test.Run("Update_Success", suite.TestUpdate_Success)
	test.Run("Update_NotFound", suite.TestUpdate_NotFound)
	test.Run("Update_ChangesOwner", suite.TestUpdate_ChangesOwner)
	test.Run("Delete_Success", suite.TestDelete_Success)
	test.Run("Delete_NotFound", suite.TestDelete_NotFound)
	test.Run("ListByOwner_NewestFirst", suite.TestListByOwner_NewestFirst)
	test.Run("ListByOwner_Empty", suite.TestListByOwner_Empty)
	test.Run("ListSharedWith", suite.TestListSharedWith)
	test.Run("Grants_RoundTrip", suite.TestGrants_RoundTrip)
	test.Run("ContextCancelled", suite.TestContextCancelled)
	test.Run("ConcurrentUpdates", suite.TestConcurrentUpdates)
	test.Run("Healthcheck", suite.TestHealthcheck)
}

// NewRecord builds a valid record for owner created at the given offset
// from a fixed base time.
func NewRecord(id, owner string, offset time.Duration) *record.FileRecord {
	created := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC).Add(offset)
	return &record.FileRecord{
		ID:        id,
		OwnerID:   owner,
		Name:      id + ".txt",
		URL:       "https://objects.example.com/" + id,
		ObjectID:  "obj-" + id,
		MimeType:  "text/plain",
		Size:      42,
		CreatedAt: created,
		UpdatedAt: created,
	}
}

func (suite *StoreTestSuite) newStore(test *testing.T) record.Store {
	test.Helper()
	store := suite.NewStore()
	test.Cleanup(func() { _ = store.Close() })
	return store
}

func ids(records []*record.FileRecord) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.ID
	}
	return out
}

func (suite *StoreTestSuite) TestCreate_Success(test *testing.T) {
	store := suite.newStore(test)
	ctx := context.Background()

	rec := NewRecord("f1", "u1", 0)
	require.NoError(test, store.Create(ctx, rec))

	got, err := store.Get(ctx, "f1")
	require.NoError(test, err)
	assert.Equal(test, rec.ID, got.ID)
	assert.Equal(test, rec.OwnerID, got.OwnerID)
	assert.Equal(test, rec.Name, got.Name)
	assert.Equal(test, rec.ObjectID, got.ObjectID)
	assert.Equal(test, rec.Size, got.Size)
	assert.True(test, rec.CreatedAt.Equal(got.CreatedAt), "created_at must round-trip")
}

func (suite *StoreTestSuite) TestCreate_Duplicate(test *testing.T) {
	store := suite.newStore(test)
	ctx := context.Background()

	require.NoError(test, store.Create(ctx, NewRecord("f1", "u1", 0)))

	err := store.Create(ctx, NewRecord("f1", "u2", 0))
	code, ok := record.CodeOf(err)
	require.True(test, ok, "expected StoreError, got %v", err)
	assert.Equal(test, record.ErrAlreadyExists, code)
}

func (suite *StoreTestSuite) TestCreate_Invalid(test *testing.T) {
	store := suite.newStore(test)

	rec := NewRecord("f1", "", 0)
	err := store.Create(context.Background(), rec)

	code, ok := record.CodeOf(err)
	require.True(test, ok)
	assert.Equal(test, record.ErrInvalidArgument, code)
}

func (suite *StoreTestSuite) TestGet_NotFound(test *testing.T) {
	store := suite.newStore(test)

	_, err := store.Get(context.Background(), "missing")
	assert.True(test, record.IsNotFoundError(err), "expected not found, got %v", err)
}

func (suite *StoreTestSuite) TestGet_ReturnsCopy(test *testing.T) {
	store := suite.newStore(test)
	ctx := context.Background()

	require.NoError(test, store.Create(ctx, NewRecord("f1", "u1", 0)))

	got, err := store.Get(ctx, "f1")
	require.NoError(test, err)
	got.Name = "mutated"
	got.Grant("u2", record.PermissionRead, time.Now())

	again, err := store.Get(ctx, "f1")
	require.NoError(test, err)
	assert.Equal(test, "f1.txt", again.Name)
	assert.Empty(test, again.SharedWith)
}

func (suite *StoreTestSuite) TestUpdate_Success(test *testing.T) {
	store := suite.newStore(test)
	ctx := context.Background()

	rec := NewRecord("f1", "u1", 0)
	require.NoError(test, store.Create(ctx, rec))

	rec.Name = "renamed.txt"
	rec.UpdatedAt = rec.UpdatedAt.Add(time.Minute)
	require.NoError(test, store.Update(ctx, rec))

	got, err := store.Get(ctx, "f1")
	require.NoError(test, err)
	assert.Equal(test, "renamed.txt", got.Name)
	assert.True(test, rec.UpdatedAt.Equal(got.UpdatedAt))
}

func (suite *StoreTestSuite) TestUpdate_NotFound(test *testing.T) {
	store := suite.newStore(test)

	err := store.Update(context.Background(), NewRecord("ghost", "u1", 0))
	assert.True(test, record.IsNotFoundError(err), "expected not found, got %v", err)
}

func (suite *StoreTestSuite) TestUpdate_ChangesOwner(test *testing.T) {
	store := suite.newStore(test)
	ctx := context.Background()

	rec := NewRecord("f1", "u1", 0)
	require.NoError(test, store.Create(ctx, rec))

	rec.OwnerID = "u2"
	require.NoError(test, store.Update(ctx, rec))

	old, err := store.ListByOwner(ctx, "u1")
	require.NoError(test, err)
	assert.Empty(test, old)

	moved, err := store.ListByOwner(ctx, "u2")
	require.NoError(test, err)
	assert.Equal(test, []string{"f1"}, ids(moved))
}

func (suite *StoreTestSuite) TestDelete_Success(test *testing.T) {
	store := suite.newStore(test)
	ctx := context.Background()

	require.NoError(test, store.Create(ctx, NewRecord("f1", "u1", 0)))
	require.NoError(test, store.Delete(ctx, "f1"))

	_, err := store.Get(ctx, "f1")
	assert.True(test, record.IsNotFoundError(err))

	owned, err := store.ListByOwner(ctx, "u1")
	require.NoError(test, err)
	assert.Empty(test, owned)
}

func (suite *StoreTestSuite) TestDelete_NotFound(test *testing.T) {
	store := suite.newStore(test)

	err := store.Delete(context.Background(), "missing")
	assert.True(test, record.IsNotFoundError(err))
}

func (suite *StoreTestSuite) TestListByOwner_NewestFirst(test *testing.T) {
	store := suite.newStore(test)
	ctx := context.Background()

	require.NoError(test, store.Create(ctx, NewRecord("oldest", "u1", 0)))
	require.NoError(test, store.Create(ctx, NewRecord("newest", "u1", 2*time.Hour)))
	require.NoError(test, store.Create(ctx, NewRecord("middle", "u1", time.Hour)))
	require.NoError(test, store.Create(ctx, NewRecord("other", "u2", 3*time.Hour)))

	owned, err := store.ListByOwner(ctx, "u1")
	require.NoError(test, err)
	assert.Equal(test, []string{"newest", "middle", "oldest"}, ids(owned))
}

func (suite *StoreTestSuite) TestListByOwner_Empty(test *testing.T) {
	store := suite.newStore(test)

	owned, err := store.ListByOwner(context.Background(), "nobody")
	require.NoError(test, err)
	assert.NotNil(test, owned)
	assert.Empty(test, owned)
}

func (suite *StoreTestSuite) TestListSharedWith(test *testing.T) {
	store := suite.newStore(test)
	ctx := context.Background()
	now := time.Now()

	a := NewRecord("a", "u1", 0)
	a.Grant("u2", record.PermissionRead, now)
	b := NewRecord("b", "u3", time.Hour)
	b.Grant("u2", record.PermissionEdit, now)
	b.Grant("u4", record.PermissionRead, now)
	c := NewRecord("c", "u1", 2*time.Hour)
	c.Grant("u4", record.PermissionRead, now)

	for _, rec := range []*record.FileRecord{a, b, c} {
		require.NoError(test, store.Create(ctx, rec))
	}

	shared, err := store.ListSharedWith(ctx, "u2")
	require.NoError(test, err)
	assert.Equal(test, []string{"b", "a"}, ids(shared))

	none, err := store.ListSharedWith(ctx, "u1")
	require.NoError(test, err)
	assert.Empty(test, none)
}

func (suite *StoreTestSuite) TestGrants_RoundTrip(test *testing.T) {
	store := suite.newStore(test)
	ctx := context.Background()

	rec := NewRecord("f1", "u1", 0)
	require.NoError(test, store.Create(ctx, rec))

	rec.Grant("u2", record.PermissionRead, time.Now())
	rec.Grant("u3", record.PermissionRead, time.Now())
	require.NoError(test, store.Update(ctx, rec))

	rec.Grant("u2", record.PermissionEdit, time.Now())
	rec.Revoke("u3")
	require.NoError(test, store.Update(ctx, rec))

	got, err := store.Get(ctx, "f1")
	require.NoError(test, err)
	require.Len(test, got.SharedWith, 1)
	assert.Equal(test, "u2", got.SharedWith[0].UserID)
	assert.Equal(test, record.PermissionEdit, got.SharedWith[0].Permission)

	gone, err := store.ListSharedWith(ctx, "u3")
	require.NoError(test, err)
	assert.Empty(test, gone)
}

func (suite *StoreTestSuite) TestContextCancelled(test *testing.T) {
	store := suite.newStore(test)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(test, store.Create(ctx, NewRecord("f1", "u1", 0)), context.Canceled)
	_, err := store.Get(ctx, "f1")
	assert.ErrorIs(test, err, context.Canceled)
	_, err = store.ListByOwner(ctx, "u1")
	assert.ErrorIs(test, err, context.Canceled)
}

func (suite *StoreTestSuite) TestConcurrentUpdates(test *testing.T) {
	store := suite.newStore(test)
	ctx := context.Background()

	require.NoError(test, store.Create(ctx, NewRecord("f1", "u1", 0)))

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rec := NewRecord("f1", "u1", 0)
			rec.Name = fmt.Sprintf("name-%d.txt", i)
			assert.NoError(test, store.Update(ctx, rec))
		}(i)
	}
	wg.Wait()

	got, err := store.Get(ctx, "f1")
	require.NoError(test, err)
	assert.Regexp(test, `^name-\d\.txt$`, got.Name)
}

func (suite *StoreTestSuite) TestHealthcheck(test *testing.T) {
	store := suite.newStore(test)
	assert.NoError(test, store.Healthcheck(context.Background()))
}
