// Package testing provides a conformance suite shared by every blob.Store
// implementation.
package testing

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/marmos91/dittoshare/pkg/store/blob"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// StoreTestSuite runs the blob store conformance tests.
type StoreTestSuite struct {
	// NewStore returns a fresh, empty store for each test
	NewStore func() blob.Store

	// BaseURL, when set, is the prefix expected on returned download links
	BaseURL string
}

// Run executes all tests in the suite.
func (s *StoreTestSuite) Run(t *testing.T) {
	t.Run("PutAndOpen", s.testPutAndOpen)
	t.Run("PutOverwrites", s.testPutOverwrites)
	t.Run("PutSizeMismatch", s.testPutSizeMismatch)
	t.Run("InvalidObjectID", s.testInvalidObjectID)
	t.Run("OpenNotFound", s.testOpenNotFound)
	t.Run("Delete", s.testDelete)
	t.Run("DeleteNotFound", s.testDeleteNotFound)
	t.Run("Location", s.testLocation)
	t.Run("ContextCancelled", s.testContextCancelled)
	t.Run("ConcurrentPuts", s.testConcurrentPuts)
	t.Run("Healthcheck", s.testHealthcheck)
}

func (s *StoreTestSuite) store(t *testing.T) blob.Store {
	t.Helper()
	store := s.NewStore()
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func readAll(t *testing.T, store blob.Store, id string) (string, blob.Info) {
	t.Helper()
	rc, info, err := store.Open(context.Background(), id)
	require.NoError(t, err)
	defer func() { _ = rc.Close() }()

	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	return string(data), info
}

func (s *StoreTestSuite) testPutAndOpen(t *testing.T) {
	store := s.store(t)

	loc, err := store.Put(context.Background(), "drive-files/a", strings.NewReader("payload"), 7, "text/plain")
	require.NoError(t, err)
	assert.Equal(t, "drive-files/a", loc.ObjectID)

	data, info := readAll(t, store, "drive-files/a")
	assert.Equal(t, "payload", data)
	assert.Equal(t, int64(7), info.Size)
}

func (s *StoreTestSuite) testPutOverwrites(t *testing.T) {
	store := s.store(t)
	ctx := context.Background()

	_, err := store.Put(ctx, "a", strings.NewReader("first"), 5, "text/plain")
	require.NoError(t, err)
	_, err = store.Put(ctx, "a", strings.NewReader("second!"), 7, "text/plain")
	require.NoError(t, err)

	data, _ := readAll(t, store, "a")
	assert.Equal(t, "second!", data)
}

func (s *StoreTestSuite) testPutSizeMismatch(t *testing.T) {
	store := s.store(t)

	_, err := store.Put(context.Background(), "short", strings.NewReader("abc"), 10, "text/plain")
	assert.Error(t, err)
}

func (s *StoreTestSuite) testInvalidObjectID(t *testing.T) {
	store := s.store(t)

	for _, id := range []string{"", "/abs", "../escape", "a//b", "a/./b"} {
		t.Run(fmt.Sprintf("%q", id), func(t *testing.T) {
			_, err := store.Put(context.Background(), id, strings.NewReader("x"), 1, "text/plain")
			assert.ErrorIs(t, err, blob.ErrInvalidObjectID)
		})
	}
}

func (s *StoreTestSuite) testOpenNotFound(t *testing.T) {
	store := s.store(t)

	_, _, err := store.Open(context.Background(), "missing")
	assert.ErrorIs(t, err, blob.ErrNotFound)
}

func (s *StoreTestSuite) testDelete(t *testing.T) {
	store := s.store(t)
	ctx := context.Background()

	_, err := store.Put(ctx, "gone", strings.NewReader("x"), 1, "text/plain")
	require.NoError(t, err)
	require.NoError(t, store.Delete(ctx, "gone"))

	_, _, err = store.Open(ctx, "gone")
	assert.ErrorIs(t, err, blob.ErrNotFound)
}

func (s *StoreTestSuite) testDeleteNotFound(t *testing.T) {
	store := s.store(t)

	err := store.Delete(context.Background(), "missing")
	assert.True(t, errors.Is(err, blob.ErrNotFound), "got %v", err)
}

func (s *StoreTestSuite) testLocation(t *testing.T) {
	if s.BaseURL == "" {
		t.Skip("store does not serve links under a fixed base URL")
	}
	store := s.store(t)

	loc, err := store.Put(context.Background(), "drive-files/report 1.pdf", strings.NewReader("%PDF"), 4, "application/pdf")
	require.NoError(t, err)
	assert.Equal(t, s.BaseURL+"/drive-files/report%201.pdf", loc.URL)
	assert.Equal(t, loc.URL+"?disposition=inline", loc.ViewURL)
}

func (s *StoreTestSuite) testContextCancelled(t *testing.T) {
	store := s.store(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := store.Put(ctx, "a", strings.NewReader("x"), 1, "text/plain")
	assert.ErrorIs(t, err, context.Canceled)

	_, _, err = store.Open(ctx, "a")
	assert.ErrorIs(t, err, context.Canceled)

	assert.ErrorIs(t, store.Delete(ctx, "a"), context.Canceled)
}

func (s *StoreTestSuite) testConcurrentPuts(t *testing.T) {
	store := s.store(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			body := fmt.Sprintf("payload-%02d", i)
			_, err := store.Put(ctx, fmt.Sprintf("obj-%d", i), strings.NewReader(body), int64(len(body)), "text/plain")
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	for i := 0; i < 16; i++ {
		data, _ := readAll(t, store, fmt.Sprintf("obj-%d", i))
		assert.Equal(t, fmt.Sprintf("payload-%02d", i), data)
	}
}

func (s *StoreTestSuite) testHealthcheck(t *testing.T) {
	store := s.store(t)
	assert.NoError(t, store.Healthcheck(context.Background()))
}
