// Package memory provides an in-process blob.Store for tests and
// single-node development setups. Payloads are lost on restart.
package memory

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/marmos91/dittoshare/pkg/store/blob"
)

// MemoryBlobStoreConfig configures the in-memory store.
type MemoryBlobStoreConfig struct {
	// BaseURL prefixes the download links handed out by Put
	BaseURL string `mapstructure:"base_url"`
}

type object struct {
	data        []byte
	contentType string
}

// MemoryBlobStore keeps payloads in a map guarded by a RWMutex. Data is
// copied on the way in and out so callers never share buffers with the store.
type MemoryBlobStore struct {
	mu      sync.RWMutex
	objects map[string]object
	baseURL string
}

// NewMemoryBlobStore creates an empty store.
func NewMemoryBlobStore(config MemoryBlobStoreConfig) *MemoryBlobStore {
	return &MemoryBlobStore{
		objects: make(map[string]object),
		baseURL: config.BaseURL,
	}
}

func (s *MemoryBlobStore) Put(ctx context.Context, objectID string, body io.Reader, size int64, contentType string) (blob.Location, error) {
	if err := ctx.Err(); err != nil {
		return blob.Location{}, err
	}
	if err := blob.ValidateObjectID(objectID); err != nil {
		return blob.Location{}, err
	}

	data, err := readPayload(body, size)
	if err != nil {
		return blob.Location{}, fmt.Errorf("put %s: %w", objectID, err)
	}

	s.mu.Lock()
	s.objects[objectID] = object{data: data, contentType: contentType}
	s.mu.Unlock()

	return blob.PublicLocation(s.baseURL, objectID), nil
}

func (s *MemoryBlobStore) Open(ctx context.Context, objectID string) (io.ReadCloser, blob.Info, error) {
	if err := ctx.Err(); err != nil {
		return nil, blob.Info{}, err
	}

	s.mu.RLock()
	obj, ok := s.objects[objectID]
	s.mu.RUnlock()
	if !ok {
		return nil, blob.Info{}, fmt.Errorf("open %s: %w", objectID, blob.ErrNotFound)
	}

	data := bytes.Clone(obj.data)
	return io.NopCloser(bytes.NewReader(data)), blob.Info{Size: int64(len(data)), ContentType: obj.contentType}, nil
}

func (s *MemoryBlobStore) Delete(ctx context.Context, objectID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.objects[objectID]; !ok {
		return fmt.Errorf("delete %s: %w", objectID, blob.ErrNotFound)
	}
	delete(s.objects, objectID)
	return nil
}

// Len returns the number of stored objects.
func (s *MemoryBlobStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}

func (s *MemoryBlobStore) Healthcheck(ctx context.Context) error {
	return ctx.Err()
}

func (s *MemoryBlobStore) Close() error {
	return nil
}

// readPayload reads body fully, enforcing size when it is known (>= 0).
func readPayload(body io.Reader, size int64) ([]byte, error) {
	if size < 0 {
		return io.ReadAll(body)
	}

	data, err := io.ReadAll(io.LimitReader(body, size+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) != size {
		return nil, fmt.Errorf("payload size mismatch: declared %d, read %d", size, len(data))
	}
	return data, nil
}
