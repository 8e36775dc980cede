// Package fs stores blob payloads as plain files under a base directory.
package fs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/marmos91/dittoshare/internal/logger"
	"github.com/marmos91/dittoshare/pkg/store/blob"
)

// FSBlobStoreConfig configures the filesystem store.
type FSBlobStoreConfig struct {
	// BasePath is the root directory for payload files
	BasePath string `mapstructure:"base_path"`

	// BaseURL prefixes the download links handed out by Put
	BaseURL string `mapstructure:"base_url"`
}

// FSBlobStore implements blob.Store on the local filesystem.
//
// Object ids map directly to relative paths. Writes go to a temporary file
// in the target directory that is renamed into place, so readers never see a
// partially written payload.
type FSBlobStore struct {
	basePath string
	baseURL  string
}

// NewFSBlobStore creates the base directory if needed.
func NewFSBlobStore(ctx context.Context, config FSBlobStoreConfig) (*FSBlobStore, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if config.BasePath == "" {
		return nil, fmt.Errorf("fs blob store: base_path is required")
	}

	if err := os.MkdirAll(config.BasePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}

	return &FSBlobStore{basePath: config.BasePath, baseURL: config.BaseURL}, nil
}

func (s *FSBlobStore) path(objectID string) string {
	return filepath.Join(s.basePath, filepath.FromSlash(objectID))
}

func (s *FSBlobStore) Put(ctx context.Context, objectID string, body io.Reader, size int64, contentType string) (blob.Location, error) {
	if err := ctx.Err(); err != nil {
		return blob.Location{}, err
	}
	if err := blob.ValidateObjectID(objectID); err != nil {
		return blob.Location{}, err
	}

	target := s.path(objectID)
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return blob.Location{}, fmt.Errorf("put %s: %w", objectID, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(target), ".upload-*")
	if err != nil {
		return blob.Location{}, fmt.Errorf("put %s: %w", objectID, err)
	}
	tmpName := tmp.Name()
	defer func() {
		// No-op once the rename succeeded.
		_ = os.Remove(tmpName)
	}()

	written, err := io.Copy(tmp, body)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return blob.Location{}, fmt.Errorf("put %s: %w", objectID, err)
	}
	if size >= 0 && written != size {
		return blob.Location{}, fmt.Errorf("put %s: payload size mismatch: declared %d, read %d", objectID, size, written)
	}

	if err := os.Rename(tmpName, target); err != nil {
		return blob.Location{}, fmt.Errorf("put %s: %w", objectID, err)
	}

	logger.Debug("Stored blob %s (%d bytes, %s)", objectID, written, contentType)

	return blob.PublicLocation(s.baseURL, objectID), nil
}

func (s *FSBlobStore) Open(ctx context.Context, objectID string) (io.ReadCloser, blob.Info, error) {
	if err := ctx.Err(); err != nil {
		return nil, blob.Info{}, err
	}
	if err := blob.ValidateObjectID(objectID); err != nil {
		return nil, blob.Info{}, err
	}

	f, err := os.Open(s.path(objectID))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, blob.Info{}, fmt.Errorf("open %s: %w", objectID, blob.ErrNotFound)
	}
	if err != nil {
		return nil, blob.Info{}, fmt.Errorf("open %s: %w", objectID, err)
	}

	stat, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, blob.Info{}, fmt.Errorf("stat %s: %w", objectID, err)
	}

	// The filesystem keeps no content type; callers fall back to sniffing.
	return f, blob.Info{Size: stat.Size()}, nil
}

func (s *FSBlobStore) Delete(ctx context.Context, objectID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := blob.ValidateObjectID(objectID); err != nil {
		return err
	}

	err := os.Remove(s.path(objectID))
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete %s: %w", objectID, blob.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("delete %s: %w", objectID, err)
	}
	return nil
}

func (s *FSBlobStore) Healthcheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	stat, err := os.Stat(s.basePath)
	if err != nil {
		return err
	}
	if !stat.IsDir() {
		return fmt.Errorf("%s is not a directory", s.basePath)
	}
	return nil
}

func (s *FSBlobStore) Close() error {
	return nil
}
