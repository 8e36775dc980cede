// Package blob defines the object storage used for file payloads.
//
// A blob store only hosts bytes. It knows nothing about owners, grants or
// file names: the files service keeps that in the record store and refers to
// the payload by its object id.
package blob

import (
	"context"
	"errors"
	"io"
	"net/url"
	"strings"
)

var (
	// ErrNotFound is returned when the object id does not exist.
	ErrNotFound = errors.New("blob not found")

	// ErrInvalidObjectID is returned for empty ids or ids escaping the store root.
	ErrInvalidObjectID = errors.New("invalid object id")
)

// Location describes where a stored payload can be fetched from.
type Location struct {
	// ObjectID is the provider-specific id used for later deletes
	ObjectID string

	// URL is the download link
	URL string

	// ViewURL opens the payload inline in a browser
	ViewURL string
}

// Info describes a stored object.
type Info struct {
	Size        int64
	ContentType string
}

// Store hosts binary payloads.
//
// Implementations must be safe for concurrent use. Put overwrites an existing
// object with the same id.
type Store interface {
	// Put stores size bytes read from body under objectID.
	Put(ctx context.Context, objectID string, body io.Reader, size int64, contentType string) (Location, error)

	// Open returns a reader for the object. The caller closes it.
	Open(ctx context.Context, objectID string) (io.ReadCloser, Info, error)

	// Delete removes the object, returning ErrNotFound if it does not exist.
	Delete(ctx context.Context, objectID string) error

	// Healthcheck reports whether the backing provider is reachable.
	Healthcheck(ctx context.Context) error

	// Close releases resources held by the store.
	Close() error
}

// ValidateObjectID rejects ids that are empty, absolute or contain "..".
func ValidateObjectID(objectID string) error {
	if objectID == "" || strings.HasPrefix(objectID, "/") {
		return ErrInvalidObjectID
	}
	for _, part := range strings.Split(objectID, "/") {
		if part == "" || part == "." || part == ".." {
			return ErrInvalidObjectID
		}
	}
	return nil
}

// PublicLocation builds the Location of objectID served under baseURL.
//
// The view link differs from the download link only by an inline
// disposition hint, which the blob route honors.
func PublicLocation(baseURL, objectID string) Location {
	parts := strings.Split(objectID, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	link := strings.TrimSuffix(baseURL, "/") + "/" + strings.Join(parts, "/")

	return Location{
		ObjectID: objectID,
		URL:      link,
		ViewURL:  link + "?disposition=inline",
	}
}
