// Package storage defines the object store used for location photos.
//
// Backends register themselves with Register from an init function in their
// own package; the api binary blank-imports every backend it ships.
package storage

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrNotFound is returned when no object exists at a path.
var ErrNotFound = errors.New("object not found")

// Storage is implemented by every object store backend.
type Storage interface {
	// Upload stores the content of reader at path.
	Upload(ctx context.Context, path string, reader io.Reader, size int64) (*UploadResult, error)

	// Download opens the object at path.
	Download(ctx context.Context, path string) (io.ReadCloser, error)

	// Delete removes the object. Deleting a missing object is not an error.
	Delete(ctx context.Context, path string) error

	// GetURL returns a URL the browser can load the object from. Cloud
	// backends sign it for ttl.
	GetURL(ctx context.Context, path string, ttl time.Duration) (string, error)

	// Exists reports whether an object is stored at path.
	Exists(ctx context.Context, path string) (bool, error)
}

// UploadResult describes a stored object.
type UploadResult struct {
	Path     string
	Size     int64
	Checksum string
}
