package storage

import (
	"context"
	"io"
)

// ObjectStorage stores gallery image bytes and yields their public URLs.
type ObjectStorage interface {
	// EnsureBucket prepares the backing bucket or directory.
	EnsureBucket(ctx context.Context) error

	// Upload stores an object under key.
	Upload(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error

	// Download opens an object for reading.
	Download(ctx context.Context, key string) (io.ReadCloser, error)

	// GetURL returns the externally visible URL for key.
	GetURL(key string) string

	// Delete removes an object. Deleting a missing object is not an error.
	Delete(ctx context.Context, key string) error

	// Exists reports whether an object exists.
	Exists(ctx context.Context, key string) (bool, error)
}
