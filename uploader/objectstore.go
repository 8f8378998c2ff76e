package uploader

import (
	"context"
	"io"
)

// ObjectStore is the storage contract artifacts are written to.
type ObjectStore interface {
	// Upload writes a small object in one shot.
	Upload(ctx context.Context, key string, data []byte, contentType string) error

	// UploadStream writes a large object from a reader, resumable where
	// the backend supports it.
	UploadStream(ctx context.Context, key string, r io.Reader, contentType string) error

	// Download reads a whole object. Returns ErrObjectNotFound when the
	// key does not exist.
	Download(ctx context.Context, key string) ([]byte, error)

	// DownloadTo streams an object into a local file.
	DownloadTo(ctx context.Context, key, path string) error

	// Exists reports whether the key holds an object.
	Exists(ctx context.Context, key string) (bool, error)

	// Delete removes an object. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// List returns keys under a prefix.
	List(ctx context.Context, prefix string) ([]string, error)
}
