// Package storage provides the provider-agnostic object storage contract
// used by the dispatch pipeline, concrete backends for S3-compatible
// buckets (direct-credential, per-user namespaced, regional, user-supplied
// bucket), a sidecar-authenticated cloud backend, and OAuth third-party
// drive backends with autonomous credential refresh.
package storage

import (
	"context"
	"time"
)

// Backend is the capability set every storage provider implements.
// Upload has idempotent overwrite semantics at a given key.
type Backend interface {
	// UploadBuffer writes data at key and returns the stored key, which
	// may differ from the requested key when the backend namespaces it.
	UploadBuffer(ctx context.Context, data []byte, key, contentType string) (string, error)

	// DownloadBuffer returns the object bytes at key. Absent objects
	// fail with ErrObjectNotFound.
	DownloadBuffer(ctx context.Context, key string) ([]byte, error)

	// SignedDownloadURL returns a time-boxed URL granting read access
	// to the object at key.
	SignedDownloadURL(ctx context.Context, key string, ttl time.Duration) (string, error)

	// Exists reports whether an object exists at key.
	Exists(ctx context.Context, key string) (bool, error)

	// Delete removes the object at key. Deleting an absent object is
	// not an error.
	Delete(ctx context.Context, key string) error
}

const defaultContentType = "application/octet-stream"

func contentTypeOrDefault(contentType string) string {
	if contentType == "" {
		return defaultContentType
	}
	return contentType
}
