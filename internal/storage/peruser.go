package storage

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"
)

// PerUserBackend namespaces every key under users/<userID>/ before
// delegating to an S3 backend. The prefix is applied inside key
// construction so a caller-supplied key can never escape its own
// namespace or collide with another user's objects.
type PerUserBackend struct {
	inner  *S3Backend
	userID string
}

// NewPerUserBackend creates an S3 backend whose keys are all scoped to
// one platform user.
func NewPerUserBackend(ctx context.Context, cfg S3Config, userID string) (*PerUserBackend, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, newConfigError(ProviderPerUser, "missing user id")
	}

	inner, err := NewS3Backend(ctx, cfg)
	if err != nil {
		return nil, err
	}

	return &PerUserBackend{inner: inner, userID: userID}, nil
}

// namespacedKey cleans the caller key and forces it under the user
// namespace, regardless of what the caller passed in.
func (b *PerUserBackend) namespacedKey(key string) string {
	cleaned := path.Clean("/" + key)
	cleaned = strings.TrimLeft(cleaned, "/")
	return fmt.Sprintf("users/%s/%s", b.userID, cleaned)
}

func (b *PerUserBackend) UploadBuffer(ctx context.Context, data []byte, key, contentType string) (string, error) {
	return b.inner.UploadBuffer(ctx, data, b.namespacedKey(key), contentType)
}

func (b *PerUserBackend) DownloadBuffer(ctx context.Context, key string) ([]byte, error) {
	return b.inner.DownloadBuffer(ctx, b.namespacedKey(key))
}

func (b *PerUserBackend) SignedDownloadURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	return b.inner.SignedDownloadURL(ctx, b.namespacedKey(key), ttl)
}

func (b *PerUserBackend) Exists(ctx context.Context, key string) (bool, error) {
	return b.inner.Exists(ctx, b.namespacedKey(key))
}

func (b *PerUserBackend) Delete(ctx context.Context, key string) error {
	return b.inner.Delete(ctx, b.namespacedKey(key))
}

// compile-time check
var _ Backend = (*PerUserBackend)(nil)
