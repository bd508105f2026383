package storage

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"
)

// CustomBucketConfig holds an end-user-supplied S3-compatible bucket.
// Several platform users may point at the same external bucket, so every
// write is namespaced under users/<id>/documents/.
type CustomBucketConfig struct {
	Endpoint  string
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
}

// CustomBucketBackend stores documents in a bucket owned and configured
// by the end user rather than the platform.
type CustomBucketBackend struct {
	inner  *S3Backend
	userID string
}

// NewCustomBucketBackend creates a backend for a user-supplied bucket.
func NewCustomBucketBackend(ctx context.Context, cfg CustomBucketConfig, userID string) (*CustomBucketBackend, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, newConfigError(ProviderCustom, "missing user id")
	}
	if cfg.Endpoint == "" {
		return nil, newConfigError(ProviderCustom, "missing endpoint")
	}

	inner, err := NewS3Backend(ctx, S3Config{
		Endpoint:  cfg.Endpoint,
		Region:    cfg.Region,
		Bucket:    cfg.Bucket,
		AccessKey: cfg.AccessKey,
		SecretKey: cfg.SecretKey,
	})
	if err != nil {
		var cfgErr *ConfigError
		if errors.As(err, &cfgErr) {
			return nil, newConfigError(ProviderCustom, "%s", cfgErr.Reason)
		}
		return nil, err
	}

	return &CustomBucketBackend{inner: inner, userID: userID}, nil
}

func (b *CustomBucketBackend) documentKey(key string) string {
	cleaned := strings.TrimLeft(path.Clean("/"+key), "/")
	return fmt.Sprintf("users/%s/documents/%s", b.userID, cleaned)
}

func (b *CustomBucketBackend) UploadBuffer(ctx context.Context, data []byte, key, contentType string) (string, error) {
	return b.inner.UploadBuffer(ctx, data, b.documentKey(key), contentType)
}

func (b *CustomBucketBackend) DownloadBuffer(ctx context.Context, key string) ([]byte, error) {
	return b.inner.DownloadBuffer(ctx, b.documentKey(key))
}

func (b *CustomBucketBackend) SignedDownloadURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	return b.inner.SignedDownloadURL(ctx, b.documentKey(key), ttl)
}

func (b *CustomBucketBackend) Exists(ctx context.Context, key string) (bool, error) {
	return b.inner.Exists(ctx, b.documentKey(key))
}

func (b *CustomBucketBackend) Delete(ctx context.Context, key string) error {
	return b.inner.Delete(ctx, b.documentKey(key))
}

// compile-time check
var _ Backend = (*CustomBucketBackend)(nil)
