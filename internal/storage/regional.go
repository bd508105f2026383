package storage

import (
	"context"
	"errors"
)

// RegionalConfig holds the bucket/region pair for the default region and
// an optional second pair for data-residency constrained documents.
type RegionalConfig struct {
	Default   S3Config
	Secondary *S3Config
}

// NewRegionalBackend selects the bucket/region pair matching the
// caller-supplied residency flag and returns an S3 backend bound to it.
// Requesting the secondary region without a configured secondary bucket
// fails here, at construction, never mid-upload.
func NewRegionalBackend(ctx context.Context, cfg RegionalConfig, useSecondary bool) (*S3Backend, error) {
	selected := cfg.Default
	if useSecondary {
		if cfg.Secondary == nil || cfg.Secondary.Bucket == "" {
			return nil, newConfigError(ProviderRegional, "secondary region bucket is not configured")
		}
		selected = *cfg.Secondary
	}

	backend, err := NewS3Backend(ctx, selected)
	if err != nil {
		var cfgErr *ConfigError
		if errors.As(err, &cfgErr) {
			return nil, newConfigError(ProviderRegional, "%s", cfgErr.Reason)
		}
		return nil, err
	}
	return backend, nil
}
