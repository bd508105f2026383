package storage

import (
	"context"
	"fmt"
	"strings"
)

// Provider identifies a storage backend family.
type Provider string

const (
	ProviderS3       Provider = "s3"
	ProviderSidecar  Provider = "sidecar"
	ProviderPerUser  Provider = "s3_per_user"
	ProviderRegional Provider = "s3_regional"
	ProviderCustom   Provider = "custom_bucket"
	ProviderDropbox  Provider = "dropbox"
	ProviderBox      Provider = "box"

	// Recognized providers without a backend implementation yet.
	ProviderGDrive   Provider = "gdrive"
	ProviderOneDrive Provider = "onedrive"
)

func (p Provider) String() string { return string(p) }

func (p Provider) IsValid() bool {
	switch p {
	case ProviderS3, ProviderSidecar, ProviderPerUser, ProviderRegional,
		ProviderCustom, ProviderDropbox, ProviderBox, ProviderGDrive, ProviderOneDrive:
		return true
	}
	return false
}

func ParseProviderFromString(s string) (Provider, error) {
	p := Provider(strings.ToLower(strings.TrimSpace(s)))
	if !p.IsValid() {
		return "", fmt.Errorf("storage: unknown provider %q", s)
	}
	return p, nil
}

// Config selects a provider and carries whatever configuration that
// provider needs. Only the section matching Provider is consulted.
type Config struct {
	Provider Provider

	// UserID scopes the per-user and custom-bucket backends.
	UserID string

	// UseSecondaryRegion selects the residency region pair.
	UseSecondaryRegion bool

	S3       S3Config
	Regional RegionalConfig
	Custom   CustomBucketConfig
	Sidecar  SidecarConfig
	Dropbox  DropboxConfig
	Box      BoxConfig
}

// New constructs the backend matching cfg.Provider. Missing required
// configuration surfaces as a ConfigError here; recognized providers
// without an implementation surface as UnsupportedProviderError.
func New(ctx context.Context, cfg Config) (Backend, error) {
	switch cfg.Provider {
	case ProviderS3:
		return NewS3Backend(ctx, cfg.S3)
	case ProviderPerUser:
		return NewPerUserBackend(ctx, cfg.S3, cfg.UserID)
	case ProviderRegional:
		return NewRegionalBackend(ctx, cfg.Regional, cfg.UseSecondaryRegion)
	case ProviderCustom:
		return NewCustomBucketBackend(ctx, cfg.Custom, cfg.UserID)
	case ProviderSidecar:
		return NewSidecarBackend(cfg.Sidecar)
	case ProviderDropbox:
		return NewDropboxBackend(cfg.Dropbox)
	case ProviderBox:
		return NewBoxBackend(cfg.Box)
	case ProviderGDrive, ProviderOneDrive:
		return nil, &UnsupportedProviderError{Provider: cfg.Provider}
	default:
		return nil, fmt.Errorf("storage: unknown provider %q", cfg.Provider)
	}
}
