package storage

import (
	"context"
	"errors"
	"testing"
)

func TestNewS3MissingConfig(t *testing.T) {
	t.Parallel()

	_, err := New(context.Background(), Config{
		Provider: ProviderS3,
		S3:       S3Config{Bucket: "documents"},
	})
	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("New() error = %v, want ConfigError", err)
	}
}

func TestNewRegionalSecondaryNotConfigured(t *testing.T) {
	t.Parallel()

	_, err := New(context.Background(), Config{
		Provider:           ProviderRegional,
		UseSecondaryRegion: true,
		Regional: RegionalConfig{
			Default: testS3Config(),
		},
	})
	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("New() error = %v, want ConfigError", err)
	}
	if cfgErr.Provider != ProviderRegional {
		t.Fatalf("config error provider = %s, want %s", cfgErr.Provider, ProviderRegional)
	}
}

func TestNewRegionalDefaultRegion(t *testing.T) {
	t.Parallel()

	backend, err := New(context.Background(), Config{
		Provider: ProviderRegional,
		Regional: RegionalConfig{Default: testS3Config()},
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if backend == nil {
		t.Fatal("expected non-nil backend")
	}
}

func TestNewRegionalSecondaryConfigured(t *testing.T) {
	t.Parallel()

	secondary := testS3Config()
	secondary.Bucket = "documents-eu"
	secondary.Region = "eu-central-1"

	backend, err := New(context.Background(), Config{
		Provider:           ProviderRegional,
		UseSecondaryRegion: true,
		Regional: RegionalConfig{
			Default:   testS3Config(),
			Secondary: &secondary,
		},
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if backend == nil {
		t.Fatal("expected non-nil backend")
	}
}

func TestNewUnsupportedProvider(t *testing.T) {
	t.Parallel()

	for _, p := range []Provider{ProviderGDrive, ProviderOneDrive} {
		_, err := New(context.Background(), Config{Provider: p})
		var unsupported *UnsupportedProviderError
		if !errors.As(err, &unsupported) {
			t.Fatalf("New(%s) error = %v, want UnsupportedProviderError", p, err)
		}
		if unsupported.Provider != p {
			t.Fatalf("unsupported provider = %s, want %s", unsupported.Provider, p)
		}
	}
}

func TestNewUnknownProvider(t *testing.T) {
	t.Parallel()

	_, err := New(context.Background(), Config{Provider: Provider("ftp")})
	if err == nil {
		t.Fatal("expected error for unknown provider")
	}
	var unsupported *UnsupportedProviderError
	if errors.As(err, &unsupported) {
		t.Fatal("unknown provider should not map to UnsupportedProviderError")
	}
}

func TestParseProviderFromString(t *testing.T) {
	t.Parallel()

	p, err := ParseProviderFromString("  Dropbox ")
	if err != nil {
		t.Fatalf("ParseProviderFromString() error = %v", err)
	}
	if p != ProviderDropbox {
		t.Fatalf("provider = %s, want %s", p, ProviderDropbox)
	}

	if _, err := ParseProviderFromString("ftp"); err == nil {
		t.Fatal("expected error for unknown provider name")
	}
}
