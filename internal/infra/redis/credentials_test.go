package redis

import (
	"context"
	"testing"
	"time"

	"github.com/quillsign/quillsign/internal/storage"
)

func TestCredentialStoreSaveLoad(t *testing.T) {
	t.Parallel()

	store, err := NewCredentialStore(newTestRedisClient(t))
	if err != nil {
		t.Fatalf("NewCredentialStore() error = %v", err)
	}

	cred := storage.Credential{
		AccessToken:  "access-1",
		RefreshToken: "refresh-1",
		ExpiresAt:    time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	if err := store.Save(context.Background(), "box", cred); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, ok, err := store.Load(context.Background(), "Box")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !ok {
		t.Fatal("Load() ok = false, want stored credential")
	}
	if loaded.RefreshToken != "refresh-1" {
		t.Fatalf("RefreshToken = %q, want refresh-1", loaded.RefreshToken)
	}
	if !loaded.ExpiresAt.Equal(cred.ExpiresAt) {
		t.Fatalf("ExpiresAt = %v, want %v", loaded.ExpiresAt, cred.ExpiresAt)
	}
}

func TestCredentialStoreLoadMissing(t *testing.T) {
	t.Parallel()

	store, err := NewCredentialStore(newTestRedisClient(t))
	if err != nil {
		t.Fatalf("NewCredentialStore() error = %v", err)
	}

	_, ok, err := store.Load(context.Background(), "dropbox")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if ok {
		t.Fatal("Load() ok = true for missing credential")
	}
}
