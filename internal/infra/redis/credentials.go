package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	goredis "github.com/redis/go-redis/v9"

	"github.com/quillsign/quillsign/internal/storage"
)

const credentialKeyPrefix = "storage:credential:"

// CredentialStore persists OAuth storage credentials across restarts.
// Providers that rotate refresh tokens make this mandatory: losing a
// rotated token strands the integration until the user reauthorizes.
type CredentialStore struct {
	client *goredis.Client
}

func NewCredentialStore(client *goredis.Client) (*CredentialStore, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	return &CredentialStore{client: client}, nil
}

func (s *CredentialStore) Save(ctx context.Context, provider string, cred storage.Credential) error {
	key, err := credentialKey(provider)
	if err != nil {
		return err
	}

	payload, err := json.Marshal(cred)
	if err != nil {
		return fmt.Errorf("failed to encode credential: %w", err)
	}

	if err := s.client.Set(ctx, key, payload, 0).Err(); err != nil {
		return fmt.Errorf("failed to store credential: %w", err)
	}
	return nil
}

// Load returns the stored credential, or ok=false when none exists.
func (s *CredentialStore) Load(ctx context.Context, provider string) (storage.Credential, bool, error) {
	key, err := credentialKey(provider)
	if err != nil {
		return storage.Credential{}, false, err
	}

	payload, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if err == goredis.Nil {
			return storage.Credential{}, false, nil
		}
		return storage.Credential{}, false, fmt.Errorf("failed to load credential: %w", err)
	}

	var cred storage.Credential
	if err := json.Unmarshal(payload, &cred); err != nil {
		return storage.Credential{}, false, fmt.Errorf("failed to decode credential: %w", err)
	}
	return cred, true, nil
}

func credentialKey(provider string) (string, error) {
	normalized := strings.ToLower(strings.TrimSpace(provider))
	if normalized == "" {
		return "", fmt.Errorf("provider is required")
	}
	return credentialKeyPrefix + normalized, nil
}
