package storage

import (
	"context"
	"sync"
	"time"
)

// refreshSkew is subtracted from the token expiry before the proactive
// check, so a token is refreshed shortly before the provider would
// reject it rather than after.
const refreshSkew = 5 * time.Minute

// Credential is the mutable OAuth state owned by one third-party drive
// backend instance. A zero ExpiresAt means the expiry is unknown and the
// token is treated as already expired.
type Credential struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// PersistCredentialFunc durably stores a refreshed credential so it
// survives process restarts. In-memory-only state would strand the user
// with a revoked refresh token after the next deploy.
type PersistCredentialFunc func(ctx context.Context, cred Credential) error

// refreshFunc exchanges a refresh token at the provider's token endpoint
// and returns the replacement credential. Providers that rotate refresh
// tokens return the new one; others leave RefreshToken empty.
type refreshFunc func(ctx context.Context, refreshToken string) (Credential, error)

// tokenSource guards one backend instance's credential. All refresh
// paths run under the mutex, so concurrent callers detecting expiry
// trigger at most one token exchange.
type tokenSource struct {
	refresh refreshFunc
	persist PersistCredentialFunc
	now     func() time.Time

	mu   sync.Mutex
	cred Credential
}

func newTokenSource(cred Credential, refresh refreshFunc, persist PersistCredentialFunc) *tokenSource {
	return &tokenSource{
		refresh: refresh,
		persist: persist,
		now:     time.Now,
		cred:    cred,
	}
}

// needsRefresh implements the proactive check: only credentials carrying
// a refresh token are refreshable, and an unknown expiry counts as
// already expired.
func (t *tokenSource) needsRefresh() bool {
	if t.cred.RefreshToken == "" {
		return false
	}
	if t.cred.ExpiresAt.IsZero() {
		return true
	}
	return t.now().After(t.cred.ExpiresAt.Add(-refreshSkew))
}

// Token returns an access token, refreshing it first when it is expired
// or about to expire.
func (t *tokenSource) Token(ctx context.Context) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.needsRefresh() {
		return t.cred.AccessToken, nil
	}
	if err := t.refreshLocked(ctx); err != nil {
		return "", err
	}
	return t.cred.AccessToken, nil
}

// RetryToken is the reactive fallback after an Unauthorized response.
// If another caller already replaced staleToken, the current token is
// returned without a second exchange; otherwise exactly one refresh runs.
func (t *tokenSource) RetryToken(ctx context.Context, staleToken string) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.cred.AccessToken != staleToken {
		return t.cred.AccessToken, nil
	}
	if t.cred.RefreshToken == "" {
		return "", ErrAuthExpired
	}
	if err := t.refreshLocked(ctx); err != nil {
		return "", err
	}
	return t.cred.AccessToken, nil
}

func (t *tokenSource) refreshLocked(ctx context.Context) error {
	refreshed, err := t.refresh(ctx, t.cred.RefreshToken)
	if err != nil {
		return err
	}

	t.cred.AccessToken = refreshed.AccessToken
	t.cred.ExpiresAt = refreshed.ExpiresAt
	if refreshed.RefreshToken != "" {
		// Rotating providers invalidate the old refresh token the moment
		// the new one is issued.
		t.cred.RefreshToken = refreshed.RefreshToken
	}

	if t.persist != nil {
		if err := t.persist(ctx, t.cred); err != nil {
			return err
		}
	}
	return nil
}
