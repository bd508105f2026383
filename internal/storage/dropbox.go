package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const (
	dropboxAPIBaseURL     = "https://api.dropboxapi.com"
	dropboxContentBaseURL = "https://content.dropboxapi.com"
	dropboxTokenURL       = "https://api.dropboxapi.com/oauth2/token"
	dropboxTimeout        = 2 * time.Minute
	defaultRootFolder     = "QuillSign"
)

// DropboxConfig configures a Dropbox-family OAuth backend.
type DropboxConfig struct {
	AppKey     string
	AppSecret  string
	RootFolder string
	Credential Credential

	// OnCredentialRefresh persists every refreshed credential.
	OnCredentialRefresh PersistCredentialFunc

	// Endpoint overrides, used by tests. Empty means provider defaults.
	APIBaseURL     string
	ContentBaseURL string
	TokenURL       string
}

// DropboxBackend stores documents in a Dropbox-like drive. The provider
// has no flat key-addressable object model: every call resolves the
// app's root folder (create-if-absent) and then the target file by
// listing the folder and matching on name.
type DropboxBackend struct {
	api     *resty.Client
	content *resty.Client
	token   *resty.Client
	tokens  *tokenSource
	root    string
	now     func() time.Time
}

// NewDropboxBackend creates a Dropbox-family backend.
func NewDropboxBackend(cfg DropboxConfig) (*DropboxBackend, error) {
	if cfg.Credential.AccessToken == "" && cfg.Credential.RefreshToken == "" {
		return nil, newConfigError(ProviderDropbox, "missing access and refresh tokens")
	}
	if cfg.Credential.RefreshToken != "" && (cfg.AppKey == "" || cfg.AppSecret == "") {
		return nil, newConfigError(ProviderDropbox, "app key and secret are required to refresh tokens")
	}

	root := strings.Trim(cfg.RootFolder, "/")
	if root == "" {
		root = defaultRootFolder
	}

	b := &DropboxBackend{
		api:     resty.New().SetBaseURL(baseOrDefault(cfg.APIBaseURL, dropboxAPIBaseURL)).SetTimeout(dropboxTimeout),
		content: resty.New().SetBaseURL(baseOrDefault(cfg.ContentBaseURL, dropboxContentBaseURL)).SetTimeout(dropboxTimeout),
		token:   resty.New().SetBaseURL(baseOrDefault(cfg.TokenURL, dropboxTokenURL)).SetTimeout(dropboxTimeout),
		root:    root,
		now:     time.Now,
	}

	appKey, appSecret := cfg.AppKey, cfg.AppSecret
	b.tokens = newTokenSource(cfg.Credential, func(ctx context.Context, refreshToken string) (Credential, error) {
		return b.exchangeRefreshToken(ctx, appKey, appSecret, refreshToken)
	}, cfg.OnCredentialRefresh)

	return b, nil
}

func baseOrDefault(v, def string) string {
	if v == "" {
		return def
	}
	return strings.TrimRight(v, "/")
}

type dropboxTokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
}

// exchangeRefreshToken swaps the refresh token for a new access token.
// This provider family keeps the refresh token stable across exchanges.
func (b *DropboxBackend) exchangeRefreshToken(ctx context.Context, appKey, appSecret, refreshToken string) (Credential, error) {
	var tok dropboxTokenResponse
	resp, err := b.token.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"grant_type":    "refresh_token",
			"refresh_token": refreshToken,
			"client_id":     appKey,
			"client_secret": appSecret,
		}).
		SetResult(&tok).
		Post("")
	if err != nil {
		return Credential{}, &BackendError{Provider: ProviderDropbox, Message: "token refresh failed", Transient: true, Cause: err}
	}
	if resp.IsError() || tok.AccessToken == "" {
		return Credential{}, &BackendError{
			Provider:   ProviderDropbox,
			StatusCode: resp.StatusCode(),
			Message:    "token refresh rejected",
			Transient:  isTransientHTTPStatus(resp.StatusCode()),
		}
	}

	return Credential{
		AccessToken: tok.AccessToken,
		ExpiresAt:   b.now().Add(time.Duration(tok.ExpiresIn) * time.Second),
	}, nil
}

// withAuth runs one provider call with a valid token, retrying exactly
// once through a reactive refresh when the provider answers 401.
func (b *DropboxBackend) withAuth(ctx context.Context, call func(token string) (*resty.Response, error)) (*resty.Response, error) {
	token, err := b.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}

	resp, err := call(token)
	if err != nil {
		return nil, &BackendError{Provider: ProviderDropbox, Message: "request failed", Transient: true, Cause: err}
	}
	if resp.StatusCode() != http.StatusUnauthorized {
		return resp, nil
	}

	token, err = b.tokens.RetryToken(ctx, token)
	if err != nil {
		return nil, err
	}
	resp, err = call(token)
	if err != nil {
		return nil, &BackendError{Provider: ProviderDropbox, Message: "request failed after refresh", Transient: true, Cause: err}
	}
	if resp.StatusCode() == http.StatusUnauthorized {
		return nil, ErrAuthExpired
	}
	return resp, nil
}

type dropboxEntry struct {
	Tag       string `json:".tag"`
	Name      string `json:"name"`
	PathLower string `json:"path_lower"`
}

type dropboxListResponse struct {
	Entries []dropboxEntry `json:"entries"`
	HasMore bool           `json:"has_more"`
	Cursor  string         `json:"cursor"`
}

func (b *DropboxBackend) listFolder(ctx context.Context, path string) ([]dropboxEntry, error) {
	var entries []dropboxEntry
	body := map[string]any{"path": path}
	endpoint := "/2/files/list_folder"

	for {
		var page dropboxListResponse
		resp, err := b.withAuth(ctx, func(token string) (*resty.Response, error) {
			return b.api.R().
				SetContext(ctx).
				SetAuthToken(token).
				SetBody(body).
				SetResult(&page).
				Post(endpoint)
		})
		if err != nil {
			return nil, err
		}
		if resp.IsError() {
			return nil, dropboxStatusError("list_folder", resp)
		}

		entries = append(entries, page.Entries...)
		if !page.HasMore {
			return entries, nil
		}
		body = map[string]any{"cursor": page.Cursor}
		endpoint = "/2/files/list_folder/continue"
	}
}

// resolveRoot finds or creates the app root folder. A conflict response
// from a concurrent creator counts as success; the existing folder is
// recovered by re-listing.
func (b *DropboxBackend) resolveRoot(ctx context.Context) (string, error) {
	entries, err := b.listFolder(ctx, "")
	if err != nil {
		return "", err
	}
	for _, e := range entries {
		if e.Tag == "folder" && e.Name == b.root {
			return e.PathLower, nil
		}
	}

	rootPath := "/" + b.root
	resp, err := b.withAuth(ctx, func(token string) (*resty.Response, error) {
		return b.api.R().
			SetContext(ctx).
			SetAuthToken(token).
			SetBody(map[string]any{"path": rootPath, "autorename": false}).
			Post("/2/files/create_folder_v2")
	})
	if err != nil {
		return "", err
	}
	if resp.StatusCode() == http.StatusConflict {
		// Another caller created it between the list and the create.
		return strings.ToLower(rootPath), nil
	}
	if resp.IsError() {
		return "", dropboxStatusError("create_folder", resp)
	}
	return strings.ToLower(rootPath), nil
}

// resolveFile locates a file by name inside the root folder. The
// provider offers no path-lookup API, so resolution lists the folder.
func (b *DropboxBackend) resolveFile(ctx context.Context, name string) (string, error) {
	rootPath, err := b.resolveRoot(ctx)
	if err != nil {
		return "", err
	}

	entries, err := b.listFolder(ctx, rootPath)
	if err != nil {
		return "", err
	}
	for _, e := range entries {
		if e.Tag == "file" && e.Name == name {
			return e.PathLower, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrObjectNotFound, name)
}

func (b *DropboxBackend) UploadBuffer(ctx context.Context, data []byte, key, contentType string) (string, error) {
	rootPath, err := b.resolveRoot(ctx)
	if err != nil {
		return "", err
	}

	arg, err := json.Marshal(map[string]any{
		"path": rootPath + "/" + key,
		"mode": "overwrite",
		"mute": true,
	})
	if err != nil {
		return "", fmt.Errorf("storage: marshal upload arg: %w", err)
	}

	resp, err := b.withAuth(ctx, func(token string) (*resty.Response, error) {
		return b.content.R().
			SetContext(ctx).
			SetAuthToken(token).
			SetHeader("Dropbox-API-Arg", string(arg)).
			SetHeader("Content-Type", "application/octet-stream").
			SetBody(bytes.NewReader(data)).
			Post("/2/files/upload")
	})
	if err != nil {
		return "", err
	}
	if resp.IsError() {
		return "", dropboxStatusError("upload", resp)
	}
	return key, nil
}

func (b *DropboxBackend) DownloadBuffer(ctx context.Context, key string) ([]byte, error) {
	filePath, err := b.resolveFile(ctx, key)
	if err != nil {
		return nil, err
	}

	arg, err := json.Marshal(map[string]any{"path": filePath})
	if err != nil {
		return nil, fmt.Errorf("storage: marshal download arg: %w", err)
	}

	resp, err := b.withAuth(ctx, func(token string) (*resty.Response, error) {
		return b.content.R().
			SetContext(ctx).
			SetAuthToken(token).
			SetHeader("Dropbox-API-Arg", string(arg)).
			Post("/2/files/download")
	})
	if err != nil {
		return nil, err
	}
	if resp.StatusCode() == http.StatusConflict {
		// path not_found arrives as a 409 from this provider.
		return nil, fmt.Errorf("%w: %s", ErrObjectNotFound, key)
	}
	if resp.IsError() {
		return nil, dropboxStatusError("download", resp)
	}
	return resp.Body(), nil
}

type dropboxTemporaryLinkResponse struct {
	Link string `json:"link"`
}

// SignedDownloadURL returns a temporary link. The provider fixes the
// link lifetime server-side, so ttl is a lower bound the caller should
// not rely on beyond the provider's window.
func (b *DropboxBackend) SignedDownloadURL(ctx context.Context, key string, _ time.Duration) (string, error) {
	filePath, err := b.resolveFile(ctx, key)
	if err != nil {
		return "", err
	}

	var link dropboxTemporaryLinkResponse
	resp, err := b.withAuth(ctx, func(token string) (*resty.Response, error) {
		return b.api.R().
			SetContext(ctx).
			SetAuthToken(token).
			SetBody(map[string]any{"path": filePath}).
			SetResult(&link).
			Post("/2/files/get_temporary_link")
	})
	if err != nil {
		return "", err
	}
	if resp.IsError() || link.Link == "" {
		return "", dropboxStatusError("get_temporary_link", resp)
	}
	return link.Link, nil
}

func (b *DropboxBackend) Exists(ctx context.Context, key string) (bool, error) {
	_, err := b.resolveFile(ctx, key)
	if err != nil {
		if errors.Is(err, ErrObjectNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (b *DropboxBackend) Delete(ctx context.Context, key string) error {
	filePath, err := b.resolveFile(ctx, key)
	if err != nil {
		return err
	}

	resp, err := b.withAuth(ctx, func(token string) (*resty.Response, error) {
		return b.api.R().
			SetContext(ctx).
			SetAuthToken(token).
			SetBody(map[string]any{"path": filePath}).
			Post("/2/files/delete_v2")
	})
	if err != nil {
		return err
	}
	if resp.IsError() {
		return dropboxStatusError("delete", resp)
	}
	return nil
}

func dropboxStatusError(op string, resp *resty.Response) error {
	return &BackendError{
		Provider:   ProviderDropbox,
		StatusCode: resp.StatusCode(),
		Message:    fmt.Sprintf("%s returned status %d: %s", op, resp.StatusCode(), strings.TrimSpace(resp.String())),
		Transient:  isTransientHTTPStatus(resp.StatusCode()),
	}
}

// compile-time check
var _ Backend = (*DropboxBackend)(nil)
