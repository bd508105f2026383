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
	boxAPIBaseURL    = "https://api.box.com/2.0"
	boxUploadBaseURL = "https://upload.box.com/api/2.0"
	boxTokenURL      = "https://api.box.com/oauth2/token"
	boxTimeout       = 2 * time.Minute
	boxRootParentID  = "0"
	boxPageLimit     = 1000
)

// BoxConfig configures a Box-family OAuth backend.
type BoxConfig struct {
	ClientID     string
	ClientSecret string
	RootFolder   string
	Credential   Credential

	// OnCredentialRefresh persists every refreshed credential. This
	// provider rotates the refresh token on each exchange, so skipping
	// persistence strands the integration on the next restart.
	OnCredentialRefresh PersistCredentialFunc

	// Endpoint overrides, used by tests. Empty means provider defaults.
	APIBaseURL    string
	UploadBaseURL string
	TokenURL      string
}

// BoxBackend stores documents in a Box-like drive. Files are addressed
// by provider-assigned IDs, so every call resolves the root folder and
// then the target file by listing and matching on name.
type BoxBackend struct {
	api    *resty.Client
	upload *resty.Client
	token  *resty.Client
	tokens *tokenSource
	root   string
	now    func() time.Time
}

// NewBoxBackend creates a Box-family backend.
func NewBoxBackend(cfg BoxConfig) (*BoxBackend, error) {
	if cfg.Credential.AccessToken == "" && cfg.Credential.RefreshToken == "" {
		return nil, newConfigError(ProviderBox, "missing access and refresh tokens")
	}
	if cfg.Credential.RefreshToken != "" && (cfg.ClientID == "" || cfg.ClientSecret == "") {
		return nil, newConfigError(ProviderBox, "client id and secret are required to refresh tokens")
	}

	root := strings.Trim(cfg.RootFolder, "/")
	if root == "" {
		root = defaultRootFolder
	}

	b := &BoxBackend{
		api:    resty.New().SetBaseURL(baseOrDefault(cfg.APIBaseURL, boxAPIBaseURL)).SetTimeout(boxTimeout),
		upload: resty.New().SetBaseURL(baseOrDefault(cfg.UploadBaseURL, boxUploadBaseURL)).SetTimeout(boxTimeout),
		token:  resty.New().SetBaseURL(baseOrDefault(cfg.TokenURL, boxTokenURL)).SetTimeout(boxTimeout),
		root:   root,
		now:    time.Now,
	}

	clientID, clientSecret := cfg.ClientID, cfg.ClientSecret
	b.tokens = newTokenSource(cfg.Credential, func(ctx context.Context, refreshToken string) (Credential, error) {
		return b.exchangeRefreshToken(ctx, clientID, clientSecret, refreshToken)
	}, cfg.OnCredentialRefresh)

	return b, nil
}

type boxTokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

// exchangeRefreshToken swaps the refresh token for a new token pair.
// The old refresh token is invalid the moment this call succeeds.
func (b *BoxBackend) exchangeRefreshToken(ctx context.Context, clientID, clientSecret, refreshToken string) (Credential, error) {
	var tok boxTokenResponse
	resp, err := b.token.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"grant_type":    "refresh_token",
			"refresh_token": refreshToken,
			"client_id":     clientID,
			"client_secret": clientSecret,
		}).
		SetResult(&tok).
		Post("")
	if err != nil {
		return Credential{}, &BackendError{Provider: ProviderBox, Message: "token refresh failed", Transient: true, Cause: err}
	}
	if resp.IsError() || tok.AccessToken == "" {
		return Credential{}, &BackendError{
			Provider:   ProviderBox,
			StatusCode: resp.StatusCode(),
			Message:    "token refresh rejected",
			Transient:  isTransientHTTPStatus(resp.StatusCode()),
		}
	}

	return Credential{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    b.now().Add(time.Duration(tok.ExpiresIn) * time.Second),
	}, nil
}

func (b *BoxBackend) withAuth(ctx context.Context, call func(token string) (*resty.Response, error)) (*resty.Response, error) {
	token, err := b.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}

	resp, err := call(token)
	if err != nil {
		return nil, &BackendError{Provider: ProviderBox, Message: "request failed", Transient: true, Cause: err}
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
		return nil, &BackendError{Provider: ProviderBox, Message: "request failed after refresh", Transient: true, Cause: err}
	}
	if resp.StatusCode() == http.StatusUnauthorized {
		return nil, ErrAuthExpired
	}
	return resp, nil
}

type boxEntry struct {
	Type string `json:"type"`
	ID   string `json:"id"`
	Name string `json:"name"`
}

type boxItemsResponse struct {
	Entries    []boxEntry `json:"entries"`
	TotalCount int        `json:"total_count"`
	Offset     int        `json:"offset"`
	Limit      int        `json:"limit"`
}

func (b *BoxBackend) listItems(ctx context.Context, folderID string) ([]boxEntry, error) {
	var entries []boxEntry
	offset := 0

	for {
		var page boxItemsResponse
		resp, err := b.withAuth(ctx, func(token string) (*resty.Response, error) {
			return b.api.R().
				SetContext(ctx).
				SetAuthToken(token).
				SetQueryParam("limit", fmt.Sprintf("%d", boxPageLimit)).
				SetQueryParam("offset", fmt.Sprintf("%d", offset)).
				SetResult(&page).
				Get("/folders/" + folderID + "/items")
		})
		if err != nil {
			return nil, err
		}
		if resp.IsError() {
			return nil, boxStatusError("list items", resp)
		}

		entries = append(entries, page.Entries...)
		offset += len(page.Entries)
		if offset >= page.TotalCount || len(page.Entries) == 0 {
			return entries, nil
		}
	}
}

type boxConflictResponse struct {
	ContextInfo struct {
		Conflicts []boxEntry `json:"conflicts"`
	} `json:"context_info"`
}

// resolveRoot finds or creates the app root folder and returns its ID.
// A 409 from a concurrent creator is recovered through the conflict
// payload, or by re-listing when the payload does not carry the ID.
func (b *BoxBackend) resolveRoot(ctx context.Context) (string, error) {
	entries, err := b.listItems(ctx, boxRootParentID)
	if err != nil {
		return "", err
	}
	for _, e := range entries {
		if e.Type == "folder" && e.Name == b.root {
			return e.ID, nil
		}
	}

	var created boxEntry
	resp, err := b.withAuth(ctx, func(token string) (*resty.Response, error) {
		return b.api.R().
			SetContext(ctx).
			SetAuthToken(token).
			SetBody(map[string]any{
				"name":   b.root,
				"parent": map[string]string{"id": boxRootParentID},
			}).
			SetResult(&created).
			Post("/folders")
	})
	if err != nil {
		return "", err
	}

	if resp.StatusCode() == http.StatusConflict {
		var conflict boxConflictResponse
		if jsonErr := json.Unmarshal(resp.Body(), &conflict); jsonErr == nil {
			for _, e := range conflict.ContextInfo.Conflicts {
				if e.Type == "folder" {
					return e.ID, nil
				}
			}
		}
		entries, err = b.listItems(ctx, boxRootParentID)
		if err != nil {
			return "", err
		}
		for _, e := range entries {
			if e.Type == "folder" && e.Name == b.root {
				return e.ID, nil
			}
		}
		return "", boxStatusError("create folder", resp)
	}
	if resp.IsError() {
		return "", boxStatusError("create folder", resp)
	}
	return created.ID, nil
}

// resolveFile locates a file by name inside the root folder and returns
// its provider-assigned ID.
func (b *BoxBackend) resolveFile(ctx context.Context, name string) (string, error) {
	rootID, err := b.resolveRoot(ctx)
	if err != nil {
		return "", err
	}

	entries, err := b.listItems(ctx, rootID)
	if err != nil {
		return "", err
	}
	for _, e := range entries {
		if e.Type == "file" && e.Name == name {
			return e.ID, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrObjectNotFound, name)
}

func (b *BoxBackend) UploadBuffer(ctx context.Context, data []byte, key, contentType string) (string, error) {
	rootID, err := b.resolveRoot(ctx)
	if err != nil {
		return "", err
	}

	// Overwrite semantics: an existing file gets a new version through
	// its ID endpoint, a new file is created inside the root folder.
	entries, err := b.listItems(ctx, rootID)
	if err != nil {
		return "", err
	}
	uploadPath := "/files/content"
	for _, e := range entries {
		if e.Type == "file" && e.Name == key {
			uploadPath = "/files/" + e.ID + "/content"
			break
		}
	}

	attributes, err := json.Marshal(map[string]any{
		"name":   key,
		"parent": map[string]string{"id": rootID},
	})
	if err != nil {
		return "", fmt.Errorf("storage: marshal upload attributes: %w", err)
	}

	resp, err := b.withAuth(ctx, func(token string) (*resty.Response, error) {
		return b.upload.R().
			SetContext(ctx).
			SetAuthToken(token).
			SetMultipartField("attributes", "", "application/json", strings.NewReader(string(attributes))).
			SetMultipartField("file", key, contentTypeOrDefault(contentType), bytes.NewReader(data)).
			Post(uploadPath)
	})
	if err != nil {
		return "", err
	}
	if resp.IsError() {
		return "", boxStatusError("upload", resp)
	}
	return key, nil
}

func (b *BoxBackend) DownloadBuffer(ctx context.Context, key string) ([]byte, error) {
	fileID, err := b.resolveFile(ctx, key)
	if err != nil {
		return nil, err
	}

	resp, err := b.withAuth(ctx, func(token string) (*resty.Response, error) {
		return b.api.R().
			SetContext(ctx).
			SetAuthToken(token).
			Get("/files/" + fileID + "/content")
	})
	if err != nil {
		return nil, err
	}
	if resp.StatusCode() == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", ErrObjectNotFound, key)
	}
	if resp.IsError() {
		return nil, boxStatusError("download", resp)
	}
	return resp.Body(), nil
}

type boxSharedLinkResponse struct {
	SharedLink struct {
		URL         string `json:"url"`
		DownloadURL string `json:"download_url"`
	} `json:"shared_link"`
}

// SignedDownloadURL creates a time-boxed shared link for the file.
func (b *BoxBackend) SignedDownloadURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	fileID, err := b.resolveFile(ctx, key)
	if err != nil {
		return "", err
	}

	var link boxSharedLinkResponse
	resp, err := b.withAuth(ctx, func(token string) (*resty.Response, error) {
		return b.api.R().
			SetContext(ctx).
			SetAuthToken(token).
			SetBody(map[string]any{
				"shared_link": map[string]any{
					"access":      "open",
					"unshared_at": b.now().Add(ttl).UTC().Format(time.RFC3339),
				},
			}).
			SetResult(&link).
			Put("/files/" + fileID)
	})
	if err != nil {
		return "", err
	}
	if resp.IsError() {
		return "", boxStatusError("shared link", resp)
	}
	if link.SharedLink.DownloadURL != "" {
		return link.SharedLink.DownloadURL, nil
	}
	if link.SharedLink.URL != "" {
		return link.SharedLink.URL, nil
	}
	return "", boxStatusError("shared link", resp)
}

func (b *BoxBackend) Exists(ctx context.Context, key string) (bool, error) {
	_, err := b.resolveFile(ctx, key)
	if err != nil {
		if errors.Is(err, ErrObjectNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (b *BoxBackend) Delete(ctx context.Context, key string) error {
	fileID, err := b.resolveFile(ctx, key)
	if err != nil {
		return err
	}

	resp, err := b.withAuth(ctx, func(token string) (*resty.Response, error) {
		return b.api.R().
			SetContext(ctx).
			SetAuthToken(token).
			Delete("/files/" + fileID)
	})
	if err != nil {
		return err
	}
	if resp.IsError() && resp.StatusCode() != http.StatusNotFound {
		return boxStatusError("delete", resp)
	}
	return nil
}

func boxStatusError(op string, resp *resty.Response) error {
	return &BackendError{
		Provider:   ProviderBox,
		StatusCode: resp.StatusCode(),
		Message:    fmt.Sprintf("%s returned status %d: %s", op, resp.StatusCode(), strings.TrimSpace(resp.String())),
		Transient:  isTransientHTTPStatus(resp.StatusCode()),
	}
}

// compile-time check
var _ Backend = (*BoxBackend)(nil)
