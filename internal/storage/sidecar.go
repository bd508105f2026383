package storage

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
)

const (
	sidecarTimeout    = 2 * time.Minute
	sidecarTokenSkew  = 30 * time.Second
	sidecarTokenPath  = "/v1/token"
	sidecarSignPath   = "/v1/sign"
	sidecarObjectPath = "/object"
)

// SidecarConfig configures the sidecar-authenticated backend. The broker
// is a local credential service issuing short-lived storage tokens; no
// long-lived key ever reaches this process.
type SidecarConfig struct {
	BrokerURL  string
	StorageURL string
}

// SidecarBackend talks to a cloud object store using short-lived tokens
// obtained from a local credential broker. Object keys are /bucket/object
// address strings. Signed URLs are issued by the broker, since there is
// no static secret key to sign requests with locally.
type SidecarBackend struct {
	storage *resty.Client
	broker  *resty.Client
	now     func() time.Time

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

// NewSidecarBackend creates a sidecar-authenticated backend.
func NewSidecarBackend(cfg SidecarConfig) (*SidecarBackend, error) {
	if strings.TrimSpace(cfg.BrokerURL) == "" {
		return nil, newConfigError(ProviderSidecar, "missing broker url")
	}
	if strings.TrimSpace(cfg.StorageURL) == "" {
		return nil, newConfigError(ProviderSidecar, "missing storage url")
	}

	storage := resty.New().
		SetBaseURL(strings.TrimRight(cfg.StorageURL, "/")).
		SetTimeout(sidecarTimeout)
	broker := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BrokerURL, "/")).
		SetTimeout(sidecarTimeout)

	return &SidecarBackend{
		storage: storage,
		broker:  broker,
		now:     time.Now,
	}, nil
}

// parseObjectAddress splits a /bucket/object address into its parts.
func parseObjectAddress(key string) (bucket, object string, err error) {
	trimmed := strings.TrimLeft(key, "/")
	bucket, object, found := strings.Cut(trimmed, "/")
	if !found || bucket == "" || object == "" {
		return "", "", &BackendError{
			Provider: ProviderSidecar,
			Message:  fmt.Sprintf("invalid object address %q, want /bucket/object", key),
		}
	}
	return bucket, object, nil
}

type sidecarTokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
}

func (b *SidecarBackend) accessToken(ctx context.Context) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.token != "" && b.now().Before(b.tokenExpiry.Add(-sidecarTokenSkew)) {
		return b.token, nil
	}

	var tok sidecarTokenResponse
	resp, err := b.broker.R().
		SetContext(ctx).
		SetResult(&tok).
		Post(sidecarTokenPath)
	if err != nil {
		return "", &BackendError{Provider: ProviderSidecar, Message: "broker token request failed", Transient: true, Cause: err}
	}
	if resp.StatusCode() != http.StatusOK || tok.AccessToken == "" {
		return "", &BackendError{
			Provider:   ProviderSidecar,
			StatusCode: resp.StatusCode(),
			Message:    "broker token request rejected",
			Transient:  isTransientHTTPStatus(resp.StatusCode()),
		}
	}

	b.token = tok.AccessToken
	b.tokenExpiry = b.now().Add(time.Duration(tok.ExpiresIn) * time.Second)
	return b.token, nil
}

func (b *SidecarBackend) UploadBuffer(ctx context.Context, data []byte, key, contentType string) (string, error) {
	bucket, object, err := parseObjectAddress(key)
	if err != nil {
		return "", err
	}
	token, err := b.accessToken(ctx)
	if err != nil {
		return "", err
	}

	resp, err := b.storage.R().
		SetContext(ctx).
		SetAuthToken(token).
		SetHeader("Content-Type", contentTypeOrDefault(contentType)).
		SetHeader("x-upsert", "true").
		SetBody(bytes.NewReader(data)).
		Post(fmt.Sprintf("%s/%s/%s", sidecarObjectPath, bucket, object))
	if err != nil {
		return "", &BackendError{Provider: ProviderSidecar, Message: "upload failed", Transient: true, Cause: err}
	}
	if resp.IsError() {
		return "", sidecarStatusError("upload", resp)
	}
	return key, nil
}

func (b *SidecarBackend) DownloadBuffer(ctx context.Context, key string) ([]byte, error) {
	bucket, object, err := parseObjectAddress(key)
	if err != nil {
		return nil, err
	}
	token, err := b.accessToken(ctx)
	if err != nil {
		return nil, err
	}

	resp, err := b.storage.R().
		SetContext(ctx).
		SetAuthToken(token).
		Get(fmt.Sprintf("%s/%s/%s", sidecarObjectPath, bucket, object))
	if err != nil {
		return nil, &BackendError{Provider: ProviderSidecar, Message: "download failed", Transient: true, Cause: err}
	}
	if resp.StatusCode() == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", ErrObjectNotFound, key)
	}
	if resp.IsError() {
		return nil, sidecarStatusError("download", resp)
	}
	return resp.Body(), nil
}

type sidecarSignRequest struct {
	Bucket    string `json:"bucket"`
	Object    string `json:"object"`
	ExpiresIn int64  `json:"expiresIn"`
}

type sidecarSignResponse struct {
	URL string `json:"url"`
}

func (b *SidecarBackend) SignedDownloadURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	bucket, object, err := parseObjectAddress(key)
	if err != nil {
		return "", err
	}

	var signed sidecarSignResponse
	resp, err := b.broker.R().
		SetContext(ctx).
		SetBody(sidecarSignRequest{Bucket: bucket, Object: object, ExpiresIn: int64(ttl.Seconds())}).
		SetResult(&signed).
		Post(sidecarSignPath)
	if err != nil {
		return "", &BackendError{Provider: ProviderSidecar, Message: "broker sign request failed", Transient: true, Cause: err}
	}
	if resp.IsError() || signed.URL == "" {
		return "", sidecarStatusError("sign", resp)
	}
	return signed.URL, nil
}

func (b *SidecarBackend) Exists(ctx context.Context, key string) (bool, error) {
	bucket, object, err := parseObjectAddress(key)
	if err != nil {
		return false, err
	}
	token, err := b.accessToken(ctx)
	if err != nil {
		return false, err
	}

	resp, err := b.storage.R().
		SetContext(ctx).
		SetAuthToken(token).
		Head(fmt.Sprintf("%s/%s/%s", sidecarObjectPath, bucket, object))
	if err != nil {
		return false, &BackendError{Provider: ProviderSidecar, Message: "head failed", Transient: true, Cause: err}
	}
	if resp.StatusCode() == http.StatusNotFound {
		return false, nil
	}
	if resp.IsError() {
		return false, sidecarStatusError("head", resp)
	}
	return true, nil
}

func (b *SidecarBackend) Delete(ctx context.Context, key string) error {
	bucket, object, err := parseObjectAddress(key)
	if err != nil {
		return err
	}
	token, err := b.accessToken(ctx)
	if err != nil {
		return err
	}

	resp, err := b.storage.R().
		SetContext(ctx).
		SetAuthToken(token).
		Delete(fmt.Sprintf("%s/%s/%s", sidecarObjectPath, bucket, object))
	if err != nil {
		return &BackendError{Provider: ProviderSidecar, Message: "delete failed", Transient: true, Cause: err}
	}
	if resp.IsError() && resp.StatusCode() != http.StatusNotFound {
		return sidecarStatusError("delete", resp)
	}
	return nil
}

func sidecarStatusError(op string, resp *resty.Response) error {
	return &BackendError{
		Provider:   ProviderSidecar,
		StatusCode: resp.StatusCode(),
		Message:    fmt.Sprintf("%s returned status %d: %s", op, resp.StatusCode(), strings.TrimSpace(resp.String())),
		Transient:  isTransientHTTPStatus(resp.StatusCode()),
	}
}

// compile-time check
var _ Backend = (*SidecarBackend)(nil)
