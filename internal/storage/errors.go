package storage

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

var (
	// ErrObjectNotFound indicates the requested object does not exist.
	ErrObjectNotFound = errors.New("storage: object not found")

	// ErrAuthExpired indicates the provider rejected the credential and
	// a refresh did not recover it.
	ErrAuthExpired = errors.New("storage: authorization expired")
)

// ConfigError indicates required backend configuration is missing or
// inconsistent. It is raised at construction, never deferred to first use.
type ConfigError struct {
	Provider Provider
	Reason   string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("storage: invalid %s configuration: %s", e.Provider, e.Reason)
}

func newConfigError(provider Provider, format string, args ...any) *ConfigError {
	return &ConfigError{Provider: provider, Reason: fmt.Sprintf(format, args...)}
}

// UnsupportedProviderError indicates a recognized provider with no backend
// implementation for the requested configuration.
type UnsupportedProviderError struct {
	Provider Provider
}

func (e *UnsupportedProviderError) Error() string {
	return fmt.Sprintf("storage: provider %q is not supported yet", e.Provider)
}

// BackendError classifies a provider call failure as transient/permanent.
type BackendError struct {
	Provider   Provider
	StatusCode int
	Message    string
	Transient  bool
	Cause      error
}

func (e *BackendError) Error() string {
	if e == nil {
		return "<nil>"
	}

	parts := make([]string, 0, 4)
	parts = append(parts, fmt.Sprintf("storage: %s error", e.Provider))

	if e.StatusCode > 0 {
		parts = append(parts, fmt.Sprintf("status=%d", e.StatusCode))
	}
	if msg := strings.TrimSpace(e.Message); msg != "" {
		parts = append(parts, msg)
	}
	if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}

	return strings.Join(parts, ": ")
}

func (e *BackendError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// IsTransient reports whether a storage error is worth retrying.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var backendErr *BackendError
	if errors.As(err, &backendErr) {
		return backendErr.Transient
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}

	return false
}

func isTransientHTTPStatus(statusCode int) bool {
	return statusCode == 429 || (statusCode >= 500 && statusCode <= 599)
}
