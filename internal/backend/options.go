package backend

import (
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Option configures optional Client settings.
type Option func(*options) error

// options holds optional configuration for creating a Client.
type options struct {
	// healthEndpoint is the path probed by Health.
	healthEndpoint string

	// httpClient is a custom HTTP client.
	httpClient *http.Client

	// syncEndpoint is the path events are posted to.
	syncEndpoint string

	// timeout is the HTTP client timeout.
	timeout time.Duration
}

// WithHTTPClient sets a custom HTTP client. Overrides WithTimeout.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(o *options) error {
		if httpClient == nil {
			return fmt.Errorf("HTTP client cannot be nil")
		}
		o.httpClient = httpClient
		return nil
	}
}

// WithHealthEndpoint sets the path probed by Health.
func WithHealthEndpoint(path string) Option {
	return func(o *options) error {
		path, err := normalizeEndpoint(path)
		if err != nil {
			return fmt.Errorf("health endpoint: %w", err)
		}
		o.healthEndpoint = path
		return nil
	}
}

// WithSyncEndpoint sets the path events are posted to.
func WithSyncEndpoint(path string) Option {
	return func(o *options) error {
		path, err := normalizeEndpoint(path)
		if err != nil {
			return fmt.Errorf("sync endpoint: %w", err)
		}
		o.syncEndpoint = path
		return nil
	}
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(o *options) error {
		if timeout <= 0 {
			return fmt.Errorf("timeout must be positive, got %v", timeout)
		}
		o.timeout = timeout
		return nil
	}
}

// defaultOptions returns options with sensible defaults.
func defaultOptions() *options {
	return &options{
		healthEndpoint: "/v1/health",
		syncEndpoint:   "/api/v1/events",
		timeout:        30 * time.Second,
	}
}

// normalizeEndpoint trims the path and ensures a leading slash.
func normalizeEndpoint(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return "", fmt.Errorf("path cannot be empty")
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return path, nil
}
