// Package httpclient provides HTTP client functionality for the external
// service clients.
package httpclient

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sheetbridge/sheetbridge/internal/creds"
)

const (
	// DefaultTimeout is the default timeout for HTTP requests.
	DefaultTimeout = 10 * time.Second

	// MaxResponseSize is the maximum allowed response size (16MB).
	MaxResponseSize = 16 * 1024 * 1024

	// UserAgent is the user agent string for HTTP requests.
	UserAgent = "sheetbridge/1.0"
)

// Client is an interface for HTTP operations against the remote services.
type Client interface {
	// Get performs an HTTP GET request and returns the response body.
	Get(ctx context.Context, url string) ([]byte, error)

	// PostJSON performs an HTTP POST request with a JSON body and returns
	// the response body.
	PostJSON(ctx context.Context, url string, body []byte) ([]byte, error)
}

// DefaultClient is the default HTTP client implementation. When constructed
// with a credential provider it attaches a bearer token to every request.
type DefaultClient struct {
	client *http.Client
	creds  creds.Provider
}

// Option configures a DefaultClient.
type Option func(*DefaultClient)

// WithTimeout sets the per-request timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *DefaultClient) {
		if timeout > 0 {
			c.client.Timeout = timeout
		}
	}
}

// WithCredentials sets the credential provider used to authenticate requests.
func WithCredentials(provider creds.Provider) Option {
	return func(c *DefaultClient) {
		c.creds = provider
	}
}

// NewDefaultClient creates a new default HTTP client.
func NewDefaultClient(opts ...Option) *DefaultClient {
	c := &DefaultClient{
		client: &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get performs an HTTP GET request.
func (c *DefaultClient) Get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	return c.do(req)
}

// PostJSON performs an HTTP POST request with a JSON body.
func (c *DefaultClient) PostJSON(ctx context.Context, url string, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req)
}

func (c *DefaultClient) do(req *http.Request) ([]byte, error) {
	req.Header.Set("User-Agent", UserAgent)
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json")
	}

	if c.creds != nil {
		token, err := c.creds.Token(req.Context())
		if err != nil {
			return nil, fmt.Errorf("failed to get credential: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, NewHTTPError(resp.StatusCode, req.URL.String(), resp.Status)
	}

	// Read response body with size limit. +1 to detect if the limit is
	// exceeded.
	limitedReader := io.LimitReader(resp.Body, MaxResponseSize+1)
	body, err := io.ReadAll(limitedReader)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if int64(len(body)) > MaxResponseSize {
		return nil, fmt.Errorf("response size exceeds maximum allowed size of %d bytes", MaxResponseSize)
	}

	return body, nil
}
