// Package creds supplies bearer credentials to the external service clients.
// Token acquisition and refresh are handled by whatever sits behind the
// Provider; callers only ask for a currently valid token.
package creds

import (
	"context"
	"fmt"

	"golang.org/x/oauth2"
)

// Provider returns a currently valid bearer token.
type Provider interface {
	Token(ctx context.Context) (string, error)
}

// StaticProvider returns a fixed token. Suitable for service-account style
// deployments where an external agent rotates the token file and restarts
// the process, and for tests.
type StaticProvider struct {
	token string
}

// NewStaticProvider creates a provider that always returns the given token.
func NewStaticProvider(token string) (*StaticProvider, error) {
	if token == "" {
		return nil, fmt.Errorf("token is required")
	}
	return &StaticProvider{token: token}, nil
}

// Token implements Provider.
func (p *StaticProvider) Token(_ context.Context) (string, error) {
	return p.token, nil
}

// TokenSourceProvider adapts an oauth2.TokenSource, which performs its own
// refresh, to the Provider interface.
type TokenSourceProvider struct {
	source oauth2.TokenSource
}

// NewTokenSourceProvider creates a provider backed by the given token source.
func NewTokenSourceProvider(source oauth2.TokenSource) (*TokenSourceProvider, error) {
	if source == nil {
		return nil, fmt.Errorf("token source is required")
	}
	return &TokenSourceProvider{source: source}, nil
}

// Token implements Provider.
func (p *TokenSourceProvider) Token(_ context.Context) (string, error) {
	tok, err := p.source.Token()
	if err != nil {
		return "", fmt.Errorf("failed to obtain token: %w", err)
	}
	if !tok.Valid() {
		return "", fmt.Errorf("token source returned an expired token")
	}
	return tok.AccessToken, nil
}
