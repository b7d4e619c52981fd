// Package auth provides OAuth 2.0 bearer credentials for the sync backend.
package auth

import (
	"context"
	"errors"
	"time"
)

const (
	// defaultTokenDuration is used when the server doesn't return an expiry time.
	defaultTokenDuration = 60 * time.Minute

	// tokenExpiryBuffer is the time before expiry to trigger a refresh.
	tokenExpiryBuffer = 5 * time.Minute
)

var (
	// ErrAuthRequired is returned when no usable bearer token can be obtained
	// and the user must log in again.
	ErrAuthRequired = errors.New("authentication required")

	// ErrNoToken is returned by a TokenStore that holds no tokens.
	ErrNoToken = errors.New("no stored token")
)

// TokenSet is the persisted result of an authorization or refresh grant.
//
//nolint:tagliatelle // Stored with OAuth field names.
type TokenSet struct {
	AccessToken  string    `json:"access_token"`
	ExpiresAt    time.Time `json:"expires_at"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	StoredAt     time.Time `json:"stored_at"`
	TokenType    string    `json:"token_type"`
}

// Valid reports whether the access token can be used at now without
// entering the refresh window. A zero ExpiresAt is treated as non-expiring.
func (t TokenSet) Valid(now time.Time) bool {
	if t.AccessToken == "" {
		return false
	}
	if t.ExpiresAt.IsZero() {
		return true
	}
	return now.Before(t.ExpiresAt.Add(-tokenExpiryBuffer))
}

// Empty reports whether the set carries neither an access nor a refresh token.
func (t TokenSet) Empty() bool {
	return t.AccessToken == "" && t.RefreshToken == ""
}

// TokenStore persists tokens between runs.
type TokenStore interface {
	// Load returns the stored tokens, or ErrNoToken if there are none.
	Load(ctx context.Context) (TokenSet, error)

	// Save replaces the stored tokens.
	Save(ctx context.Context, tokens TokenSet) error

	// Clear removes the stored tokens.
	Clear(ctx context.Context) error
}
