package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
)

const (
	// challengeMethod is the only PKCE method sent to the server.
	challengeMethod = "S256"

	// randomByteLength yields 43-character base64url strings.
	randomByteLength = 32
)

// PKCE holds a code verifier and its derived challenge.
type PKCE struct {
	Challenge string
	Method    string
	Verifier  string
}

// NewPKCE generates a fresh verifier and its S256 challenge.
func NewPKCE() (PKCE, error) {
	verifier, err := randomString()
	if err != nil {
		return PKCE{}, fmt.Errorf("generating code verifier: %w", err)
	}

	return PKCE{
		Challenge: challengeFor(verifier),
		Method:    challengeMethod,
		Verifier:  verifier,
	}, nil
}

// NewState generates a random state value for CSRF protection.
func NewState() (string, error) {
	state, err := randomString()
	if err != nil {
		return "", fmt.Errorf("generating state: %w", err)
	}
	return state, nil
}

// challengeFor derives the S256 code challenge for verifier.
func challengeFor(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// randomString returns randomByteLength random bytes as unpadded base64url.
func randomString() (string, error) {
	b := make([]byte, randomByteLength)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
