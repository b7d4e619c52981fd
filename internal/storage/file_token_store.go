package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/peteski22/samaysync/internal/auth"
)

// FileTokenStore stores OAuth tokens as JSON in a local file readable only by the owner.
type FileTokenStore struct {
	path string
}

// NewFileTokenStore creates a new FileTokenStore that reads/writes to the given path.
func NewFileTokenStore(path string) (*FileTokenStore, error) {
	if path == "" {
		return nil, fmt.Errorf("token file path is required")
	}
	return &FileTokenStore{path: path}, nil
}

// Path returns the token file path.
func (s *FileTokenStore) Path() string {
	return s.path
}

// Load returns the stored tokens, or auth.ErrNoToken if the file is missing or empty.
func (s *FileTokenStore) Load(_ context.Context) (auth.TokenSet, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return auth.TokenSet{}, fmt.Errorf("%w: %s (run 'samaysync auth' to authenticate)", auth.ErrNoToken, s.path)
		}
		return auth.TokenSet{}, fmt.Errorf("reading token file: %w", err)
	}

	var tokens auth.TokenSet
	if err := json.Unmarshal(data, &tokens); err != nil {
		return auth.TokenSet{}, fmt.Errorf("decoding token file: %w", err)
	}
	if tokens.Empty() {
		return auth.TokenSet{}, fmt.Errorf("%w: token file is empty: %s", auth.ErrNoToken, s.path)
	}

	return tokens, nil
}

// Save writes the tokens to the file atomically.
func (s *FileTokenStore) Save(_ context.Context, tokens auth.TokenSet) error {
	data, err := json.MarshalIndent(tokens, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding tokens: %w", err)
	}

	if err := writeFileAtomic(s.path, append(data, '\n'), 0o600); err != nil {
		return fmt.Errorf("writing token file: %w", err)
	}

	return nil
}

// Clear deletes the token file.
func (s *FileTokenStore) Clear(_ context.Context) error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing token file: %w", err)
	}
	return nil
}
