package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/peteski22/samaysync/internal/auth"
)

func TestNewFileTokenStore(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		path    string
		wantErr bool
		errMsg  string
	}{
		"valid path": {
			path:    "/path/to/tokens.json",
			wantErr: false,
		},
		"empty path": {
			path:    "",
			wantErr: true,
			errMsg:  "token file path is required",
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			store, err := NewFileTokenStore(tc.path)

			if tc.wantErr {
				require.Error(t, err)
				require.Contains(t, err.Error(), tc.errMsg)
				require.Nil(t, store)
			} else {
				require.NoError(t, err)
				require.NotNil(t, store)
			}
		})
	}
}

func TestFileTokenStore_Load(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		setup       func(t *testing.T, dir string) string
		wantAccess  string
		wantNoToken bool
		wantErr     bool
	}{
		"valid token file": {
			setup: func(t *testing.T, dir string) string {
				t.Helper()
				path := filepath.Join(dir, "tokens.json")
				require.NoError(t, os.WriteFile(path, []byte(`{"access_token":"abc","refresh_token":"r"}`), 0o600))
				return path
			},
			wantAccess: "abc",
		},
		"file not found": {
			setup: func(t *testing.T, dir string) string {
				t.Helper()
				return filepath.Join(dir, "missing.json")
			},
			wantErr:     true,
			wantNoToken: true,
		},
		"empty token set": {
			setup: func(t *testing.T, dir string) string {
				t.Helper()
				path := filepath.Join(dir, "tokens.json")
				require.NoError(t, os.WriteFile(path, []byte(`{}`), 0o600))
				return path
			},
			wantErr:     true,
			wantNoToken: true,
		},
		"corrupt file": {
			setup: func(t *testing.T, dir string) string {
				t.Helper()
				path := filepath.Join(dir, "tokens.json")
				require.NoError(t, os.WriteFile(path, []byte(`{not json`), 0o600))
				return path
			},
			wantErr: true,
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			store, err := NewFileTokenStore(tc.setup(t, t.TempDir()))
			require.NoError(t, err)

			tokens, err := store.Load(context.Background())

			if tc.wantErr {
				require.Error(t, err)
				require.Equal(t, tc.wantNoToken, errors.Is(err, auth.ErrNoToken))
			} else {
				require.NoError(t, err)
				require.Equal(t, tc.wantAccess, tokens.AccessToken)
			}
		})
	}
}

func TestFileTokenStore_SaveLoadClear(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", "tokens.json")
	store, err := NewFileTokenStore(path)
	require.NoError(t, err)

	want := auth.TokenSet{
		AccessToken:  "access",
		ExpiresAt:    time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC),
		RefreshToken: "refresh",
		StoredAt:     time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC),
		TokenType:    "Bearer",
	}
	require.NoError(t, store.Save(context.Background(), want))

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	got, err := store.Load(context.Background())
	require.NoError(t, err)
	require.Equal(t, want, got)

	require.NoError(t, store.Clear(context.Background()))
	require.NoError(t, store.Clear(context.Background()))

	_, err = store.Load(context.Background())
	require.ErrorIs(t, err, auth.ErrNoToken)
}
