package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/peteski22/samaysync/internal/config"
)

func TestConfigTemplate(t *testing.T) {
	t.Parallel()

	for _, section := range []string{
		"oauth:", "server:", "database:", "sync:", "storage:", "logging:", "tracing:", "status_api:",
	} {
		require.Contains(t, configTemplate, section)
	}
}

func TestRunInitCreatesConfig(t *testing.T) {
	// Cannot use t.Parallel() with t.Setenv().

	tmpHome := t.TempDir()
	t.Setenv("HOME", tmpHome)

	var out bytes.Buffer
	require.NoError(t, runInit(&out))
	require.Contains(t, out.String(), "samaysync auth")

	configPath := filepath.Join(tmpHome, ".samay_sync", "config.yaml")
	data, err := os.ReadFile(configPath)
	require.NoError(t, err)
	require.Equal(t, configTemplate, string(data))

	info, err := os.Stat(configPath)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	dirInfo, err := os.Stat(filepath.Join(tmpHome, ".samay_sync"))
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o700), dirInfo.Mode().Perm())
}

func TestRunInitTemplateLoads(t *testing.T) {
	// Cannot use t.Parallel() with t.Setenv().

	tmpHome := t.TempDir()
	t.Setenv("HOME", tmpHome)

	require.NoError(t, runInit(&bytes.Buffer{}))

	// The placeholder client id is rejected until it is replaced.
	_, err := config.Load("")
	require.Error(t, err)
	require.Contains(t, err.Error(), "oauth.client_id must be configured")

	configPath := filepath.Join(tmpHome, ".samay_sync", "config.yaml")
	data, err := os.ReadFile(configPath)
	require.NoError(t, err)
	edited := strings.Replace(string(data), "placeholder_client_id", "my-client", 1)
	require.NoError(t, os.WriteFile(configPath, []byte(edited), 0o600))

	settings, err := config.Load("")
	require.NoError(t, err)
	require.Equal(t, "my-client", settings.OAuth.ClientID)
	require.Equal(t, "127.0.0.1:54784", settings.StatusAPI.Addr)
	require.Equal(t, filepath.Join(tmpHome, ".samay_sync", "sync_state.json"), settings.Sync.StateFilePath)
}

func TestRunInitFailsIfConfigExists(t *testing.T) {
	// Cannot use t.Parallel() with t.Setenv().

	tmpHome := t.TempDir()
	configDir := filepath.Join(tmpHome, ".samay_sync")
	require.NoError(t, os.MkdirAll(configDir, 0o700))
	configPath := filepath.Join(configDir, "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("existing config"), 0o600))

	t.Setenv("HOME", tmpHome)

	err := runInit(&bytes.Buffer{})

	require.Error(t, err)
	require.Contains(t, err.Error(), "config file already exists")

	data, err := os.ReadFile(configPath)
	require.NoError(t, err)
	require.Equal(t, "existing config", string(data))
}
