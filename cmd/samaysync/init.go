package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/peteski22/samaysync/internal/config"
)

const configTemplate = `# Samay Sync Configuration
# Every value can also be set with a SAMAY_* environment variable.

oauth:
  # From the Samay developer console.
  client_id: "placeholder_client_id"
  # Optional for PKCE clients.
  client_secret: ""
  auth_url: "https://auth.example.com/oauth/authorize"
  token_url: "https://auth.example.com/oauth/token"
  redirect_uri: "http://127.0.0.1:54783/callback"

server:
  base_url: "https://api.example.com"
  sync_endpoint: "/api/v1/events"
  health_endpoint: "/v1/health"
  timeout: 30s

database:
  # ActivityWatch database (macOS default shown).
  path: "~/Library/Application Support/activitywatch/aw-server/peewee-sqlite.v2.db"
  timeout: 30s
  batch_size: 1000

sync:
  interval: 5m
  state_file: "~/.samay_sync/sync_state.json"

storage:
  # file, ssm or dynamodb.
  cursor_backend: file
  # file or secretsmanager.
  token_backend: file

logging:
  dir: "~/.samay_sync/logs"
  level: info
  format: text

tracing:
  # none, stdout or otlp.
  exporter: none

status_api:
  # Leave empty to disable the local status API.
  addr: "127.0.0.1:54784"
`

func newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create a sample configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runInit(cmd.OutOrStdout())
		},
	}
}

// runInit creates a sample configuration file.
func runInit(w io.Writer) error {
	configDir, err := config.ConfigDir()
	if err != nil {
		return fmt.Errorf("getting config directory: %w", err)
	}

	configPath, err := config.ConfigFilePath()
	if err != nil {
		return fmt.Errorf("getting config path: %w", err)
	}

	if config.LocalConfigExists() {
		return fmt.Errorf("config file already exists: %s", configPath)
	}

	if err := os.MkdirAll(configDir, 0o700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	if err := os.WriteFile(configPath, []byte(configTemplate), 0o600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	_, _ = fmt.Fprintln(w, "Created config file:", configPath)
	_, _ = fmt.Fprintln(w)
	_, _ = fmt.Fprintln(w, "Next steps:")
	_, _ = fmt.Fprintln(w, "  1. Set oauth.client_id and the server URLs in the config file")
	_, _ = fmt.Fprintln(w, "  2. Run 'samaysync auth' to sign in")
	_, _ = fmt.Fprintln(w, "  3. Run 'samaysync sync --dry-run' to test")

	return nil
}
