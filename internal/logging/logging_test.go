package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		input   string
		want    slog.Level
		wantErr bool
	}{
		"debug":        {input: "debug", want: slog.LevelDebug},
		"empty":        {input: "", want: slog.LevelInfo},
		"mixed case":   {input: " WARN ", want: slog.LevelWarn},
		"warning":      {input: "warning", want: slog.LevelWarn},
		"error":        {input: "error", want: slog.LevelError},
		"unknown name": {input: "verbose", wantErr: true},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			got, err := ParseLevel(tc.input)

			if tc.wantErr {
				require.Error(t, err)
				require.Contains(t, err.Error(), "unknown log level")
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestNew_ConsoleOnly(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger, closer, err := New(Config{Console: &buf, Format: "json", Level: "warn"})
	require.NoError(t, err)
	defer func() { _ = closer.Close() }()

	logger.Info("hidden")
	logger.Warn("shown", "bucket_id", "aw-watcher-window")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	require.Equal(t, "shown", entry["msg"])
	require.Equal(t, "aw-watcher-window", entry["bucket_id"])
}

func TestNew_WritesRotatingFile(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "logs")
	var buf bytes.Buffer

	logger, closer, err := New(Config{Console: &buf, Dir: dir, MaxSizeMB: 1})
	require.NoError(t, err)

	logger.Info("sync pass completed", "events_synced", 3)
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(filepath.Join(dir, FileName))
	require.NoError(t, err)
	require.Contains(t, string(data), "sync pass completed")
	require.Contains(t, string(data), "events_synced=3")
	require.Equal(t, buf.String(), string(data), "console and file receive the same output")
}

func TestNew_InvalidConfig(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		cfg    Config
		errMsg string
	}{
		"unknown level":  {cfg: Config{Level: "loud"}, errMsg: "unknown log level"},
		"unknown format": {cfg: Config{Format: "xml"}, errMsg: "unknown log format"},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			tc.cfg.Console = &bytes.Buffer{}
			_, _, err := New(tc.cfg)

			require.Error(t, err)
			require.Contains(t, err.Error(), tc.errMsg)
		})
	}
}
