// Package logging builds the structured logger, writing to the console and a
// size-rotated log file.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// FileName is the name of the rotating log file inside the log directory.
const FileName = "sync_manager.log"

// Config holds logging configuration.
type Config struct {
	// Console receives log output alongside the file. Defaults to os.Stderr.
	Console io.Writer

	// Dir is the directory for the rotating log file. Empty disables file output.
	Dir string

	// Format is text or json. Defaults to text.
	Format string

	// Level is debug, info, warn or error. Defaults to info.
	Level string

	// MaxAgeDays is how long rotated files are kept.
	MaxAgeDays int

	// MaxBackups is how many rotated files are kept.
	MaxBackups int

	// MaxSizeMB is the size at which the file is rotated.
	MaxSizeMB int
}

// New creates a logger from cfg. The returned closer releases the log file
// and must be called on shutdown.
func New(cfg Config) (*slog.Logger, io.Closer, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, nil, err
	}

	out := cfg.Console
	if out == nil {
		out = os.Stderr
	}

	var closer io.Closer = nopCloser{}
	if cfg.Dir != "" {
		if err := os.MkdirAll(cfg.Dir, 0o700); err != nil {
			return nil, nil, fmt.Errorf("creating log directory: %w", err)
		}

		file := &lumberjack.Logger{
			Filename:   filepath.Join(cfg.Dir, FileName),
			MaxAge:     cfg.MaxAgeDays,
			MaxBackups: cfg.MaxBackups,
			MaxSize:    cfg.MaxSizeMB,
		}
		out = io.MultiWriter(out, file)
		closer = file
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(out, opts)
	case "", "text":
		handler = slog.NewTextHandler(out, opts)
	default:
		_ = closer.Close()
		return nil, nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}

	return slog.New(handler), closer, nil
}

// ParseLevel converts a level name to a slog.Level. Empty means info.
func ParseLevel(name string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unknown log level %q", name)
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
