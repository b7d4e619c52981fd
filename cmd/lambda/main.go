// Package main provides the Lambda handler entry point for samaysync.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/lambda"

	"github.com/peteski22/samaysync/internal/app"
	"github.com/peteski22/samaysync/internal/config"
	syncer "github.com/peteski22/samaysync/internal/sync"
)

// errPassFailed marks an invocation whose pass reported errors.
var errPassFailed = errors.New("sync pass completed with errors")

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// Lambda only allows writes under /tmp.
	if os.Getenv("HOME") == "" {
		_ = os.Setenv("HOME", os.TempDir())
	}

	lambda.Start(newHandler(func() (*config.Settings, error) { return config.Load("") }, os.Stdout))
}

// newHandler returns a handler that runs one pass per invocation using
// settings from load. Logs go to console as JSON.
func newHandler(
	load func() (*config.Settings, error),
	console io.Writer,
) func(ctx context.Context) (*syncer.Report, error) {
	return func(ctx context.Context) (*syncer.Report, error) {
		slog.InfoContext(ctx, "starting sync")

		settings, err := load()
		if err != nil {
			return nil, fmt.Errorf("loading config: %w", err)
		}

		// CloudWatch collects stdout; there is no log directory to rotate.
		settings.Logging.Dir = ""
		settings.Logging.Format = "json"

		a, err := app.New(ctx, *settings, app.Options{Console: console})
		if err != nil {
			return nil, err
		}
		defer func() {
			if err := a.Close(ctx); err != nil {
				slog.WarnContext(ctx, "closing components", slog.String("error", err.Error()))
			}
		}()

		report := a.Service.Run(ctx)
		if !report.Success {
			slog.ErrorContext(ctx, "sync failed",
				slog.String("pass_id", report.PassID),
				slog.Any("errors", report.Errors),
			)
			return report, errPassFailed
		}

		slog.InfoContext(ctx, "sync complete",
			slog.String("pass_id", report.PassID),
			slog.Int("events_synced", report.EventsSynced),
		)
		return report, nil
	}
}
