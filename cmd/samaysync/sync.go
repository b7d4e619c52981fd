package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/peteski22/samaysync/internal/app"
	syncer "github.com/peteski22/samaysync/internal/sync"
)

func newSyncCmd(flags *globalFlags) *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run one sync pass and print the report",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSync(cmd.Context(), cmd.OutOrStdout(), flags, dryRun)
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "log what would be sent without sending or saving progress")

	return cmd
}

func newRunCmd(flags *globalFlags) *cobra.Command {
	var (
		dryRun      bool
		syncOnStart bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Sync on an interval until interrupted",
		Long: `Run starts the background scheduler and, when status_api.addr is set, the
local status API. It stops on SIGINT or SIGTERM, waiting for an in-flight pass.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runAgent(ctx, cmd.OutOrStdout(), flags, dryRun, syncOnStart)
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "log what would be sent without sending or saving progress")
	cmd.Flags().BoolVar(&syncOnStart, "sync-on-start", false, "run a pass immediately instead of waiting one interval")

	return cmd
}

// runSync runs a single pass and prints its report.
func runSync(ctx context.Context, w io.Writer, flags *globalFlags, dryRun bool) error {
	settings, err := flags.settings()
	if err != nil {
		return err
	}

	a, err := app.New(ctx, settings, app.Options{DryRun: dryRun})
	if err != nil {
		return err
	}
	defer func() { _ = a.Close(ctx) }()

	report := a.Service.Run(ctx)
	if err := printReport(w, flags.output, report); err != nil {
		return err
	}
	if !report.Success {
		return errPassFailed
	}
	return nil
}

// runAgent runs the scheduler, and the status API when configured, until ctx is done.
func runAgent(ctx context.Context, w io.Writer, flags *globalFlags, dryRun bool, syncOnStart bool) error {
	settings, err := flags.settings()
	if err != nil {
		return err
	}

	// Cleanup runs after ctx is cancelled.
	cleanupCtx := context.WithoutCancel(ctx)

	a, err := app.New(ctx, settings, app.Options{DryRun: dryRun})
	if err != nil {
		return err
	}
	defer func() { _ = a.Close(cleanupCtx) }()

	if settings.StatusAPI.Addr != "" {
		server, err := a.StatusServer()
		if err != nil {
			return err
		}
		if err := server.Start(); err != nil {
			return err
		}
		defer func() { _ = server.Shutdown(cleanupCtx) }()

		_, _ = fmt.Fprintf(w, "Status API listening on http://%s\n", server.Addr())
	}

	if syncOnStart {
		// A signal must not abort the pass mid-batch.
		report := a.Scheduler.SyncNow(context.WithoutCancel(ctx))
		if err := printReport(w, flags.output, report); err != nil {
			return err
		}
	}

	a.Scheduler.Start()
	_, _ = fmt.Fprintf(w, "Syncing every %s. Press Ctrl+C to stop.\n", settings.Sync.Interval)

	<-ctx.Done()

	if err := a.Scheduler.Stop(); err != nil {
		if errors.Is(err, syncer.ErrStopTimeout) {
			a.Logger.Warn("exiting with a sync pass still running")
			return nil
		}
		return err
	}
	return nil
}

// printReport writes report in the selected output format.
func printReport(w io.Writer, output string, report *syncer.Report) error {
	if output == outputJSON {
		return printJSON(w, report)
	}

	prefix := ""
	if report.DryRun {
		prefix = "[DRY-RUN] "
	}

	result := "succeeded"
	if !report.Success {
		result = "failed"
	}

	_, _ = fmt.Fprintf(w, "%sSync pass %s in %s\n", prefix, result, report.Duration.Round(time.Millisecond))
	_, _ = fmt.Fprintf(w, "  Buckets synced: %d/%d\n", report.BucketsSynced, len(report.Buckets))
	_, _ = fmt.Fprintf(w, "  Events synced:  %d\n", report.EventsSynced)

	if len(report.Errors) > 0 {
		_, _ = fmt.Fprintln(w, "  Errors:")
		for _, e := range report.Errors {
			_, _ = fmt.Fprintf(w, "    - %s\n", e)
		}
	}
	return nil
}
