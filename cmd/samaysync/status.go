package main

import (
	"context"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/peteski22/samaysync/internal/activitywatch"
	"github.com/peteski22/samaysync/internal/app"
	"github.com/peteski22/samaysync/internal/cursor"
)

// statusView is the report printed by the status command.
//
//nolint:tagliatelle // Status API uses snake_case.
type statusView struct {
	Authenticated bool                `json:"authenticated"`
	Buckets       []bucketStatus      `json:"buckets,omitempty"`
	Cursors       cursor.Summary      `json:"cursors"`
	Database      *activitywatch.Info `json:"database,omitempty"`
	DatabaseError string              `json:"database_error,omitempty"`
	ServerError   string              `json:"server_error,omitempty"`
	ServerHealthy bool                `json:"server_healthy"`
	ServerURL     string              `json:"server_url"`
}

// bucketStatus describes one bucket as recorded in the activity database.
//
//nolint:tagliatelle // Status API uses snake_case.
type bucketStatus struct {
	EventCount  int64      `json:"event_count"`
	Hostname    string     `json:"hostname"`
	ID          string     `json:"id"`
	LatestEvent *time.Time `json:"latest_event,omitempty"`
	Type        string     `json:"type"`
}

func newStatusCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show authentication, server, database and cursor status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStatus(cmd.Context(), cmd.OutOrStdout(), flags)
		},
	}
}

func runStatus(ctx context.Context, w io.Writer, flags *globalFlags) error {
	settings, err := flags.settings()
	if err != nil {
		return err
	}

	a, err := app.Base(ctx, settings, app.Options{})
	if err != nil {
		return err
	}
	defer func() { _ = a.Close(ctx) }()

	view, err := collectStatus(ctx, a)
	if err != nil {
		return err
	}

	if flags.output == outputJSON {
		return printJSON(w, view)
	}
	printStatus(w, view)
	return nil
}

// collectStatus gathers the status view. Server and database problems are
// reported in the view rather than returned.
func collectStatus(ctx context.Context, a *app.App) (statusView, error) {
	view := statusView{
		Authenticated: a.Auth.IsAuthenticated(ctx),
		ServerURL:     a.Settings.Server.BaseURL,
	}

	store, err := a.CursorStore(ctx)
	if err != nil {
		return statusView{}, err
	}
	view.Cursors = store.Summary()

	client, err := a.Backend()
	if err != nil {
		return statusView{}, err
	}
	if err := client.Health(ctx); err != nil {
		view.ServerError = err.Error()
	} else {
		view.ServerHealthy = true
	}

	source, err := activitywatch.Open(ctx, a.Settings.Database.Path,
		activitywatch.WithBusyTimeout(a.Settings.Database.Timeout),
		activitywatch.WithLogger(a.Logger),
	)
	if err != nil {
		view.DatabaseError = err.Error()
		return view, nil
	}
	defer func() { _ = source.Close() }()

	info, err := source.Info(ctx)
	if err != nil {
		view.DatabaseError = err.Error()
		return view, nil
	}
	view.Database = &info

	if view.Buckets, err = collectBuckets(ctx, source); err != nil {
		view.DatabaseError = err.Error()
	}

	return view, nil
}

func collectBuckets(ctx context.Context, source *activitywatch.Source) ([]bucketStatus, error) {
	buckets, err := source.BucketInfo(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]bucketStatus, 0, len(buckets))
	for _, b := range buckets {
		count, err := source.EventCount(ctx, b.ID)
		if err != nil {
			return nil, err
		}
		latest, err := source.LatestEventTimestamp(ctx, b.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, bucketStatus{
			EventCount:  count,
			Hostname:    b.Hostname,
			ID:          b.ID,
			LatestEvent: latest,
			Type:        b.Type,
		})
	}
	return out, nil
}

func printStatus(w io.Writer, v statusView) {
	_, _ = fmt.Fprintln(w, "=== Samay Sync Status ===")
	_, _ = fmt.Fprintln(w)
	_, _ = fmt.Fprintf(w, "Authenticated: %s\n", yesNo(v.Authenticated))

	if v.ServerHealthy {
		_, _ = fmt.Fprintf(w, "Server:        %s (healthy)\n", v.ServerURL)
	} else {
		_, _ = fmt.Fprintf(w, "Server:        %s (unreachable: %s)\n", v.ServerURL, v.ServerError)
	}

	if v.Database != nil {
		_, _ = fmt.Fprintf(w, "Database:      %s (%d buckets, %d events)\n",
			v.Database.Path, v.Database.BucketCount, v.Database.EventCount)
	} else {
		_, _ = fmt.Fprintf(w, "Database:      unavailable: %s\n", v.DatabaseError)
	}
	for _, b := range v.Buckets {
		latest := "never"
		if b.LatestEvent != nil {
			latest = b.LatestEvent.Format(time.RFC3339)
		}
		_, _ = fmt.Fprintf(w, "  %-40s %6d events, latest %s\n", b.ID, b.EventCount, latest)
	}

	_, _ = fmt.Fprintln(w)
	_, _ = fmt.Fprintf(w, "Overall:       %s\n", v.Cursors.OverallStatus)
	_, _ = fmt.Fprintf(w, "Events synced: %d\n", v.Cursors.TotalEventsSynced)

	ids := make([]string, 0, len(v.Cursors.Buckets))
	for id := range v.Cursors.Buckets {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		b := v.Cursors.Buckets[id]
		_, _ = fmt.Fprintf(w, "  %-40s %-8s %d events\n", id, b.Status, b.EventsSynced)
		if b.LastError != "" {
			_, _ = fmt.Fprintf(w, "    last error: %s\n", b.LastError)
		}
	}
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
