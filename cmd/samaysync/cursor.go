package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/peteski22/samaysync/internal/app"
	"github.com/peteski22/samaysync/internal/cursor"
)

func newCursorCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cursor",
		Short: "Inspect or reset per-bucket sync cursors",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List every cursor",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withCursors(cmd.Context(), flags, func(store *cursor.Store) error {
					return printCursors(cmd.OutOrStdout(), flags.output, store.All())
				})
			},
		},
		&cobra.Command{
			Use:   "show <bucket>",
			Short: "Show the cursor for one bucket",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withCursors(cmd.Context(), flags, func(store *cursor.Store) error {
					c, ok := store.Get(args[0])
					if !ok {
						return fmt.Errorf("no cursor for bucket %s", args[0])
					}
					return printCursors(cmd.OutOrStdout(), flags.output, []cursor.Cursor{c})
				})
			},
		},
		&cobra.Command{
			Use:   "reset <bucket>",
			Short: "Forget a bucket's progress so its events are sent again",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withCursors(cmd.Context(), flags, func(store *cursor.Store) error {
					if err := store.Reset(cmd.Context(), args[0]); err != nil {
						return err
					}
					_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Reset cursor for %s.\n", args[0])
					return nil
				})
			},
		},
	)

	return cmd
}

// withCursors opens the configured cursor store and calls fn with it.
func withCursors(ctx context.Context, flags *globalFlags, fn func(*cursor.Store) error) error {
	settings, err := flags.settings()
	if err != nil {
		return err
	}

	a, err := app.Base(ctx, settings, app.Options{})
	if err != nil {
		return err
	}
	defer func() { _ = a.Close(ctx) }()

	store, err := a.CursorStore(ctx)
	if err != nil {
		return err
	}
	return fn(store)
}

func printCursors(w io.Writer, output string, cursors []cursor.Cursor) error {
	if output == outputJSON {
		return printJSON(w, cursors)
	}

	if len(cursors) == 0 {
		_, _ = fmt.Fprintln(w, "No cursors.")
		return nil
	}

	for _, c := range cursors {
		_, _ = fmt.Fprintf(w, "%s\n", c.BucketID)
		_, _ = fmt.Fprintf(w, "  status:       %s\n", c.Status)
		switch {
		case c.Positioned() && c.LastSyncedTimestamp != nil:
			_, _ = fmt.Fprintf(w, "  last event:   %d at %s\n", *c.LastSyncedEventID, c.LastSyncedTimestamp.Format(time.RFC3339))
		case c.Positioned():
			_, _ = fmt.Fprintf(w, "  last event:   %d\n", *c.LastSyncedEventID)
		default:
			_, _ = fmt.Fprintln(w, "  last event:   none")
		}
		_, _ = fmt.Fprintf(w, "  total events: %d\n", c.TotalEventsSynced)
		if c.LastError != "" {
			_, _ = fmt.Fprintf(w, "  last error:   %s\n", c.LastError)
		}
	}
	return nil
}
