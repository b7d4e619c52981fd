package sync

import (
	"context"
	"fmt"

	"github.com/peteski22/samaysync/internal/activitywatch"
)

// SelectUnsynced returns the events that have not yet been sent for the
// bucket, preserving input order. The bucket's cursor is created if it does
// not exist. Without a stored position every event is returned; otherwise only
// events with an id greater than the stored id are.
func SelectUnsynced(
	ctx context.Context,
	store CursorStore,
	bucketID string,
	events []activitywatch.Event,
) ([]activitywatch.Event, error) {
	c, err := store.GetOrCreate(ctx, bucketID)
	if err != nil {
		return nil, fmt.Errorf("getting cursor: %w", err)
	}

	if c.LastSyncedEventID == nil {
		return events, nil
	}

	lastID := *c.LastSyncedEventID
	unsynced := make([]activitywatch.Event, 0, len(events))
	for _, e := range events {
		if e.ID > lastID {
			unsynced = append(unsynced, e)
		}
	}

	return unsynced, nil
}
