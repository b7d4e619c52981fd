package sync

import (
	"context"
	"time"

	"github.com/peteski22/samaysync/internal/activitywatch"
	"github.com/peteski22/samaysync/internal/cursor"
)

// Authenticator supplies bearer tokens for the backend.
type Authenticator interface {
	// BearerToken returns a usable access token, refreshing it if needed.
	BearerToken(ctx context.Context) (string, error)

	// Invalidate discards the cached access token so the next BearerToken
	// call must refresh it.
	Invalidate()
}

// CursorStore is the subset of cursor.Store used during a pass.
type CursorStore interface {
	// GetOrCreate returns the bucket's cursor, creating a never-synced one if absent.
	GetOrCreate(ctx context.Context, bucketID string) (cursor.Cursor, error)

	// RecordFailure marks the bucket's last attempt as failed.
	RecordFailure(ctx context.Context, bucketID string, message string, eventsSyncedBeforeFailure int) error

	// RecordSuccess advances the bucket's cursor to the last sent event.
	RecordSuccess(ctx context.Context, bucketID string, lastEventTimestamp time.Time, lastEventID int64, eventsSynced int) error
}

// EventSource lists buckets and their events.
type EventSource interface {
	// Buckets returns the ids of all buckets.
	Buckets(ctx context.Context) ([]string, error)

	// Events returns every event in the bucket in ascending id order.
	Events(ctx context.Context, bucketID string) ([]activitywatch.Event, error)
}

// Sender transmits a bucket's events to the backend as one batch.
type Sender interface {
	// SendEvents returns nil when the backend accepted the batch.
	SendEvents(ctx context.Context, accessToken string, bucketID string, events []activitywatch.Event) error
}

// Runner executes a single sync pass.
type Runner interface {
	// Run performs one pass and always returns a report.
	Run(ctx context.Context) *Report
}
