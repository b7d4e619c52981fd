// Package cursor tracks per-bucket synchronization progress.
package cursor

import (
	"context"
	"errors"
	"time"
)

// Status is the outcome of the most recent sync attempt for a bucket.
type Status string

const (
	// StatusNever means no event has been confirmed as synced yet.
	StatusNever Status = "never"

	// StatusSuccess means the last attempt transmitted every selected event.
	StatusSuccess Status = "success"

	// StatusPartial means the last attempt transmitted a prefix before failing.
	StatusPartial Status = "partial"

	// StatusFailed means the last attempt transmitted nothing.
	StatusFailed Status = "failed"
)

var (
	// ErrCursorRegression is returned when a success would move a cursor backwards.
	ErrCursorRegression = errors.New("cursor regression")

	// ErrStorage wraps failures of the persistence backend.
	ErrStorage = errors.New("cursor storage")
)

// Cursor is the persisted sync position of one bucket.
type Cursor struct {
	// BucketID identifies the bucket the cursor belongs to.
	BucketID string `json:"bucket_id"`

	// CreatedAt is when the cursor was first created.
	CreatedAt time.Time `json:"created_at"`

	// LastError is the message recorded by the most recent failure.
	LastError string `json:"last_error,omitempty"`

	// LastSyncedEventID is the id of the last event confirmed by the backend.
	LastSyncedEventID *int64 `json:"last_synced_event_id,omitempty"`

	// LastSyncedTimestamp is the timestamp of the last event confirmed by the backend.
	LastSyncedTimestamp *time.Time `json:"last_synced_timestamp,omitempty"`

	// Status is the outcome of the most recent attempt.
	Status Status `json:"status"`

	// TotalEventsSynced counts every event credited to this bucket.
	TotalEventsSynced int64 `json:"total_events_synced"`

	// UpdatedAt is when the cursor last changed.
	UpdatedAt time.Time `json:"updated_at"`
}

// Positioned reports whether the cursor holds a sync position.
func (c Cursor) Positioned() bool {
	return c.LastSyncedEventID != nil
}

// clone returns a copy that shares no pointers with c.
func (c Cursor) clone() Cursor {
	out := c
	if c.LastSyncedEventID != nil {
		id := *c.LastSyncedEventID
		out.LastSyncedEventID = &id
	}
	if c.LastSyncedTimestamp != nil {
		ts := *c.LastSyncedTimestamp
		out.LastSyncedTimestamp = &ts
	}
	return out
}

// Backend persists cursors. Implementations must make each write durable
// before returning and must never leave a partially written record readable.
type Backend interface {
	// Load returns every persisted cursor keyed by bucket id.
	Load(ctx context.Context) (map[string]Cursor, error)

	// Put creates or replaces the cursor for c.BucketID.
	Put(ctx context.Context, c Cursor) error

	// Delete removes the cursor for bucketID. Deleting a missing cursor is not an error.
	Delete(ctx context.Context, bucketID string) error
}
