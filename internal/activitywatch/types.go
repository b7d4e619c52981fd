// Package activitywatch reads buckets and events from a local ActivityWatch SQLite database.
package activitywatch

import "time"

// Bucket describes one event stream recorded by a watcher.
type Bucket struct {
	// Client is the watcher that created the bucket.
	Client string `json:"client"`

	// Created is when the bucket was registered.
	Created time.Time `json:"created"`

	// Hostname is the machine the bucket belongs to.
	Hostname string `json:"hostname"`

	// ID is the bucket name, e.g. "aw-watcher-window_myhost".
	ID string `json:"id"`

	// Type is the watcher's event type, e.g. "currentwindow".
	Type string `json:"type"`
}

// Event is a single recorded activity event. Events are never modified
// after being read.
type Event struct {
	// BucketID is the bucket the event belongs to.
	BucketID string `json:"bucket_id"`

	// Data is the watcher-specific payload.
	Data map[string]any `json:"data"`

	// Duration is the event length in seconds.
	Duration float64 `json:"duration"`

	// ID is the database row id. It increases with insertion order.
	ID int64 `json:"id"`

	// Timestamp is when the event started.
	Timestamp time.Time `json:"timestamp"`
}

// Info summarizes the database contents.
type Info struct {
	BucketCount int      `json:"bucket_count"`
	EventCount  int64    `json:"event_count"`
	Path        string   `json:"path"`
	Tables      []string `json:"tables"`
}
