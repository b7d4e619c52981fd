// Package sync runs passes that transmit unsynced activity events to the
// backend and schedules them in the background.
package sync

import (
	"encoding/json"
	"time"
)

// BucketResult is the outcome of one bucket within a pass.
//
//nolint:tagliatelle // Status API uses snake_case.
type BucketResult struct {
	// BucketID identifies the bucket.
	BucketID string `json:"bucket_id"`

	// Error describes why the bucket failed. Empty when Synced.
	Error string `json:"error,omitempty"`

	// EventsSynced is the number of events the backend accepted.
	EventsSynced int `json:"events_synced"`

	// Outcome is the transmission outcome, or empty when nothing was sent.
	Outcome string `json:"outcome,omitempty"`

	// Synced is true when the bucket was processed without error,
	// including buckets with nothing to send.
	Synced bool `json:"synced"`
}

// Report is the result of a single pass.
type Report struct {
	// Buckets holds per-bucket results in processing order.
	Buckets []BucketResult

	// BucketsSynced counts buckets processed without error.
	BucketsSynced int

	// DryRun is true when nothing was sent or persisted.
	DryRun bool

	// Duration is the wall-clock time the pass took.
	Duration time.Duration

	// Errors lists every failure in the order it occurred.
	Errors []string

	// EventsSynced is the total number of events accepted by the backend.
	EventsSynced int

	// PassID uniquely identifies the pass in logs.
	PassID string

	// StartedAt is when the pass began.
	StartedAt time.Time

	// Success is true when Errors is empty.
	Success bool
}

// reportJSON is the wire form of a Report.
//
//nolint:tagliatelle // Status API uses snake_case.
type reportJSON struct {
	Buckets         []BucketResult `json:"buckets"`
	BucketsSynced   int            `json:"buckets_synced"`
	DryRun          bool           `json:"dry_run"`
	DurationSeconds float64        `json:"duration_seconds"`
	Errors          []string       `json:"errors"`
	EventsSynced    int            `json:"events_synced"`
	PassID          string         `json:"pass_id"`
	StartedAt       time.Time      `json:"started_at"`
	Success         bool           `json:"success"`
}

// MarshalJSON encodes the report with the duration in seconds.
func (r *Report) MarshalJSON() ([]byte, error) {
	errs := r.Errors
	if errs == nil {
		errs = []string{}
	}
	buckets := r.Buckets
	if buckets == nil {
		buckets = []BucketResult{}
	}

	return json.Marshal(reportJSON{
		Buckets:         buckets,
		BucketsSynced:   r.BucketsSynced,
		DryRun:          r.DryRun,
		DurationSeconds: r.Duration.Seconds(),
		Errors:          errs,
		EventsSynced:    r.EventsSynced,
		PassID:          r.PassID,
		StartedAt:       r.StartedAt,
		Success:         r.Success,
	})
}

// Statistics aggregates every pass run by a Scheduler since it was created.
type Statistics struct {
	// AverageDuration is the running mean pass duration.
	AverageDuration time.Duration

	// FailedSyncs counts passes that reported errors.
	FailedSyncs int

	// LastSyncTime is when the most recent pass finished.
	LastSyncTime *time.Time

	// SuccessfulSyncs counts passes without errors.
	SuccessfulSyncs int

	// TotalEventsSynced is the sum of events synced across all passes.
	TotalEventsSynced int64

	// TotalSyncs counts every pass.
	TotalSyncs int
}

// statisticsJSON is the wire form of Statistics.
//
//nolint:tagliatelle // Status API uses snake_case.
type statisticsJSON struct {
	AverageDurationSeconds float64    `json:"average_sync_duration"`
	FailedSyncs            int        `json:"failed_syncs"`
	LastSyncTime           *time.Time `json:"last_sync_time"`
	SuccessfulSyncs        int        `json:"successful_syncs"`
	TotalEventsSynced      int64      `json:"total_events_synced"`
	TotalSyncs             int        `json:"total_syncs"`
}

// MarshalJSON encodes the statistics with the average duration in seconds.
func (s Statistics) MarshalJSON() ([]byte, error) {
	return json.Marshal(statisticsJSON{
		AverageDurationSeconds: s.AverageDuration.Seconds(),
		FailedSyncs:            s.FailedSyncs,
		LastSyncTime:           s.LastSyncTime,
		SuccessfulSyncs:        s.SuccessfulSyncs,
		TotalEventsSynced:      s.TotalEventsSynced,
		TotalSyncs:             s.TotalSyncs,
	})
}
