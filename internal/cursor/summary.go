package cursor

import "time"

// Overall is the aggregate health across all cursors.
type Overall string

const (
	OverallHealthy     Overall = "healthy"
	OverallPartial     Overall = "partial"
	OverallFailed      Overall = "failed"
	OverallNeverSynced Overall = "never_synced"
)

// BucketSummary is the per-bucket part of a Summary.
type BucketSummary struct {
	EventsSynced int64      `json:"events_synced"`
	LastError    string     `json:"last_error,omitempty"`
	LastSync     *time.Time `json:"last_sync,omitempty"`
	Status       Status     `json:"status"`
}

// Summary aggregates the state of every known cursor.
type Summary struct {
	Buckets           map[string]BucketSummary `json:"buckets"`
	FailedSyncs       int                      `json:"failed_syncs"`
	OverallStatus     Overall                  `json:"overall_status"`
	SuccessfulSyncs   int                      `json:"successful_syncs"`
	TotalBuckets      int                      `json:"total_buckets"`
	TotalEventsSynced int64                    `json:"total_events_synced"`
}

// summarize builds a Summary from a set of cursors.
func summarize(cursors []Cursor) Summary {
	s := Summary{
		Buckets:      make(map[string]BucketSummary, len(cursors)),
		TotalBuckets: len(cursors),
	}

	for _, c := range cursors {
		s.Buckets[c.BucketID] = BucketSummary{
			EventsSynced: c.TotalEventsSynced,
			LastError:    c.LastError,
			LastSync:     c.LastSyncedTimestamp,
			Status:       c.Status,
		}
		s.TotalEventsSynced += c.TotalEventsSynced

		switch c.Status {
		case StatusSuccess:
			s.SuccessfulSyncs++
		case StatusFailed:
			s.FailedSyncs++
		}
	}

	switch {
	case s.FailedSyncs == 0 && s.SuccessfulSyncs > 0:
		s.OverallStatus = OverallHealthy
	case s.FailedSyncs > 0 && s.SuccessfulSyncs > 0:
		s.OverallStatus = OverallPartial
	case s.FailedSyncs > 0:
		s.OverallStatus = OverallFailed
	default:
		s.OverallStatus = OverallNeverSynced
	}

	return s
}
