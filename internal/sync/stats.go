package sync

import (
	"sync"
	"time"
)

// statsRecorder folds reports into Statistics.
type statsRecorder struct {
	mu    sync.Mutex
	stats Statistics
}

// record adds a finished pass to the running totals.
func (r *statsRecorder) record(report *Report) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.stats.TotalSyncs++
	if report.Success {
		r.stats.SuccessfulSyncs++
	} else {
		r.stats.FailedSyncs++
	}
	r.stats.TotalEventsSynced += int64(report.EventsSynced)

	finished := report.StartedAt.Add(report.Duration)
	r.stats.LastSyncTime = &finished

	n := float64(r.stats.TotalSyncs)
	r.stats.AverageDuration = time.Duration((float64(r.stats.AverageDuration)*(n-1) + float64(report.Duration)) / n)
}

// snapshot returns a copy of the current statistics.
func (r *statsRecorder) snapshot() Statistics {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.stats
	if s.LastSyncTime != nil {
		t := *s.LastSyncTime
		s.LastSyncTime = &t
	}
	return s
}
