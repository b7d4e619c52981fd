package backend

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/peteski22/samaysync/internal/activitywatch"
)

// DryRunClient logs the batches it would send and reports success without
// contacting the backend.
type DryRunClient struct {
	batches atomic.Uint64
	events  atomic.Uint64
	logger  *slog.Logger
}

// NewDryRunClient creates a DryRunClient. A nil logger uses slog.Default().
func NewDryRunClient(logger *slog.Logger) *DryRunClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &DryRunClient{logger: logger}
}

// SendEvents logs what would be sent and returns nil.
func (d *DryRunClient) SendEvents(_ context.Context, _ string, bucketID string, events []activitywatch.Event) error {
	d.batches.Add(1)
	d.events.Add(uint64(len(events)))

	attrs := []any{"bucket_id", bucketID, "event_count", len(events)}
	if len(events) > 0 {
		attrs = append(attrs,
			"first_event_id", events[0].ID,
			"last_event_id", events[len(events)-1].ID)
	}
	d.logger.Info("[DRY-RUN] would send events", attrs...)

	return nil
}

// Sent returns the number of batches and events that would have been sent.
func (d *DryRunClient) Sent() (batches uint64, events uint64) {
	return d.batches.Load(), d.events.Load()
}
