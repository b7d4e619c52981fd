package activitywatch

import (
	"fmt"
	"log/slog"
	"time"
)

// Option configures optional Source settings.
type Option func(*options) error

// options holds optional configuration for opening a Source.
type options struct {
	// batchSize is the number of rows read per query when paging events.
	batchSize int

	// busyTimeout is how long SQLite waits on a locked database.
	busyTimeout time.Duration

	// logger is the structured logger for the source.
	logger *slog.Logger
}

// WithBatchSize sets the number of events read per query.
func WithBatchSize(n int) Option {
	return func(o *options) error {
		if n <= 0 {
			return fmt.Errorf("batch size must be positive, got %d", n)
		}
		o.batchSize = n
		return nil
	}
}

// WithBusyTimeout sets how long reads wait for the watcher's write lock.
func WithBusyTimeout(timeout time.Duration) Option {
	return func(o *options) error {
		if timeout <= 0 {
			return fmt.Errorf("busy timeout must be positive, got %v", timeout)
		}
		o.busyTimeout = timeout
		return nil
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) error {
		if logger == nil {
			return fmt.Errorf("logger cannot be nil")
		}
		o.logger = logger
		return nil
	}
}

// defaultOptions returns options with sensible defaults.
func defaultOptions() *options {
	return &options{
		batchSize:   1000,
		busyTimeout: 30 * time.Second,
		logger:      slog.Default(),
	}
}
