package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

const (
	defaultCrashPause  = 60 * time.Second
	defaultStopTimeout = 10 * time.Second
)

// ErrStopTimeout is returned by Stop when the in-flight pass did not finish
// within the stop timeout. The scheduler is stopped regardless.
var ErrStopTimeout = errors.New("timed out waiting for sync pass to finish")

// SchedulerConfig controls the background loop.
type SchedulerConfig struct {
	// CrashPause is how long the loop waits after a pass panics. Defaults to 60s.
	CrashPause time.Duration

	// Interval is the time between passes.
	Interval time.Duration

	// StopTimeout bounds how long Stop waits for an in-flight pass. Defaults to 10s.
	StopTimeout time.Duration
}

// validate checks the config and applies defaults.
func (c *SchedulerConfig) validate() error {
	var errs []error
	if c.Interval <= 0 {
		errs = append(errs, fmt.Errorf("interval must be positive, got %v", c.Interval))
	}
	if c.CrashPause < 0 {
		errs = append(errs, fmt.Errorf("crash pause must not be negative, got %v", c.CrashPause))
	}
	if c.StopTimeout < 0 {
		errs = append(errs, fmt.Errorf("stop timeout must not be negative, got %v", c.StopTimeout))
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}

	if c.CrashPause == 0 {
		c.CrashPause = defaultCrashPause
	}
	if c.StopTimeout == 0 {
		c.StopTimeout = defaultStopTimeout
	}
	return nil
}

// Scheduler runs passes on an interval in a background goroutine.
type Scheduler struct {
	config SchedulerConfig
	logger *slog.Logger
	runner Runner
	stats  statsRecorder

	// mu guards the loop state.
	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	// listenersMu guards listeners.
	listenersMu sync.RWMutex
	listeners   map[uint64]func(*Report)
	nextID      uint64
}

// NewScheduler creates a stopped scheduler.
func NewScheduler(runner Runner, cfg SchedulerConfig, logger *slog.Logger) (*Scheduler, error) {
	if runner == nil {
		return nil, errors.New("invalid config: runner is required")
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Scheduler{
		config:    cfg,
		logger:    logger,
		listeners: make(map[uint64]func(*Report)),
		runner:    runner,
	}, nil
}

// Running reports whether the background loop is active.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.done != nil
}

// Start launches the background loop. It does nothing if already running.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.done != nil {
		s.logger.Warn("scheduler already running")
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.cancel = cancel
	s.done = done

	go s.loop(ctx, done)

	s.logger.Info("scheduler started", "interval", s.config.Interval)
}

// Stop signals the loop to exit and waits up to the stop timeout for an
// in-flight pass to finish. The pass itself is not interrupted. Stopping a
// scheduler that is not running does nothing.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if s.done == nil {
		s.mu.Unlock()
		s.logger.Debug("scheduler not running")
		return nil
	}
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	cancel()

	timer := time.NewTimer(s.config.StopTimeout)
	defer timer.Stop()

	select {
	case <-done:
		s.logger.Info("scheduler stopped")
		return nil
	case <-timer.C:
		s.logger.Warn("scheduler stopped while a pass was still running", "timeout", s.config.StopTimeout)
		return ErrStopTimeout
	}
}

// SyncNow runs a pass immediately on the caller's goroutine. It waits for
// any pass already in flight to finish first.
func (s *Scheduler) SyncNow(ctx context.Context) *Report {
	report, _ := s.runPass(ctx)
	return report
}

// Statistics returns a snapshot of the aggregated pass statistics.
func (s *Scheduler) Statistics() Statistics {
	return s.stats.snapshot()
}

// Subscribe registers fn to receive every finished report. The returned
// function removes the subscription.
func (s *Scheduler) Subscribe(fn func(*Report)) func() {
	s.listenersMu.Lock()
	defer s.listenersMu.Unlock()

	id := s.nextID
	s.nextID++
	s.listeners[id] = fn

	return func() {
		s.listenersMu.Lock()
		defer s.listenersMu.Unlock()
		delete(s.listeners, id)
	}
}

// loop waits for each interval and runs a pass until ctx is cancelled.
func (s *Scheduler) loop(ctx context.Context, done chan<- struct{}) {
	defer close(done)

	for {
		if !wait(ctx, s.config.Interval) {
			return
		}

		s.logger.Info("starting scheduled sync")

		// The pass runs detached so Stop never aborts an in-flight request.
		if _, crashed := s.runPass(context.WithoutCancel(ctx)); crashed {
			if !wait(ctx, s.config.CrashPause) {
				return
			}
		}
	}
}

// runPass runs one pass, recovering from panics, and publishes the report.
// The bool result is true when the pass panicked or returned no report.
func (s *Scheduler) runPass(ctx context.Context) (*Report, bool) {
	report, crashed := s.safeRun(ctx)

	s.stats.record(report)
	s.notify(report)

	return report, crashed
}

// safeRun calls the runner and converts a panic into a failed report.
func (s *Scheduler) safeRun(ctx context.Context) (report *Report, crashed bool) {
	started := time.Now()

	defer func() {
		r := recover()
		if r == nil && report != nil {
			return
		}

		msg := "sync pass returned no report"
		if r != nil {
			msg = fmt.Sprintf("sync pass crashed: %v", r)
		}
		s.logger.Error("sync pass failed unexpectedly", "error", msg)

		report = &Report{
			Duration:  time.Since(started),
			Errors:    []string{msg},
			StartedAt: started,
		}
		crashed = true
	}()

	return s.runner.Run(ctx), false
}

// notify delivers the report to every subscriber.
func (s *Scheduler) notify(report *Report) {
	s.listenersMu.RLock()
	defer s.listenersMu.RUnlock()

	for _, fn := range s.listeners {
		fn(report)
	}
}

// wait blocks for d or until ctx is cancelled. It reports whether d elapsed.
func wait(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
