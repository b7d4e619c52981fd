package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/peteski22/samaysync/internal/activitywatch"
	"github.com/peteski22/samaysync/internal/backend"
)

const (
	// authRequiredMessage is reported when a pass cannot obtain a token.
	authRequiredMessage = "Authentication required"

	// tracerName names the tracer used for pass and bucket spans.
	tracerName = "github.com/peteski22/samaysync/internal/sync"
)

var (
	_ EventSource = (*activitywatch.Source)(nil)
	_ Sender      = (*backend.Client)(nil)
	_ Sender      = (*backend.DryRunClient)(nil)
)

// Config holds the required configuration for creating a Service.
type Config struct {
	// Auth supplies bearer tokens.
	Auth Authenticator

	// Cursors tracks per-bucket sync progress.
	Cursors CursorStore

	// DryRun logs batches instead of sending them. Sender may be nil.
	DryRun bool

	// Logger is the structured logger for the service.
	Logger *slog.Logger

	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time

	// Sender transmits batches to the backend.
	Sender Sender

	// Source lists buckets and events.
	Source EventSource

	// Tracer creates pass and bucket spans. Defaults to the global provider.
	Tracer trace.Tracer
}

// validate checks that all required Config fields are set.
func (c *Config) validate() error {
	var errs []error
	if c.Auth == nil {
		errs = append(errs, errors.New("authenticator is required"))
	}
	if c.Cursors == nil {
		errs = append(errs, errors.New("cursor store is required"))
	}
	if c.Sender == nil && !c.DryRun {
		errs = append(errs, errors.New("sender is required"))
	}
	if c.Source == nil {
		errs = append(errs, errors.New("event source is required"))
	}
	return errors.Join(errs...)
}

// Service runs sync passes over every bucket of the event source.
// Passes are serialised; a second Run blocks until the first finishes.
type Service struct {
	auth    Authenticator
	cursors CursorStore
	dryRun  bool
	logger  *slog.Logger
	mu      sync.Mutex
	now     func() time.Time
	sender  Sender
	source  EventSource
	tracer  trace.Tracer
}

// New creates a new sync orchestration service.
func New(cfg Config) (*Service, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	sender := cfg.Sender
	if cfg.DryRun {
		sender = backend.NewDryRunClient(logger)
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	tracer := cfg.Tracer
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}

	return &Service{
		auth:    cfg.Auth,
		cursors: cfg.Cursors,
		dryRun:  cfg.DryRun,
		logger:  logger,
		now:     now,
		sender:  sender,
		source:  cfg.Source,
		tracer:  tracer,
	}, nil
}

// Run executes one pass over every bucket. Failures never escape as errors;
// they are collected in the report. A missing token aborts the pass before
// any bucket is touched. A failing bucket does not stop the others.
func (s *Service) Run(ctx context.Context) *Report {
	s.mu.Lock()
	defer s.mu.Unlock()

	report := &Report{
		DryRun:    s.dryRun,
		PassID:    uuid.NewString(),
		StartedAt: s.now(),
	}
	logger := s.logger.With("pass_id", report.PassID)

	ctx, span := s.tracer.Start(ctx, "sync.pass",
		trace.WithAttributes(
			attribute.String("sync.pass_id", report.PassID),
			attribute.Bool("sync.dry_run", s.dryRun),
		))
	defer span.End()

	logger.Info("starting sync pass", "dry_run", s.dryRun)

	token, err := s.auth.BearerToken(ctx)
	if err != nil {
		logger.Warn("not authenticated", "error", err)
		report.Errors = append(report.Errors, authRequiredMessage)
		return s.finish(span, logger, report)
	}

	buckets, err := s.source.Buckets(ctx)
	if err != nil {
		logger.Error("failed to list buckets", "error", err)
		report.Errors = append(report.Errors, fmt.Sprintf("listing buckets: %v", err))
		return s.finish(span, logger, report)
	}

	for _, bucketID := range buckets {
		if err := ctx.Err(); err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("sync cancelled: %v", err))
			break
		}

		result, authLost := s.syncBucket(ctx, logger, &token, bucketID)
		report.Buckets = append(report.Buckets, result)

		if result.Synced {
			report.BucketsSynced++
			report.EventsSynced += result.EventsSynced
		} else {
			report.Errors = append(report.Errors, fmt.Sprintf("failed to sync bucket %s: %s", bucketID, result.Error))
		}

		if authLost {
			report.Errors = append(report.Errors, authRequiredMessage)
			break
		}
	}

	return s.finish(span, logger, report)
}

// syncBucket sends one bucket's unsynced events and records the outcome on
// its cursor. token is replaced when a retry acquires a fresh one. The bool
// result is true when no token could be reacquired after the backend rejected
// the current one.
func (s *Service) syncBucket(
	ctx context.Context,
	logger *slog.Logger,
	token *string,
	bucketID string,
) (BucketResult, bool) {
	ctx, span := s.tracer.Start(ctx, "sync.bucket",
		trace.WithAttributes(attribute.String("sync.bucket_id", bucketID)))
	defer span.End()

	logger = logger.With("bucket_id", bucketID)
	result := BucketResult{BucketID: bucketID}

	fail := func(msg string) (BucketResult, bool) {
		result.Error = msg
		span.SetStatus(codes.Error, msg)
		logger.Error("failed to sync bucket", "error", msg)
		return result, false
	}

	events, err := s.source.Events(ctx, bucketID)
	if err != nil {
		return fail(fmt.Sprintf("reading events: %v", err))
	}

	unsynced, err := SelectUnsynced(ctx, s.cursors, bucketID, events)
	if err != nil {
		return fail(err.Error())
	}

	span.SetAttributes(
		attribute.Int("sync.events_total", len(events)),
		attribute.Int("sync.events_unsynced", len(unsynced)))

	if len(unsynced) == 0 {
		logger.Debug("no new events")
		result.Synced = true
		return result, false
	}

	err = s.sender.SendEvents(ctx, *token, bucketID, unsynced)
	if backend.OutcomeOf(err) == backend.OutcomeAuthExpired {
		logger.Info("access token rejected, reacquiring")
		s.auth.Invalidate()

		fresh, authErr := s.auth.BearerToken(ctx)
		if authErr != nil {
			s.recordFailure(ctx, logger, bucketID, err.Error())
			result.Outcome = backend.OutcomeAuthExpired.String()
			res, _ := fail(fmt.Sprintf("failed to send events: %v", err))
			return res, true
		}

		*token = fresh
		err = s.sender.SendEvents(ctx, *token, bucketID, unsynced)
	}

	outcome := backend.OutcomeOf(err)
	result.Outcome = outcome.String()
	span.SetAttributes(attribute.String("sync.outcome", result.Outcome))

	if err != nil {
		span.RecordError(err)
		s.recordFailure(ctx, logger, bucketID, err.Error())
		if outcome.Retryable() {
			logger.Warn("transmission will be retried on the next pass", "outcome", result.Outcome)
		}
		return fail(fmt.Sprintf("failed to send events: %v", err))
	}

	last := unsynced[len(unsynced)-1]
	if err := s.cursors.RecordSuccess(ctx, bucketID, last.Timestamp, last.ID, len(unsynced)); err != nil {
		span.RecordError(err)
		return fail(fmt.Sprintf("recording sync success: %v", err))
	}

	result.EventsSynced = len(unsynced)
	result.Synced = true
	logger.Info("synced bucket",
		"events_synced", len(unsynced),
		"last_event_id", last.ID)

	return result, false
}

// recordFailure stores a failed attempt on the cursor. A storage error is
// logged; the bucket is already being reported as failed.
func (s *Service) recordFailure(ctx context.Context, logger *slog.Logger, bucketID string, message string) {
	if err := s.cursors.RecordFailure(ctx, bucketID, message, 0); err != nil {
		logger.Error("failed to record sync failure", "error", err)
	}
}

// finish completes the report and its span.
func (s *Service) finish(span trace.Span, logger *slog.Logger, report *Report) *Report {
	report.Duration = s.now().Sub(report.StartedAt)
	report.Success = len(report.Errors) == 0

	span.SetAttributes(
		attribute.Int("sync.buckets_synced", report.BucketsSynced),
		attribute.Int("sync.events_synced", report.EventsSynced),
		attribute.Int("sync.errors", len(report.Errors)))

	if report.Success {
		span.SetStatus(codes.Ok, "")
		logger.Info("sync pass completed",
			"events_synced", report.EventsSynced,
			"buckets_synced", report.BucketsSynced,
			"duration", report.Duration)
	} else {
		span.SetStatus(codes.Error, report.Errors[0])
		logger.Warn("sync pass completed with errors",
			"events_synced", report.EventsSynced,
			"buckets_synced", report.BucketsSynced,
			"errors", len(report.Errors),
			"duration", report.Duration)
	}

	return report
}
