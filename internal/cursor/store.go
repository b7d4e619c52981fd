package cursor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Config holds the required configuration for creating a Store.
type Config struct {
	// Backend persists cursors.
	Backend Backend

	// Logger is the structured logger for the store.
	Logger *slog.Logger

	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time
}

// validate checks that all required Config fields are set.
func (c *Config) validate() error {
	var errs []error
	if c.Backend == nil {
		errs = append(errs, errors.New("backend is required"))
	}
	return errors.Join(errs...)
}

// Store is the in-memory view of all cursors, written through to a Backend.
// Reads may run concurrently with each other and with writes; writes to the
// same bucket are serialized.
type Store struct {
	backend Backend
	logger  *slog.Logger
	now     func() time.Time

	// mu guards cursors.
	mu      sync.RWMutex
	cursors map[string]Cursor

	// locksMu guards locks.
	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// New creates a Store and loads any previously persisted cursors.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	loaded, err := cfg.Backend.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: loading cursors: %w", ErrStorage, err)
	}

	cursors := make(map[string]Cursor, len(loaded))
	for id, c := range loaded {
		c.BucketID = id
		cursors[id] = c.clone()
	}

	logger.Debug("loaded cursors", "count", len(cursors))

	return &Store{
		backend: cfg.Backend,
		cursors: cursors,
		locks:   make(map[string]*sync.Mutex),
		logger:  logger,
		now:     now,
	}, nil
}

// All returns a snapshot of every cursor ordered by bucket id.
func (s *Store) All() []Cursor {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Cursor, 0, len(s.cursors))
	for _, c := range s.cursors {
		out = append(out, c.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BucketID < out[j].BucketID })

	return out
}

// Get returns the cursor for bucketID, or false if the bucket has never been attempted.
func (s *Store) Get(bucketID string) (Cursor, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.cursors[bucketID]
	if !ok {
		return Cursor{}, false
	}
	return c.clone(), true
}

// GetOrCreate returns the cursor for bucketID, creating and persisting a
// never-synced cursor if none exists.
func (s *Store) GetOrCreate(ctx context.Context, bucketID string) (Cursor, error) {
	if bucketID == "" {
		return Cursor{}, errors.New("bucket ID is required")
	}

	unlock := s.lockBucket(bucketID)
	defer unlock()

	if c, ok := s.Get(bucketID); ok {
		return c, nil
	}

	now := s.now()
	c := Cursor{
		BucketID:  bucketID,
		CreatedAt: now,
		Status:    StatusNever,
		UpdatedAt: now,
	}
	if err := s.commit(ctx, c); err != nil {
		return Cursor{}, err
	}

	s.logger.Debug("created cursor", "bucket_id", bucketID)
	return c.clone(), nil
}

// RecordSuccess advances the cursor to lastEventID and credits eventsSynced.
// It returns ErrCursorRegression, and writes nothing, if lastEventID is lower
// than the stored position.
func (s *Store) RecordSuccess(
	ctx context.Context,
	bucketID string,
	lastEventTimestamp time.Time,
	lastEventID int64,
	eventsSynced int,
) error {
	if eventsSynced < 0 {
		return fmt.Errorf("events synced must not be negative, got %d", eventsSynced)
	}

	unlock := s.lockBucket(bucketID)
	defer unlock()

	c := s.current(bucketID)
	if c.LastSyncedEventID != nil && lastEventID < *c.LastSyncedEventID {
		return fmt.Errorf("%w: bucket %s at %d, got %d",
			ErrCursorRegression, bucketID, *c.LastSyncedEventID, lastEventID)
	}

	ts := lastEventTimestamp
	id := lastEventID
	c.LastSyncedEventID = &id
	c.LastSyncedTimestamp = &ts
	c.TotalEventsSynced += int64(eventsSynced)
	c.Status = StatusSuccess
	c.LastError = ""
	c.UpdatedAt = s.now()

	if err := s.commit(ctx, c); err != nil {
		return err
	}

	s.logger.Debug("recorded sync success",
		"bucket_id", bucketID,
		"last_event_id", lastEventID,
		"events_synced", eventsSynced)
	return nil
}

// RecordFailure records a failed attempt. A positive eventsSyncedBeforeFailure
// marks the attempt partial and credits the count without moving the position.
func (s *Store) RecordFailure(
	ctx context.Context,
	bucketID string,
	message string,
	eventsSyncedBeforeFailure int,
) error {
	if eventsSyncedBeforeFailure < 0 {
		return fmt.Errorf("events synced must not be negative, got %d", eventsSyncedBeforeFailure)
	}

	unlock := s.lockBucket(bucketID)
	defer unlock()

	c := s.current(bucketID)
	if eventsSyncedBeforeFailure > 0 {
		c.Status = StatusPartial
		c.TotalEventsSynced += int64(eventsSyncedBeforeFailure)
	} else {
		c.Status = StatusFailed
	}
	c.LastError = message
	c.UpdatedAt = s.now()

	if err := s.commit(ctx, c); err != nil {
		return err
	}

	s.logger.Debug("recorded sync failure",
		"bucket_id", bucketID,
		"status", c.Status,
		"error", message)
	return nil
}

// Reset deletes the cursor so the next pass treats the bucket as never synced.
func (s *Store) Reset(ctx context.Context, bucketID string) error {
	unlock := s.lockBucket(bucketID)
	defer unlock()

	if err := s.backend.Delete(ctx, bucketID); err != nil {
		return fmt.Errorf("%w: deleting cursor %s: %w", ErrStorage, bucketID, err)
	}

	s.mu.Lock()
	delete(s.cursors, bucketID)
	s.mu.Unlock()

	s.logger.Info("reset cursor", "bucket_id", bucketID)
	return nil
}

// Summary aggregates the state of every cursor.
func (s *Store) Summary() Summary {
	return summarize(s.All())
}

// commit persists c and then publishes it to readers.
// Must be called with the bucket lock held.
func (s *Store) commit(ctx context.Context, c Cursor) error {
	if err := s.backend.Put(ctx, c.clone()); err != nil {
		return fmt.Errorf("%w: saving cursor %s: %w", ErrStorage, c.BucketID, err)
	}

	s.mu.Lock()
	s.cursors[c.BucketID] = c.clone()
	s.mu.Unlock()

	return nil
}

// current returns the stored cursor for bucketID or a fresh never-synced one.
// Must be called with the bucket lock held.
func (s *Store) current(bucketID string) Cursor {
	if c, ok := s.Get(bucketID); ok {
		return c
	}

	now := s.now()
	return Cursor{
		BucketID:  bucketID,
		CreatedAt: now,
		Status:    StatusNever,
		UpdatedAt: now,
	}
}

// lockBucket acquires the write lock for bucketID and returns its release func.
func (s *Store) lockBucket(bucketID string) func() {
	s.locksMu.Lock()
	l, ok := s.locks[bucketID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[bucketID] = l
	}
	s.locksMu.Unlock()

	l.Lock()
	return l.Unlock
}
