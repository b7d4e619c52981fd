package activitywatch

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	// Registers the "sqlite3" driver.
	_ "github.com/mattn/go-sqlite3"
)

// timestampLayouts are the encodings ActivityWatch has used for timestamps.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
}

// Source reads an ActivityWatch database in read-only mode.
type Source struct {
	batchSize int
	db        *sql.DB
	logger    *slog.Logger
	path      string
}

// Open opens the database at path read-only. The file must already exist.
func Open(ctx context.Context, path string, opts ...Option) (*Source, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("database path is required")
	}

	o := defaultOptions()
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, fmt.Errorf("invalid option: %w", err)
		}
	}

	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("database not found: %s", path)
		}
		return nil, fmt.Errorf("checking database path: %w", err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("database path is not a file: %s", path)
	}

	db, err := sql.Open("sqlite3", readOnlyDSN(path, o.busyTimeout))
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	o.logger.Debug("opened activity database", "path", path)

	return &Source{
		batchSize: o.batchSize,
		db:        db,
		logger:    o.logger,
		path:      path,
	}, nil
}

// Close closes the database connection.
func (s *Source) Close() error {
	return s.db.Close()
}

// Buckets returns the ids of all buckets ordered by creation.
func (s *Source) Buckets(ctx context.Context) ([]string, error) {
	buckets, err := s.BucketInfo(ctx)
	if err != nil {
		return nil, err
	}

	ids := make([]string, len(buckets))
	for i, b := range buckets {
		ids[i] = b.ID
	}
	return ids, nil
}

// BucketInfo returns every bucket with its metadata ordered by creation.
func (s *Source) BucketInfo(ctx context.Context) ([]Bucket, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, created, type, client, hostname
		FROM bucketmodel
		ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("querying buckets: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var buckets []Bucket
	for rows.Next() {
		var (
			b                     Bucket
			created               any
			typ, client, hostname sql.NullString
		)
		if err := rows.Scan(&b.ID, &created, &typ, &client, &hostname); err != nil {
			return nil, fmt.Errorf("scanning bucket: %w", err)
		}
		b.Type = typ.String
		b.Client = client.String
		b.Hostname = hostname.String

		if created != nil {
			ts, err := parseTimestamp(created)
			if err != nil {
				return nil, fmt.Errorf("bucket %s: %w", b.ID, err)
			}
			b.Created = ts
		}

		buckets = append(buckets, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating buckets: %w", err)
	}

	return buckets, nil
}

// Events returns every event in the bucket in ascending id order.
// Rows are read in pages of the configured batch size.
func (s *Source) Events(ctx context.Context, bucketID string) ([]Event, error) {
	var (
		events []Event
		lastID int64 = -1
	)

	for {
		page, err := s.eventPage(ctx, bucketID, lastID)
		if err != nil {
			return nil, err
		}
		events = append(events, page...)

		if len(page) < s.batchSize {
			break
		}
		lastID = page[len(page)-1].ID
	}

	s.logger.Debug("read events", "bucket_id", bucketID, "count", len(events))
	return events, nil
}

// EventCount returns the number of events in the bucket.
func (s *Source) EventCount(ctx context.Context, bucketID string) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM eventmodel e
		JOIN bucketmodel b ON e.bucket_id = b.key
		WHERE b.id = ?`, bucketID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting events: %w", err)
	}
	return n, nil
}

// LatestEventTimestamp returns the start time of the bucket's most recent
// event, or nil if the bucket is empty.
func (s *Source) LatestEventTimestamp(ctx context.Context, bucketID string) (*time.Time, error) {
	var raw any
	err := s.db.QueryRowContext(ctx, `
		SELECT e.timestamp
		FROM eventmodel e
		JOIN bucketmodel b ON e.bucket_id = b.key
		WHERE b.id = ?
		ORDER BY e.timestamp DESC
		LIMIT 1`, bucketID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying latest event: %w", err)
	}

	ts, err := parseTimestamp(raw)
	if err != nil {
		return nil, err
	}
	return &ts, nil
}

// Info summarizes the tables and row counts of the database.
func (s *Source) Info(ctx context.Context) (Info, error) {
	info := Info{Path: s.path}

	rows, err := s.db.QueryContext(ctx, `SELECT name FROM sqlite_master WHERE type = 'table' ORDER BY name`)
	if err != nil {
		return info, fmt.Errorf("listing tables: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return info, fmt.Errorf("scanning table name: %w", err)
		}
		info.Tables = append(info.Tables, name)
	}
	if err := rows.Err(); err != nil {
		return info, fmt.Errorf("iterating tables: %w", err)
	}

	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM eventmodel`).Scan(&info.EventCount); err != nil {
		return info, fmt.Errorf("counting events: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM bucketmodel`).Scan(&info.BucketCount); err != nil {
		return info, fmt.Errorf("counting buckets: %w", err)
	}

	return info, nil
}

// eventPage reads up to batchSize events with id greater than afterID.
func (s *Source) eventPage(ctx context.Context, bucketID string, afterID int64) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT e.id, e.timestamp, e.duration, e.datastr
		FROM eventmodel e
		JOIN bucketmodel b ON e.bucket_id = b.key
		WHERE b.id = ? AND e.id > ?
		ORDER BY e.id ASC
		LIMIT ?`, bucketID, afterID, s.batchSize)
	if err != nil {
		return nil, fmt.Errorf("querying events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	events := make([]Event, 0, s.batchSize)
	for rows.Next() {
		var (
			e        Event
			ts       any
			duration sql.NullFloat64
			datastr  sql.NullString
		)
		if err := rows.Scan(&e.ID, &ts, &duration, &datastr); err != nil {
			return nil, fmt.Errorf("scanning event: %w", err)
		}

		e.BucketID = bucketID
		e.Duration = duration.Float64
		e.Data = decodeData(datastr.String)

		e.Timestamp, err = parseTimestamp(ts)
		if err != nil {
			return nil, fmt.Errorf("event %d: %w", e.ID, err)
		}

		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating events: %w", err)
	}

	return events, nil
}

// decodeData parses an event payload. Non-JSON payloads are kept under "raw".
func decodeData(datastr string) map[string]any {
	if datastr == "" {
		return map[string]any{}
	}

	var data map[string]any
	if err := json.Unmarshal([]byte(datastr), &data); err != nil || data == nil {
		return map[string]any{"raw": datastr}
	}
	return data
}

// parseTimestamp converts a scanned timestamp column to UTC.
func parseTimestamp(v any) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t.UTC(), nil
	case []byte:
		return parseTimestampString(string(t))
	case string:
		return parseTimestampString(t)
	case int64:
		return time.Unix(t, 0).UTC(), nil
	case float64:
		sec := int64(t)
		return time.Unix(sec, int64((t-float64(sec))*1e9)).UTC(), nil
	default:
		return time.Time{}, fmt.Errorf("unsupported timestamp type %T", v)
	}
}

// parseTimestampString tries each known layout in turn.
func parseTimestampString(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

// readOnlyDSN builds a go-sqlite3 URI that opens path read-only.
func readOnlyDSN(path string, busyTimeout time.Duration) string {
	q := url.Values{}
	q.Set("mode", "ro")
	q.Set("_busy_timeout", strconv.FormatInt(busyTimeout.Milliseconds(), 10))

	return "file:" + (&url.URL{Path: path}).EscapedPath() + "?" + q.Encode()
}
