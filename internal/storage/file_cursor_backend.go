package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"sync"

	"github.com/peteski22/samaysync/internal/cursor"
)

// backupSuffix is appended to the state file path to name its backup.
const backupSuffix = ".backup"

// FileCursorBackend stores all cursors in one JSON document keyed by bucket id.
// Every write replaces the file atomically and first copies the previous
// generation to a backup file next to it.
type FileCursorBackend struct {
	backupPath string
	logger     *slog.Logger
	path       string

	// mu guards cursors and serializes file writes.
	mu      sync.Mutex
	cursors map[string]cursor.Cursor
}

// NewFileCursorBackend creates a FileCursorBackend for the given state file path.
func NewFileCursorBackend(path string, logger *slog.Logger) (*FileCursorBackend, error) {
	if path == "" {
		return nil, errors.New("state file path is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &FileCursorBackend{
		backupPath: path + backupSuffix,
		cursors:    make(map[string]cursor.Cursor),
		logger:     logger,
		path:       path,
	}, nil
}

// BackupPath returns the path of the prior-generation backup file.
func (b *FileCursorBackend) BackupPath() string {
	return b.backupPath
}

// Load reads the state file. If it is missing the result is empty; if it is
// unreadable the backup is used instead.
func (b *FileCursorBackend) Load(_ context.Context) (map[string]cursor.Cursor, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	cursors, err := readCursorFile(b.path)
	switch {
	case err == nil:
	case errors.Is(err, os.ErrNotExist):
		cursors = make(map[string]cursor.Cursor)
	default:
		b.logger.Warn("state file unreadable, trying backup", "path", b.path, "error", err)

		backup, backupErr := readCursorFile(b.backupPath)
		if backupErr != nil {
			return nil, errors.Join(err, fmt.Errorf("reading backup: %w", backupErr))
		}
		cursors = backup
	}

	b.cursors = cursors
	return maps.Clone(cursors), nil
}

// Put creates or replaces a cursor and rewrites the state file.
func (b *FileCursorBackend) Put(_ context.Context, c cursor.Cursor) error {
	if c.BucketID == "" {
		return errors.New("bucket ID is required")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	next := maps.Clone(b.cursors)
	if next == nil {
		next = make(map[string]cursor.Cursor)
	}
	next[c.BucketID] = c

	if err := b.write(next); err != nil {
		return err
	}

	b.cursors = next
	return nil
}

// Delete removes a cursor and rewrites the state file.
func (b *FileCursorBackend) Delete(_ context.Context, bucketID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.cursors[bucketID]; !ok {
		return nil
	}

	next := maps.Clone(b.cursors)
	delete(next, bucketID)

	if err := b.write(next); err != nil {
		return err
	}

	b.cursors = next
	return nil
}

// write persists cursors, keeping the current file as the backup. A current
// file that does not decode never replaces the backup.
// Must be called with mu held.
func (b *FileCursorBackend) write(cursors map[string]cursor.Cursor) error {
	data, err := json.MarshalIndent(cursors, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding cursors: %w", err)
	}

	previous, err := os.ReadFile(b.path)
	switch {
	case err == nil:
		if _, err := decodeCursors(previous); err != nil {
			b.logger.Warn("state file unreadable, keeping existing backup", "path", b.path, "error", err)
			break
		}
		if err := writeFileAtomic(b.backupPath, previous, 0o600); err != nil {
			return fmt.Errorf("writing backup: %w", err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return fmt.Errorf("reading current state file: %w", err)
	}

	if err := writeFileAtomic(b.path, append(data, '\n'), 0o600); err != nil {
		return fmt.Errorf("writing state file: %w", err)
	}

	return nil
}

// readCursorFile decodes a cursor document from path.
func readCursorFile(path string) (map[string]cursor.Cursor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cursors, err := decodeCursors(data)
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}
	return cursors, nil
}

// decodeCursors parses a cursor document, filling each BucketID from its key.
func decodeCursors(data []byte) (map[string]cursor.Cursor, error) {
	var cursors map[string]cursor.Cursor
	if err := json.Unmarshal(data, &cursors); err != nil {
		return nil, err
	}
	if cursors == nil {
		cursors = make(map[string]cursor.Cursor)
	}

	for id, c := range cursors {
		c.BucketID = id
		cursors[id] = c
	}

	return cursors, nil
}
