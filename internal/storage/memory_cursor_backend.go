package storage

import (
	"context"
	"maps"
	"sync"

	"github.com/peteski22/samaysync/internal/cursor"
)

// MemoryCursorBackend keeps cursors in process memory only.
// Used for dry-run mode where sync progress must not be persisted.
type MemoryCursorBackend struct {
	mu      sync.Mutex
	cursors map[string]cursor.Cursor
}

// NewMemoryCursorBackend creates a MemoryCursorBackend seeded with the given cursors.
func NewMemoryCursorBackend(seed map[string]cursor.Cursor) *MemoryCursorBackend {
	cursors := maps.Clone(seed)
	if cursors == nil {
		cursors = make(map[string]cursor.Cursor)
	}
	return &MemoryCursorBackend{cursors: cursors}
}

// Load returns a copy of the held cursors.
func (b *MemoryCursorBackend) Load(_ context.Context) (map[string]cursor.Cursor, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return maps.Clone(b.cursors), nil
}

// Put stores c in memory.
func (b *MemoryCursorBackend) Put(_ context.Context, c cursor.Cursor) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cursors[c.BucketID] = c
	return nil
}

// Delete removes the cursor for bucketID.
func (b *MemoryCursorBackend) Delete(_ context.Context, bucketID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.cursors, bucketID)
	return nil
}
