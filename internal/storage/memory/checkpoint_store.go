package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/archive-harvester/internal/harvest"
)

// CheckpointStore holds the cursor in memory. Progress is lost on exit.
type CheckpointStore struct {
	mu     sync.Mutex
	cursor harvest.Cursor
	set    bool
}

var _ harvest.CheckpointStore = (*CheckpointStore)(nil)

// NewCheckpointStore returns an empty store.
func NewCheckpointStore() *CheckpointStore {
	return &CheckpointStore{}
}

// Read implements harvest.CheckpointStore.
func (s *CheckpointStore) Read(_ context.Context) (harvest.Cursor, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor, s.set, nil
}

// Write implements harvest.CheckpointStore.
func (s *CheckpointStore) Write(_ context.Context, cursor harvest.Cursor) error {
	if !cursor.Valid() {
		return fmt.Errorf("%w: got %d", harvest.ErrInvalidCursor, cursor)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursor, s.set = cursor, true
	return nil
}

// Clear forgets the stored cursor.
func (s *CheckpointStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursor, s.set = 0, false
	return nil
}
