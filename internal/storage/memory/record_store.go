// Package memory keeps records, checkpoints and page snapshots in process
// memory for dry runs and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/JakeFAU/archive-harvester/internal/harvest"
)

// RecordStore keeps the latest record per cursor.
type RecordStore struct {
	mu      sync.RWMutex
	records map[harvest.Cursor]harvest.Record
}

var _ harvest.RecordSink = (*RecordStore)(nil)

// NewRecordStore constructs an empty RecordStore.
func NewRecordStore() *RecordStore {
	return &RecordStore{records: make(map[harvest.Cursor]harvest.Record)}
}

// Save stores record, replacing any earlier record with the same cursor.
func (s *RecordStore) Save(_ context.Context, record harvest.Record) error {
	if !record.Cursor.Valid() {
		return fmt.Errorf("%w: got %d", harvest.ErrInvalidCursor, record.Cursor)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[record.Cursor] = record
	return nil
}

// Get returns the record stored for cursor.
func (s *RecordStore) Get(cursor harvest.Cursor) (harvest.Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[cursor]
	return rec, ok
}

// Records returns all records ordered by cursor.
func (s *RecordStore) Records() []harvest.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]harvest.Record, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Cursor < out[j].Cursor })
	return out
}

// Len reports how many cursors have a stored record.
func (s *RecordStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
