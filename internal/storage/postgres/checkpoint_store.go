package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/archive-harvester/internal/harvest"
)

// Checkpoint table defaults.
const (
	DefaultCheckpointTable = "harvest_checkpoints"
	DefaultCheckpointName  = "default"
)

// CheckpointStore keeps one named cursor row. Several crawls can share the
// table under different names.
type CheckpointStore struct {
	db    querier
	table string
	name  string
}

var _ harvest.CheckpointStore = (*CheckpointStore)(nil)

// NewCheckpointStore wraps an open pool. The pool stays owned by the caller.
func NewCheckpointStore(db querier, table, name string) (*CheckpointStore, error) {
	if db == nil {
		return nil, fmt.Errorf("pool is required")
	}
	table, err := checkTable(table, DefaultCheckpointTable)
	if err != nil {
		return nil, err
	}
	if name == "" {
		name = DefaultCheckpointName
	}
	return &CheckpointStore{db: db, table: table, name: name}, nil
}

// EnsureSchema creates the checkpoint table when it does not exist.
func (s *CheckpointStore) EnsureSchema(ctx context.Context) error {
	ddl := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	name       TEXT PRIMARY KEY,
	cursor     INTEGER NOT NULL CHECK (cursor >= 1),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`, s.table)
	if _, err := s.db.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("create %s: %w", s.table, err)
	}
	return nil
}

// Read returns the stored cursor, or false when the row does not exist.
func (s *CheckpointStore) Read(ctx context.Context) (harvest.Cursor, bool, error) {
	query := fmt.Sprintf(`SELECT cursor FROM %s WHERE name = $1`, s.table)
	var n int
	err := s.db.QueryRow(ctx, query, s.name).Scan(&n)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("read checkpoint %s: %w", s.name, err)
	}
	return harvest.Cursor(n), true, nil
}

// Write replaces the stored cursor.
func (s *CheckpointStore) Write(ctx context.Context, cursor harvest.Cursor) error {
	if !cursor.Valid() {
		return fmt.Errorf("%w: got %d", harvest.ErrInvalidCursor, cursor)
	}
	query := fmt.Sprintf(`
INSERT INTO %s (name, cursor, updated_at) VALUES ($1, $2, now())
ON CONFLICT (name) DO UPDATE SET cursor = EXCLUDED.cursor, updated_at = EXCLUDED.updated_at`, s.table)
	if _, err := s.db.Exec(ctx, query, s.name, int(cursor)); err != nil {
		return fmt.Errorf("write checkpoint %s: %w", s.name, err)
	}
	return nil
}

// Clear deletes the row so the next run starts from the first record.
func (s *CheckpointStore) Clear(ctx context.Context) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE name = $1`, s.table)
	if _, err := s.db.Exec(ctx, query, s.name); err != nil {
		return fmt.Errorf("clear checkpoint %s: %w", s.name, err)
	}
	return nil
}
