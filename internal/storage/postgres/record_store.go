package postgres

import (
	"context"
	"fmt"

	"github.com/JakeFAU/archive-harvester/internal/harvest"
)

// DefaultRecordTable is used when no table name is configured.
const DefaultRecordTable = "articles"

// RecordStore upserts harvested records keyed by cursor.
type RecordStore struct {
	db    querier
	table string
}

var _ harvest.RecordSink = (*RecordStore)(nil)

// NewRecordStore wraps an open pool. The pool stays owned by the caller.
func NewRecordStore(db querier, table string) (*RecordStore, error) {
	if db == nil {
		return nil, fmt.Errorf("pool is required")
	}
	table, err := checkTable(table, DefaultRecordTable)
	if err != nil {
		return nil, err
	}
	return &RecordStore{db: db, table: table}, nil
}

// EnsureSchema creates the record table when it does not exist.
func (s *RecordStore) EnsureSchema(ctx context.Context) error {
	ddl := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	cursor       INTEGER PRIMARY KEY,
	run_id       TEXT NOT NULL,
	url          TEXT NOT NULL DEFAULT '',
	title        TEXT NOT NULL DEFAULT '',
	source       TEXT NOT NULL DEFAULT '',
	database     TEXT NOT NULL DEFAULT '',
	abstract     TEXT NOT NULL DEFAULT '',
	full_text    TEXT NOT NULL DEFAULT '',
	published_on DATE,
	ingested_at  TIMESTAMPTZ NOT NULL
)`, s.table)
	if _, err := s.db.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("create %s: %w", s.table, err)
	}
	return nil
}

// Save inserts the record or replaces the row already stored for its cursor.
func (s *RecordStore) Save(ctx context.Context, record harvest.Record) error {
	if !record.Cursor.Valid() {
		return fmt.Errorf("%w: got %d", harvest.ErrInvalidCursor, record.Cursor)
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	cursor,
	run_id,
	url,
	title,
	source,
	database,
	abstract,
	full_text,
	published_on,
	ingested_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10
)
ON CONFLICT (cursor) DO UPDATE SET
	run_id = EXCLUDED.run_id,
	url = EXCLUDED.url,
	title = EXCLUDED.title,
	source = EXCLUDED.source,
	database = EXCLUDED.database,
	abstract = EXCLUDED.abstract,
	full_text = EXCLUDED.full_text,
	published_on = EXCLUDED.published_on,
	ingested_at = EXCLUDED.ingested_at`, s.table)

	args := []any{
		int(record.Cursor),
		record.RunID,
		record.URL,
		record.Title,
		record.Source,
		record.Database,
		record.Abstract,
		record.FullText,
		record.PublishedOn,
		record.IngestedAt,
	}
	if _, err := s.db.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert record %d: %w", record.Cursor, err)
	}
	return nil
}
