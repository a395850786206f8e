// Package sqlite stores harvested records in a single SQLite file using the
// pure-Go modernc driver.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/JakeFAU/archive-harvester/internal/harvest"
)

// DefaultTable mirrors the table name operators already query.
const DefaultTable = "articles"

const dateLayout = "2006-01-02"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// RecordStore upserts records keyed by cursor.
type RecordStore struct {
	db    *sql.DB
	table string
}

var _ harvest.RecordSink = (*RecordStore)(nil)

// Open opens (creating if needed) the database at path and ensures the schema.
// ":memory:" is accepted for tests.
func Open(ctx context.Context, path, table string) (*RecordStore, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	if table == "" {
		table = DefaultTable
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return nil, fmt.Errorf("create sqlite dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer; also keeps ":memory:" on a single connection.
	db.SetMaxOpenConns(1)

	store := &RecordStore{db: db, table: table}
	if err := store.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Close releases the database handle.
func (s *RecordStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close sqlite: %w", err)
	}
	return nil
}

func (s *RecordStore) ensureSchema(ctx context.Context) error {
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
	published_on TEXT,
	ingested_at  TEXT NOT NULL
)`, s.table)
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
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
INSERT INTO %s (cursor, run_id, url, title, source, database, abstract, full_text, published_on, ingested_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (cursor) DO UPDATE SET
	run_id = excluded.run_id,
	url = excluded.url,
	title = excluded.title,
	source = excluded.source,
	database = excluded.database,
	abstract = excluded.abstract,
	full_text = excluded.full_text,
	published_on = excluded.published_on,
	ingested_at = excluded.ingested_at`, s.table)

	var published sql.NullString
	if record.PublishedOn != nil {
		published = sql.NullString{String: record.PublishedOn.Format(dateLayout), Valid: true}
	}
	_, err := s.db.ExecContext(ctx, query,
		int(record.Cursor),
		record.RunID,
		record.URL,
		record.Title,
		record.Source,
		record.Database,
		record.Abstract,
		record.FullText,
		published,
		record.IngestedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("upsert record %d: %w", record.Cursor, err)
	}
	return nil
}

// Get loads the record stored for cursor.
func (s *RecordStore) Get(ctx context.Context, cursor harvest.Cursor) (harvest.Record, bool, error) {
	query := fmt.Sprintf(`
SELECT cursor, run_id, url, title, source, database, abstract, full_text, published_on, ingested_at
FROM %s WHERE cursor = ?`, s.table)

	var (
		rec       harvest.Record
		n         int
		published sql.NullString
		ingested  string
	)
	err := s.db.QueryRowContext(ctx, query, int(cursor)).Scan(
		&n, &rec.RunID, &rec.URL, &rec.Title, &rec.Source, &rec.Database,
		&rec.Abstract, &rec.FullText, &published, &ingested,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return harvest.Record{}, false, nil
	}
	if err != nil {
		return harvest.Record{}, false, fmt.Errorf("get record %d: %w", cursor, err)
	}
	rec.Cursor = harvest.Cursor(n)
	if published.Valid {
		t, perr := time.Parse(dateLayout, published.String)
		if perr != nil {
			return harvest.Record{}, false, fmt.Errorf("parse published_on %q: %w", published.String, perr)
		}
		rec.PublishedOn = &t
	}
	rec.IngestedAt, err = time.Parse(time.RFC3339Nano, ingested)
	if err != nil {
		return harvest.Record{}, false, fmt.Errorf("parse ingested_at %q: %w", ingested, err)
	}
	return rec, true, nil
}

// Count returns the number of stored records.
func (s *RecordStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s`, s.table)).Scan(&n); err != nil {
		return 0, fmt.Errorf("count records: %w", err)
	}
	return n, nil
}
