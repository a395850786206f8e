// Package checkpoint persists crawl progress as a single decimal integer in a
// plain-text file.
package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/archive-harvester/internal/harvest"
)

// FileStore implements harvest.CheckpointStore on top of one file. Writes go
// to a temporary sibling that is renamed over the target, so readers only
// ever see a complete value.
type FileStore struct {
	path   string
	logger *zap.Logger
}

// NewFileStore creates the parent directory of path if needed.
func NewFileStore(path string, logger *zap.Logger) (*FileStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("checkpoint path is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	dir := filepath.Dir(path)
	info, err := os.Stat(dir)
	switch {
	case os.IsNotExist(err):
		if mkErr := os.MkdirAll(dir, 0o750); mkErr != nil {
			return nil, fmt.Errorf("create checkpoint dir: %w", mkErr)
		}
	case err != nil:
		return nil, fmt.Errorf("stat checkpoint dir: %w", err)
	case !info.IsDir():
		return nil, fmt.Errorf("checkpoint dir %s is not a directory", dir)
	}
	return &FileStore{path: path, logger: logger}, nil
}

// Path returns the checkpoint file location.
func (s *FileStore) Path() string {
	return s.path
}

// Read returns the stored cursor. A missing file means no prior progress.
func (s *FileStore) Read(ctx context.Context) (harvest.Cursor, bool, error) {
	if err := ctx.Err(); err != nil {
		return 0, false, err
	}
	// #nosec G304 -- the path comes from operator configuration.
	raw, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		s.logger.Info("no checkpoint", zap.String("path", s.path))
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("read checkpoint: %w", err)
	}
	cursor, err := Parse(string(raw))
	if err != nil {
		return 0, false, fmt.Errorf("checkpoint %s: %w", s.path, err)
	}
	s.logger.Info("checkpoint loaded", zap.String("path", s.path), zap.Int("cursor", int(cursor)))
	return cursor, true, nil
}

// Write replaces the stored cursor.
func (s *FileStore) Write(ctx context.Context, cursor harvest.Cursor) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !cursor.Valid() {
		return fmt.Errorf("%w: got %d", harvest.ErrInvalidCursor, cursor)
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), "."+filepath.Base(s.path)+".*")
	if err != nil {
		return fmt.Errorf("create temp checkpoint: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() {
		_ = os.Remove(tmpName)
	}
	if _, err := tmp.WriteString(cursor.String()); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("write temp checkpoint: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("sync temp checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close temp checkpoint: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		cleanup()
		return fmt.Errorf("replace checkpoint: %w", err)
	}
	return nil
}

// Clear removes the checkpoint so the next run starts from the first record.
func (s *FileStore) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove checkpoint: %w", err)
	}
	return nil
}

// Parse reads a checkpoint value. Surrounding whitespace is tolerated for
// hand-edited files.
func Parse(raw string) (harvest.Cursor, error) {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("parse cursor %q: %w", raw, err)
	}
	cursor := harvest.Cursor(n)
	if !cursor.Valid() {
		return 0, fmt.Errorf("%w: got %d", harvest.ErrInvalidCursor, n)
	}
	return cursor, nil
}
