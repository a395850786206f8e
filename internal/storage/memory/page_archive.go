package memory

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/JakeFAU/archive-harvester/internal/harvest"
)

// PageArchive stores page snapshots in-memory and returns pseudo URIs.
type PageArchive struct {
	mu   sync.RWMutex
	data map[string][]byte
}

var _ harvest.PageArchive = (*PageArchive)(nil)

// NewPageArchive creates an empty archive.
func NewPageArchive() *PageArchive {
	return &PageArchive{data: make(map[string][]byte)}
}

// PutObject persists the content and returns a URI.
func (s *PageArchive) PutObject(_ context.Context, path string, _ string, data io.Reader) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("path is required")
	}
	byteData, err := io.ReadAll(data)
	if err != nil {
		return "", fmt.Errorf("failed to read data from reader: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[path] = byteData
	return fmt.Sprintf("memory://%s", path), nil
}

// Object returns a copy of the stored content.
func (s *PageArchive) Object(path string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.data[path]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), b...), true
}
