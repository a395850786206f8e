package checkpoint_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/archive-harvester/internal/checkpoint"
	"github.com/JakeFAU/archive-harvester/internal/harvest"
)

func TestFileStoreMissingFileMeansNoProgress(t *testing.T) {
	t.Parallel()

	store, err := checkpoint.NewFileStore(filepath.Join(t.TempDir(), "out", "_last_id.txt"), nil)
	require.NoError(t, err)

	cursor, ok, err := store.Read(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Zero(t, cursor)
}

func TestFileStoreWriteOverwritesInPlace(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "_last_id.txt")
	store, err := checkpoint.NewFileStore(path, nil)
	require.NoError(t, err)
	ctx := context.Background()

	for _, c := range []harvest.Cursor{1, 2, 10, 3} {
		require.NoError(t, store.Write(ctx, c))
	}

	// #nosec G304 -- test reads from the controlled temp directory.
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "3", string(raw), "plain decimal with no delimiter")

	cursor, ok, err := store.Read(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, harvest.Cursor(3), cursor)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}

func TestFileStoreRejectsInvalidCursor(t *testing.T) {
	t.Parallel()

	store, err := checkpoint.NewFileStore(filepath.Join(t.TempDir(), "cp"), nil)
	require.NoError(t, err)
	require.ErrorIs(t, store.Write(context.Background(), 0), harvest.ErrInvalidCursor)
}

func TestFileStoreReadsHandEditedValue(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "cp")
	require.NoError(t, os.WriteFile(path, []byte(" 42\n"), 0o600))
	store, err := checkpoint.NewFileStore(path, nil)
	require.NoError(t, err)

	cursor, ok, err := store.Read(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, harvest.Cursor(42), cursor)
}

func TestFileStoreCorruptValue(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "cp")
	require.NoError(t, os.WriteFile(path, []byte("forty-two"), 0o600))
	store, err := checkpoint.NewFileStore(path, nil)
	require.NoError(t, err)

	_, _, err = store.Read(context.Background())
	require.Error(t, err)
}

func TestFileStoreClear(t *testing.T) {
	t.Parallel()

	store, err := checkpoint.NewFileStore(filepath.Join(t.TempDir(), "cp"), nil)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, store.Clear(ctx), "clearing a missing checkpoint is fine")
	require.NoError(t, store.Write(ctx, 5))
	require.NoError(t, store.Clear(ctx))

	_, ok, err := store.Read(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestNewFileStoreValidation(t *testing.T) {
	t.Parallel()

	_, err := checkpoint.NewFileStore("  ", nil)
	require.Error(t, err)

	file := filepath.Join(t.TempDir(), "plain-file")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))
	_, err = checkpoint.NewFileStore(filepath.Join(file, "cp"), nil)
	require.Error(t, err)
}

func TestParse(t *testing.T) {
	t.Parallel()

	c, err := checkpoint.Parse("7")
	require.NoError(t, err)
	assert.Equal(t, harvest.Cursor(7), c)

	_, err = checkpoint.Parse("-1")
	require.ErrorIs(t, err, harvest.ErrInvalidCursor)
	_, err = checkpoint.Parse("")
	require.Error(t, err)
}
