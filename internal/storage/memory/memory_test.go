package memory

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/archive-harvester/internal/harvest"
)

func TestRecordStoreReplacesByCursor(t *testing.T) {
	t.Parallel()

	store := NewRecordStore()
	ctx := context.Background()
	require.NoError(t, store.Save(ctx, harvest.Record{Cursor: 2, RunID: "a"}))
	require.NoError(t, store.Save(ctx, harvest.Record{Cursor: 1, RunID: "a"}))
	require.NoError(t, store.Save(ctx, harvest.Record{Cursor: 2, RunID: "b"}))

	assert.Equal(t, 2, store.Len())
	recs := store.Records()
	require.Len(t, recs, 2)
	assert.Equal(t, harvest.Cursor(1), recs[0].Cursor)
	assert.Equal(t, "b", recs[1].RunID)

	got, ok := store.Get(2)
	require.True(t, ok)
	assert.Equal(t, "b", got.RunID)

	require.ErrorIs(t, store.Save(ctx, harvest.Record{}), harvest.ErrInvalidCursor)
}

func TestCheckpointStoreLifecycle(t *testing.T) {
	t.Parallel()

	store := NewCheckpointStore()
	ctx := context.Background()

	_, ok, err := store.Read(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.Write(ctx, 9))
	cursor, ok, err := store.Read(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, harvest.Cursor(9), cursor)

	require.ErrorIs(t, store.Write(ctx, -1), harvest.ErrInvalidCursor)

	require.NoError(t, store.Clear(ctx))
	_, ok, err = store.Read(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPageArchivePutObjectCopiesData(t *testing.T) {
	t.Parallel()

	archive := NewPageArchive()
	payload := []byte("<html></html>")
	uri, err := archive.PutObject(context.Background(), "pages/1.html", "text/html", bytes.NewReader(payload))
	require.NoError(t, err)
	assert.Equal(t, "memory://pages/1.html", uri)

	payload[0] = 'X'
	stored, ok := archive.Object("pages/1.html")
	require.True(t, ok)
	assert.Equal(t, "<html></html>", string(stored))

	_, err = archive.PutObject(context.Background(), " ", "text/html", strings.NewReader("x"))
	require.Error(t, err)
}
