package postgres

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/archive-harvester/internal/harvest"
)

func newCheckpointMock(t *testing.T) (pgxmock.PgxPoolIface, *CheckpointStore) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	store, err := NewCheckpointStore(mock, "", "ebsco")
	require.NoError(t, err)
	return mock, store
}

func TestCheckpointStoreReadMissingRow(t *testing.T) {
	t.Parallel()

	mock, store := newCheckpointMock(t)
	mock.ExpectQuery("SELECT cursor FROM harvest_checkpoints WHERE name").
		WithArgs("ebsco").
		WillReturnError(pgx.ErrNoRows)

	cursor, ok, err := store.Read(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Zero(t, cursor)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCheckpointStoreReadRow(t *testing.T) {
	t.Parallel()

	mock, store := newCheckpointMock(t)
	mock.ExpectQuery("SELECT cursor FROM harvest_checkpoints WHERE name").
		WithArgs("ebsco").
		WillReturnRows(pgxmock.NewRows([]string{"cursor"}).AddRow(41))

	cursor, ok, err := store.Read(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, harvest.Cursor(41), cursor)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCheckpointStoreReadError(t *testing.T) {
	t.Parallel()

	mock, store := newCheckpointMock(t)
	mock.ExpectQuery("SELECT cursor").
		WithArgs("ebsco").
		WillReturnError(errors.New("timeout"))

	_, _, err := store.Read(context.Background())
	require.ErrorContains(t, err, "read checkpoint ebsco")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCheckpointStoreWriteUpserts(t *testing.T) {
	t.Parallel()

	mock, store := newCheckpointMock(t)
	mock.ExpectExec(`INSERT INTO harvest_checkpoints .* ON CONFLICT \(name\) DO UPDATE`).
		WithArgs("ebsco", 42).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.Write(context.Background(), 42))
	require.ErrorIs(t, store.Write(context.Background(), 0), harvest.ErrInvalidCursor)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCheckpointStoreClearAndSchema(t *testing.T) {
	t.Parallel()

	mock, store := newCheckpointMock(t)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS harvest_checkpoints").
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectExec("DELETE FROM harvest_checkpoints WHERE name").
		WithArgs("ebsco").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))

	require.NoError(t, store.EnsureSchema(context.Background()))
	require.NoError(t, store.Clear(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewCheckpointStoreDefaults(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewCheckpointStore(mock, "", "")
	require.NoError(t, err)
	assert.Equal(t, DefaultCheckpointTable, store.table)
	assert.Equal(t, DefaultCheckpointName, store.name)

	_, err = NewCheckpointStore(mock, "bad-name", "")
	require.Error(t, err)
	_, err = NewCheckpointStore(nil, "", "")
	require.Error(t, err)
}
