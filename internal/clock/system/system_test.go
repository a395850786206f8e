package system

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestClockIsUTC(t *testing.T) {
	t.Parallel()

	require.Equal(t, time.UTC, New().Now().Location())
}

func TestSleeperWaits(t *testing.T) {
	t.Parallel()

	start := time.Now()
	require.NoError(t, NewSleeper().Sleep(context.Background(), 20*time.Millisecond))
	require.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestSleeperStopsOnCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	start := time.Now()
	err := NewSleeper().Sleep(ctx, time.Hour)
	require.ErrorIs(t, err, context.Canceled)
	require.Less(t, time.Since(start), time.Second)
}
