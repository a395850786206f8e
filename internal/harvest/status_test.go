package harvest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrackerFoldsNotifications(t *testing.T) {
	t.Parallel()

	clock := fakeClock{now: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
	tr := NewTracker("run-7", clock)

	s := tr.Snapshot()
	assert.Equal(t, "run-7", s.RunID)
	assert.Equal(t, "idle", s.LoopState)
	assert.Equal(t, "active", s.RecoveryState)
	assert.False(t, tr.Ready())

	tr.LoopStateChanged(LoopBootstrap)
	assert.False(t, tr.Ready())
	tr.LoopStateChanged(LoopIterating)
	assert.True(t, tr.Ready())

	tr.RecordProcessed(1, nil)
	tr.RecordProcessed(2, errors.New("sink down"))
	tr.RecoveryStateChanged(RecoveryExpired)
	tr.RecoveryStateChanged(RecoveryReauthenticating)
	tr.RecoveryStateChanged(RecoveryResumed)
	tr.RecoveryStateChanged(RecoveryActive)

	s = tr.Snapshot()
	assert.Equal(t, Cursor(2), s.Cursor)
	assert.Equal(t, 2, s.Processed)
	assert.Equal(t, 1, s.SinkFailures)
	assert.Equal(t, 1, s.Recoveries)
	assert.Equal(t, "iterating", s.LoopState)
	assert.Equal(t, "active", s.RecoveryState)
	assert.Equal(t, clock.now, s.UpdatedAt)
}

func TestTrackerFollowsLoop(t *testing.T) {
	t.Parallel()

	site := newFakeSite(3)
	tr := NewTracker("run-x", nil)
	h := newHarness(site, RecoveryConfig{}, LoopConfig{RunID: "run-x"}, tr)

	summary, err := h.loop.Run(context.Background())
	require.NoError(t, err)

	s := tr.Snapshot()
	assert.Equal(t, "done", s.LoopState)
	assert.Equal(t, summary.Processed, s.Processed)
	assert.Equal(t, summary.LastCursor, s.Cursor)
}

func TestTrackerConcurrentReads(t *testing.T) {
	t.Parallel()

	tr := NewTracker("run", nil)
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_ = tr.Snapshot()
				_ = tr.Ready()
			}
		}()
	}
	for i := 1; i <= 100; i++ {
		tr.RecordProcessed(Cursor(i), nil)
	}
	wg.Wait()
	assert.Equal(t, 100, tr.Snapshot().Processed)
}
