package harvest

import (
	"sync"
	"time"
)

// Status is a point-in-time view of a run for operators.
type Status struct {
	RunID         string    `json:"run_id"`
	LoopState     string    `json:"loop_state"`
	RecoveryState string    `json:"recovery_state"`
	Cursor        Cursor    `json:"cursor"`
	Processed     int       `json:"processed"`
	SinkFailures  int       `json:"sink_failures"`
	Recoveries    int       `json:"recoveries"`
	StartedAt     time.Time `json:"started_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Tracker folds observer notifications into a Status that other goroutines
// can read while the loop runs.
type Tracker struct {
	clock Clock

	mu     sync.RWMutex
	status Status
	loop   LoopState
}

var _ Observer = (*Tracker)(nil)

// NewTracker starts tracking runID.
func NewTracker(runID string, clock Clock) *Tracker {
	if clock == nil {
		clock = utcClock{}
	}
	now := clock.Now()
	return &Tracker{
		clock: clock,
		loop:  LoopIdle,
		status: Status{
			RunID:         runID,
			LoopState:     LoopIdle.String(),
			RecoveryState: RecoveryActive.String(),
			StartedAt:     now,
			UpdatedAt:     now,
		},
	}
}

// Snapshot returns a copy of the current status.
func (t *Tracker) Snapshot() Status {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.status
}

// Ready reports whether the session is established and the crawl is past
// positioning.
func (t *Tracker) Ready() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.loop >= LoopIterating
}

// LoopStateChanged implements Observer.
func (t *Tracker) LoopStateChanged(state LoopState) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.loop = state
	t.status.LoopState = state.String()
	t.status.UpdatedAt = t.clock.Now()
}

// RecoveryStateChanged implements Observer.
func (t *Tracker) RecoveryStateChanged(state RecoveryState) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status.RecoveryState = state.String()
	if state == RecoveryResumed {
		t.status.Recoveries++
	}
	t.status.UpdatedAt = t.clock.Now()
}

// RecordProcessed implements Observer.
func (t *Tracker) RecordProcessed(cursor Cursor, sinkErr error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status.Cursor = cursor
	t.status.Processed++
	if sinkErr != nil {
		t.status.SinkFailures++
	}
	t.status.UpdatedAt = t.clock.Now()
}
