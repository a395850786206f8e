package harvest

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// RecoveryConfig tunes the recovery supervisor.
type RecoveryConfig struct {
	// SettleDelay is waited after the expiry marker is seen and before
	// logging in again.
	SettleDelay time.Duration
	// MaxAttempts caps consecutive recovery attempts for one cursor.
	// Zero means unbounded.
	MaxAttempts int
	Backoff     *ExponentialBackoff
}

// RecoverySupervisor detects session expiry and drives re-authentication
// plus cursor repositioning:
//
//	ACTIVE -> EXPIRED -> REAUTHENTICATING -> RESUMED -> ACTIVE
//
// A failed cycle falls back to EXPIRED and is retried with backoff. The same
// cycle serves pages that could not be read at all.
type RecoverySupervisor struct {
	agent    PageAgent
	marker   Selector
	sessions Establisher
	pager    Pager
	sleeper  Sleeper
	cfg      RecoveryConfig
	observer Observer
	logger   *zap.Logger

	state    RecoveryState
	cursor   Cursor
	attempts int
}

// NewRecoverySupervisor constructs a supervisor in the ACTIVE state.
func NewRecoverySupervisor(
	agent PageAgent,
	marker Selector,
	sessions Establisher,
	pager Pager,
	sleeper Sleeper,
	cfg RecoveryConfig,
	observer Observer,
	logger *zap.Logger,
) *RecoverySupervisor {
	if observer == nil {
		observer = nopObserver{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RecoverySupervisor{
		agent:    agent,
		marker:   marker,
		sessions: sessions,
		pager:    pager,
		sleeper:  sleeper,
		cfg:      cfg,
		observer: observer,
		logger:   logger,
		state:    RecoveryActive,
	}
}

// State returns the current supervisor state.
func (r *RecoverySupervisor) State() RecoveryState {
	return r.state
}

// Attempts returns the number of recovery attempts made at the current
// cursor. The count starts over when the crawl moves to another cursor.
func (r *RecoverySupervisor) Attempts() int {
	return r.attempts
}

// Expired reports whether the expiry marker is on the current page.
func (r *RecoverySupervisor) Expired(ctx context.Context) (bool, error) {
	_, found, err := r.agent.FindElement(ctx, r.marker)
	if err != nil {
		return false, fmt.Errorf("look for expiry marker: %w", err)
	}
	return found, nil
}

// Check runs before every iteration. With no marker on the page it returns
// the session unchanged. Otherwise it re-establishes the session, jumps back
// to cursor and returns the new session with recovered set; the caller then
// retries the same cursor.
func (r *RecoverySupervisor) Check(ctx context.Context, cursor Cursor, session SessionContext) (SessionContext, bool, error) {
	r.track(cursor)
	expired, err := r.Expired(ctx)
	if err != nil {
		return session, false, fmt.Errorf("%w: %w", ErrPageUnreadable, err)
	}
	if !expired {
		r.enter(RecoveryActive)
		return session, false, nil
	}

	r.enter(RecoveryExpired)
	r.logger.Warn("session expired, logging in again", zap.Int("cursor", int(cursor)))
	fresh, err := r.recover(ctx, cursor)
	if err != nil {
		return session, false, err
	}
	return fresh, true, nil
}

// Recover runs a recovery cycle for a page that could not be read, for
// example after a browser action timed out. cause is only logged. The caller
// retries cursor with the returned session.
func (r *RecoverySupervisor) Recover(ctx context.Context, cursor Cursor, session SessionContext, cause error) (SessionContext, error) {
	r.track(cursor)
	r.enter(RecoveryExpired)
	r.logger.Warn("page unreadable, logging in again",
		zap.Int("cursor", int(cursor)),
		zap.Error(cause),
	)
	fresh, err := r.recover(ctx, cursor)
	if err != nil {
		return session, err
	}
	return fresh, nil
}

func (r *RecoverySupervisor) recover(ctx context.Context, cursor Cursor) (SessionContext, error) {
	for {
		r.attempts++
		if r.cfg.MaxAttempts > 0 && r.attempts > r.cfg.MaxAttempts {
			return SessionContext{}, fmt.Errorf("%w after %d attempts at cursor %d",
				ErrRecoveryExhausted, r.cfg.MaxAttempts, cursor)
		}
		if err := r.wait(ctx); err != nil {
			return SessionContext{}, err
		}

		r.enter(RecoveryReauthenticating)
		fresh, err := r.reauthenticate(ctx, cursor)
		if err == nil {
			r.enter(RecoveryResumed)
			r.logger.Info("session recovered",
				zap.Int("cursor", int(cursor)),
				zap.Int("attempt", r.attempts),
			)
			r.enter(RecoveryActive)
			return fresh, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return SessionContext{}, ctxErr
		}
		if IsFatal(err) {
			return SessionContext{}, err
		}
		r.logger.Warn("recovery attempt failed",
			zap.Int("cursor", int(cursor)),
			zap.Int("attempt", r.attempts),
			zap.Error(err),
		)
		r.enter(RecoveryExpired)
	}
}

// track restarts the attempt count when the crawl reaches a new cursor.
func (r *RecoverySupervisor) track(cursor Cursor) {
	if cursor != r.cursor {
		r.cursor = cursor
		r.attempts = 0
	}
}

func (r *RecoverySupervisor) reauthenticate(ctx context.Context, cursor Cursor) (SessionContext, error) {
	fresh, err := r.sessions.Establish(ctx)
	if err != nil {
		return SessionContext{}, fmt.Errorf("re-establish session: %w", err)
	}
	if err := r.pager.JumpTo(ctx, fresh, cursor); err != nil {
		return SessionContext{}, fmt.Errorf("reposition: %w", err)
	}
	return fresh, nil
}

func (r *RecoverySupervisor) wait(ctx context.Context) error {
	delay := r.cfg.SettleDelay
	if r.attempts > 1 {
		delay += r.cfg.Backoff.Backoff(r.attempts - 2)
	}
	if delay <= 0 || r.sleeper == nil {
		return ctx.Err()
	}
	if err := r.sleeper.Sleep(ctx, delay); err != nil {
		return fmt.Errorf("recovery wait: %w", err)
	}
	return nil
}

func (r *RecoverySupervisor) enter(state RecoveryState) {
	if r.state == state {
		return
	}
	r.logger.Debug("recovery state", zap.Stringer("from", r.state), zap.Stringer("to", state))
	r.state = state
	r.observer.RecoveryStateChanged(state)
}
