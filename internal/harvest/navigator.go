package harvest

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Navigator moves the displayed page between records. It never owns the
// cursor value; callers do the bookkeeping.
type Navigator struct {
	agent  PageAgent
	layout Layout
	logger *zap.Logger
}

// NewNavigator constructs a Navigator.
func NewNavigator(agent PageAgent, layout Layout, logger *zap.Logger) *Navigator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Navigator{agent: agent, layout: layout, logger: logger}
}

// JumpTo opens the record at cursor directly. Used at startup and after
// recovery.
func (n *Navigator) JumpTo(ctx context.Context, session SessionContext, cursor Cursor) error {
	if !session.Valid() {
		return ErrNoSession
	}
	if !cursor.Valid() {
		return fmt.Errorf("%w: got %d", ErrInvalidCursor, cursor)
	}
	n.logger.Info("jumping to record",
		zap.Int("cursor", int(cursor)),
		zap.String("record_url", session.RedactIn(n.RecordURL(session, cursor))),
	)
	if err := n.agent.RunScript(ctx, fmt.Sprintf(n.layout.JumpScript, int(cursor))); err != nil {
		return fmt.Errorf("jump to record %d: %w", cursor, err)
	}
	return nil
}

// RecordURL is the direct detail URL of a record within the session.
func (n *Navigator) RecordURL(session SessionContext, cursor Cursor) string {
	if n.layout.DetailURLTemplate == "" {
		return ""
	}
	return fmt.Sprintf(n.layout.DetailURLTemplate, int(cursor), session.Token)
}

// OpenFirst opens the first record of a fresh result list.
func (n *Navigator) OpenFirst(ctx context.Context) error {
	results, err := n.agent.FindElements(ctx, n.layout.FirstResult)
	if err != nil {
		return fmt.Errorf("list results: %w", err)
	}
	if len(results) == 0 {
		return ErrNoResults
	}
	n.logger.Info("opening first record", zap.Int("results_on_page", len(results)))
	if err := n.agent.Click(ctx, results[0]); err != nil {
		return fmt.Errorf("open first record: %w", err)
	}
	return nil
}

// Advance activates the "next" control. It returns false, with no error,
// when there is no next record.
func (n *Navigator) Advance(ctx context.Context) (bool, error) {
	next, ok, err := n.agent.FindElement(ctx, n.layout.NextControl)
	if err != nil {
		return false, fmt.Errorf("find next control: %w", err)
	}
	if !ok {
		return false, nil
	}
	if err := n.agent.Click(ctx, next); err != nil {
		return false, fmt.Errorf("click next control: %w", err)
	}
	return true, nil
}
