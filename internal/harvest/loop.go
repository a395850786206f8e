package harvest

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"go.uber.org/zap"
)

// LoopConfig tunes the crawl loop.
type LoopConfig struct {
	RunID string
	// MaxRecords stops the run after that many records. Zero means no limit.
	MaxRecords int
	// ArchivePrefix is the object prefix for page snapshots.
	ArchivePrefix string
}

// Dependencies are the collaborators of a Loop. Archive and Observer are
// optional.
type Dependencies struct {
	Agent       PageAgent
	Sessions    Establisher
	Pager       Pager
	Guard       ExpiryGuard
	Extractor   FieldExtractor
	Sink        RecordSink
	Checkpoints CheckpointStore
	Archive     PageArchive
	Clock       Clock
	Observer    Observer
}

// Loop orchestrates a run:
//
//	BOOTSTRAP -> POSITIONING -> ITERATING -> DONE
type Loop struct {
	deps   Dependencies
	cfg    LoopConfig
	logger *zap.Logger
	state  LoopState
}

// NewLoop constructs a Loop.
func NewLoop(deps Dependencies, cfg LoopConfig, logger *zap.Logger) *Loop {
	if deps.Observer == nil {
		deps.Observer = nopObserver{}
	}
	if deps.Clock == nil {
		deps.Clock = utcClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ArchivePrefix == "" {
		cfg.ArchivePrefix = "pages"
	}
	return &Loop{
		deps:   deps,
		cfg:    cfg,
		logger: logger.With(zap.String("run_id", cfg.RunID)),
		state:  LoopIdle,
	}
}

// SetMaxRecords overrides the record limit. Call it before Run.
func (l *Loop) SetMaxRecords(n int) {
	l.cfg.MaxRecords = n
}

// State returns the current loop state.
func (l *Loop) State() LoopState {
	return l.state
}

// Run crawls until the result list is exhausted. Sink failures are logged
// and skipped, and an unreadable page is retried after a recovery cycle.
// Bootstrap, navigation and checkpoint failures abort the run.
// The returned summary is valid even when err is non-nil.
func (l *Loop) Run(ctx context.Context) (Summary, error) {
	summary := Summary{RunID: l.cfg.RunID}

	l.enter(LoopBootstrap)
	session, err := l.deps.Sessions.Establish(ctx)
	if err != nil {
		return summary, fmt.Errorf("bootstrap: %w", err)
	}

	l.enter(LoopPositioning)
	cursor, err := l.position(ctx, session)
	if err != nil {
		return summary, fmt.Errorf("position: %w", err)
	}
	summary.FirstCursor = cursor

	l.enter(LoopIterating)
	for {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		next, recovered, err := l.deps.Guard.Check(ctx, cursor, session)
		if err != nil {
			err = fmt.Errorf("session check at cursor %d: %w", cursor, err)
		} else if !recovered {
			err = l.process(ctx, cursor, &summary)
		}
		if errors.Is(err, ErrPageUnreadable) && ctx.Err() == nil {
			next, err = l.deps.Guard.Recover(ctx, cursor, session, err)
			if err != nil {
				err = fmt.Errorf("recover at cursor %d: %w", cursor, err)
			}
			recovered = err == nil
		}
		if err != nil {
			return summary, err
		}
		session = next
		if recovered {
			summary.Recoveries++
			continue
		}

		if l.cfg.MaxRecords > 0 && summary.Processed >= l.cfg.MaxRecords {
			l.logger.Info("record limit reached", zap.Int("max_records", l.cfg.MaxRecords))
			break
		}

		more, err := l.deps.Pager.Advance(ctx)
		if err != nil {
			return summary, fmt.Errorf("advance from cursor %d: %w", cursor, err)
		}
		if !more {
			summary.Exhausted = true
			url, _ := l.deps.Agent.CurrentURL(ctx)
			l.logger.Info("no next record", zap.Int("cursor", int(cursor)), zap.String("url", url))
			break
		}
		cursor++
	}

	l.enter(LoopDone)
	l.logger.Info("crawl finished",
		zap.Int("processed", summary.Processed),
		zap.Int("last_cursor", int(summary.LastCursor)),
		zap.Int("sink_failures", summary.SinkFailures),
		zap.Int("recoveries", summary.Recoveries),
	)
	return summary, nil
}

func (l *Loop) position(ctx context.Context, session SessionContext) (Cursor, error) {
	cursor, ok, err := l.deps.Checkpoints.Read(ctx)
	if err != nil {
		return 0, fmt.Errorf("read checkpoint: %w", err)
	}
	if ok {
		l.logger.Info("resuming from checkpoint", zap.Int("cursor", int(cursor)))
		if err := l.deps.Pager.JumpTo(ctx, session, cursor); err != nil {
			return 0, err
		}
		return cursor, nil
	}
	l.logger.Info("no checkpoint, opening first record")
	if err := l.deps.Pager.OpenFirst(ctx); err != nil {
		return 0, err
	}
	return 1, nil
}

// process handles one record: extract, save, archive, checkpoint.
func (l *Loop) process(ctx context.Context, cursor Cursor, summary *Summary) error {
	html, err := l.deps.Agent.PageSource(ctx)
	if err != nil {
		return fmt.Errorf("read page at cursor %d: %w: %w", cursor, ErrPageUnreadable, err)
	}
	url, err := l.deps.Agent.CurrentURL(ctx)
	if err != nil {
		l.logger.Warn("read current url", zap.Int("cursor", int(cursor)), zap.Error(err))
	}
	l.logger.Debug("extracting record", zap.Int("cursor", int(cursor)), zap.String("url", url))

	record := Record{
		Cursor:     cursor,
		RunID:      l.cfg.RunID,
		URL:        url,
		Fields:     l.deps.Extractor.Extract(html),
		IngestedAt: l.deps.Clock.Now(),
	}

	sinkErr := l.deps.Sink.Save(ctx, record)
	if sinkErr != nil {
		summary.SinkFailures++
		l.logger.Error("save record failed",
			zap.Int("cursor", int(cursor)),
			zap.String("url", url),
			zap.Error(sinkErr),
		)
	}
	l.archive(ctx, cursor, html)

	if err := l.deps.Checkpoints.Write(ctx, cursor); err != nil {
		return fmt.Errorf("write checkpoint %d: %w", cursor, err)
	}
	summary.Processed++
	summary.LastCursor = cursor
	l.deps.Observer.RecordProcessed(cursor, sinkErr)
	l.logger.Info("record processed", zap.Int("cursor", int(cursor)))
	return nil
}

func (l *Loop) archive(ctx context.Context, cursor Cursor, html string) {
	if l.deps.Archive == nil {
		return
	}
	key := path.Join(l.cfg.ArchivePrefix, cursor.String()+".html")
	uri, err := l.deps.Archive.PutObject(ctx, key, "text/html; charset=utf-8", strings.NewReader(html))
	if err != nil {
		l.logger.Warn("archive page failed", zap.Int("cursor", int(cursor)), zap.Error(err))
		return
	}
	l.logger.Debug("page archived", zap.Int("cursor", int(cursor)), zap.String("uri", uri))
}

func (l *Loop) enter(state LoopState) {
	l.logger.Debug("loop state", zap.Stringer("from", l.state), zap.Stringer("to", state))
	l.state = state
	l.deps.Observer.LoopStateChanged(state)
}

type utcClock struct{}

func (utcClock) Now() time.Time { return time.Now().UTC() }
