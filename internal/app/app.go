// Package app builds and owns the long-lived services of a harvester process:
// the record sink, the checkpoint store and the optional page archive.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/JakeFAU/archive-harvester/internal/checkpoint"
	"github.com/JakeFAU/archive-harvester/internal/clock/system"
	"github.com/JakeFAU/archive-harvester/internal/config"
	"github.com/JakeFAU/archive-harvester/internal/harvest"
	"github.com/JakeFAU/archive-harvester/internal/id/uuid"
	"github.com/JakeFAU/archive-harvester/internal/logging"
	"github.com/JakeFAU/archive-harvester/internal/storage/gcs"
	"github.com/JakeFAU/archive-harvester/internal/storage/local"
	"github.com/JakeFAU/archive-harvester/internal/storage/memory"
	"github.com/JakeFAU/archive-harvester/internal/storage/postgres"
	"github.com/JakeFAU/archive-harvester/internal/storage/sqlite"
)

// Checkpoints is a checkpoint store that can also be reset by operators.
type Checkpoints interface {
	harvest.CheckpointStore
	Clear(ctx context.Context) error
}

// App holds the services shared by the CLI commands.
type App struct {
	cfg         config.Config
	logger      *zap.Logger
	runID       string
	clock       harvest.Clock
	sink        harvest.RecordSink
	checkpoints Checkpoints
	archive     harvest.PageArchive
	closers     []func() error
}

// New initializes every configured backend. It fails fast when one cannot be
// reached.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	runID, err := uuid.New().NewID()
	if err != nil {
		return nil, err
	}
	a := &App{
		cfg:    cfg,
		logger: logger,
		runID:  runID,
		clock:  system.New(),
	}

	if err := a.init(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) init(ctx context.Context) error {
	var pool *pgxpool.Pool
	if a.cfg.UsesPostgres() {
		p, err := postgres.Connect(ctx, postgres.PoolConfig{
			DSN:             a.cfg.Postgres.DSN,
			MaxConns:        a.cfg.Postgres.MaxConns,
			MinConns:        a.cfg.Postgres.MinConns,
			MaxConnLifetime: a.cfg.Postgres.MaxConnLifetime,
		})
		if err != nil {
			return err
		}
		pool = p
		a.closers = append(a.closers, func() error { p.Close(); return nil })
	}

	if err := a.initSink(ctx, pool); err != nil {
		return err
	}
	if err := a.initCheckpoints(ctx, pool); err != nil {
		return err
	}
	return a.initArchive(ctx)
}

func (a *App) initSink(ctx context.Context, pool *pgxpool.Pool) error {
	switch a.cfg.Sink.Backend {
	case config.BackendSQLite:
		store, err := sqlite.Open(ctx, a.cfg.Sink.SQLitePath, a.cfg.Sink.Table)
		if err != nil {
			return fmt.Errorf("init sqlite sink: %w", err)
		}
		a.closers = append(a.closers, store.Close)
		a.sink = store
		a.logger.Info("using sqlite sink", zap.String("path", a.cfg.Sink.SQLitePath))
	case config.BackendPostgres:
		store, err := postgres.NewRecordStore(pool, a.cfg.Sink.Table)
		if err != nil {
			return fmt.Errorf("init postgres sink: %w", err)
		}
		if err := store.EnsureSchema(ctx); err != nil {
			return err
		}
		a.sink = store
		a.logger.Info("using postgres sink")
	case config.BackendMemory:
		a.sink = memory.NewRecordStore()
		a.logger.Warn("using in-memory sink; records are discarded on exit")
	default:
		return fmt.Errorf("unknown sink backend %q", a.cfg.Sink.Backend)
	}
	return nil
}

func (a *App) initCheckpoints(ctx context.Context, pool *pgxpool.Pool) error {
	switch a.cfg.Checkpoint.Backend {
	case config.BackendFile:
		store, err := checkpoint.NewFileStore(a.cfg.Checkpoint.Path, a.logger.Named("checkpoint"))
		if err != nil {
			return fmt.Errorf("init checkpoint file: %w", err)
		}
		a.checkpoints = store
	case config.BackendPostgres:
		store, err := postgres.NewCheckpointStore(pool, a.cfg.Checkpoint.Table, a.cfg.Checkpoint.Name)
		if err != nil {
			return fmt.Errorf("init postgres checkpoint: %w", err)
		}
		if err := store.EnsureSchema(ctx); err != nil {
			return err
		}
		a.checkpoints = store
	case config.BackendMemory:
		a.checkpoints = memory.NewCheckpointStore()
		a.logger.Warn("using in-memory checkpoint; progress is lost on exit")
	default:
		return fmt.Errorf("unknown checkpoint backend %q", a.cfg.Checkpoint.Backend)
	}
	return nil
}

func (a *App) initArchive(ctx context.Context) error {
	if !a.cfg.Archive.Enabled {
		return nil
	}
	switch a.cfg.Archive.Backend {
	case config.BackendLocal:
		store, err := local.New(local.Config{BaseDir: a.cfg.Archive.BaseDir})
		if err != nil {
			return fmt.Errorf("init local archive: %w", err)
		}
		a.archive = store
	case config.BackendGCS:
		store, err := gcs.Open(ctx, gcs.Config{Bucket: a.cfg.Archive.GCSBucket}, a.logger)
		if err != nil {
			return fmt.Errorf("init gcs archive: %w", err)
		}
		a.closers = append(a.closers, store.Close)
		a.archive = store
	case config.BackendMemory:
		a.archive = memory.NewPageArchive()
	default:
		return fmt.Errorf("unknown archive backend %q", a.cfg.Archive.Backend)
	}
	a.logger.Info("page archive enabled", zap.String("backend", a.cfg.Archive.Backend))
	return nil
}

// Config returns the loaded configuration.
func (a *App) Config() config.Config { return a.cfg }

// Logger returns the process logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// RunID identifies this process run.
func (a *App) RunID() string { return a.runID }

// Clock is the wall clock used for timestamps.
func (a *App) Clock() harvest.Clock { return a.clock }

// Sink returns the configured record sink.
func (a *App) Sink() harvest.RecordSink { return a.sink }

// Checkpoints returns the configured checkpoint store.
func (a *App) Checkpoints() Checkpoints { return a.checkpoints }

// Archive returns the page archive, or nil when archiving is disabled.
func (a *App) Archive() harvest.PageArchive { return a.archive }

// NewLoop wires the session, navigation, recovery and extraction components
// around agent.
func (a *App) NewLoop(agent harvest.PageAgent, sleeper harvest.Sleeper, observer harvest.Observer) *harvest.Loop {
	sessionCfg := a.cfg.SessionConfig()
	layout := sessionCfg.Layout

	sessions := harvest.NewSessionManager(agent, sleeper, sessionCfg, logging.ForRun(a.logger, "session", a.runID))
	nav := harvest.NewNavigator(agent, layout, logging.ForRun(a.logger, "navigator", a.runID))
	supervisor := harvest.NewRecoverySupervisor(
		agent,
		layout.ErrorMarker,
		sessions,
		nav,
		sleeper,
		a.cfg.RecoveryConfig(),
		observer,
		logging.ForRun(a.logger, "recovery", a.runID),
	)

	deps := harvest.Dependencies{
		Agent:       agent,
		Sessions:    sessions,
		Pager:       nav,
		Guard:       supervisor,
		Extractor:   harvest.NewExtractor(layout),
		Sink:        a.sink,
		Checkpoints: a.checkpoints,
		Clock:       a.clock,
		Archive:     a.archive,
		Observer:    observer,
	}
	return harvest.NewLoop(deps, harvest.LoopConfig{
		RunID:         a.runID,
		MaxRecords:    a.cfg.Loop.MaxRecords,
		ArchivePrefix: a.cfg.Archive.Prefix,
	}, a.logger.Named("loop"))
}

// Close releases backends in reverse order of creation.
func (a *App) Close() {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	if err := errors.Join(errs...); err != nil {
		a.logger.Warn("error closing services", zap.Error(err))
	}
}
