package cmd

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/archive-harvester/internal/api"
	"github.com/JakeFAU/archive-harvester/internal/browser"
	"github.com/JakeFAU/archive-harvester/internal/clock/system"
	"github.com/JakeFAU/archive-harvester/internal/harvest"
	"github.com/JakeFAU/archive-harvester/internal/metrics"
)

// pageAgent is a harvest.PageAgent that owns a browser process.
type pageAgent interface {
	harvest.PageAgent
	Close() error
}

// newAgent starts the page agent. Tests replace it with a scripted site.
var newAgent = func(cfg browser.Config, logger *zap.Logger) (pageAgent, error) {
	return browser.New(cfg, logger)
}

// newSleeper builds the sleeper used for settle delays and backoff.
var newSleeper = func() harvest.Sleeper {
	return system.NewSleeper()
}

// newRunCmd creates the 'run' subcommand, which drives one crawl to the end
// of the result list.
func newRunCmd() *cobra.Command {
	var maxRecords int
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Harvest records until the result list is exhausted",
		Long: `Starts a browser, logs in, selects the configured databases, issues the
search and then walks the result list. A previous checkpoint makes the run
jump straight to the last attempted record.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runHarvest(cmd.Context(), cmd, maxRecords)
		},
	}
	cmd.Flags().IntVar(&maxRecords, "max-records", -1, "stop after this many records (0 means no limit; default uses config)")
	return cmd
}

func runHarvest(ctx context.Context, cmd *cobra.Command, maxRecords int) error {
	appInstance, err := resolveApp(ctx)
	if err != nil {
		return err
	}
	cfg := appInstance.Config()
	logger := appInstance.Logger()
	if err := cfg.ValidateSite(); err != nil {
		return fmt.Errorf("site config: %w", err)
	}
	limitChanged := cmd.Flags().Changed("max-records")
	if limitChanged && maxRecords < 0 {
		return errors.New("--max-records must not be negative")
	}

	metrics.Init()
	tracker := harvest.NewTracker(appInstance.RunID(), nil)

	serverCtx, stopServer := context.WithCancel(ctx)
	var wg sync.WaitGroup
	defer func() {
		stopServer()
		wg.Wait()
	}()
	if cfg.Status.Enabled {
		srv := api.NewServer(tracker, appInstance.Checkpoints(), logger.Named("api"))
		addr := fmt.Sprintf(":%d", cfg.Status.Port)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := srv.ListenAndServe(serverCtx, addr); err != nil {
				logger.Error("status server error", zap.Error(err))
			}
		}()
	}

	agent, err := newAgent(cfg.BrowserConfig(), logger.Named("browser"))
	if err != nil {
		return fmt.Errorf("start browser: %w", err)
	}
	defer func() {
		if cerr := agent.Close(); cerr != nil {
			logger.Warn("failed to close browser", zap.Error(cerr))
		}
	}()

	loop := appInstance.NewLoop(agent, newSleeper(), harvest.Observers{tracker, metrics.Observer{}})
	if limitChanged {
		loop.SetMaxRecords(maxRecords)
	}
	summary, err := loop.Run(ctx)
	logger.Info("harvest summary",
		zap.String("run_id", summary.RunID),
		zap.Int("first_cursor", int(summary.FirstCursor)),
		zap.Int("last_cursor", int(summary.LastCursor)),
		zap.Int("processed", summary.Processed),
		zap.Int("sink_failures", summary.SinkFailures),
		zap.Int("recoveries", summary.Recoveries),
		zap.Bool("exhausted", summary.Exhausted),
	)
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("run harvest: %w", err)
	}
	if err != nil {
		logger.Info("harvest interrupted; resume with the same checkpoint")
	}
	fmt.Fprintf(cmd.OutOrStdout(), "processed %d records (cursor %d..%d)\n",
		summary.Processed, summary.FirstCursor, summary.LastCursor)
	return nil
}
