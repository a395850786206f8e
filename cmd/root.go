// Package cmd defines and implements the CLI commands for the harvester executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/archive-harvester/internal/app"
	"github.com/JakeFAU/archive-harvester/internal/config"
	"github.com/JakeFAU/archive-harvester/internal/harvest"
	"github.com/JakeFAU/archive-harvester/internal/logging"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App defines the services that commands use. It lets tests inject a
// preconfigured app.
type App interface {
	Close()
	Config() config.Config
	Logger() *zap.Logger
	RunID() string
	Checkpoints() app.Checkpoints
	NewLoop(agent harvest.PageAgent, sleeper harvest.Sleeper, observer harvest.Observer) *harvest.Loop
}

// newApp is the application factory. It's a variable so tests can replace it.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (App, error) {
	return app.New(ctx, cfg, logger)
}

type rootFlags struct {
	configFile string
	envFiles   []string

	app       App
	closeOnce sync.Once
}

// shutdown closes the injected app once. Cobra skips post-run hooks when a
// command fails, so Execute calls it as well.
func (f *rootFlags) shutdown() {
	f.closeOnce.Do(func() {
		if f.app == nil {
			return
		}
		f.app.Close()
		_ = f.app.Logger().Sync()
	})
}

// newRootCmd creates and configures the root command.
func newRootCmd() (*cobra.Command, *rootFlags) {
	flags := &rootFlags{}
	cmd := &cobra.Command{
		Use:   "harvester",
		Short: "Harvests article records from a session-based research database.",
		Long: `harvester logs into a subscription research database through a headless
browser, walks the result list of a saved search one record at a time and
stores every record it sees. Progress is checkpointed after each record so
an interrupted run resumes where it stopped.`,
		SilenceUsage: true,

		// Runs before every subcommand: load config, build the logger and
		// inject the application services.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(flags.configFile, flags.envFiles...)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := logging.New(logging.Options{
				Development: cfg.Logging.Development,
				Level:       cfg.Logging.Level,
			})
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			zap.ReplaceGlobals(logger)

			appInstance, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			flags.app = appInstance
			ctx := context.WithValue(cmd.Context(), appKey, appInstance)
			cmd.SetContext(ctx)
			return nil
		},

		PersistentPostRun: func(*cobra.Command, []string) {
			flags.shutdown()
		},
	}

	cmd.PersistentFlags().StringVar(&flags.configFile, "config", "", "config file (yaml, json or toml)")
	cmd.PersistentFlags().StringSliceVar(&flags.envFiles, "env-file", nil, "dotenv files to load before reading the environment (default .env)")

	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newCheckpointCmd())
	return cmd, flags
}

// Execute runs the CLI with ctx as the root context.
func Execute(ctx context.Context) error {
	root, flags := newRootCmd()
	defer flags.shutdown()
	return root.ExecuteContext(ctx)
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}
