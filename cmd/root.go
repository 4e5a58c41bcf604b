// Package cmd defines and implements the CLI commands for the fetcher executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/parallel-fetcher/internal/archive"
	"github.com/JakeFAU/parallel-fetcher/internal/config"
	"github.com/JakeFAU/parallel-fetcher/internal/crawler"
	"github.com/JakeFAU/parallel-fetcher/internal/fetcher"
	"github.com/JakeFAU/parallel-fetcher/internal/logging"
	"github.com/JakeFAU/parallel-fetcher/internal/research"
	"github.com/JakeFAU/parallel-fetcher/internal/server"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App defines the application interface that commands use, so tests can inject a fake.
type App interface {
	Config() config.Config
	Logger() *zap.Logger
	Fetcher(mode fetcher.Mode) (crawler.Fetcher, error)
	FetchOptions(mode fetcher.Mode, extract bool) fetcher.Options
	Recorder() *archive.Recorder
	Searcher() (crawler.Searcher, error)
	Research() (*research.Pipeline, error)
	Run(ctx context.Context) error
	Close(ctx context.Context) error
}

// newApp is the application factory. It's a variable so tests can replace it.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (App, error) {
	a, err := server.Build(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("build app: %w", err)
	}
	return a, nil
}

// loadConfig is swapped out by tests.
var loadConfig = config.Load

type rootOptions struct {
	cfgFile  string
	logLevel string
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "fetcher",
		Short: "Fetch many URLs at once with bounded parallelism.",
		Long: `fetcher runs a batch of page fetches through a fixed number of concurrent
slots and reports exactly one outcome per URL. The same engine backs a web
search command, a question answering loop and an HTTP service.`,
		SilenceUsage: true,

		// Builds the application and injects it before the subcommand's RunE.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(opts.cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if opts.logLevel != "" {
				cfg.Logging.Level = opts.logLevel
			}
			logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
			if err != nil {
				return fmt.Errorf("logger init failed: %w", err)
			}
			zap.ReplaceGlobals(logger)

			appInstance, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},

		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, ok := cmd.Context().Value(appKey).(App)
			if !ok || appInstance == nil {
				return nil
			}
			err := appInstance.Close(cmd.Context())
			_ = appInstance.Logger().Sync()
			if err != nil {
				return fmt.Errorf("close application: %w", err)
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.cfgFile, "config", "", "config file (YAML, JSON or TOML)")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override logging.level (debug, info, warn, error)")

	cmd.AddCommand(newFetchCmd())
	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newAskCmd())
	cmd.AddCommand(newServeCmd())
	return cmd
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
