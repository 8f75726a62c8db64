// Package cmd defines the cvpr-scrape2plot command line.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/TontonTremblay/cvpr-scrape2plot/internal/app"
	"github.com/TontonTremblay/cvpr-scrape2plot/internal/config"
	"github.com/TontonTremblay/cvpr-scrape2plot/internal/crawler"
	"github.com/TontonTremblay/cvpr-scrape2plot/internal/logging"
)

var cfgFile string

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

const shutdownTimeout = 10 * time.Second

// App is what the commands need from the service container. Tests swap in a
// fake through newApp.
type App interface {
	Harvest(ctx context.Context) (app.Report, error)
	Merge(ctx context.Context) ([]crawler.PaperRecord, []int, []string, error)
	Serve()
	Config() config.Config
	Logger() *zap.Logger
	Close(ctx context.Context) error
}

// newApp is the application factory.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (App, error) {
	return app.New(ctx, cfg, logger)
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cvpr-scrape2plot",
		Short: "Harvest CVPR paper metadata from the CVF open access site.",
		Long: `cvpr-scrape2plot crawls the CVF open access listings for each CVPR year,
extracts title, authors, abstract and links for every paper, and writes a
deduplicated dataset as JSON and CSV. Per-year snapshots land as soon as a
year finishes so an interrupted harvest can be merged later.`,
		SilenceUsage: true,

		// Config is loaded here so subcommand flags are already parsed.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile, cmd.Flags())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := logging.New(cfg.Logging)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			zap.ReplaceGlobals(logger)

			appInstance, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default is $XDG_CONFIG_HOME/cvpr-scrape2plot/config.yaml)")
	cmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	cmd.PersistentFlags().Bool("dev", false, "human-readable development logging")

	cmd.AddCommand(newHarvestCmd(), newMergeCmd(), newVersionCmd())
	return cmd
}

// withApp resolves the App stored by PersistentPreRunE and closes it once run
// returns, whether or not run failed. Cobra skips post-run hooks on error, so
// shutdown lives here instead.
func withApp(run func(cmd *cobra.Command, a App) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) (err error) {
		appInstance, ok := cmd.Context().Value(appKey).(App)
		if !ok || appInstance == nil {
			return errors.New("application services not initialized")
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if cerr := appInstance.Close(ctx); cerr != nil {
				appInstance.Logger().Warn("Failed to close services", zap.Error(cerr))
				err = errors.Join(err, cerr)
			}
			_ = appInstance.Logger().Sync()
		}()
		return run(cmd, appInstance)
	}
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
