// Command screenflow runs the CV screening service and drives applications
// through it from the command line.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/deepnoodle-ai/screenflow/config"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

type rootFlags struct {
	configPath string
	backend    string
	logLevel   string
	jsonOutput bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		color.Red("Error: %v", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	flags := &rootFlags{}
	root := &cobra.Command{
		Use:           "screenflow",
		Short:         "Screen CVs with a resumable, human-reviewed pipeline",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "Path to a screenflow.yaml config file")
	root.PersistentFlags().StringVar(&flags.backend, "store", "", "Override the store backend (memory, file, postgres)")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "Override the log level")
	root.PersistentFlags().BoolVar(&flags.jsonOutput, "json", false, "Print results as JSON")

	root.AddCommand(
		newServeCommand(flags),
		newSubmitCommand(flags),
		newReviewCommand(flags),
		newStatusCommand(flags),
		newCancelCommand(flags),
		newThreadsCommand(flags),
		newMigrateCommand(flags),
	)
	return root
}

// load reads the configuration and applies command line overrides.
func (f *rootFlags) load() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return nil, nil, err
	}
	if f.backend != "" {
		cfg.Store.Backend = f.backend
	}
	if f.logLevel != "" {
		cfg.Logging.Level = f.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, newLogger(cfg), nil
}

// openApp loads the configuration and builds an app for a one-shot command.
// Logging defaults to warnings so that command output stays readable.
func (f *rootFlags) openApp(ctx context.Context) (*app, error) {
	if f.logLevel == "" {
		f.logLevel = "warn"
	}
	cfg, logger, err := f.load()
	if err != nil {
		return nil, err
	}
	return newApp(ctx, cfg, logger, appOptions{})
}
