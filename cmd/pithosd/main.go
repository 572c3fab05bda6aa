// pithosd runs the storage backend maintenance daemon.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"pithos/internal/config"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
)

var cfgFile string

func setupLogging(level string) error {
	lvl, err := log.ParseLevel(strings.ToLower(level))
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}

	handler := log.NewWithOptions(os.Stdout, log.Options{
		Level:           lvl,
		TimeFormat:      time.RFC3339,
		ReportTimestamp: true,
		TimeFunction:    log.NowUTC,
		ReportCaller:    lvl == log.DebugLevel,
	})

	slog.SetDefault(slog.New(handler))
	return nil
}

// loadConfig reads the configuration named by --config and installs the
// logger it asks for.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if err := setupLogging(cfg.Logging.Level); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "pithosd",
		Short: "Pithos storage backend daemon",
		Long: `pithosd hosts the Pithos storage backend: it serves health and
metrics endpoints, keeps quotaholder commissions reconciled and purges
container history.

Configuration is read from pithos.yaml in the working directory, or the
file given with --config, and every key can be overridden with a
PITHOS_ environment variable (e.g. PITHOS_SERVER_LISTEN).`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to the configuration file")

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newReconcileCmd())
	rootCmd.AddCommand(newPurgeCmd())

	return rootCmd
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		slog.Error("Pithos exited with error", "error", err)
		os.Exit(1)
	}
}
