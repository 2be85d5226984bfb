package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/alexjbarnes/wikisync/internal/config"
	"github.com/alexjbarnes/wikisync/internal/logging"
	"github.com/spf13/cobra"
)

// version is set at build time via ldflags.
var version = "dev"

// Global persistent flags, bound in newRootCmd().
var (
	flagJSON    bool
	flagVerbose bool
	flagQuiet   bool
)

// resolvedCfg holds the configuration loaded by PersistentPreRunE.
var resolvedCfg *config.Config

// skipConfigAnnotation marks commands that run without configuration.
const skipConfigAnnotation = "skip-config"

// newRootCmd builds the root command with all subcommands registered.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "wikisync",
		Short:   "Wiki page synchronization",
		Long:    "Keep a local and a remote copy of a wiki in step: serve the sync endpoint, review divergence, resolve conflicts and run sync passes.",
		Version: version,
		// Errors are printed by main.
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Annotations[skipConfigAnnotation] == "true" {
				return nil
			}

			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}

			resolvedCfg = cfg

			return nil
		},
	}

	cmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "output in JSON format")
	cmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")
	cmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "suppress informational output")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newTreeCmd())
	cmd.AddCommand(newRefreshCmd())
	cmd.AddCommand(newSyncCmd())
	cmd.AddCommand(newIgnoreCmd(true))
	cmd.AddCommand(newIgnoreCmd(false))
	cmd.AddCommand(newHashPasswordCmd())

	return cmd
}

// buildLogger creates the logger for the loaded config. --verbose and
// --quiet override LOG_LEVEL.
func buildLogger() *slog.Logger {
	level := resolvedCfg.LogLevel

	if flagVerbose {
		level = "debug"
	}

	if flagQuiet {
		level = "error"
	}

	return logging.NewLogger(resolvedCfg.Environment, level)
}

// statusf prints a status message to stderr unless quiet mode is set.
func statusf(format string, args ...any) {
	if !flagQuiet {
		fmt.Fprintf(os.Stderr, format, args...)
	}
}

// exitOnError prints a user-friendly error message to stderr and exits.
func exitOnError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
