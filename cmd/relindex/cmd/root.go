// Package cmd provides the CLI commands for relindex.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	relerrors "github.com/Aman-CERP/relindex/internal/errors"
	"github.com/Aman-CERP/relindex/internal/logging"
	"github.com/Aman-CERP/relindex/internal/profiling"
	"github.com/Aman-CERP/relindex/pkg/version"
)

// globalOptions are the persistent flags shared by every command.
type globalOptions struct {
	configPath string
	debug      bool
	profile    profiling.Options

	loggingCleanup func()
	profiler       *profiling.Session
}

// NewRootCmd creates the root command for the relindex CLI.
func NewRootCmd() *cobra.Command {
	opts := &globalOptions{}

	cmd := &cobra.Command{
		Use:   "relindex",
		Short: "Keep a release catalog and its full-text indexes in sync",
		Long: `relindex mirrors a release catalog into full-text indexes, answers
ranked searches against them, and runs the quality sweep that removes
junk releases from both stores.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetVersionTemplate("relindex version {{.Version}}\n")

	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "Config file (default: ./relindex.yaml)")
	cmd.PersistentFlags().BoolVar(&opts.debug, "debug", false, "Enable debug logging to ~/.relindex/logs/")

	cmd.PersistentFlags().StringVar(&opts.profile.CPUPath, "profile-cpu", "", "Write a CPU profile to this file")
	cmd.PersistentFlags().StringVar(&opts.profile.HeapPath, "profile-mem", "", "Write a heap profile to this file on exit")
	cmd.PersistentFlags().StringVar(&opts.profile.TracePath, "profile-trace", "", "Write an execution trace to this file")

	cmd.PersistentPreRunE = func(_ *cobra.Command, _ []string) error {
		if err := opts.startLogging(); err != nil {
			return err
		}
		return opts.startProfiling()
	}
	cmd.PersistentPostRunE = func(_ *cobra.Command, _ []string) error {
		err := opts.stopProfiling()
		opts.stopLogging()
		return err
	}

	cmd.AddCommand(newFilterCmd(opts))
	cmd.AddCommand(newRebuildCmd(opts))
	cmd.AddCommand(newOptimizeCmd(opts))
	cmd.AddCommand(newSearchCmd(opts))
	cmd.AddCommand(newSyncCmd(opts))
	cmd.AddCommand(newStatsCmd(opts))
	cmd.AddCommand(newCheckCmd(opts))
	cmd.AddCommand(newCatalogCmd(opts))
	cmd.AddCommand(newConfigCmd(opts))
	cmd.AddCommand(newLogsCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// startLogging installs the debug file logger when --debug is set. Without
// it, the level comes from the config once a command loads it.
func (o *globalOptions) startLogging() error {
	if !o.debug {
		return nil
	}
	logger, cleanup, err := logging.Setup(logging.DebugConfig())
	if err != nil {
		return fmt.Errorf("failed to setup debug logging: %w", err)
	}
	o.loggingCleanup = cleanup
	slog.SetDefault(logger)
	slog.Debug("debug_logging_enabled",
		slog.String("log_file", logging.DefaultLogPath()),
		slog.String("version", version.Version))
	return nil
}

func (o *globalOptions) stopLogging() {
	if o.loggingCleanup != nil {
		o.loggingCleanup()
		o.loggingCleanup = nil
	}
}

func (o *globalOptions) startProfiling() error {
	if !o.profile.Enabled() {
		return nil
	}
	s, err := profiling.Start(o.profile)
	if err != nil {
		return relerrors.InternalError("failed to start profiling", err)
	}
	o.profiler = s
	return nil
}

func (o *globalOptions) stopProfiling() error {
	err := o.profiler.Stop()
	o.profiler = nil
	return err
}

// Execute runs the root command. SIGINT and SIGTERM cancel the context,
// which stops a quality sweep before its next batch.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := NewRootCmd().ExecuteContext(ctx)
	if err != nil {
		fmt.Fprint(os.Stderr, relerrors.FormatForCLI(err))
	}
	return err
}
