package cmd

import (
	"context"
	"fmt"
	"io"
	"regexp"

	"github.com/spf13/cobra"

	relerrors "github.com/Aman-CERP/relindex/internal/errors"
	"github.com/Aman-CERP/relindex/internal/logging"
	"github.com/Aman-CERP/relindex/internal/output"
)

type logsOptions struct {
	follow  bool
	lines   int
	level   string
	filter  string
	noColor bool
	logFile string
}

func newLogsCmd() *cobra.Command {
	var opts logsOptions

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "View the relindex debug log",
		Long: `Show the last lines of the JSON log written by --debug runs, or follow it.

Examples:
  relindex logs                    # last 50 lines
  relindex logs -f                 # follow new entries
  relindex logs --level warn       # warnings and errors only
  relindex logs --filter releases  # lines matching a regex`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runLogs(cmd.Context(), cmd.OutOrStdout(), cmd.ErrOrStderr(), opts)
		},
	}

	cmd.Flags().BoolVarP(&opts.follow, "follow", "f", false, "Follow log output")
	cmd.Flags().IntVarP(&opts.lines, "lines", "n", 50, "Number of lines to show")
	cmd.Flags().StringVar(&opts.level, "level", "", "Minimum level (debug|info|warn|error)")
	cmd.Flags().StringVar(&opts.filter, "filter", "", "Only show lines matching this regex")
	cmd.Flags().BoolVar(&opts.noColor, "no-color", false, "Disable colored output")
	cmd.Flags().StringVar(&opts.logFile, "file", logging.DefaultLogPath(), "Log file to read")

	return cmd
}

func runLogs(ctx context.Context, stdout, stderr io.Writer, opts logsOptions) error {
	var pattern *regexp.Regexp
	if opts.filter != "" {
		var err error
		if pattern, err = regexp.Compile(opts.filter); err != nil {
			return relerrors.ValidationError("invalid --filter pattern", err)
		}
	}

	viewer := logging.NewViewer(logging.ViewerConfig{
		Level:   opts.level,
		Pattern: pattern,
		NoColor: opts.noColor || !output.IsTTY(stdout) || output.NoColor(),
	}, stdout)

	if !opts.follow {
		entries, err := viewer.Tail(opts.logFile, opts.lines)
		if err != nil {
			return err
		}
		viewer.Print(entries)
		return nil
	}

	_, _ = fmt.Fprintf(stderr, "Following %s (Ctrl+C to stop)\n", opts.logFile)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	entries := make(chan logging.LogEntry, 100)
	errCh := make(chan error, 1)
	go func() { errCh <- viewer.Follow(ctx, opts.logFile, entries) }()

	for {
		select {
		case e := <-entries:
			_, _ = fmt.Fprintln(stdout, viewer.FormatEntry(e))
		case err := <-errCh:
			return err
		}
	}
}
