package cmd

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	relerrors "github.com/Aman-CERP/relindex/internal/errors"
	"github.com/Aman-CERP/relindex/internal/output"
	"github.com/Aman-CERP/relindex/internal/quality"
)

const (
	formatText = "text"
	formatJSON = "json"
)

func newFilterCmd(opts *globalOptions) *cobra.Command {
	var (
		format      string
		metricsFile string
		workers     int
	)

	cmd := &cobra.Command{
		Use:   "filter <apply> <window> [rule...]",
		Short: "Run the release quality sweep",
		Long: `Evaluate the quality rules over the catalog and report every release a
rule matches. With apply=true, matching releases are removed from the
catalog and from the releases index.

  apply    true to delete, false for a dry run
  window   "full" for the whole catalog, or N to limit to releases added in
           the last N hours
  rule     rule names to run (default: all)

Rules, in evaluation order:
` + ruleHelp(),
		Example: `  relindex filter false full
  relindex filter true 24 gibberish short
  relindex filter false full --format json`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			apply, err := strconv.ParseBool(args[0])
			if err != nil {
				return relerrors.ValidationError(
					fmt.Sprintf("apply must be true or false, got %q", args[0]), err)
			}
			window, err := quality.ParseAgeWindow(args[1])
			if err != nil {
				return err
			}
			if format != formatText && format != formatJSON {
				return relerrors.ValidationError(
					fmt.Sprintf("unknown format %q (valid: text, json)", format), nil)
			}
			return runFilter(cmd, opts, filterRun{
				apply:       apply,
				window:      window,
				rules:       args[2:],
				format:      format,
				metricsFile: metricsFile,
				workers:     workers,
			})
		},
	}

	cmd.Flags().StringVar(&format, "format", formatText, "Report format: text or json")
	cmd.Flags().StringVar(&metricsFile, "metrics-file", "", "Write Prometheus metrics to this textfile (overrides config)")
	cmd.Flags().IntVar(&workers, "workers", 0, "Concurrent rule evaluators (overrides config)")

	return cmd
}

func ruleHelp() string {
	var sb strings.Builder
	for _, r := range quality.NewRules(quality.Options{}) {
		fmt.Fprintf(&sb, "  %-12s %s\n", r.Name(), r.Description())
	}
	return sb.String()
}

type filterRun struct {
	apply       bool
	window      quality.AgeWindow
	rules       []string
	format      string
	metricsFile string
	workers     int
}

func runFilter(cmd *cobra.Command, opts *globalOptions, run filterRun) error {
	e, err := openEnv(cmd, opts)
	if err != nil {
		return err
	}
	if run.metricsFile != "" {
		e.cfg.Telemetry.Textfile = run.metricsFile
	}
	defer func() { _ = e.close() }()

	cfg := quality.Config{
		Workers:         e.cfg.Filter.Workers,
		BatchSize:       e.cfg.Filter.BatchSize,
		Blacklist:       e.cfg.Filter.Blacklist,
		X264Categories:  e.cfg.Filter.Categories.X264,
		SizeExemptRoots: e.cfg.Filter.Categories.SizeExemptRoots,
	}
	if run.workers > 0 {
		cfg.Workers = run.workers
	}

	engine := quality.NewEngine(e.catalog, e.sync, cfg,
		quality.WithObserver(e.metrics),
		quality.WithLogger(e.logger))

	report, runErr := engine.Run(cmd.Context(), quality.RunOptions{
		Apply:  run.apply,
		Window: run.window,
		Rules:  run.rules,
	})
	if report == nil {
		return runErr
	}

	if run.format == formatJSON {
		err = report.WriteJSON(cmd.OutOrStdout())
	} else {
		err = report.WriteLog(cmd.OutOrStdout())
	}
	if err != nil {
		return err
	}
	if runErr != nil {
		return runErr
	}

	if report.Failures > 0 {
		output.New(cmd.ErrOrStderr()).Warningf("%d of %d removals failed on at least one store", report.Failures, report.Matched)
		return relerrors.New(relerrors.ErrCodePartialDelete,
			fmt.Sprintf("%d removal(s) incomplete", report.Failures), nil).
			WithSuggestion("re-run the sweep; releases still in the catalog are retried")
	}
	return nil
}
