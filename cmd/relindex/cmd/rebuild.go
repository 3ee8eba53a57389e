package cmd

import (
	"fmt"
	"slices"

	"github.com/spf13/cobra"

	relerrors "github.com/Aman-CERP/relindex/internal/errors"
	"github.com/Aman-CERP/relindex/internal/output"
)

func newRebuildCmd(opts *globalOptions) *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "rebuild [index...]",
		Short: "Empty indexes, creating them with their schema if missing",
		Long: `Empty each named index. An index the engine does not know is created
with its fixed schema. Use --all for every configured index.

Documents are not reloaded; run "relindex sync" for each release afterwards.`,
		Example: `  relindex rebuild releases_rt
  relindex rebuild --all`,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd, opts)
			if err != nil {
				return err
			}
			defer func() { _ = e.close() }()

			names := args
			if all {
				names = e.cfg.Indexes.Names()
			}

			ok, failures := e.sync.RebuildIndexes(cmd.Context(), names)
			if !ok {
				return relerrors.ErrNoIndexNames
			}

			out := output.New(cmd.OutOrStdout())
			for _, name := range names {
				if err, failed := failures[name]; failed {
					out.Errorf("%s: %v", name, err)
					continue
				}
				out.Successf("%s rebuilt", name)
			}
			if len(failures) > 0 {
				failed := make([]string, 0, len(failures))
				for name := range failures {
					failed = append(failed, name)
				}
				slices.Sort(failed)
				return relerrors.New(relerrors.ErrCodeInternal,
					fmt.Sprintf("%d of %d index(es) not rebuilt: %v", len(failures), len(names), failed), nil)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "Rebuild every configured index")

	return cmd
}

func newOptimizeCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "optimize",
		Short: "Flush and optimize every configured index",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := openEnv(cmd, opts)
			if err != nil {
				return err
			}
			defer func() { _ = e.close() }()

			if err := e.sync.OptimizeAll(cmd.Context()); err != nil {
				return err
			}
			output.New(cmd.OutOrStdout()).Successf("optimized %d index(es)", len(e.cfg.Indexes.Names()))
			return nil
		},
	}
}
