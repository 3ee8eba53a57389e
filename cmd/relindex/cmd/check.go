package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	relerrors "github.com/Aman-CERP/relindex/internal/errors"
	"github.com/Aman-CERP/relindex/internal/index"
	"github.com/Aman-CERP/relindex/internal/output"
)

// checkReport is the JSON form of `relindex check`.
type checkReport struct {
	*index.CheckResult
	Repair *index.RepairResult `json:"repair,omitempty"`
}

func newCheckCmd(opts *globalOptions) *cobra.Command {
	var (
		repair     bool
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Compare catalog releases with the releases index",
		Long: `Compare the catalog with the releases index and list orphan documents
(indexed but gone from the catalog, as left by a partial quality delete)
and missing documents (in the catalog but never indexed).

With --repair, orphans are deleted from the index and missing releases
are synced. Without it, any mismatch exits non-zero.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := openEnv(cmd, opts)
			if err != nil {
				return err
			}
			defer func() { _ = e.close() }()

			ctx := cmd.Context()
			checker := index.NewConsistencyChecker(e.sync, e.catalog, e.cfg.Filter.BatchSize)
			res, err := checker.Check(ctx)
			if err != nil {
				return err
			}

			report := checkReport{CheckResult: res}
			var repairErr error
			if repair && !res.Consistent() {
				out, err := checker.Repair(ctx, res.Inconsistencies)
				report.Repair = &out
				repairErr = err
			}

			if jsonOutput {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if err := enc.Encode(report); err != nil {
					return err
				}
			} else {
				printCheck(output.New(cmd.OutOrStdout()), report)
			}

			switch {
			case repairErr != nil:
				return relerrors.InternalError(
					fmt.Sprintf("%d of %d inconsistencies not repaired", report.Repair.Failures, len(res.Inconsistencies)),
					repairErr)
			case !repair && !res.Consistent():
				return relerrors.New(relerrors.ErrCodeCorruptIndex,
					fmt.Sprintf("%d inconsistencies between catalog and index %s", len(res.Inconsistencies), res.Index), nil).
					WithSuggestion("Run 'relindex check --repair' to fix them")
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&repair, "repair", false, "Delete orphans and sync missing releases")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func printCheck(out *output.Writer, r checkReport) {
	out.Header("Consistency (" + r.Index + ")")
	out.KeyValue("catalog", r.Catalog)
	out.KeyValue("indexed", r.Indexed)
	for _, issue := range r.Inconsistencies {
		out.Warningf("%s %d", issue.Type, issue.ID)
	}
	if r.Repair != nil {
		out.Successf("deleted %d orphan(s), synced %d release(s)", r.Repair.Deleted, r.Repair.Synced)
		return
	}
	if r.Consistent() {
		out.Success("catalog and index agree")
	}
}
