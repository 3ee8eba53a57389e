package cmd

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/relindex/internal/catalog"
	"github.com/Aman-CERP/relindex/internal/output"
)

// statsReport is the JSON form of `relindex stats`.
type statsReport struct {
	Backend string           `json:"backend"`
	Catalog catalog.Counts   `json:"catalog"`
	Indexes map[string]int64 `json:"indexes"`
}

func newStatsCmd(opts *globalOptions) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show catalog row counts and index document counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := openEnv(cmd, opts)
			if err != nil {
				return err
			}
			defer func() { _ = e.close() }()

			ctx := cmd.Context()
			counts, err := e.catalog.Count(ctx)
			if err != nil {
				return err
			}
			docs, err := e.sync.Counts(ctx)
			if err != nil {
				return err
			}

			if jsonOutput {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(statsReport{Backend: e.cfg.Engine.Backend, Catalog: counts, Indexes: docs})
			}

			out := output.New(cmd.OutOrStdout())
			out.Header("Catalog")
			out.KeyValue("releases", counts.Releases)
			out.KeyValue("files", counts.Files)
			out.KeyValue("predb", counts.Predb)
			out.KeyValue("blacklists", counts.Blacklists)
			out.Newline()
			out.Header("Indexes (" + e.cfg.Engine.Backend + ")")
			for _, name := range e.cfg.Indexes.Names() {
				out.KeyValue(name, docs[name])
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}
