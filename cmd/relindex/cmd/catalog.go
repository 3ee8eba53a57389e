package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/relindex/internal/catalog"
	"github.com/Aman-CERP/relindex/internal/output"
)

func newCatalogCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Manage the release catalog",
	}

	cmd.AddCommand(newCatalogMigrateCmd(opts))
	cmd.AddCommand(newCatalogImportCmd(opts))

	return cmd
}

func newCatalogMigrateCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending catalog migrations and list their state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			cat, err := catalog.Open(cmd.Context(), cfg.Catalog.Path)
			if err != nil {
				return err
			}
			defer cat.Close()

			statuses, err := cat.Migrations(cmd.Context())
			if err != nil {
				return err
			}
			out := output.New(cmd.OutOrStdout())
			for _, st := range statuses {
				state := "pending"
				if st.Applied {
					state = "applied"
				}
				out.Statusf("", "%05d %-8s %s", st.Version, state, st.Source)
			}
			out.Successf("catalog at %s is up to date", cfg.Catalog.Path)
			return nil
		},
	}
}

func newCatalogImportCmd(opts *globalOptions) *cobra.Command {
	var syncIndex bool

	cmd := &cobra.Command{
		Use:   "import <file.jsonl|->",
		Short: "Import releases, predb entries and blacklists from JSON Lines",
		Long: `Import catalog rows from a JSON Lines file ("-" reads stdin). Each line
is an object with a "type" of release, predb or blacklist:

  {"type":"release","name":"Some.Release-GRP","size":734003200,"files":["a.mkv"]}
  {"type":"predb","title":"Some.Release-GRP","source":"abc"}
  {"type":"blacklist","regex":"(?i)virus","msgcol":1}

With --sync, every catalog release is indexed afterwards.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var r io.Reader = cmd.InOrStdin()
			if args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return fmt.Errorf("open import file: %w", err)
				}
				defer f.Close()
				r = f
			}

			e, err := openEnv(cmd, opts)
			if err != nil {
				return err
			}
			defer func() { _ = e.close() }()

			stats, err := e.catalog.Import(cmd.Context(), r)
			if err != nil {
				return err
			}

			out := output.New(cmd.OutOrStdout())
			out.Successf("imported %d release(s), %d predb entr(ies), %d blacklist(s)",
				stats.Releases, stats.Predb, stats.Blacklists)

			if syncIndex {
				n, err := syncAllReleases(cmd.Context(), e, out)
				if err != nil {
					return err
				}
				out.Successf("indexed %d release(s)", n)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&syncIndex, "sync", false, "Index every catalog release after importing")

	return cmd
}
