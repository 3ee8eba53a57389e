package cmd

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	relerrors "github.com/Aman-CERP/relindex/internal/errors"
	"github.com/Aman-CERP/relindex/internal/index"
	"github.com/Aman-CERP/relindex/internal/output"
)

// syncRetry is the retry policy for sync commands. Tests shorten it.
var syncRetry = relerrors.DefaultRetryConfig()

func newSyncCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Push catalog changes to the indexes",
		Long: `Push catalog changes to the indexes. Transport failures are retried
with exponential backoff; records missing from the catalog are skipped.`,
	}

	cmd.AddCommand(newSyncReleaseCmd(opts))
	cmd.AddCommand(newSyncPredbCmd(opts))
	cmd.AddCommand(newSyncDeleteCmd(opts))

	return cmd
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, relerrors.ValidationError(fmt.Sprintf("id must be a positive integer, got %q", s), err)
	}
	return id, nil
}

func withRetry(ctx context.Context, fn func() error) error {
	return relerrors.Retry(ctx, syncRetry, fn)
}

func newSyncReleaseCmd(opts *globalOptions) *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "release [id...]",
		Short: "Reindex releases from the catalog",
		Example: `  relindex sync release 42
  relindex sync release --all`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !all && len(args) == 0 {
				return relerrors.ValidationError("name at least one release id, or use --all", nil)
			}
			ids := make([]int64, 0, len(args))
			for _, a := range args {
				id, err := parseID(a)
				if err != nil {
					return err
				}
				ids = append(ids, id)
			}

			e, err := openEnv(cmd, opts)
			if err != nil {
				return err
			}
			defer func() { _ = e.close() }()

			ctx := cmd.Context()
			out := output.New(cmd.OutOrStdout())

			if all {
				n, err := syncAllReleases(ctx, e, out)
				if err != nil {
					return err
				}
				out.Successf("synced %d release(s)", n)
				return nil
			}

			for _, id := range ids {
				if err := withRetry(ctx, func() error { return e.sync.SyncRecord(ctx, id) }); err != nil {
					return err
				}
			}
			out.Successf("synced %d release(s)", len(ids))
			return nil
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "Reindex every release in the catalog")

	return cmd
}

// syncAllReleases walks the catalog in id order and reindexes each release.
func syncAllReleases(ctx context.Context, e *env, out *output.Writer) (int, error) {
	counts, err := e.catalog.Count(ctx)
	if err != nil {
		return 0, err
	}

	var after int64
	done := 0
	for {
		batch, err := e.catalog.ScanBatch(ctx, after, time.Time{}, e.cfg.Filter.BatchSize)
		if err != nil {
			return done, err
		}
		if len(batch) == 0 {
			return done, nil
		}
		for _, r := range batch {
			if err := withRetry(ctx, func() error { return e.sync.SyncRecord(ctx, r.ID) }); err != nil {
				return done, err
			}
			done++
		}
		after = batch[len(batch)-1].ID
		out.Progress(done, int(counts.Releases), "releases")
	}
}

func newSyncPredbCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "predb <id>...",
		Short: "Reindex predb entries from the catalog",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids := make([]int64, 0, len(args))
			for _, a := range args {
				id, err := parseID(a)
				if err != nil {
					return err
				}
				ids = append(ids, id)
			}

			e, err := openEnv(cmd, opts)
			if err != nil {
				return err
			}
			defer func() { _ = e.close() }()

			ctx := cmd.Context()
			for _, id := range ids {
				if err := withRetry(ctx, func() error { return e.sync.SyncPredb(ctx, id) }); err != nil {
					return err
				}
			}
			output.New(cmd.OutOrStdout()).Successf("synced %d predb entr(ies)", len(ids))
			return nil
		},
	}
}

func newSyncDeleteCmd(opts *globalOptions) *cobra.Command {
	var (
		id   int64
		guid string
	)

	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Remove a release document from the releases index",
		Long: `Remove a release document from the releases index, by id or by GUID.
A GUID the catalog does not know is ignored. The catalog row is not touched.`,
		Example: `  relindex sync delete --id 42
  relindex sync delete --guid 0b5e4c1e-...`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if (id > 0) == (guid != "") {
				return relerrors.ValidationError("give exactly one of --id or --guid", nil)
			}
			lookup := index.ByID(id)
			if guid != "" {
				lookup = index.ByGUID(guid)
			}

			e, err := openEnv(cmd, opts)
			if err != nil {
				return err
			}
			defer func() { _ = e.close() }()

			ctx := cmd.Context()
			if err := withRetry(ctx, func() error { return e.sync.DeleteRecord(ctx, lookup) }); err != nil {
				return err
			}
			output.New(cmd.OutOrStdout()).Successf("deleted %s", lookup)
			return nil
		},
	}

	cmd.Flags().Int64Var(&id, "id", 0, "Release id")
	cmd.Flags().StringVar(&guid, "guid", "", "Release GUID")

	return cmd
}
