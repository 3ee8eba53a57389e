package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/relindex/internal/catalog"
	relerrors "github.com/Aman-CERP/relindex/internal/errors"
	"github.com/Aman-CERP/relindex/internal/index"
	"github.com/Aman-CERP/relindex/internal/output"
	"github.com/Aman-CERP/relindex/internal/search"
	"github.com/Aman-CERP/relindex/internal/store"
)

type searchOptions struct {
	index   string
	columns []string
	fields  []string
	names   bool
	format  string
}

// searchHit is one line of search output.
type searchHit struct {
	ID   int64  `json:"id"`
	Name string `json:"name,omitempty"`
}

func newSearchCmd(opts *globalOptions) *cobra.Command {
	so := &searchOptions{}

	cmd := &cobra.Command{
		Use:   "search [text...]",
		Short: "Search an index and print matching ids, newest first",
		Long: `Search an index. Free text is matched against --column fields (every
searchable field when none is given). --field name=value adds one clause
per pair, all of which must match; text is ignored when fields are given.

Input is escaped before it reaches the engine, so query operators are
searched literally.`,
		Example: `  relindex search ubuntu 24.04
  relindex search --column name --column searchname "linux iso"
  relindex search --index predb_rt --field title=some.release --field source=abc`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearch(cmd, opts, so, strings.Join(args, " "))
		},
	}

	cmd.Flags().StringVar(&so.index, "index", "", "Index to search (default: the releases index)")
	cmd.Flags().StringSliceVar(&so.columns, "column", nil, "Restrict text to these fields")
	cmd.Flags().StringArrayVar(&so.fields, "field", nil, "Field clause as name=value (repeatable)")
	cmd.Flags().BoolVar(&so.names, "names", false, "Look up release names in the catalog")
	cmd.Flags().StringVar(&so.format, "format", formatText, "Output format: text or json")

	return cmd
}

// parseFieldPairs parses name=value pairs, escaping each value once.
func parseFieldPairs(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(pairs))
	for _, p := range pairs {
		name, value, ok := strings.Cut(p, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, relerrors.ValidationError(fmt.Sprintf("--field wants name=value, got %q", p), nil)
		}
		out[name] = search.Escape(value)
	}
	return out, nil
}

func runSearch(cmd *cobra.Command, opts *globalOptions, so *searchOptions, text string) error {
	fields, err := parseFieldPairs(so.fields)
	if err != nil {
		return err
	}

	e, err := openEnv(cmd, opts)
	if err != nil {
		return err
	}
	defer func() { _ = e.close() }()

	idx := so.index
	if idx == "" {
		idx = e.cfg.Indexes.Releases
	}
	if !e.cfg.Indexes.Supports(idx) {
		return relerrors.UnsupportedIndexError(idx)
	}

	columns := so.columns
	if len(columns) == 0 {
		columns = index.ColumnsFor(e.cfg.Indexes, idx)
	}

	searcher := search.New(e.sync.Transport(),
		search.WithObserver(e.metrics),
		search.WithLogger(e.logger),
		search.WithSchemas(func(name string) (store.Schema, bool) {
			return index.SchemaFor(e.cfg.Indexes, name)
		}))

	res := searcher.Search(cmd.Context(), search.Request{
		Index:   idx,
		Text:    search.Escape(strings.TrimSpace(text)),
		Columns: columns,
		Fields:  fields,
	})
	if res.Outcome == search.EngineUnavailable || res.Outcome == search.InvalidRequest {
		return res.Err
	}

	hits := make([]searchHit, 0, len(res.IDs))
	for _, id := range res.IDs {
		h := searchHit{ID: id}
		if so.names && idx == e.cfg.Indexes.Releases {
			p, err := e.catalog.FetchProjection(cmd.Context(), id)
			switch {
			case errors.Is(err, catalog.ErrNotFound):
				// indexed but gone from the catalog
			case err != nil:
				return err
			default:
				h.Name = p.SearchName
				if h.Name == "" {
					h.Name = p.Name
				}
			}
		}
		hits = append(hits, h)
	}

	if so.format == formatJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{
			"index":   idx,
			"outcome": res.Outcome.String(),
			"hits":    hits,
		})
	}

	out := output.New(cmd.OutOrStdout())
	if res.Outcome == search.NoMatches {
		out.Status("", "no matches")
		return nil
	}
	for _, h := range hits {
		if h.Name != "" {
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%d\t%s\n", h.ID, h.Name)
		} else {
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%d\n", h.ID)
		}
	}
	return nil
}
