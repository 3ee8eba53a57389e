package search

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"time"

	relerrors "github.com/Aman-CERP/relindex/internal/errors"
	"github.com/Aman-CERP/relindex/internal/store"
)

// MaxMatches caps both the engine-side match set and the returned ids.
const MaxMatches = 10000

// Outcome classifies a search result.
type Outcome int

const (
	// NoMatches means the query ran (or needed no run) and found nothing.
	NoMatches Outcome = iota
	// Matched means at least one id was returned.
	Matched
	// EngineUnavailable means the index service failed; IDs is empty.
	EngineUnavailable
	// InvalidRequest means the request names a field the index does not
	// search. Nothing is sent to the engine.
	InvalidRequest
)

// String returns the outcome label used in logs and metrics.
func (o Outcome) String() string {
	switch o {
	case Matched:
		return "matched"
	case EngineUnavailable:
		return "engine_unavailable"
	case InvalidRequest:
		return "invalid_request"
	default:
		return "no_matches"
	}
}

// Request describes one search. Text and Fields values must already be
// escaped with Escape.
type Request struct {
	// Index is the index to search.
	Index string
	// Text is matched against Columns (all searchable fields when empty).
	Text string
	// Columns restricts Text to these fields.
	Columns []string
	// Fields maps field name to value; one clause per pair. When non-empty
	// Text and Columns are ignored.
	Fields map[string]string
}

// Result is the outcome of a search. IDs keep engine order (id descending).
type Result struct {
	IDs     []int64
	Outcome Outcome
	// Err is set for EngineUnavailable and InvalidRequest.
	Err error
}

// Observer receives one call per Search. The telemetry package implements it.
type Observer interface {
	ObserveSearch(index string, outcome string, elapsed time.Duration)
}

// SchemaLookup returns the schema of an index, false when unknown.
type SchemaLookup func(index string) (store.Schema, bool)

// Searcher runs ranked searches through an index transport.
type Searcher struct {
	transport store.Transport
	observer  Observer
	logger    *slog.Logger
	schemas   SchemaLookup
}

// Option configures a Searcher.
type Option func(*Searcher)

// WithObserver reports every search to o.
func WithObserver(o Observer) Option {
	return func(s *Searcher) { s.observer = o }
}

// WithSchemas checks requests against the index schema before searching.
func WithSchemas(lookup SchemaLookup) Option {
	return func(s *Searcher) { s.schemas = lookup }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Searcher) { s.logger = l }
}

// New creates a Searcher over t.
func New(t store.Transport, opts ...Option) *Searcher {
	s := &Searcher{transport: t, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// BuildQuery converts req into an engine query. It reports false when the
// request has neither field pairs nor text, in which case nothing is sent.
// Field pairs are emitted in field-name order.
func BuildQuery(req Request) (store.Query, bool) {
	q := store.Query{
		MaxMatches: MaxMatches,
		Limit:      MaxMatches,
		Ranker:     store.RankerProximity,
	}

	switch {
	case len(req.Fields) > 0:
		for _, field := range slices.Sorted(maps.Keys(req.Fields)) {
			q.Matches = append(q.Matches, store.MatchClause{
				Fields: []string{field},
				Text:   req.Fields[field],
			})
		}
	case req.Text != "":
		q.Matches = []store.MatchClause{{
			Fields: slices.Clone(req.Columns),
			Text:   req.Text,
		}}
	default:
		return store.Query{}, false
	}
	return q, true
}

// Validate checks that every field req matches on is a searchable field
// of sc. Columns are only checked when Text is used.
func Validate(req Request, sc store.Schema) error {
	var names []string
	switch {
	case len(req.Fields) > 0:
		names = slices.Sorted(maps.Keys(req.Fields))
	case req.Text != "":
		names = req.Columns
	}
	for _, name := range names {
		if f, ok := sc.Lookup(name); !ok || f.Type != store.FieldString {
			return relerrors.ValidationError(
				fmt.Sprintf("index %s has no searchable field %q", req.Index, name), nil).
				WithSuggestion("Searchable fields: " + strings.Join(sc.StringFields(), ", "))
		}
	}
	return nil
}

// Search runs req and returns the matching ids in engine order. An empty
// request returns NoMatches without touching the transport. A field the
// index does not search returns InvalidRequest; other transport failures
// return EngineUnavailable. Err carries the cause of either.
func (s *Searcher) Search(ctx context.Context, req Request) Result {
	start := time.Now()
	res := s.run(ctx, req)
	if s.observer != nil {
		s.observer.ObserveSearch(req.Index, res.Outcome.String(), time.Since(start))
	}
	return res
}

func (s *Searcher) run(ctx context.Context, req Request) Result {
	q, ok := BuildQuery(req)
	if !ok {
		return Result{Outcome: NoMatches}
	}

	if s.schemas != nil {
		if sc, known := s.schemas(req.Index); known {
			if err := Validate(req, sc); err != nil {
				return Result{Outcome: InvalidRequest, Err: err}
			}
		}
	}

	hits, err := s.transport.Search(ctx, req.Index, q)
	if relerrors.GetCategory(err) == relerrors.CategoryValidation {
		return Result{Outcome: InvalidRequest, Err: err}
	}
	if err != nil {
		s.logger.Warn("search_engine_unavailable",
			append([]any{slog.String("index", req.Index)}, relerrors.LogAttrs(err)...)...)
		return Result{
			Outcome: EngineUnavailable,
			Err:     relerrors.New(relerrors.ErrCodeSearchUnavailable, "search failed on index "+req.Index, err),
		}
	}

	var ids []int64
	for h := range hits {
		ids = append(ids, h.ID)
		if len(ids) == MaxMatches {
			break
		}
	}
	if len(ids) == 0 {
		return Result{Outcome: NoMatches}
	}
	return Result{IDs: ids, Outcome: Matched}
}
