// Package quality runs the release quality sweep: a fixed, ordered set of
// heuristics evaluated over the catalog, reporting (and in apply mode
// removing) every release a selected rule matches.
package quality

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Aman-CERP/relindex/internal/catalog"
	relerrors "github.com/Aman-CERP/relindex/internal/errors"
	"github.com/Aman-CERP/relindex/internal/index"
)

// Catalog is the part of the canonical store a run reads and deletes from.
type Catalog interface {
	ScanBatch(ctx context.Context, afterID int64, since time.Time, limit int) ([]catalog.Release, error)
	Blacklists(ctx context.Context) ([]catalog.BlacklistPattern, error)
	Delete(ctx context.Context, id int64) (bool, error)
}

// IndexDeleter removes a release's index document.
type IndexDeleter interface {
	DeleteRecord(ctx context.Context, l index.Lookup) error
}

// Observer receives per-decision and per-run measurements.
type Observer interface {
	ObserveDecision(rule, action string)
	ObserveRun(examined, removed, failures int, elapsed time.Duration)
}

// State is the phase of a run.
type State string

const (
	StateConfigured State = "configured"
	StateScanning   State = "scanning"
	StateDeciding   State = "deciding"
	StateReporting  State = "reporting"
	StateDone       State = "done"
)

// Config configures an Engine.
type Config struct {
	// Workers bounds concurrent rule evaluation. Defaults to NumCPU.
	Workers int
	// BatchSize is the number of releases read per scan step. Defaults to 1000.
	BatchSize int
	// Blacklist holds extra subject patterns on top of the catalog's.
	Blacklist []string
	// X264Categories feeds the wmv rule.
	X264Categories []int
	// SizeExemptRoots feeds the size rule.
	SizeExemptRoots []int
}

// RunOptions scopes one run.
type RunOptions struct {
	// Apply deletes matching releases; false only reports them.
	Apply bool
	// Window limits the scan by release age.
	Window AgeWindow
	// Rules selects rules by name. Empty selects all.
	Rules []string
}

// Engine evaluates quality rules over the catalog.
type Engine struct {
	catalog  Catalog
	index    IndexDeleter
	cfg      Config
	cache    *PatternCache
	observer Observer
	logger   *slog.Logger
	now      func() time.Time
	state    State
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithObserver reports decisions and runs to o.
func WithObserver(o Observer) EngineOption {
	return func(e *Engine) { e.observer = o }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) { e.logger = l }
}

// WithClock sets the time source used for the age window.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

// WithPatternCache shares a compiled-pattern cache between engines.
func WithPatternCache(c *PatternCache) EngineOption {
	return func(e *Engine) { e.cache = c }
}

// NewEngine creates an Engine. idx may be nil for engines that only ever
// run dry.
func NewEngine(c Catalog, idx IndexDeleter, cfg Config, opts ...EngineOption) *Engine {
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 1000
	}
	e := &Engine{
		catalog: c,
		index:   idx,
		cfg:     cfg,
		logger:  slog.Default(),
		now:     time.Now,
		state:   StateConfigured,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.cache == nil {
		e.cache = NewPatternCache(DefaultPatternCacheSize)
	}
	return e
}

// State returns the phase of the current or last run.
func (e *Engine) State() State {
	return e.state
}

func (e *Engine) enter(s State) {
	e.state = s
	e.logger.Debug("quality_state", slog.String("state", string(s)))
}

// Run executes one sweep. It returns an error without a report when the
// options are invalid or the blacklist cannot be loaded. A scan failure or
// cancellation ends the run early; the report so far is returned with the
// error. Releases are examined in ascending id order and the report lists
// them in that order regardless of Workers.
func (e *Engine) Run(ctx context.Context, opts RunOptions) (*Report, error) {
	e.enter(StateConfigured)
	if opts.Apply && e.index == nil {
		return nil, relerrors.InternalError("apply mode needs an index deleter", nil)
	}

	rules, err := e.rules(ctx, opts.Rules)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(rules))
	for i, r := range rules {
		names[i] = r.Name()
	}

	start := e.now()
	report := &Report{
		Apply:     opts.Apply,
		Window:    opts.Window.String(),
		Rules:     names,
		PerRule:   make(map[string]int),
		StartedAt: start,
	}
	since := opts.Window.Since(start)

	e.logger.Info("quality_run_started",
		slog.Bool("apply", opts.Apply),
		slog.String("window", opts.Window.String()),
		slog.String("rules", strings.Join(names, ",")),
		slog.Int("workers", e.cfg.Workers))

	runErr := e.scan(ctx, rules, opts.Apply, since, report)

	e.enter(StateReporting)
	report.Elapsed = e.now().Sub(start)
	if e.observer != nil {
		e.observer.ObserveRun(report.Examined, report.Removed, report.Failures, report.Elapsed)
	}
	e.logger.Info("quality_run_finished",
		slog.Int("examined", report.Examined),
		slog.Int("matched", report.Matched),
		slog.Int("removed", report.Removed),
		slog.Int("failures", report.Failures),
		slog.Bool("cancelled", report.Cancelled))
	e.enter(StateDone)

	return report, runErr
}

// rules builds the selected rule list, loading blacklists only when the
// blacklist rule is selected.
func (e *Engine) rules(ctx context.Context, selected []string) ([]Rule, error) {
	picked, unknown := Select(NewRules(Options{}), selected)
	if len(unknown) > 0 {
		return nil, relerrors.New(relerrors.ErrCodeUnknownRule,
			fmt.Sprintf("unknown quality rule(s): %s", strings.Join(unknown, ", ")), nil).
			WithSuggestion("valid rules: " + strings.Join(RuleNames, ", "))
	}

	opts := Options{
		X264Categories:  e.cfg.X264Categories,
		SizeExemptRoots: e.cfg.SizeExemptRoots,
	}
	for _, r := range picked {
		if r.Name() == RuleBlacklist {
			patterns, err := e.blacklist(ctx)
			if err != nil {
				return nil, err
			}
			opts.Blacklist = patterns
			break
		}
	}

	rules, _ := Select(NewRules(opts), selected)
	return rules, nil
}

// blacklist compiles the catalog's active patterns followed by the
// configured ones. Catalog patterns that do not compile are logged and
// skipped; configured ones were validated at load.
func (e *Engine) blacklist(ctx context.Context) ([]BlacklistPattern, error) {
	rows, err := e.catalog.Blacklists(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]BlacklistPattern, 0, len(rows)+len(e.cfg.Blacklist))
	for _, row := range rows {
		if row.Column != catalog.ColumnSubject && row.Column != catalog.ColumnPoster {
			continue
		}
		re, err := e.cache.Compile(row.Regex)
		if err != nil {
			e.logger.Warn("quality_blacklist_invalid",
				slog.Int64("blacklist_id", row.ID),
				slog.String("error", err.Error()))
			continue
		}
		out = append(out, BlacklistPattern{Re: re, Column: row.Column})
	}
	for _, expr := range e.cfg.Blacklist {
		re, err := e.cache.Compile(expr)
		if err != nil {
			return nil, relerrors.ConfigError("invalid filter.blacklist pattern", err)
		}
		out = append(out, BlacklistPattern{Re: re, Column: catalog.ColumnSubject})
	}
	return out, nil
}

// scan walks the catalog batch by batch. Cancellation is checked before
// each batch; a batch in progress always completes.
func (e *Engine) scan(ctx context.Context, rules []Rule, apply bool, since time.Time, report *Report) error {
	var after int64
	for {
		if err := ctx.Err(); err != nil {
			report.Cancelled = true
			e.logger.Warn("quality_run_cancelled", slog.Int64("after_id", after))
			return err
		}

		e.enter(StateScanning)
		batch, err := e.catalog.ScanBatch(ctx, after, since, e.cfg.BatchSize)
		if err != nil {
			return err
		}
		if len(batch) == 0 {
			return nil
		}

		e.enter(StateDeciding)
		decisions, err := e.decide(rules, batch)
		if err != nil {
			return err
		}

		for i := range decisions {
			if apply && decisions[i].Rule != "" {
				e.remove(ctx, &decisions[i])
			}
			report.add(decisions[i])
			if e.observer != nil && decisions[i].Rule != "" {
				e.observer.ObserveDecision(decisions[i].Rule, decisions[i].Action(apply))
			}
		}
		after = batch[len(batch)-1].ID
	}
}

// decide evaluates rules over batch on the worker pool. Each worker writes
// only its own slot, so the result keeps batch order.
func (e *Engine) decide(rules []Rule, batch []catalog.Release) ([]Decision, error) {
	decisions := make([]Decision, len(batch))

	g := new(errgroup.Group)
	g.SetLimit(e.cfg.Workers)
	for i := range batch {
		g.Go(func() error {
			r := &batch[i]
			decisions[i] = Decision{
				ID:   r.ID,
				Name: subject(r),
				Rule: FirstMatch(rules, r),
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return decisions, nil
}

// remove deletes the catalog row, then the index document. A failed
// catalog delete leaves the index untouched so the release stays
// consistent and is retried by the next run.
func (e *Engine) remove(ctx context.Context, d *Decision) {
	if _, err := e.catalog.Delete(ctx, d.ID); err != nil {
		d.Catalog, d.Index = SideFailed, SideSkipped
		d.Error = err.Error()
		e.logger.Error("quality_catalog_delete_failed",
			append([]any{slog.Int64("id", d.ID), slog.String("rule", d.Rule)}, relerrors.LogAttrs(err)...)...)
		return
	}
	d.Catalog = SideOK
	d.Removed = true

	if err := e.index.DeleteRecord(ctx, index.ByID(d.ID)); err != nil {
		d.Index = SideFailed
		partial := relerrors.New(relerrors.ErrCodePartialDelete,
			fmt.Sprintf("release %d removed from catalog but not from index", d.ID), err)
		d.Error = partial.Error()
		e.logger.Error("quality_index_delete_failed",
			append([]any{slog.Int64("id", d.ID), slog.String("rule", d.Rule)}, relerrors.LogAttrs(partial)...)...)
		return
	}
	d.Index = SideOK
	e.logger.Info("quality_record_removed", slog.Int64("id", d.ID), slog.String("rule", d.Rule))
}
