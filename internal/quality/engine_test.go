package quality

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/relindex/internal/catalog"
	"github.com/Aman-CERP/relindex/internal/config"
	relerrors "github.com/Aman-CERP/relindex/internal/errors"
	"github.com/Aman-CERP/relindex/internal/index"
	"github.com/Aman-CERP/relindex/internal/store/storetest"
)

var testIndexes = config.IndexesConfig{Releases: "releases_rt", Predb: "predb_rt"}

// =============================================================================
// Fixtures
// =============================================================================

type fixture struct {
	cat  *catalog.Store
	rec  *storetest.Recorder
	sync *index.Synchronizer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cat, err := catalog.Open(context.Background(), "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = cat.Close() })

	rec := storetest.New(testIndexes.Releases, testIndexes.Predb)
	return &fixture{
		cat:  cat,
		rec:  rec,
		sync: index.NewSynchronizer(rec, cat, index.Config{Indexes: testIndexes}),
	}
}

// insert stores r in the catalog and indexes it.
func (f *fixture) insert(t *testing.T, r catalog.Release) int64 {
	t.Helper()
	ctx := context.Background()
	id, err := f.cat.InsertRelease(ctx, r)
	require.NoError(t, err)
	require.NoError(t, f.sync.SyncRecord(ctx, id))
	return id
}

func (f *fixture) inCatalog(t *testing.T, id int64) bool {
	t.Helper()
	_, err := f.cat.FetchProjection(context.Background(), id)
	if errors.Is(err, catalog.ErrNotFound) {
		return false
	}
	require.NoError(t, err)
	return true
}

func (f *fixture) inIndex(id int64) bool {
	_, ok := f.rec.Doc(testIndexes.Releases, id)
	return ok
}

func (f *fixture) engine(cfg Config, opts ...EngineOption) *Engine {
	if cfg.X264Categories == nil {
		cfg.X264Categories = []int{2040}
	}
	if cfg.SizeExemptRoots == nil {
		cfg.SizeExemptRoots = []int{3000, 7000}
	}
	return NewEngine(f.cat, f.sync, cfg, opts...)
}

// clean is a release no rule matches.
func clean(id int64, name string) catalog.Release {
	return catalog.Release{ID: id, Name: name, SearchName: name, Size: 700 * MB, FileCount: 20, CategoryID: 2040}
}

type recordingObserver struct {
	mu        sync.Mutex
	decisions []string
	runs      int
	elapsed   time.Duration
}

func (o *recordingObserver) ObserveDecision(rule, action string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.decisions = append(o.decisions, rule+":"+action)
}

func (o *recordingObserver) ObserveRun(examined, removed, failures int, elapsed time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.runs++
	o.elapsed = elapsed
}

// =============================================================================
// Apply mode
// =============================================================================

func TestRun_ApplyRemovesFromCatalogAndIndex(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	// Given: release 42 with a gibberish name, and a clean neighbour
	f.insert(t, catalog.Release{ID: 42, Name: "abcdefghijklmnop", SearchName: "abcdefghijklmnop", Size: 500 * MB, FileCount: 3})
	f.insert(t, clean(43, "Some Movie 2024 1080p"))
	f.rec.Reset()

	// When: applying the gibberish rule over the full catalog
	obs := &recordingObserver{}
	report, err := f.engine(Config{Workers: 2}, WithObserver(obs)).
		Run(ctx, RunOptions{Apply: true, Window: Unbounded, Rules: []string{"gibberish"}})

	// Then: 42 is gone from both stores and 43 is untouched
	require.NoError(t, err)
	assert.False(t, f.inCatalog(t, 42))
	assert.False(t, f.inIndex(42))
	assert.True(t, f.inCatalog(t, 43))
	assert.True(t, f.inIndex(43))

	// And: exactly one index delete was issued
	assert.Equal(t, []string{"delete:releases_rt"}, f.rec.Ops())

	// And: the report counts the removal
	assert.Equal(t, 2, report.Examined)
	assert.Equal(t, 1, report.Matched)
	assert.Equal(t, 1, report.Removed)
	assert.Equal(t, 0, report.Failures)
	assert.Equal(t, map[string]int{RuleGibberish: 1}, report.PerRule)
	assert.Equal(t, "removed", report.Decisions[0].Action(true))
	assert.Equal(t, "kept", report.Decisions[1].Action(true))

	assert.Equal(t, []string{"gibberish:removed"}, obs.decisions)
	assert.Equal(t, 1, obs.runs)
}

func TestRun_GibberishBeatsSizeAndIsRemoved(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	// Given: release 42, a 15 character alphanumeric name, 1MB in one file
	const name = "abcdefghijklmno"
	f.insert(t, catalog.Release{ID: 42, Name: name, SearchName: name, Size: 1 * MB, FileCount: 1, CategoryID: 2040})
	f.rec.Reset()

	// When: applying gibberish and size
	report, err := f.engine(Config{}).
		Run(ctx, RunOptions{Apply: true, Window: Unbounded, Rules: []string{RuleGibberish, RuleSize}})

	// Then: gibberish wins by table order and 42 leaves both stores
	require.NoError(t, err)
	require.Len(t, report.Decisions, 1)
	d := report.Decisions[0]
	assert.Equal(t, RuleGibberish, d.Rule)
	assert.True(t, d.Removed)
	assert.Equal(t, SideOK, d.Catalog)
	assert.Equal(t, SideOK, d.Index)
	assert.False(t, f.inCatalog(t, 42))
	assert.False(t, f.inIndex(42))
	assert.Equal(t, []string{"delete:releases_rt"}, f.rec.Ops())
}

func TestRun_HugeDryRunLeavesRecordUntouched(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	// Given: release 7, 250MB in a single file, in the books category
	f.insert(t, catalog.Release{ID: 7, Name: "Some Book Collection", SearchName: "Some Book Collection",
		Size: 250 * MB, FileCount: 1, CategoryID: 7020})
	f.rec.Reset()

	// When: a dry run of huge and size
	report, err := f.engine(Config{}).
		Run(ctx, RunOptions{Apply: false, Window: Unbounded, Rules: []string{RuleHuge, RuleSize}})

	// Then: huge matches and nothing is mutated
	require.NoError(t, err)
	require.Len(t, report.Decisions, 1)
	assert.Equal(t, RuleHuge, report.Decisions[0].Rule)
	assert.False(t, report.Decisions[0].Removed)
	assert.Equal(t, "would_remove", report.Decisions[0].Action(false))
	assert.Zero(t, len(f.rec.Calls()))
	assert.True(t, f.inCatalog(t, 7))
	assert.True(t, f.inIndex(7))
}

func TestRun_ElapsedUsesEngineClock(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.insert(t, clean(1, "Some Movie 2024 1080p"))

	// Given: a clock that advances 90 seconds per reading
	var mu sync.Mutex
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tick := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t := now
		now = now.Add(90 * time.Second)
		return t
	}
	obs := &recordingObserver{}

	// When: running
	report, err := f.engine(Config{}, WithClock(tick), WithObserver(obs)).
		Run(ctx, RunOptions{Window: Unbounded, Rules: []string{RuleShort}})

	// Then: elapsed time is measured on the same clock as the start
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC), report.StartedAt)
	assert.Equal(t, 90*time.Second, report.Elapsed)
	assert.Equal(t, 90*time.Second, obs.elapsed)
}

func TestRun_IndexFailureIsReportedAsPartial(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	// Given: two huge single-file releases and an index that rejects deletes
	f.insert(t, catalog.Release{ID: 1, Name: "Big One", Size: 300 * MB, FileCount: 1})
	f.insert(t, catalog.Release{ID: 2, Name: "Big Two", Size: 300 * MB, FileCount: 1})
	f.rec.FailOn("delete", errors.New("connection refused"))

	// When: applying the huge rule
	report, err := f.engine(Config{}).Run(ctx, RunOptions{Apply: true, Rules: []string{"huge"}})

	// Then: the run completes and both releases are reported as partial
	require.NoError(t, err)
	require.Len(t, report.Decisions, 2)
	for _, d := range report.Decisions {
		assert.Equal(t, "partial", d.Action(true))
		assert.Equal(t, SideOK, d.Catalog)
		assert.Equal(t, SideFailed, d.Index)
		assert.Contains(t, d.Error, relerrors.ErrCodePartialDelete)
	}
	assert.Equal(t, 2, report.Removed)
	assert.Equal(t, 2, report.Failures)

	// And: the catalog rows are gone while the documents remain
	assert.False(t, f.inCatalog(t, 1))
	assert.True(t, f.inIndex(1))

	// And: the log line names both sides
	var buf bytes.Buffer
	require.NoError(t, report.WriteLog(&buf))
	assert.Contains(t, buf.String(), "id=1 rule=huge action=partial catalog=ok index=failed")
}

// failingDeleteCatalog rejects deletes for one id.
type failingDeleteCatalog struct {
	*catalog.Store
	failID int64
}

func (c failingDeleteCatalog) Delete(ctx context.Context, id int64) (bool, error) {
	if id == c.failID {
		return false, relerrors.New(relerrors.ErrCodeCatalogWrite, "database is locked", nil)
	}
	return c.Store.Delete(ctx, id)
}

func TestRun_CatalogFailureSkipsIndexDelete(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	// Given: two short-named releases, the first of which cannot be deleted
	f.insert(t, catalog.Release{ID: 5, Name: "abc"})
	f.insert(t, catalog.Release{ID: 6, Name: "xyz"})
	f.rec.Reset()

	e := NewEngine(failingDeleteCatalog{Store: f.cat, failID: 5}, f.sync, Config{})

	// When: applying the short rule
	report, err := e.Run(ctx, RunOptions{Apply: true, Rules: []string{"short"}})

	// Then: 5 stays in both stores and only 6 is deleted from the index
	require.NoError(t, err)
	assert.True(t, f.inCatalog(t, 5))
	assert.True(t, f.inIndex(5))
	assert.False(t, f.inCatalog(t, 6))
	assert.False(t, f.inIndex(6))
	assert.Equal(t, []string{"delete:releases_rt"}, f.rec.Ops())

	d := report.Decisions[0]
	assert.Equal(t, "failed", d.Action(true))
	assert.Equal(t, SideFailed, d.Catalog)
	assert.Equal(t, SideSkipped, d.Index)
	assert.Equal(t, 1, report.Removed)
	assert.Equal(t, 1, report.Failures)
}

func TestRun_ApplyWithoutIndexIsRejected(t *testing.T) {
	f := newFixture(t)

	_, err := NewEngine(f.cat, nil, Config{}).Run(context.Background(), RunOptions{Apply: true})

	assert.Equal(t, relerrors.ErrCodeInternal, relerrors.GetCode(err))
}

// =============================================================================
// Dry run
// =============================================================================

func TestRun_DryRunIsRepeatableAndMutatesNothing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	// Given: a mix of matching and clean releases
	f.insert(t, catalog.Release{ID: 7, Name: "Huge Single File", Size: 300 * MB, FileCount: 1})
	f.insert(t, clean(8, "Regular Release 720p"))
	f.insert(t, catalog.Release{ID: 9, Name: "Tool Pack", Size: 50 * MB, FileCount: 4, Files: []string{"setup.exe"}})
	f.insert(t, catalog.Release{ID: 10, Name: "Clip Collection", Size: 90 * MB, FileCount: 2, CategoryID: 2040, Files: []string{"clip.wmv"}})
	f.rec.Reset()
	before, err := f.cat.Count(ctx)
	require.NoError(t, err)

	e := f.engine(Config{Workers: 4, BatchSize: 2})

	// When: running dry twice
	var first, second bytes.Buffer
	r1, err := e.Run(ctx, RunOptions{})
	require.NoError(t, err)
	require.NoError(t, r1.WriteLog(&first))
	r2, err := e.Run(ctx, RunOptions{})
	require.NoError(t, err)
	require.NoError(t, r2.WriteLog(&second))

	// Then: both logs are byte-identical
	if diff := cmp.Diff(first.String(), second.String()); diff != "" {
		t.Errorf("dry-run logs differ (-first +second):\n%s", diff)
	}
	if diff := cmp.Diff(r1.Decisions, r2.Decisions); diff != "" {
		t.Errorf("decisions differ (-first +second):\n%s", diff)
	}

	// And: nothing was touched
	assert.Empty(t, f.rec.Calls())
	after, err := f.cat.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.True(t, f.inIndex(7))

	// And: each release got its rule
	want := []string{RuleHuge, "", RuleExecutable, RuleWMV}
	got := make([]string, len(r1.Decisions))
	for i, d := range r1.Decisions {
		got[i] = d.Rule
	}
	assert.Equal(t, want, got)
	assert.Equal(t, StateDone, e.State())

	wantLog := strings.Join([]string{
		`id=7 rule=huge action=would_remove name="Huge Single File"`,
		`id=8 rule=- action=kept name="Regular Release 720p"`,
		`id=9 rule=executable action=would_remove name="Tool Pack"`,
		`id=10 rule=wmv action=would_remove name="Clip Collection"`,
		`summary mode=dry-run window=full examined=4 matched=3 removed=0 failures=0 executable=1 huge=1 wmv=1`,
		``,
	}, "\n")
	assert.Equal(t, wantLog, first.String())
}

func TestRun_DryRunWithoutIndexDeleter(t *testing.T) {
	f := newFixture(t)
	f.insert(t, catalog.Release{ID: 3, Name: "ab"})

	report, err := NewEngine(f.cat, nil, Config{}).Run(context.Background(), RunOptions{})

	require.NoError(t, err)
	assert.Equal(t, 1, report.Matched)
	assert.Equal(t, 0, report.Removed)
}

// =============================================================================
// Selection, windows and ordering
// =============================================================================

func TestRun_UnknownRule(t *testing.T) {
	f := newFixture(t)

	report, err := f.engine(Config{}).Run(context.Background(), RunOptions{Rules: []string{"gibberish", "nonsense"}})

	assert.Nil(t, report)
	assert.True(t, errors.Is(err, relerrors.ErrUnknownRule))
	assert.Contains(t, err.Error(), "nonsense")
}

func TestRun_AgeWindowLimitsScan(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	// Given: one old and one recent short-named release
	f.insert(t, catalog.Release{ID: 1, Name: "old", AddDate: now.Add(-48 * time.Hour)})
	f.insert(t, catalog.Release{ID: 2, Name: "new", AddDate: now.Add(-time.Hour)})

	e := f.engine(Config{}, WithClock(func() time.Time { return now }))

	// When: running with a 24 hour window
	report, err := e.Run(ctx, RunOptions{Window: AgeWindow{Hours: 24}})

	// Then: only the recent release is examined
	require.NoError(t, err)
	require.Len(t, report.Decisions, 1)
	assert.Equal(t, int64(2), report.Decisions[0].ID)
	assert.Equal(t, "24", report.Window)

	// And: the full window sees both
	report, err = e.Run(ctx, RunOptions{Window: Unbounded})
	require.NoError(t, err)
	assert.Equal(t, 2, report.Examined)
}

func TestRun_DecisionsKeepScanOrderAcrossWorkers(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	var want []int64
	for i := int64(1); i <= 50; i++ {
		name := fmt.Sprintf("Release Number %d", i)
		if i%3 == 0 {
			name = fmt.Sprintf("r%d", i)
		}
		_, err := f.cat.InsertRelease(ctx, catalog.Release{ID: i, Name: name, Size: 100 * MB, FileCount: 5})
		require.NoError(t, err)
		want = append(want, i)
	}

	report, err := f.engine(Config{Workers: 8, BatchSize: 7}).Run(ctx, RunOptions{})
	require.NoError(t, err)

	got := make([]int64, len(report.Decisions))
	for i, d := range report.Decisions {
		got[i] = d.ID
		if d.ID%3 == 0 {
			assert.Equal(t, RuleShort, d.Rule, "id %d", d.ID)
		} else {
			assert.Empty(t, d.Rule, "id %d", d.ID)
		}
	}
	assert.Equal(t, want, got)
	assert.Equal(t, 16, report.Matched)
}

func TestRun_BlacklistFromCatalogAndConfig(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	// Given: a poster blacklist in the catalog, a broken one, and a subject pattern in config
	_, err := f.cat.InsertBlacklist(ctx, `^spam@`, catalog.ColumnPoster, "spam poster")
	require.NoError(t, err)
	_, err = f.cat.InsertBlacklist(ctx, `(unclosed`, catalog.ColumnSubject, "broken")
	require.NoError(t, err)

	f.insert(t, catalog.Release{ID: 1, Name: "Legit Name Here", FromName: "spam@example.com", Size: 100 * MB, FileCount: 5})
	f.insert(t, catalog.Release{ID: 2, Name: "Contains Malware Inside", FromName: "poster@example.com", Size: 100 * MB, FileCount: 5})
	f.insert(t, clean(3, "Ordinary Release"))

	e := f.engine(Config{Blacklist: []string{`(?i)malware`}})

	// When: running only the blacklist rule
	report, err := e.Run(ctx, RunOptions{Rules: []string{"blacklist"}})

	// Then: the broken pattern is skipped and both sources apply
	require.NoError(t, err)
	assert.Equal(t, RuleBlacklist, report.Decisions[0].Rule)
	assert.Equal(t, RuleBlacklist, report.Decisions[1].Rule)
	assert.Empty(t, report.Decisions[2].Rule)
}

func TestRun_InvalidConfigBlacklist(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine(Config{Blacklist: []string{`[`}}).Run(context.Background(), RunOptions{})

	assert.Equal(t, relerrors.ErrCodeConfigInvalid, relerrors.GetCode(err))
}

// =============================================================================
// Cancellation
// =============================================================================

func TestRun_CancelledBeforeStart(t *testing.T) {
	f := newFixture(t)
	f.insert(t, catalog.Release{ID: 1, Name: "abc"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := f.engine(Config{}).Run(ctx, RunOptions{Apply: true, Rules: []string{"short"}})

	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, report)
	assert.True(t, report.Cancelled)
	assert.Equal(t, 0, report.Examined)
	assert.True(t, f.inCatalog(t, 1))
}

// cancellingCatalog cancels the run after the first batch is read.
type cancellingCatalog struct {
	*catalog.Store
	cancel context.CancelFunc
}

func (c cancellingCatalog) ScanBatch(ctx context.Context, afterID int64, since time.Time, limit int) ([]catalog.Release, error) {
	batch, err := c.Store.ScanBatch(ctx, afterID, since, limit)
	c.cancel()
	return batch, err
}

func TestRun_CancelledBetweenBatches(t *testing.T) {
	f := newFixture(t)
	for i := int64(1); i <= 4; i++ {
		f.insert(t, catalog.Release{ID: i, Name: fmt.Sprintf("s%d", i)})
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e := NewEngine(cancellingCatalog{Store: f.cat, cancel: cancel}, f.sync, Config{BatchSize: 2})

	report, err := e.Run(ctx, RunOptions{})

	// Then: the first batch completes and the run stops before the second
	assert.ErrorIs(t, err, context.Canceled)
	assert.True(t, report.Cancelled)
	assert.Equal(t, 2, report.Examined)

	var buf bytes.Buffer
	require.NoError(t, report.WriteLog(&buf))
	assert.Contains(t, buf.String(), "cancelled=true")
}

// =============================================================================
// Report
// =============================================================================

func TestReport_WriteJSON(t *testing.T) {
	r := &Report{Window: "full", Rules: []string{RuleShort}, PerRule: map[string]int{RuleShort: 1},
		Decisions: []Decision{{ID: 1, Name: "ab", Rule: RuleShort}}}

	var buf bytes.Buffer
	require.NoError(t, r.WriteJSON(&buf))

	assert.Contains(t, buf.String(), `"rule": "short"`)
	assert.Contains(t, buf.String(), `"per_rule"`)
}
