package index

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/relindex/internal/catalog"
	"github.com/Aman-CERP/relindex/internal/config"
	relerrors "github.com/Aman-CERP/relindex/internal/errors"
	"github.com/Aman-CERP/relindex/internal/store"
	"github.com/Aman-CERP/relindex/internal/store/storetest"
)

// fakeCatalog is an in-memory Catalog with optional read failure.
type fakeCatalog struct {
	guids       map[string]int64
	projections map[int64]catalog.Projection
	predb       map[int64]catalog.Predb
	readErr     error
	resolves    int
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{
		guids:       map[string]int64{},
		projections: map[int64]catalog.Projection{},
		predb:       map[int64]catalog.Predb{},
	}
}

func (f *fakeCatalog) ResolveGUID(_ context.Context, guid string) (int64, error) {
	f.resolves++
	if f.readErr != nil {
		return 0, f.readErr
	}
	id, ok := f.guids[guid]
	if !ok {
		return 0, catalog.ErrNotFound
	}
	return id, nil
}

func (f *fakeCatalog) FetchProjection(_ context.Context, id int64) (catalog.Projection, error) {
	if f.readErr != nil {
		return catalog.Projection{}, f.readErr
	}
	p, ok := f.projections[id]
	if !ok {
		return catalog.Projection{}, catalog.ErrNotFound
	}
	return p, nil
}

func (f *fakeCatalog) FetchPredb(_ context.Context, id int64) (catalog.Predb, error) {
	if f.readErr != nil {
		return catalog.Predb{}, f.readErr
	}
	p, ok := f.predb[id]
	if !ok {
		return catalog.Predb{}, catalog.ErrNotFound
	}
	return p, nil
}

var testIndexes = config.IndexesConfig{Releases: "releases_rt", Predb: "predb_rt"}

func newSync(t *testing.T, rec *storetest.Recorder, cat Catalog) (*Synchronizer, *bytes.Buffer) {
	t.Helper()
	var logs bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
	return NewSynchronizer(rec, cat, Config{Indexes: testIndexes, Logger: logger}), &logs
}

// =============================================================================
// Insert
// =============================================================================

func TestInsertRecordDocument_BuildsReleasesDocument(t *testing.T) {
	rec := storetest.New("releases_rt", "predb_rt")
	s, _ := newSync(t, rec, newFakeCatalog())

	err := s.InsertRecordDocument(context.Background(), ReleaseFields{
		ID: 42, Name: "n", SearchName: "sn", FromName: "fn", CategoryID: 2040, FileNames: "a.mkv b.nfo",
	})

	require.NoError(t, err)
	doc, ok := rec.Doc("releases_rt", 42)
	require.True(t, ok)
	assert.Equal(t, map[string]string{
		"name": "n", "searchname": "sn", "fromname": "fn",
		"filename": "a.mkv b.nfo", "categories_id": "2040",
	}, doc.Fields)
}

func TestInsertRecordDocument_EmptyFilesUseSentinel(t *testing.T) {
	rec := storetest.New("releases_rt")
	s, _ := newSync(t, rec, newFakeCatalog())

	require.NoError(t, s.InsertRecordDocument(context.Background(), ReleaseFields{ID: 1, Name: "x"}))

	doc, _ := rec.Doc("releases_rt", 1)
	assert.Equal(t, "''", doc.Fields["filename"])
}

func TestInsertRecordDocument_ZeroIDIsNoop(t *testing.T) {
	rec := storetest.New("releases_rt")
	s, _ := newSync(t, rec, newFakeCatalog())

	require.NoError(t, s.InsertRecordDocument(context.Background(), ReleaseFields{Name: "x"}))
	require.NoError(t, s.InsertPredbDocument(context.Background(), PredbFields{Title: "x"}))

	assert.Empty(t, rec.Calls())
}

func TestInsertRecordDocument_Idempotent(t *testing.T) {
	rec := storetest.New("releases_rt")
	s, _ := newSync(t, rec, newFakeCatalog())
	f := ReleaseFields{ID: 7, Name: "same", FileNames: "f.bin"}

	// Applying the same fields twice leaves the same single document
	require.NoError(t, s.InsertRecordDocument(context.Background(), f))
	first, _ := rec.Doc("releases_rt", 7)
	require.NoError(t, s.InsertRecordDocument(context.Background(), f))
	second, _ := rec.Doc("releases_rt", 7)

	assert.Equal(t, first, second)
	n, err := rec.Count(context.Background(), "releases_rt")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestInsertPredbDocument(t *testing.T) {
	rec := storetest.New("predb_rt")
	s, _ := newSync(t, rec, newFakeCatalog())

	require.NoError(t, s.InsertPredbDocument(context.Background(), PredbFields{ID: 3, Title: "Some.Title-GRP", Source: "srrdb"}))

	doc, ok := rec.Doc("predb_rt", 3)
	require.True(t, ok)
	assert.Equal(t, map[string]string{"title": "Some.Title-GRP", "filename": "''", "source": "srrdb"}, doc.Fields)
}

func TestInsert_TransportErrorPropagates(t *testing.T) {
	rec := storetest.New("releases_rt")
	rec.FailOn("upsert", relerrors.TransportError("down", nil))
	s, _ := newSync(t, rec, newFakeCatalog())

	err := s.InsertRecordDocument(context.Background(), ReleaseFields{ID: 1})

	assert.True(t, errors.Is(err, relerrors.ErrTransport))
}

// =============================================================================
// Delete
// =============================================================================

func TestDeleteRecord_ByID(t *testing.T) {
	rec := storetest.New("releases_rt")
	s, _ := newSync(t, rec, newFakeCatalog())

	require.NoError(t, s.DeleteRecord(context.Background(), ByID(9)))

	calls := rec.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "delete", calls[0].Op)
	assert.Equal(t, int64(9), calls[0].ID)
}

func TestDeleteRecord_ByGUID_Resolved(t *testing.T) {
	rec := storetest.New("releases_rt")
	cat := newFakeCatalog()
	cat.guids["abc"] = 11
	s, _ := newSync(t, rec, cat)

	require.NoError(t, s.DeleteRecord(context.Background(), ByGUID("abc")))

	calls := rec.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, int64(11), calls[0].ID)
}

func TestDeleteRecord_ByGUID_Miss_ZeroTransportCalls(t *testing.T) {
	rec := storetest.New("releases_rt")
	cat := newFakeCatalog()
	s, _ := newSync(t, rec, cat)

	err := s.DeleteRecord(context.Background(), ByGUID("nope"))

	require.NoError(t, err)
	assert.Equal(t, 1, cat.resolves)
	assert.Empty(t, rec.Calls())
}

func TestDeleteRecord_ByGUID_ReadErrorPropagates(t *testing.T) {
	rec := storetest.New("releases_rt")
	cat := newFakeCatalog()
	cat.readErr = errors.New("disk I/O error")
	s, _ := newSync(t, rec, cat)

	err := s.DeleteRecord(context.Background(), ByGUID("abc"))

	require.Error(t, err)
	assert.Empty(t, rec.Calls())
}

func TestLookup_String(t *testing.T) {
	assert.Equal(t, "id:5", ByID(5).String())
	assert.Equal(t, "guid:x", ByGUID("x").String())
}

// =============================================================================
// Sync
// =============================================================================

func TestSyncRecord_ReindexesProjection(t *testing.T) {
	rec := storetest.New("releases_rt")
	cat := newFakeCatalog()
	cat.projections[5] = catalog.Projection{ID: 5, Name: "n", CategoryID: 5030, FileNames: ""}
	s, _ := newSync(t, rec, cat)

	require.NoError(t, s.SyncRecord(context.Background(), 5))

	doc, ok := rec.Doc("releases_rt", 5)
	require.True(t, ok)
	assert.Equal(t, "''", doc.Fields["filename"])
	assert.Equal(t, "5030", doc.Fields["categories_id"])
}

func TestSyncRecord_MissingIsSilent(t *testing.T) {
	rec := storetest.New("releases_rt")
	s, _ := newSync(t, rec, newFakeCatalog())

	require.NoError(t, s.SyncRecord(context.Background(), 404))
	assert.Empty(t, rec.Calls())
}

func TestSyncRecord_ReadFailurePropagates(t *testing.T) {
	rec := storetest.New("releases_rt")
	cat := newFakeCatalog()
	cat.readErr = relerrors.New(relerrors.ErrCodeCatalogRead, "catalog fetch projection failed", nil)
	s, _ := newSync(t, rec, cat)

	err := s.SyncRecord(context.Background(), 5)

	assert.Equal(t, relerrors.ErrCodeCatalogRead, relerrors.GetCode(err))
	assert.Empty(t, rec.Calls())
}

func TestSyncPredb(t *testing.T) {
	rec := storetest.New("predb_rt")
	cat := newFakeCatalog()
	cat.predb[8] = catalog.Predb{ID: 8, Title: "T", Filename: "t-f", Source: "s"}
	s, _ := newSync(t, rec, cat)

	require.NoError(t, s.SyncPredb(context.Background(), 8))
	require.NoError(t, s.SyncPredb(context.Background(), 9))

	doc, ok := rec.Doc("predb_rt", 8)
	require.True(t, ok)
	assert.Equal(t, "t-f", doc.Fields["filename"])
	assert.Equal(t, 1, rec.CallCount("upsert"))
}

// =============================================================================
// Rebuild
// =============================================================================

func TestRebuildIndexes_NoNames_FalseZeroCallsVisibleError(t *testing.T) {
	rec := storetest.New("releases_rt", "predb_rt")
	s, logs := newSync(t, rec, newFakeCatalog())

	ok, failures := s.RebuildIndexes(context.Background(), nil)

	assert.False(t, ok)
	assert.Empty(t, failures)
	assert.Empty(t, rec.Calls())
	assert.Contains(t, logs.String(), "rebuild_no_index_names")
	assert.Contains(t, logs.String(), relerrors.ErrCodeNoIndexNames)
}

func TestRebuildIndexes_ExistingIndexIsTruncated(t *testing.T) {
	rec := storetest.New("releases_rt", "predb_rt")
	s, _ := newSync(t, rec, newFakeCatalog())

	ok, failures := s.RebuildIndexes(context.Background(), []string{"releases_rt", "predb_rt"})

	assert.True(t, ok)
	assert.Empty(t, failures)
	assert.Equal(t, []string{"truncate:releases_rt", "truncate:predb_rt"}, rec.Ops())
}

func TestRebuildIndexes_UnknownIndex_SelfHealsWithOneCreate(t *testing.T) {
	rec := storetest.New() // service knows no index
	s, _ := newSync(t, rec, newFakeCatalog())

	ok, failures := s.RebuildIndexes(context.Background(), []string{"releases_rt"})

	assert.True(t, ok)
	assert.Empty(t, failures)
	assert.Equal(t, []string{"truncate:releases_rt", "create:releases_rt"}, rec.Ops())
	calls := rec.Calls()
	assert.Equal(t, store.Schema{
		{Name: "name", Type: store.FieldString},
		{Name: "searchname", Type: store.FieldString},
		{Name: "fromname", Type: store.FieldString},
		{Name: "filename", Type: store.FieldString},
		{Name: "categories_id", Type: store.FieldInteger},
	}, calls[1].Schema)
}

func TestRebuildIndexes_PredbSchema(t *testing.T) {
	rec := storetest.New()
	s, _ := newSync(t, rec, newFakeCatalog())

	_, failures := s.RebuildIndexes(context.Background(), []string{"predb_rt"})

	require.Empty(t, failures)
	calls := rec.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, PredbSchema, calls[1].Schema)
}

func TestRebuildIndexes_UnsupportedNameReportedAndSkipped(t *testing.T) {
	rec := storetest.New("releases_rt")
	s, logs := newSync(t, rec, newFakeCatalog())

	ok, failures := s.RebuildIndexes(context.Background(), []string{"movies_rt", "releases_rt"})

	// The overall result stays true; the bad name is reported
	assert.True(t, ok)
	require.Contains(t, failures, "movies_rt")
	assert.True(t, errors.Is(failures["movies_rt"], relerrors.ErrUnsupportedIndex))
	assert.NotContains(t, failures, "releases_rt")
	assert.Equal(t, []string{"truncate:releases_rt"}, rec.Ops())
	assert.Contains(t, logs.String(), "rebuild_index_failed")
}

func TestRebuildIndexes_TransportFailure_StillTrue(t *testing.T) {
	rec := storetest.New("releases_rt", "predb_rt")
	rec.FailOn("truncate", relerrors.TransportError("connection reset", nil))
	s, _ := newSync(t, rec, newFakeCatalog())

	ok, failures := s.RebuildIndexes(context.Background(), []string{"releases_rt", "predb_rt"})

	assert.True(t, ok)
	assert.Len(t, failures, 2)
	assert.Zero(t, rec.CallCount("create"))
}

func TestRebuildIndexes_WithLockDir(t *testing.T) {
	rec := storetest.New("releases_rt")
	dir := t.TempDir()
	s := NewSynchronizer(rec, newFakeCatalog(), Config{Indexes: testIndexes, LockDir: dir})

	ok, failures := s.RebuildIndexes(context.Background(), []string{"releases_rt"})

	assert.True(t, ok)
	assert.Empty(t, failures)

	// The lock is released afterwards
	l := NewRebuildLock(dir)
	acquired, err := l.TryLock()
	require.NoError(t, err)
	assert.True(t, acquired)
	require.NoError(t, l.Unlock())
}

// =============================================================================
// Optimize
// =============================================================================

func TestOptimizeAll_FlushThenOptimizeSequential(t *testing.T) {
	rec := storetest.New("releases_rt", "predb_rt")
	s, _ := newSync(t, rec, newFakeCatalog())

	require.NoError(t, s.OptimizeAll(context.Background()))

	assert.Equal(t, []string{
		"flush:releases_rt", "optimize:releases_rt",
		"flush:predb_rt", "optimize:predb_rt",
	}, rec.Ops())
}

func TestOptimizeAll_StopsAtFirstFailure(t *testing.T) {
	rec := storetest.New("releases_rt", "predb_rt")
	rec.FailOn("optimize", relerrors.TransportError("busy", nil))
	s, _ := newSync(t, rec, newFakeCatalog())

	err := s.OptimizeAll(context.Background())

	require.Error(t, err)
	assert.Equal(t, []string{"flush:releases_rt", "optimize:releases_rt"}, rec.Ops())
}

func TestCounts(t *testing.T) {
	rec := storetest.New("releases_rt", "predb_rt")
	s, _ := newSync(t, rec, newFakeCatalog())
	require.NoError(t, s.InsertRecordDocument(context.Background(), ReleaseFields{ID: 1}))

	counts, err := s.Counts(context.Background())

	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"releases_rt": 1, "predb_rt": 0}, counts)
}
