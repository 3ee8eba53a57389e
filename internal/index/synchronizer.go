package index

import (
	"context"
	"errors"
	"log/slog"
	"strconv"

	"github.com/Aman-CERP/relindex/internal/catalog"
	"github.com/Aman-CERP/relindex/internal/config"
	relerrors "github.com/Aman-CERP/relindex/internal/errors"
	"github.com/Aman-CERP/relindex/internal/store"
)

// Catalog is the read side of the canonical store the Synchronizer needs.
type Catalog interface {
	ResolveGUID(ctx context.Context, guid string) (int64, error)
	FetchProjection(ctx context.Context, id int64) (catalog.Projection, error)
	FetchPredb(ctx context.Context, id int64) (catalog.Predb, error)
}

// ReleaseFields are the catalog values indexed for one release.
type ReleaseFields struct {
	ID         int64
	Name       string
	SearchName string
	FromName   string
	CategoryID int
	// FileNames is the space-joined file list; empty means none.
	FileNames string
}

// PredbFields are the catalog values indexed for one predb entry.
type PredbFields struct {
	ID       int64
	Title    string
	Filename string
	Source   string
}

// Lookup identifies a release either by id or by GUID.
type Lookup struct {
	id     int64
	guid   string
	byGUID bool
}

// ByID looks a release up by its catalog id.
func ByID(id int64) Lookup { return Lookup{id: id} }

// ByGUID looks a release up by its external GUID.
func ByGUID(guid string) Lookup { return Lookup{guid: guid, byGUID: true} }

// String renders the lookup for logs.
func (l Lookup) String() string {
	if l.byGUID {
		return "guid:" + l.guid
	}
	return "id:" + strconv.FormatInt(l.id, 10)
}

// Config configures a Synchronizer.
type Config struct {
	// Indexes names the releases and predb indexes.
	Indexes config.IndexesConfig
	// LockDir holds the cross-process rebuild lock. Empty disables it.
	LockDir string
	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Synchronizer applies catalog changes to the full-text indexes.
type Synchronizer struct {
	transport store.Transport
	catalog   Catalog
	indexes   config.IndexesConfig
	lockDir   string
	logger    *slog.Logger
}

// NewSynchronizer creates a Synchronizer. The transport is wrapped with
// Guard so rebuilds never overlap other calls on the same index.
func NewSynchronizer(t store.Transport, c Catalog, cfg Config) *Synchronizer {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Synchronizer{
		transport: Guard(t),
		catalog:   c,
		indexes:   cfg.Indexes,
		lockDir:   cfg.LockDir,
		logger:    logger,
	}
}

// Transport returns the guarded transport, for searches that must respect
// rebuild exclusion.
func (s *Synchronizer) Transport() store.Transport {
	return s.transport
}

// InsertRecordDocument upserts the releases document for f. A zero id is
// ignored. An empty file list is indexed as NoFileNames.
func (s *Synchronizer) InsertRecordDocument(ctx context.Context, f ReleaseFields) error {
	if f.ID == 0 {
		return nil
	}
	filename := f.FileNames
	if filename == "" {
		filename = NoFileNames
	}
	doc := store.Document{ID: f.ID, Fields: map[string]string{
		"name":          f.Name,
		"searchname":    f.SearchName,
		"fromname":      f.FromName,
		"filename":      filename,
		"categories_id": strconv.Itoa(f.CategoryID),
	}}
	return s.transport.Upsert(ctx, s.indexes.Releases, doc)
}

// InsertPredbDocument upserts the predb document for f. A zero id is ignored.
func (s *Synchronizer) InsertPredbDocument(ctx context.Context, f PredbFields) error {
	if f.ID == 0 {
		return nil
	}
	filename := f.Filename
	if filename == "" {
		filename = NoFileNames
	}
	doc := store.Document{ID: f.ID, Fields: map[string]string{
		"title":    f.Title,
		"filename": filename,
		"source":   f.Source,
	}}
	return s.transport.Upsert(ctx, s.indexes.Predb, doc)
}

// DeleteRecord removes the releases document named by l. A GUID that the
// catalog cannot resolve is a no-op and makes no transport call.
func (s *Synchronizer) DeleteRecord(ctx context.Context, l Lookup) error {
	id := l.id
	if l.byGUID {
		resolved, err := s.catalog.ResolveGUID(ctx, l.guid)
		if errors.Is(err, catalog.ErrNotFound) {
			s.logger.Debug("delete_lookup_unresolved", slog.String("lookup", l.String()))
			return nil
		}
		if err != nil {
			return err
		}
		id = resolved
	}
	if id == 0 {
		return nil
	}
	return s.transport.Delete(ctx, s.indexes.Releases, id)
}

// SyncRecord re-reads release id from the catalog and reindexes it.
// A release that no longer exists is skipped; read failures propagate.
func (s *Synchronizer) SyncRecord(ctx context.Context, id int64) error {
	p, err := s.catalog.FetchProjection(ctx, id)
	if errors.Is(err, catalog.ErrNotFound) {
		s.logger.Debug("sync_record_missing", slog.Int64("id", id))
		return nil
	}
	if err != nil {
		return err
	}
	return s.InsertRecordDocument(ctx, ReleaseFields{
		ID:         p.ID,
		Name:       p.Name,
		SearchName: p.SearchName,
		FromName:   p.FromName,
		CategoryID: p.CategoryID,
		FileNames:  p.FileNames,
	})
}

// SyncPredb re-reads predb entry id from the catalog and reindexes it.
// An entry that no longer exists is skipped; read failures propagate.
func (s *Synchronizer) SyncPredb(ctx context.Context, id int64) error {
	p, err := s.catalog.FetchPredb(ctx, id)
	if errors.Is(err, catalog.ErrNotFound) {
		s.logger.Debug("sync_predb_missing", slog.Int64("id", id))
		return nil
	}
	if err != nil {
		return err
	}
	return s.InsertPredbDocument(ctx, PredbFields{
		ID:       p.ID,
		Title:    p.Title,
		Filename: p.Filename,
		Source:   p.Source,
	})
}

// RebuildIndexes empties each named index, creating it with its fixed
// schema when the service does not know it.
//
// It returns false only when names is empty. Otherwise it returns true and
// a map holding the failure of every index that could not be rebuilt,
// unsupported names included. Failures are also logged.
func (s *Synchronizer) RebuildIndexes(ctx context.Context, names []string) (bool, map[string]error) {
	failures := make(map[string]error)
	if len(names) == 0 {
		err := relerrors.New(relerrors.ErrCodeNoIndexNames, "no index names given to rebuild", nil).
			WithSuggestion("name at least one index, e.g. " + s.indexes.Releases)
		s.logger.Error("rebuild_no_index_names", relerrors.LogAttrs(err)...)
		return false, failures
	}

	if s.lockDir != "" {
		lock := NewRebuildLock(s.lockDir)
		if err := lock.Lock(ctx); err != nil {
			wrapped := relerrors.InternalError("rebuild lock unavailable", err)
			s.logger.Error("rebuild_lock_failed", relerrors.LogAttrs(wrapped)...)
			for _, name := range names {
				failures[name] = wrapped
			}
			return true, failures
		}
		defer func() {
			if err := lock.Unlock(); err != nil {
				s.logger.Warn("rebuild_unlock_failed", slog.String("error", err.Error()))
			}
		}()
	}

	for _, name := range names {
		if err := s.rebuildOne(ctx, name); err != nil {
			failures[name] = err
			s.logger.Error("rebuild_index_failed",
				append([]any{slog.String("index", name)}, relerrors.LogAttrs(err)...)...)
		}
	}
	return true, failures
}

func (s *Synchronizer) rebuildOne(ctx context.Context, name string) error {
	schema, ok := SchemaFor(s.indexes, name)
	if !ok {
		return relerrors.UnsupportedIndexError(name)
	}

	err := s.transport.Truncate(ctx, name)
	if err == nil {
		s.logger.Info("rebuild_index_truncated", slog.String("index", name))
		return nil
	}
	if !errors.Is(err, relerrors.ErrUnknownIndex) {
		return err
	}

	if err := s.transport.CreateSchema(ctx, name, schema); err != nil {
		return err
	}
	s.logger.Info("rebuild_index_created", slog.String("index", name), slog.Int("fields", len(schema)))
	return nil
}

// OptimizeAll flushes then optimizes every configured index, one at a
// time. It stops at the first failure.
func (s *Synchronizer) OptimizeAll(ctx context.Context) error {
	for _, name := range s.indexes.Names() {
		if err := s.transport.Flush(ctx, name); err != nil {
			return err
		}
		if err := s.transport.Optimize(ctx, name); err != nil {
			return err
		}
		s.logger.Info("index_optimized", slog.String("index", name))
	}
	return nil
}

// Counts returns the document count of every configured index.
func (s *Synchronizer) Counts(ctx context.Context) (map[string]int64, error) {
	out := make(map[string]int64, 2)
	for _, name := range s.indexes.Names() {
		n, err := s.transport.Count(ctx, name)
		if err != nil {
			return nil, err
		}
		out[name] = n
	}
	return out, nil
}
