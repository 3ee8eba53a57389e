package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search/query"

	relerrors "github.com/Aman-CERP/relindex/internal/errors"
)

const (
	// sortField holds the numeric document id used for id-descending order.
	sortField = "doc_id"

	// schemaKey is the internal key storing the index schema as JSON.
	schemaKey = "relindex_schema"
)

// BleveTransport implements Transport with one Bleve index per name.
// Indexes live under dir/<name>.bleve, or in memory when dir is empty.
type BleveTransport struct {
	mu      sync.Mutex
	dir     string
	indexes map[string]*bleveIndex
	closed  bool
}

type bleveIndex struct {
	idx    bleve.Index
	schema Schema
}

// Verify interface implementation at compile time
var _ Transport = (*BleveTransport)(nil)

// validateIndexIntegrity checks an on-disk Bleve index before opening.
// Returns nil when the index is absent or its metadata parses.
func validateIndexIntegrity(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	metaPath := filepath.Join(path, "index_meta.json")
	info, err := os.Stat(metaPath)
	if os.IsNotExist(err) {
		return fmt.Errorf("index_meta.json missing (corrupted index)")
	}
	if err != nil {
		return fmt.Errorf("cannot stat index_meta.json: %w", err)
	}
	if info.Size() == 0 {
		return fmt.Errorf("index_meta.json is empty (corrupted)")
	}

	data, err := os.ReadFile(metaPath)
	if err != nil {
		return fmt.Errorf("cannot read index_meta.json: %w", err)
	}
	var meta map[string]any
	if err := json.Unmarshal(data, &meta); err != nil {
		return fmt.Errorf("index_meta.json is corrupt: %w", err)
	}
	return nil
}

// NewBleveTransport creates a Bleve-backed transport rooted at dir.
func NewBleveTransport(dir string) (*BleveTransport, error) {
	if dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return &BleveTransport{
		dir:     dir,
		indexes: make(map[string]*bleveIndex),
	}, nil
}

func (b *BleveTransport) indexPath(index string) string {
	return filepath.Join(b.dir, index+".bleve")
}

// buildMapping maps string fields to standard-analyzed text and integer
// fields plus the sort field to numeric.
func buildMapping(schema Schema) *mapping.IndexMappingImpl {
	doc := bleve.NewDocumentStaticMapping()
	for _, f := range schema {
		switch f.Type {
		case FieldInteger:
			fm := bleve.NewNumericFieldMapping()
			fm.Store = true
			doc.AddFieldMappingsAt(f.Name, fm)
		default:
			fm := bleve.NewTextFieldMapping()
			fm.Analyzer = standard.Name
			fm.Store = true
			doc.AddFieldMappingsAt(f.Name, fm)
		}
	}
	idField := bleve.NewNumericFieldMapping()
	idField.Store = false
	doc.AddFieldMappingsAt(sortField, idField)

	im := bleve.NewIndexMapping()
	im.DefaultMapping = doc
	im.DefaultAnalyzer = standard.Name
	return im
}

// lookup returns the open index, opening it from disk on first use.
// Caller must hold b.mu for writing.
func (b *BleveTransport) lookup(index string) (*bleveIndex, error) {
	if b.closed {
		return nil, relerrors.TransportError("index transport is closed", nil)
	}
	if err := checkIndexName(index); err != nil {
		return nil, err
	}
	if bi, ok := b.indexes[index]; ok {
		return bi, nil
	}
	if b.dir == "" {
		return nil, relerrors.UnknownIndexError(index)
	}

	path := b.indexPath(index)
	if validErr := validateIndexIntegrity(path); validErr != nil {
		slog.Warn("index_corrupted",
			slog.String("index", index),
			slog.String("path", path),
			slog.String("error", validErr.Error()))
		if err := os.RemoveAll(path); err != nil {
			return nil, relerrors.New(relerrors.ErrCodeCorruptIndex,
				fmt.Sprintf("index %s corrupted and cannot be removed", index), err)
		}
		slog.Info("index_cleared", slog.String("index", index), slog.String("reason", "corruption detected, run rebuild"))
		return nil, relerrors.UnknownIndexError(index)
	}

	idx, err := bleve.Open(path)
	if err == bleve.ErrorIndexPathDoesNotExist {
		return nil, relerrors.UnknownIndexError(index)
	}
	if err != nil {
		return nil, transportErr("open", index, err)
	}

	raw, err := idx.GetInternal([]byte(schemaKey))
	if err != nil || len(raw) == 0 {
		_ = idx.Close()
		return nil, relerrors.New(relerrors.ErrCodeCorruptIndex,
			fmt.Sprintf("index %s has no stored schema", index), err)
	}
	var schema Schema
	if err := json.Unmarshal(raw, &schema); err != nil {
		_ = idx.Close()
		return nil, relerrors.New(relerrors.ErrCodeCorruptIndex,
			fmt.Sprintf("index %s schema unreadable", index), err)
	}

	bi := &bleveIndex{idx: idx, schema: schema}
	b.indexes[index] = bi
	return bi, nil
}

// create builds a fresh index with schema, replacing nothing.
// Caller must hold b.mu for writing.
func (b *BleveTransport) create(index string, schema Schema) (*bleveIndex, error) {
	im := buildMapping(schema)

	var (
		idx bleve.Index
		err error
	)
	if b.dir == "" {
		idx, err = bleve.NewMemOnly(im)
	} else {
		idx, err = bleve.New(b.indexPath(index), im)
	}
	if err != nil {
		return nil, transportErr("create", index, err)
	}

	raw, err := json.Marshal(schema)
	if err != nil {
		_ = idx.Close()
		return nil, relerrors.InternalError("failed to encode schema", err)
	}
	if err := idx.SetInternal([]byte(schemaKey), raw); err != nil {
		_ = idx.Close()
		return nil, transportErr("create", index, err)
	}

	bi := &bleveIndex{idx: idx, schema: append(Schema(nil), schema...)}
	b.indexes[index] = bi
	return bi, nil
}

// bleveDocument converts doc into the field map Bleve indexes. Integer
// values that do not parse index as 0.
func bleveDocument(sc Schema, doc Document) (map[string]any, error) {
	out := make(map[string]any, len(doc.Fields)+1)
	for name, value := range doc.Fields {
		f, ok := sc.Lookup(name)
		if !ok {
			return nil, relerrors.ValidationError(fmt.Sprintf("unknown field %q", name), nil)
		}
		if f.Type == FieldInteger {
			n, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
			if err != nil {
				n = 0
			}
			out[name] = n
			continue
		}
		out[name] = value
	}
	out[sortField] = float64(doc.ID)
	return out, nil
}

// Upsert indexes doc under its decimal id; Bleve replaces existing ids.
func (b *BleveTransport) Upsert(ctx context.Context, index string, doc Document) error {
	if err := ctx.Err(); err != nil {
		return transportErr("upsert", index, err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	bi, err := b.lookup(index)
	if err != nil {
		return err
	}
	fields, err := bleveDocument(bi.schema, doc)
	if err != nil {
		return err
	}
	return transportErr("upsert", index, bi.idx.Index(strconv.FormatInt(doc.ID, 10), fields))
}

// Delete removes the document with id.
func (b *BleveTransport) Delete(ctx context.Context, index string, id int64) error {
	if err := ctx.Err(); err != nil {
		return transportErr("delete", index, err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	bi, err := b.lookup(index)
	if err != nil {
		return err
	}
	return transportErr("delete", index, bi.idx.Delete(strconv.FormatInt(id, 10)))
}

// Truncate drops and recreates index with its existing schema.
func (b *BleveTransport) Truncate(ctx context.Context, index string) error {
	if err := ctx.Err(); err != nil {
		return transportErr("truncate", index, err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	bi, err := b.lookup(index)
	if err != nil {
		return err
	}
	schema := bi.schema

	if err := bi.idx.Close(); err != nil {
		return transportErr("truncate", index, err)
	}
	delete(b.indexes, index)
	if b.dir != "" {
		if err := os.RemoveAll(b.indexPath(index)); err != nil {
			return transportErr("truncate", index, err)
		}
	}

	_, err = b.create(index, schema)
	return err
}

// CreateSchema creates index. An index that already exists is left unchanged.
func (b *BleveTransport) CreateSchema(ctx context.Context, index string, schema Schema) error {
	if err := ctx.Err(); err != nil {
		return transportErr("create", index, err)
	}
	if len(schema) == 0 {
		return relerrors.ValidationError("schema has no fields", nil).WithDetail("index", index)
	}
	for _, f := range schema {
		if f.Type != FieldString && f.Type != FieldInteger {
			return relerrors.ValidationError(fmt.Sprintf("unsupported field type %q", f.Type), nil)
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, err := b.lookup(index); err == nil {
		return nil
	} else if !errors.Is(err, relerrors.ErrUnknownIndex) {
		return err
	}

	if _, err := b.create(index, schema); err != nil {
		return err
	}
	slog.Debug("index_schema_created", slog.String("index", index), slog.Int("fields", len(schema)))
	return nil
}

// Optimize is a no-op: scorch merges segments in the background.
func (b *BleveTransport) Optimize(ctx context.Context, index string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, err := b.lookup(index); err != nil {
		return err
	}
	slog.Debug("index_optimize_skipped", slog.String("index", index), slog.String("backend", "bleve"))
	return nil
}

// Flush is a no-op: every batch is persisted when Index returns.
func (b *BleveTransport) Flush(ctx context.Context, index string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, err := b.lookup(index); err != nil {
		return err
	}
	slog.Debug("index_flush_skipped", slog.String("index", index), slog.String("backend", "bleve"))
	return nil
}

// buildQuery turns the match clauses into a conjunction. Inside a clause
// every term must occur in at least one of the clause's fields. With the
// proximity ranker each multi-term clause also adds an optional phrase
// query boosted by PhraseBoost.
func buildQuery(q Query, sc Schema) (query.Query, bool, error) {
	proximity, err := q.Ranker.proximity()
	if err != nil {
		return nil, false, err
	}

	var clauses, phrases []query.Query
	for _, m := range q.Matches {
		tokens := queryTokens(m.Text)
		if len(tokens) == 0 {
			continue
		}
		fields := m.Fields
		if len(fields) == 0 {
			fields = sc.StringFields()
		}
		for _, name := range fields {
			f, ok := sc.Lookup(name)
			if !ok || f.Type != FieldString {
				return nil, false, relerrors.ValidationError(fmt.Sprintf("no searchable field %q", name), nil)
			}
		}

		for _, tok := range tokens {
			perField := make([]query.Query, 0, len(fields))
			for _, name := range fields {
				mq := bleve.NewMatchQuery(tok)
				mq.SetField(name)
				mq.SetOperator(query.MatchQueryOperatorAnd)
				perField = append(perField, mq)
			}
			clauses = append(clauses, bleve.NewDisjunctionQuery(perField...))
		}

		if proximity && len(tokens) > 1 {
			phrase := strings.Join(tokens, " ")
			perField := make([]query.Query, 0, len(fields))
			for _, name := range fields {
				pq := bleve.NewMatchPhraseQuery(phrase)
				pq.SetField(name)
				perField = append(perField, pq)
			}
			dq := bleve.NewDisjunctionQuery(perField...)
			dq.SetBoost(PhraseBoost)
			phrases = append(phrases, dq)
		}
	}
	if len(clauses) == 0 {
		return nil, false, nil
	}
	must := bleve.NewConjunctionQuery(clauses...)
	if len(phrases) == 0 {
		return must, true, nil
	}
	return query.NewBooleanQuery([]query.Query{must}, phrases, nil), true, nil
}

// Search returns matching ids ordered by id descending.
func (b *BleveTransport) Search(ctx context.Context, index string, q Query) (Hits, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	bi, err := b.lookup(index)
	if err != nil {
		return nil, err
	}

	bq, ok, err := buildQuery(q, bi.schema)
	if err != nil {
		return nil, err
	}
	if !ok {
		return hitsFrom(nil), nil
	}

	req := bleve.NewSearchRequest(bq)
	req.Size = effectiveLimit(q)
	req.SortBy([]string{"-" + sortField})

	result, err := bi.idx.SearchInContext(ctx, req)
	if err != nil {
		return nil, transportErr("search", index, err)
	}

	hits := make([]Hit, 0, len(result.Hits))
	for _, h := range result.Hits {
		id, err := strconv.ParseInt(h.ID, 10, 64)
		if err != nil {
			return nil, relerrors.New(relerrors.ErrCodeCorruptIndex,
				fmt.Sprintf("non-numeric document id %q in index %s", h.ID, index), err)
		}
		hits = append(hits, Hit{ID: id, Rank: h.Score})
	}
	return hitsFrom(hits), nil
}

// IDs pages through the document ids of index in ascending order using a
// range over the numeric id field.
func (b *BleveTransport) IDs(ctx context.Context, index string, afterID int64, limit int) ([]int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	bi, err := b.lookup(index)
	if err != nil {
		return nil, err
	}

	minID := float64(afterID)
	exclusive := false
	rq := bleve.NewNumericRangeInclusiveQuery(&minID, nil, &exclusive, nil)
	rq.SetField(sortField)

	req := bleve.NewSearchRequest(rq)
	req.Size = limit
	req.SortBy([]string{sortField})

	result, err := bi.idx.SearchInContext(ctx, req)
	if err != nil {
		return nil, transportErr("ids", index, err)
	}
	ids := make([]int64, 0, len(result.Hits))
	for _, h := range result.Hits {
		id, err := strconv.ParseInt(h.ID, 10, 64)
		if err != nil {
			return nil, relerrors.New(relerrors.ErrCodeCorruptIndex,
				fmt.Sprintf("non-numeric document id %q in index %s", h.ID, index), err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Count returns the number of documents in index.
func (b *BleveTransport) Count(ctx context.Context, index string) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	bi, err := b.lookup(index)
	if err != nil {
		return 0, err
	}
	n, err := bi.idx.DocCount()
	if err != nil {
		return 0, transportErr("count", index, err)
	}
	return int64(n), nil
}

// Close closes every open index. Close is idempotent.
func (b *BleveTransport) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true

	var firstErr error
	for name, bi := range b.indexes {
		if err := bi.idx.Close(); err != nil && firstErr == nil {
			firstErr = transportErr("close", name, err)
		}
	}
	b.indexes = nil
	return firstErr
}
