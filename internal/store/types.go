// Package store provides the index client: a thin transport to the full-text
// index service holding the releases and predb projections.
//
// Two backends implement Transport: SQLite FTS5 (default, WAL mode, safe for
// several processes) and Bleve (single process). Both keep one index per
// name and report a missing index as an unknown-index error so callers can
// recover by creating the schema.
package store

import (
	"context"
	"fmt"
	"iter"

	relerrors "github.com/Aman-CERP/relindex/internal/errors"
)

// FieldType is the column type of an index field.
type FieldType string

const (
	// FieldString is a full-text searchable field.
	FieldString FieldType = "string"
	// FieldInteger is a stored numeric attribute, not searchable.
	FieldInteger FieldType = "integer"
)

// Field is one column of an index schema.
type Field struct {
	Name string
	Type FieldType
}

// Schema is an ordered list of index fields. Order is the column order.
type Schema []Field

// Lookup returns the field with the given name.
func (s Schema) Lookup(name string) (Field, bool) {
	for _, f := range s {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// StringFields returns the names of the searchable fields in schema order.
func (s Schema) StringFields() []string {
	names := make([]string, 0, len(s))
	for _, f := range s {
		if f.Type == FieldString {
			names = append(names, f.Name)
		}
	}
	return names
}

// Document is one index document. ID mirrors the catalog record id.
// Values are text; integer fields carry their decimal form.
type Document struct {
	ID     int64
	Fields map[string]string
}

// MatchClause matches Text against the listed fields. An empty Fields list
// means every searchable field.
type MatchClause struct {
	Fields []string
	Text   string
}

// Ranker names the relevance function requested by a query.
type Ranker string

const (
	// RankerBM25 ranks by term statistics alone. It is used when a query
	// leaves Ranker empty.
	RankerBM25 Ranker = "bm25"
	// RankerProximity adds PhraseBoost to the BM25 rank for every
	// multi-term clause whose terms occur adjacent and in order.
	RankerProximity Ranker = "proximity_bm25"
)

// PhraseBoost is the rank added per clause matched as an exact phrase.
const PhraseBoost = 10.0

// proximity reports whether r asks for phrase boosting. Unknown rankers
// are rejected.
func (r Ranker) proximity() (bool, error) {
	switch r {
	case "", RankerBM25:
		return false, nil
	case RankerProximity:
		return true, nil
	default:
		return false, relerrors.ValidationError(fmt.Sprintf("unknown ranker %q", string(r)), nil)
	}
}

// Query is a ranked search. All clauses must match. Results are always
// ordered by id descending.
type Query struct {
	Matches    []MatchClause
	MaxMatches int
	Limit      int
	Ranker     Ranker
}

// Hit is one search result in engine order.
type Hit struct {
	ID   int64
	Rank float64
}

// Hits is a lazily consumed sequence of search hits.
type Hits = iter.Seq[Hit]

// Transport is the contract with the full-text index service.
//
// Implementations never retry. Every method honors ctx cancellation and
// deadline. A call naming an index that does not exist returns an error
// matching errors.ErrUnknownIndex.
type Transport interface {
	// Upsert inserts or replaces the document with doc.ID.
	Upsert(ctx context.Context, index string, doc Document) error
	// Delete removes the document with id. Deleting a missing id is not an error.
	Delete(ctx context.Context, index string, id int64) error
	// Truncate removes every document from index.
	Truncate(ctx context.Context, index string) error
	// CreateSchema creates index with the given fields.
	CreateSchema(ctx context.Context, index string, schema Schema) error
	// Optimize compacts index storage.
	Optimize(ctx context.Context, index string) error
	// Flush persists pending writes of index.
	Flush(ctx context.Context, index string) error
	// Search runs q against index.
	Search(ctx context.Context, index string, q Query) (Hits, error)
	// Count returns the number of documents in index.
	Count(ctx context.Context, index string) (int64, error)
	// IDs returns up to limit document ids greater than afterID, ascending.
	IDs(ctx context.Context, index string, afterID int64, limit int) ([]int64, error)
	// Close releases the transport.
	Close() error
}

// hitsFrom returns a Hits sequence over an already materialized slice.
func hitsFrom(hits []Hit) Hits {
	return func(yield func(Hit) bool) {
		for _, h := range hits {
			if !yield(h) {
				return
			}
		}
	}
}
