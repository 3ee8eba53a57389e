// Package storetest provides a recording in-memory store.Transport for tests.
package storetest

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"

	relerrors "github.com/Aman-CERP/relindex/internal/errors"
	"github.com/Aman-CERP/relindex/internal/store"
)

// Call is one recorded transport invocation.
type Call struct {
	Op     string
	Index  string
	ID     int64
	Doc    store.Document
	Schema store.Schema
	Query  store.Query
}

// Recorder is an in-memory Transport that records every call.
// Search returns the ids of documents whose field values contain every
// clause term (case-insensitive), highest id first.
type Recorder struct {
	mu      sync.Mutex
	calls   []Call
	indexes map[string]map[int64]store.Document
	schemas map[string]store.Schema
	fail    map[string]error
}

var _ store.Transport = (*Recorder)(nil)

// New returns a Recorder holding the given existing indexes.
func New(indexes ...string) *Recorder {
	r := &Recorder{
		indexes: make(map[string]map[int64]store.Document),
		schemas: make(map[string]store.Schema),
		fail:    make(map[string]error),
	}
	for _, name := range indexes {
		r.indexes[name] = make(map[int64]store.Document)
	}
	return r
}

// FailOn makes every call of op ("upsert", "delete", ...) return err.
func (r *Recorder) FailOn(op string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fail[op] = err
}

// Calls returns a copy of the recorded calls.
func (r *Recorder) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.calls)
}

// Ops returns the recorded calls as "op:index" strings.
func (r *Recorder) Ops() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.calls))
	for i, c := range r.calls {
		out[i] = c.Op + ":" + c.Index
	}
	return out
}

// CallCount returns the number of calls of op.
func (r *Recorder) CallCount(op string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.calls {
		if c.Op == op {
			n++
		}
	}
	return n
}

// Doc returns the stored document id of index.
func (r *Recorder) Doc(index string, id int64) (store.Document, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.indexes[index][id]
	return d, ok
}

// Reset forgets recorded calls, keeping stored documents.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = nil
}

func (r *Recorder) record(c Call) (map[int64]store.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, c)
	if err := r.fail[c.Op]; err != nil {
		return nil, err
	}
	docs, ok := r.indexes[c.Index]
	if !ok && c.Op != "create" {
		return nil, relerrors.UnknownIndexError(c.Index)
	}
	return docs, nil
}

func (r *Recorder) Upsert(ctx context.Context, index string, doc store.Document) error {
	docs, err := r.record(Call{Op: "upsert", Index: index, ID: doc.ID, Doc: doc})
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	docs[doc.ID] = doc
	return nil
}

func (r *Recorder) Delete(ctx context.Context, index string, id int64) error {
	docs, err := r.record(Call{Op: "delete", Index: index, ID: id})
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(docs, id)
	return nil
}

func (r *Recorder) Truncate(ctx context.Context, index string) error {
	if _, err := r.record(Call{Op: "truncate", Index: index}); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.indexes[index] = make(map[int64]store.Document)
	return nil
}

func (r *Recorder) CreateSchema(ctx context.Context, index string, schema store.Schema) error {
	if _, err := r.record(Call{Op: "create", Index: index, Schema: schema}); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.indexes[index]; !ok {
		r.indexes[index] = make(map[int64]store.Document)
	}
	r.schemas[index] = schema
	return nil
}

func (r *Recorder) Optimize(ctx context.Context, index string) error {
	_, err := r.record(Call{Op: "optimize", Index: index})
	return err
}

func (r *Recorder) Flush(ctx context.Context, index string) error {
	_, err := r.record(Call{Op: "flush", Index: index})
	return err
}

func (r *Recorder) Search(ctx context.Context, index string, q store.Query) (store.Hits, error) {
	docs, err := r.record(Call{Op: "search", Index: index, Query: q})
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	var ids []int64
	for id, d := range docs {
		if matches(d, q) {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	slices.Reverse(ids)

	return func(yield func(store.Hit) bool) {
		for _, id := range ids {
			if !yield(store.Hit{ID: id, Rank: 1}) {
				return
			}
		}
	}, nil
}

func (r *Recorder) Count(ctx context.Context, index string) (int64, error) {
	docs, err := r.record(Call{Op: "count", Index: index})
	if err != nil {
		return 0, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return int64(len(docs)), nil
}

func (r *Recorder) IDs(ctx context.Context, index string, afterID int64, limit int) ([]int64, error) {
	docs, err := r.record(Call{Op: "ids", Index: index, ID: afterID})
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	var ids []int64
	for _, id := range slices.Sorted(maps.Keys(docs)) {
		if id > afterID && len(ids) < limit {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (r *Recorder) Close() error { return nil }

func matches(d store.Document, q store.Query) bool {
	for _, m := range q.Matches {
		var hay []string
		if len(m.Fields) == 0 {
			for _, v := range d.Fields {
				hay = append(hay, strings.ToLower(v))
			}
		} else {
			for _, f := range m.Fields {
				hay = append(hay, strings.ToLower(d.Fields[f]))
			}
		}
		text := strings.Join(hay, " ")
		for _, term := range strings.Fields(strings.ToLower(m.Text)) {
			if !strings.Contains(text, term) {
				return false
			}
		}
	}
	return true
}

// String summarizes the recorder for failure messages.
func (r *Recorder) String() string {
	return fmt.Sprintf("Recorder%v", r.Ops())
}
