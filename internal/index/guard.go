package index

import (
	"context"
	"sync"

	"github.com/Aman-CERP/relindex/internal/store"
)

// Guarded wraps a transport so that Truncate and CreateSchema on an index
// never overlap with any other call on the same index. Share one Guarded
// between the Synchronizer and the search path.
type Guarded struct {
	next  store.Transport
	mu    sync.Mutex
	locks map[string]*sync.RWMutex
}

var _ store.Transport = (*Guarded)(nil)

// Guard wraps t.
func Guard(t store.Transport) *Guarded {
	if g, ok := t.(*Guarded); ok {
		return g
	}
	return &Guarded{next: t, locks: make(map[string]*sync.RWMutex)}
}

func (g *Guarded) lockFor(index string) *sync.RWMutex {
	g.mu.Lock()
	defer g.mu.Unlock()
	l, ok := g.locks[index]
	if !ok {
		l = &sync.RWMutex{}
		g.locks[index] = l
	}
	return l
}

func (g *Guarded) shared(index string) func() {
	l := g.lockFor(index)
	l.RLock()
	return l.RUnlock
}

func (g *Guarded) exclusive(index string) func() {
	l := g.lockFor(index)
	l.Lock()
	return l.Unlock
}

func (g *Guarded) Upsert(ctx context.Context, index string, doc store.Document) error {
	defer g.shared(index)()
	return g.next.Upsert(ctx, index, doc)
}

func (g *Guarded) Delete(ctx context.Context, index string, id int64) error {
	defer g.shared(index)()
	return g.next.Delete(ctx, index, id)
}

func (g *Guarded) Truncate(ctx context.Context, index string) error {
	defer g.exclusive(index)()
	return g.next.Truncate(ctx, index)
}

func (g *Guarded) CreateSchema(ctx context.Context, index string, schema store.Schema) error {
	defer g.exclusive(index)()
	return g.next.CreateSchema(ctx, index, schema)
}

func (g *Guarded) Optimize(ctx context.Context, index string) error {
	defer g.shared(index)()
	return g.next.Optimize(ctx, index)
}

func (g *Guarded) Flush(ctx context.Context, index string) error {
	defer g.shared(index)()
	return g.next.Flush(ctx, index)
}

func (g *Guarded) Search(ctx context.Context, index string, q store.Query) (store.Hits, error) {
	defer g.shared(index)()
	return g.next.Search(ctx, index, q)
}

func (g *Guarded) Count(ctx context.Context, index string) (int64, error) {
	defer g.shared(index)()
	return g.next.Count(ctx, index)
}

func (g *Guarded) IDs(ctx context.Context, index string, afterID int64, limit int) ([]int64, error) {
	defer g.shared(index)()
	return g.next.IDs(ctx, index, afterID, limit)
}

func (g *Guarded) Close() error {
	return g.next.Close()
}
