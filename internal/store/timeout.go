package store

import (
	"context"
	"time"
)

// timeoutTransport bounds every call of the wrapped transport.
type timeoutTransport struct {
	next    Transport
	timeout time.Duration
}

// WithTimeout returns a Transport that applies d to every call that does not
// already carry an earlier deadline. Expired calls surface as transport
// timeout errors. A non-positive d returns t unchanged.
func WithTimeout(t Transport, d time.Duration) Transport {
	if d <= 0 {
		return t
	}
	return &timeoutTransport{next: t, timeout: d}
}

func (t *timeoutTransport) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, t.timeout)
}

func (t *timeoutTransport) Upsert(ctx context.Context, index string, doc Document) error {
	ctx, cancel := t.bound(ctx)
	defer cancel()
	return transportErr("upsert", index, t.next.Upsert(ctx, index, doc))
}

func (t *timeoutTransport) Delete(ctx context.Context, index string, id int64) error {
	ctx, cancel := t.bound(ctx)
	defer cancel()
	return transportErr("delete", index, t.next.Delete(ctx, index, id))
}

func (t *timeoutTransport) Truncate(ctx context.Context, index string) error {
	ctx, cancel := t.bound(ctx)
	defer cancel()
	return transportErr("truncate", index, t.next.Truncate(ctx, index))
}

func (t *timeoutTransport) CreateSchema(ctx context.Context, index string, schema Schema) error {
	ctx, cancel := t.bound(ctx)
	defer cancel()
	return transportErr("create", index, t.next.CreateSchema(ctx, index, schema))
}

func (t *timeoutTransport) Optimize(ctx context.Context, index string) error {
	ctx, cancel := t.bound(ctx)
	defer cancel()
	return transportErr("optimize", index, t.next.Optimize(ctx, index))
}

func (t *timeoutTransport) Flush(ctx context.Context, index string) error {
	ctx, cancel := t.bound(ctx)
	defer cancel()
	return transportErr("flush", index, t.next.Flush(ctx, index))
}

// Search materializes hits within the deadline; backends return already
// collected sequences, so iterating after the call returns is safe.
func (t *timeoutTransport) Search(ctx context.Context, index string, q Query) (Hits, error) {
	ctx, cancel := t.bound(ctx)
	defer cancel()
	hits, err := t.next.Search(ctx, index, q)
	return hits, transportErr("search", index, err)
}

func (t *timeoutTransport) Count(ctx context.Context, index string) (int64, error) {
	ctx, cancel := t.bound(ctx)
	defer cancel()
	n, err := t.next.Count(ctx, index)
	return n, transportErr("count", index, err)
}

func (t *timeoutTransport) IDs(ctx context.Context, index string, afterID int64, limit int) ([]int64, error) {
	ctx, cancel := t.bound(ctx)
	defer cancel()
	ids, err := t.next.IDs(ctx, index, afterID, limit)
	return ids, transportErr("ids", index, err)
}

func (t *timeoutTransport) Close() error {
	return t.next.Close()
}
