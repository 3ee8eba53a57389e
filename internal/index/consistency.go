package index

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/Aman-CERP/relindex/internal/catalog"
)

// DefaultCheckBatch is the page size used on both sides of a check.
const DefaultCheckBatch = 1000

// InconsistencyType categorizes a mismatch between catalog and index.
type InconsistencyType int

const (
	// InconsistencyOrphan is an index document whose catalog row is gone,
	// as left behind by a partial quality delete.
	InconsistencyOrphan InconsistencyType = iota
	// InconsistencyMissing is a catalog release with no index document.
	InconsistencyMissing
)

// String returns the label used in logs and CLI output.
func (t InconsistencyType) String() string {
	switch t {
	case InconsistencyOrphan:
		return "orphan"
	case InconsistencyMissing:
		return "missing"
	default:
		return "unknown"
	}
}

// MarshalText renders the type by name in JSON output.
func (t InconsistencyType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// Inconsistency is one release out of step between the two stores.
type Inconsistency struct {
	Type InconsistencyType `json:"type"`
	ID   int64             `json:"id"`
}

// CheckResult is the outcome of a consistency check of the releases index.
type CheckResult struct {
	Index string `json:"index"`
	// Catalog and Indexed count the releases seen on each side.
	Catalog         int             `json:"catalog"`
	Indexed         int             `json:"indexed"`
	Inconsistencies []Inconsistency `json:"inconsistencies"`
	Duration        time.Duration   `json:"duration_ns"`
}

// Consistent reports whether both stores hold the same releases.
func (r *CheckResult) Consistent() bool {
	return len(r.Inconsistencies) == 0
}

// RepairResult counts what Repair fixed.
type RepairResult struct {
	Deleted  int `json:"deleted"`
	Synced   int `json:"synced"`
	Failures int `json:"failures"`
}

// ReleaseScanner pages through catalog releases in id order.
type ReleaseScanner interface {
	ScanBatch(ctx context.Context, afterID int64, since time.Time, limit int) ([]catalog.Release, error)
}

// ConsistencyChecker compares catalog releases with the releases index.
// Both sides are read in ascending id order and merged, so memory stays
// bounded by the batch size.
type ConsistencyChecker struct {
	sync    *Synchronizer
	catalog ReleaseScanner
	batch   int
}

// NewConsistencyChecker creates a checker. batch <= 0 uses DefaultCheckBatch.
func NewConsistencyChecker(s *Synchronizer, c ReleaseScanner, batch int) *ConsistencyChecker {
	if batch <= 0 {
		batch = DefaultCheckBatch
	}
	return &ConsistencyChecker{sync: s, catalog: c, batch: batch}
}

// Check lists every orphan and missing release, in id order.
func (c *ConsistencyChecker) Check(ctx context.Context) (*CheckResult, error) {
	start := time.Now()
	index := c.sync.indexes.Releases
	res := &CheckResult{Index: index}

	cat := &idCursor{page: func(after int64) ([]int64, error) {
		rows, err := c.catalog.ScanBatch(ctx, after, time.Time{}, c.batch)
		ids := make([]int64, len(rows))
		for i, r := range rows {
			ids[i] = r.ID
		}
		return ids, err
	}}
	idx := &idCursor{page: func(after int64) ([]int64, error) {
		return c.sync.transport.IDs(ctx, index, after, c.batch)
	}}

	for {
		a, aok, err := cat.peek()
		if err != nil {
			return nil, err
		}
		b, bok, err := idx.peek()
		if err != nil {
			return nil, err
		}
		switch {
		case !aok && !bok:
			res.Duration = time.Since(start)
			c.sync.logger.Info("consistency_checked",
				slog.String("index", index),
				slog.Int("catalog", res.Catalog),
				slog.Int("indexed", res.Indexed),
				slog.Int("inconsistencies", len(res.Inconsistencies)))
			return res, nil
		case aok && (!bok || a < b):
			res.Catalog++
			res.Inconsistencies = append(res.Inconsistencies, Inconsistency{Type: InconsistencyMissing, ID: a})
			cat.pop()
		case bok && (!aok || b < a):
			res.Indexed++
			res.Inconsistencies = append(res.Inconsistencies, Inconsistency{Type: InconsistencyOrphan, ID: b})
			idx.pop()
		default:
			res.Catalog++
			res.Indexed++
			cat.pop()
			idx.pop()
		}
	}
}

// Repair deletes orphan documents and re-syncs missing releases. It keeps
// going past failures and returns them joined.
func (c *ConsistencyChecker) Repair(ctx context.Context, issues []Inconsistency) (RepairResult, error) {
	var (
		out  RepairResult
		errs []error
	)
	for _, issue := range issues {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		var err error
		switch issue.Type {
		case InconsistencyOrphan:
			if err = c.sync.DeleteRecord(ctx, ByID(issue.ID)); err == nil {
				out.Deleted++
			}
		case InconsistencyMissing:
			if err = c.sync.SyncRecord(ctx, issue.ID); err == nil {
				out.Synced++
			}
		}
		if err != nil {
			out.Failures++
			errs = append(errs, err)
			c.sync.logger.Warn("consistency_repair_failed",
				slog.String("type", issue.Type.String()),
				slog.Int64("id", issue.ID),
				slog.String("error", err.Error()))
		}
	}
	return out, errors.Join(errs...)
}

// idCursor walks an ascending id sequence one page at a time.
type idCursor struct {
	page  func(after int64) ([]int64, error)
	buf   []int64
	after int64
	done  bool
}

func (c *idCursor) peek() (int64, bool, error) {
	if len(c.buf) == 0 && !c.done {
		ids, err := c.page(c.after)
		if err != nil {
			return 0, false, err
		}
		if len(ids) == 0 {
			c.done = true
		}
		c.buf = ids
	}
	if len(c.buf) == 0 {
		return 0, false, nil
	}
	return c.buf[0], true, nil
}

func (c *idCursor) pop() {
	c.after = c.buf[0]
	c.buf = c.buf[1:]
}
