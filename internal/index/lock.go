package index

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
)

// lockRetryDelay is how often a waiting rebuild retries the file lock.
const lockRetryDelay = 100 * time.Millisecond

// RebuildLock serializes rebuilds across processes sharing one data
// directory, using gofrs/flock on <dir>/.rebuild.lock.
type RebuildLock struct {
	path   string
	flock  *flock.Flock
	locked bool
}

// NewRebuildLock creates a lock for dir. The file is created on first Lock.
func NewRebuildLock(dir string) *RebuildLock {
	lockPath := filepath.Join(dir, ".rebuild.lock")
	return &RebuildLock{
		path:  lockPath,
		flock: flock.New(lockPath),
	}
}

// Lock acquires the exclusive lock, waiting until ctx ends.
func (l *RebuildLock) Lock(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("failed to create lock directory: %w", err)
	}

	acquired, err := l.flock.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return fmt.Errorf("failed to acquire rebuild lock: %w", err)
	}
	if !acquired {
		return fmt.Errorf("failed to acquire rebuild lock %s", l.path)
	}
	l.locked = true
	return nil
}

// TryLock attempts to acquire the lock without blocking.
// Returns true if the lock was acquired, false if another process holds it.
func (l *RebuildLock) TryLock() (bool, error) {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return false, fmt.Errorf("failed to create lock directory: %w", err)
	}

	acquired, err := l.flock.TryLock()
	if err != nil {
		return false, fmt.Errorf("failed to acquire rebuild lock: %w", err)
	}
	if acquired {
		l.locked = true
	}
	return acquired, nil
}

// Unlock releases the lock. Unlocking an unlocked RebuildLock is a no-op.
func (l *RebuildLock) Unlock() error {
	if !l.locked {
		return nil
	}
	l.locked = false
	if err := l.flock.Unlock(); err != nil {
		return fmt.Errorf("failed to release rebuild lock: %w", err)
	}
	return nil
}

// Path returns the path to the lock file.
func (l *RebuildLock) Path() string {
	return l.path
}
