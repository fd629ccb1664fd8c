// Package syncx holds the concurrency primitives shared by the bridge
// components: a context-aware read/write lock, an idempotent lazy
// initialization guard, and a lock-guarded value cell.
package syncx

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// maxReaders bounds concurrent readers. A writer acquires the full weight,
// so it proceeds only when no reader or writer holds the lock.
const maxReaders = 1 << 30

// RWLock is a many-readers/one-writer lock whose acquisition is
// context-aware: a cancelled waiter is removed from the wait set without
// corrupting reader or writer accounting. Fairness follows the semaphore's
// FIFO wait queue; there is no additional writer priority, so sustained read
// pressure can delay writers.
type RWLock struct {
	sem *semaphore.Weighted
}

// NewRWLock returns an unlocked RWLock.
func NewRWLock() *RWLock {
	return &RWLock{sem: semaphore.NewWeighted(maxReaders)}
}

// RLock acquires a read lock, waiting while a writer holds or awaits the
// lock. Returns the context error on cancellation.
func (l *RWLock) RLock(ctx context.Context) error {
	return l.sem.Acquire(ctx, 1)
}

// RUnlock releases a read lock.
func (l *RWLock) RUnlock() {
	l.sem.Release(1)
}

// Lock acquires the write lock, waiting until no readers or writers hold the
// lock. Returns the context error on cancellation.
func (l *RWLock) Lock(ctx context.Context) error {
	return l.sem.Acquire(ctx, maxReaders)
}

// Unlock releases the write lock.
func (l *RWLock) Unlock() {
	l.sem.Release(maxReaders)
}

// WithRLock runs fn under a read lock.
func (l *RWLock) WithRLock(ctx context.Context, fn func() error) error {
	if err := l.RLock(ctx); err != nil {
		return err
	}
	defer l.RUnlock()
	return fn()
}

// WithLock runs fn under the write lock.
func (l *RWLock) WithLock(ctx context.Context, fn func() error) error {
	if err := l.Lock(ctx); err != nil {
		return err
	}
	defer l.Unlock()
	return fn()
}
