package memoryengine

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/openshelf/circulation-go/circulation"
)

// maxConcurrentReaders is the semaphore weight a writer must acquire in
// full; readers take a single unit each.
const maxConcurrentReaders = 64

// rwLock is a reader/writer lock with bounded-wait acquisition, built on a
// weighted semaphore so that waiting can be cancelled by a deadline.
type rwLock struct {
	sem     *semaphore.Weighted
	timeout time.Duration
}

func newRWLock(timeout time.Duration) *rwLock {
	return &rwLock{
		sem:     semaphore.NewWeighted(maxConcurrentReaders),
		timeout: timeout,
	}
}

// Lock acquires the writer lock, waiting at most the configured timeout.
// Returns circulation.ErrLockTimeout when the wait expires.
func (l *rwLock) Lock(ctx context.Context) error {
	return l.acquire(ctx, maxConcurrentReaders)
}

// Unlock releases the writer lock.
func (l *rwLock) Unlock() {
	l.sem.Release(maxConcurrentReaders)
}

// RLock acquires a reader slot, waiting at most the configured timeout.
func (l *rwLock) RLock(ctx context.Context) error {
	return l.acquire(ctx, 1)
}

// RUnlock releases a reader slot.
func (l *rwLock) RUnlock() {
	l.sem.Release(1)
}

func (l *rwLock) acquire(ctx context.Context, weight int64) error {
	if l.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.timeout)
		defer cancel()
	}

	if acquireErr := l.sem.Acquire(ctx, weight); acquireErr != nil {
		if errors.Is(acquireErr, context.DeadlineExceeded) {
			return errors.Join(circulation.ErrLockTimeout, acquireErr)
		}

		return acquireErr
	}

	return nil
}
