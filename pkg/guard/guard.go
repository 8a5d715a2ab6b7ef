// Package guard serializes structural mutations: at most one migration or
// rollback is in flight at any instant. Reads never touch the guard.
package guard

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/semaphore"
)

// ErrBusy indicates another mutation held the lock past the acquisition
// timeout. The caller may retry.
var ErrBusy = errors.New("another mutation is in progress")

// DefaultTimeout bounds lock acquisition when the caller configures none.
const DefaultTimeout = 5 * time.Second

// Guard is a weight-1 semaphore wrapping every mutation entry point.
type Guard struct {
	sem     *semaphore.Weighted
	timeout time.Duration
}

// New creates a guard with the given acquisition timeout.
func New(timeout time.Duration) *Guard {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Guard{
		sem:     semaphore.NewWeighted(1),
		timeout: timeout,
	}
}

// Acquire takes the mutation lock, waiting at most the configured timeout.
// Returns ErrBusy on timeout and the context error if the caller cancels
// while waiting. Cancellation after Acquire returns has no effect on the
// mutation: commit phases run to completion or abort atomically.
func (g *Guard) Acquire(ctx context.Context) error {
	acquireCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	if err := g.sem.Acquire(acquireCtx, 1); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return ErrBusy
	}
	return nil
}

// TryAcquire takes the lock only if it is immediately free.
func (g *Guard) TryAcquire() bool {
	return g.sem.TryAcquire(1)
}

// Release returns the mutation lock.
func (g *Guard) Release() {
	g.sem.Release(1)
}
