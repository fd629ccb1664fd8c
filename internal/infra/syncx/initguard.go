package syncx

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

const (
	stateUninitialized int32 = iota
	stateInitializing
	stateInitialized
)

// defaultPollInterval is the sleep used while waiting for an in-progress
// initialization. The wait is a bounded busy-poll, not a blocking wait.
const defaultPollInterval = 10 * time.Millisecond

// InitGuard is a reusable idempotent initialization state machine:
// uninitialized -> initializing -> initialized. The initialization body runs
// at most once at a time; concurrent callers wait for the in-progress run.
// On failure the guard reverts to uninitialized and the error propagates to
// the caller that ran the body; later (or racing) callers may retry.
type InitGuard struct {
	state        atomic.Int32
	mu           sync.Mutex
	pollInterval time.Duration
}

// NewInitGuard returns a guard in the uninitialized state.
func NewInitGuard() *InitGuard {
	return &InitGuard{pollInterval: defaultPollInterval}
}

// Initialized reports whether initialization completed successfully.
func (g *InitGuard) Initialized() bool {
	return g.state.Load() == stateInitialized
}

// Ensure runs fn exactly once across concurrent callers. Callers that
// observe an in-progress initialization poll with a short sleep until the
// state settles; cancellation of a waiting caller returns the context error
// without disturbing the state machine.
func (g *InitGuard) Ensure(ctx context.Context, fn func(ctx context.Context) error) error {
	for {
		switch g.state.Load() {
		case stateInitialized:
			return nil
		case stateInitializing:
			if err := g.wait(ctx); err != nil {
				return err
			}
			continue
		}

		done, err := g.runInit(ctx, fn)
		if done {
			return err
		}
	}
}

// runInit runs fn under the mutex. done is false when another caller won
// the race and this caller should go back to waiting. The deferred revert
// covers errors and panics alike, so a panicking body never leaves the
// guard stuck in initializing with the mutex held.
func (g *InitGuard) runInit(ctx context.Context, fn func(ctx context.Context) error) (done bool, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	switch g.state.Load() {
	case stateInitialized:
		return true, nil
	case stateInitializing:
		return false, nil
	}

	g.state.Store(stateInitializing)
	completed := false
	defer func() {
		if !completed {
			g.state.Store(stateUninitialized)
		}
	}()

	if err := fn(ctx); err != nil {
		return true, err
	}
	g.state.Store(stateInitialized)
	completed = true
	return true, nil
}

func (g *InitGuard) wait(ctx context.Context) error {
	timer := time.NewTimer(g.pollInterval)
	defer timer.Stop()
	for g.state.Load() == stateInitializing {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			timer.Reset(g.pollInterval)
		}
	}
	return nil
}
