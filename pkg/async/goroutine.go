package async

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/platinummonkey/turnstile/pkg/observability"
)

// Tracker runs background tasks with panic recovery, a per-task timeout and
// error logging, and lets shutdown wait for the ones still in flight.
//
// A task is detached from parentCtx cancellation so it may outlive the
// request that started it, but it keeps parentCtx values (request id, user)
// for logging.
type Tracker struct {
	wg     sync.WaitGroup
	mu     sync.Mutex
	closed bool
}

// NewTracker creates an empty tracker
func NewTracker() *Tracker {
	return &Tracker{}
}

// Go starts fn in a goroutine. It returns false without running fn once Wait
// has been called.
func (t *Tracker) Go(parentCtx context.Context, timeout time.Duration, taskName string, fn func(context.Context) error) bool {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		observability.FromContext(parentCtx).WithField("task", taskName).Warn("Task dropped during shutdown")
		return false
	}
	t.wg.Add(1)
	t.mu.Unlock()

	go func() {
		defer t.wg.Done()
		run(parentCtx, timeout, taskName, fn)
	}()
	return true
}

// Wait stops accepting tasks and blocks until running ones finish or ctx ends
func (t *Tracker) Wait(ctx context.Context) error {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()

	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("background tasks still running: %w", ctx.Err())
	}
}

func run(parentCtx context.Context, timeout time.Duration, taskName string, fn func(context.Context) error) {
	logger := observability.FromContext(parentCtx).WithField("task", taskName)

	ctx, cancel := context.WithTimeout(context.WithoutCancel(parentCtx), timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			logger.WithField("panic", fmt.Sprint(r)).
				WithField("stack", string(debug.Stack())).
				Error("PANIC in background task")
		}
	}()

	if err := fn(ctx); err != nil {
		logger.WithError(err).Error("Background task failed")
	}
}
