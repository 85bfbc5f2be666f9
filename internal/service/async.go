package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/ticketdesk/internal/observability"
)

// AsyncRunner runs acknowledged interactions in the background and lets
// shutdown wait for them.
type AsyncRunner struct {
	mu      sync.Mutex
	wg      sync.WaitGroup
	closed  bool
	timeout time.Duration
	logger  *zap.Logger
	metrics *observability.Metrics
}

// NewAsyncRunner creates a runner whose tasks each get timeout to finish.
func NewAsyncRunner(timeout time.Duration, logger *zap.Logger, metrics *observability.Metrics) *AsyncRunner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = time.Minute
	}
	return &AsyncRunner{timeout: timeout, logger: logger, metrics: metrics}
}

// Go starts fn on a tracked goroutine. It reports false once shutdown began.
func (r *AsyncRunner) Go(name string, fn func(ctx context.Context)) bool {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		r.logger.Warn("task rejected during shutdown", zap.String("task", name))
		return false
	}
	r.wg.Add(1)
	r.mu.Unlock()

	r.metrics.TaskStarted()
	go func() {
		defer r.wg.Done()
		defer r.metrics.TaskFinished()
		defer func() {
			if rec := recover(); rec != nil {
				r.logger.Error("task panicked", zap.String("task", name), zap.Any("panic", rec))
			}
		}()
		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		defer cancel()
		fn(ctx)
	}()
	return true
}

// Wait blocks until every started task has returned.
func (r *AsyncRunner) Wait() {
	r.wg.Wait()
}

// Shutdown stops accepting tasks and waits for running ones or ctx.
func (r *AsyncRunner) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
