package tasks

import (
	"context"
	"fmt"
	"time"

	"github.com/platinummonkey/authcheck/pkg/async"
)

const memoryBackend = "memory"

// MemoryQueue executes tasks in-process on a bounded worker pool. Tasks are
// lost on restart, which is acceptable for idempotent periodic work.
type MemoryQueue struct {
	pool *async.WorkerPool
	mux  *Mux
	opts options
}

// NewMemoryQueue starts workers goroutines that dispatch tasks through mux.
// Each task runs with the given timeout.
func NewMemoryQueue(ctx context.Context, mux *Mux, workers int, timeout time.Duration, opts ...Option) *MemoryQueue {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	return &MemoryQueue{
		pool: async.NewWorkerPool(ctx, workers, "tasks", timeout, o.logger),
		mux:  mux,
		opts: o,
	}
}

// Enqueue implements Queue. It blocks while the pool buffer is full.
func (q *MemoryQueue) Enqueue(ctx context.Context, name string, payload any, expiresIn time.Duration) (*Task, error) {
	task, err := NewTask(name, payload, expiresIn, q.opts.clock())
	if err != nil {
		return nil, err
	}

	err = q.pool.Submit(ctx, func(ctx context.Context) error {
		return execute(ctx, memoryBackend, q.mux, task, q.opts)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to enqueue %s: %w", name, err)
	}

	return task, nil
}

// Errors exposes task failures reported by the underlying pool
func (q *MemoryQueue) Errors() <-chan error {
	return q.pool.Errors()
}

// Close stops accepting tasks and drains queued ones for up to timeout
func (q *MemoryQueue) Close(timeout time.Duration) error {
	return q.pool.Shutdown(timeout)
}
