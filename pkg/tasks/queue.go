package tasks

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/platinummonkey/authcheck/pkg/observability"
)

// ErrNoHandler is returned when a task has no registered handler
var ErrNoHandler = errors.New("no handler registered for task")

// Queue accepts tasks for asynchronous execution
type Queue interface {
	// Enqueue schedules one execution of the task called name. The task is
	// dropped if no worker starts it within expiresIn.
	Enqueue(ctx context.Context, name string, payload any, expiresIn time.Duration) (*Task, error)
}

// HandlerFunc executes a single task
type HandlerFunc func(ctx context.Context, task *Task) error

// Mux routes tasks to handlers by task name
type Mux struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
}

// NewMux creates an empty task router
func NewMux() *Mux {
	return &Mux{handlers: make(map[string]HandlerFunc)}
}

// Handle registers the handler for name, replacing any previous one
func (m *Mux) Handle(name string, handler HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[name] = handler
}

// Dispatch runs the handler registered for the task's name
func (m *Mux) Dispatch(ctx context.Context, task *Task) error {
	m.mu.RLock()
	handler, ok := m.handlers[task.Name]
	m.mu.RUnlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrNoHandler, task.Name)
	}
	return handler(ctx, task)
}

// Option configures a queue
type Option func(*options)

type options struct {
	clock   func() time.Time
	logger  *observability.Logger
	metrics *observability.Metrics
}

func defaultOptions() options {
	return options{
		clock:  time.Now,
		logger: observability.NewNopLogger(),
	}
}

// WithClock overrides the time source used for enqueue and expiry checks
func WithClock(clock func() time.Time) Option {
	return func(o *options) { o.clock = clock }
}

// WithLogger sets the queue logger
func WithLogger(logger *observability.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithMetrics sets the metrics recorder
func WithMetrics(metrics *observability.Metrics) Option {
	return func(o *options) { o.metrics = metrics }
}

// execute runs a dequeued task unless it has expired. Shared by every
// backend so that expiry and logging behave the same everywhere.
func execute(ctx context.Context, backend string, mux *Mux, task *Task, o options) error {
	logger := o.logger.WithFields(map[string]interface{}{
		"task_id":   task.ID,
		"task_name": task.Name,
		"backend":   backend,
	})

	if task.Expired(o.clock()) {
		logger.WithField("expires_at", task.ExpiresAt).Warn("Dropping expired task")
		o.metrics.RecordTaskExpired(backend, task.Name)
		return nil
	}

	ctx = observability.WithTask(ctx, task.ID, task.Name)

	err := mux.Dispatch(ctx, task)
	o.metrics.RecordTaskExecuted(backend, task.Name, err)
	if err != nil {
		logger.WithError(err).Error("Task failed")
		return fmt.Errorf("task %s (%s) failed: %w", task.ID, task.Name, err)
	}

	logger.Debug("Task completed")
	return nil
}
