package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/platinummonkey/authcheck/pkg/observability"
)

const (
	redisBackend = "redis"

	// DefaultRedisKey is the list that holds pending tasks
	DefaultRedisKey = "authcheck:tasks"

	// popTimeout bounds each BRPOP so workers notice cancellation
	popTimeout = time.Second
)

// RedisQueue is a durable queue backed by a Redis list. Producers LPUSH JSON
// encoded tasks and consumers BRPOP them, so several processes can share the
// work.
type RedisQueue struct {
	client *redis.Client
	key    string
	opts   options
}

// NewRedisQueue creates a queue on key. An empty key uses DefaultRedisKey.
func NewRedisQueue(client *redis.Client, key string, opts ...Option) *RedisQueue {
	if key == "" {
		key = DefaultRedisKey
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	return &RedisQueue{
		client: client,
		key:    key,
		opts:   o,
	}
}

// Enqueue implements Queue
func (q *RedisQueue) Enqueue(ctx context.Context, name string, payload any, expiresIn time.Duration) (*Task, error) {
	task, err := NewTask(name, payload, expiresIn, q.opts.clock())
	if err != nil {
		return nil, err
	}

	data, err := json.Marshal(task)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal task: %w", err)
	}

	if err := q.client.LPush(ctx, q.key, data).Err(); err != nil {
		return nil, fmt.Errorf("failed to push task to redis: %w", err)
	}

	return task, nil
}

// Len returns the number of pending tasks
func (q *RedisQueue) Len(ctx context.Context) (int64, error) {
	n, err := q.client.LLen(ctx, q.key).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read queue length: %w", err)
	}
	return n, nil
}

// Run consumes tasks with the given number of workers until ctx is done.
// Each task runs with timeout. Handler failures are logged and do not stop
// the consumers.
func (q *RedisQueue) Run(ctx context.Context, mux *Mux, workers int, timeout time.Duration) error {
	if workers <= 0 {
		workers = 1
	}

	q.opts.logger.WithFields(map[string]interface{}{
		"key":     q.key,
		"workers": workers,
	}).Info("Starting redis task consumers")

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			q.consume(ctx, id, mux, timeout)
		}(i)
	}
	wg.Wait()

	return ctx.Err()
}

func (q *RedisQueue) consume(ctx context.Context, id int, mux *Mux, timeout time.Duration) {
	logger := q.opts.logger.WithField("worker", id)

	for {
		if ctx.Err() != nil {
			return
		}

		result, err := q.client.BRPop(ctx, popTimeout, q.key).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				return
			}
			logger.WithError(err).Error("Failed to pop task")
			select {
			case <-ctx.Done():
				return
			case <-time.After(popTimeout):
			}
			continue
		}

		// BRPOP replies with [key, value]
		if len(result) != 2 {
			continue
		}

		var task Task
		if err := json.Unmarshal([]byte(result[1]), &task); err != nil {
			logger.WithError(err).Error("Discarding malformed task")
			continue
		}

		q.runOne(ctx, mux, &task, timeout)
	}
}

func (q *RedisQueue) runOne(ctx context.Context, mux *Mux, task *Task, timeout time.Duration) {
	defer observability.RecoverPanic(q.opts.logger, "redis task "+task.Name)

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	// execute logs failures itself
	_ = execute(ctx, redisBackend, mux, task, q.opts)
}
