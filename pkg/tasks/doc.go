/*
Package tasks provides named, expiring background tasks and the queues that
carry them.

A Task holds a name, a JSON payload and an optional expiry. Workers check the
expiry before starting a task and drop it when it has passed, so a backlog of
stale work never runs after a newer sweep has produced fresher tasks.

Two backends implement Queue:

  - MemoryQueue runs tasks in-process on an async.WorkerPool
  - RedisQueue pushes tasks onto a Redis list consumed with BRPOP by any
    number of processes

Handlers are registered on a Mux by task name:

	mux := tasks.NewMux()
	mux.Handle("check_auth_identity", reconciler.Handle)

	queue := tasks.NewMemoryQueue(ctx, mux, 8, time.Minute,
	    tasks.WithLogger(logger), tasks.WithMetrics(metrics))
	defer queue.Close(10 * time.Second)

	queue.Enqueue(ctx, "check_auth_identity", payload, time.Hour)
*/
package tasks
