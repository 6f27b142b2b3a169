// Package async provides a bounded worker pool for background jobs.
//
// # Overview
//
// WorkerPool runs jobs on a fixed number of goroutines with per-job timeouts,
// panic recovery and non-blocking error collection.
//
//	pool := async.NewWorkerPool(ctx, 8, "check_auth_identity", time.Minute, logger)
//	defer pool.Shutdown(10 * time.Second)
//
//	pool.Submit(ctx, func(ctx context.Context) error {
//		return reconcile(ctx, id)
//	})
//
// Shutdown stops intake, lets queued jobs drain and cancels whatever is
// still running once the timeout elapses.
//
// # Related Packages
//
//   - pkg/tasks: In-process task queue built on WorkerPool
package async
