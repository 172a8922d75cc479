// Package async provides bounded concurrency primitives for background work.
//
// # Key Functions
//
// SafeGo runs a fire-and-forget task with panic recovery and a timeout:
//
//	async.SafeGo(ctx, 30*time.Second, "sweep archive", func(ctx context.Context) error {
//		return archiver.Archive(ctx, result)
//	})
//
// WorkerPool runs submitted tasks on a fixed number of workers:
//
//	pool := async.NewWorkerPool(ctx, 8, "idp push", 10*time.Second)
//	defer pool.Shutdown(5 * time.Second)
//
// Batch fans a slice out over a pool and fans the results back in, one
// error per item in input order:
//
//	errs := async.Batch(ctx, users, 8, "idp push", 10*time.Second, push)
//	failed := async.CountErrors(errs)
//
// Unlike the pool's error channel, Batch never drops a result, so callers
// can report exact success and failure counts.
//
// # Related Packages
//
//   - pkg/reconcile: Bulk Reconciler fans IdP pushes out with Batch
package async
