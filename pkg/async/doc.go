// Package async runs background tasks of the biller service with panic
// recovery and structured error logging.
//
//	watcher := async.SafeGo(ctx, logger, 0, "rates watcher", func(ctx context.Context) error {
//		return table.Watch(ctx, path)
//	})
//	...
//	cancel()
//	_ = async.Wait(shutdownCtx, watcher)
//
// Background tasks are started with a context cancelled on shutdown; Wait
// lets the shutdown sequence block until they have returned.
package async
