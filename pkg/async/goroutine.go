package async

import (
	"context"
	"runtime/debug"
	"time"

	"github.com/sirupsen/logrus"
)

// SafeGo runs fn in a goroutine with panic recovery and error logging.
// A positive timeout bounds fn's context; zero leaves it bound only by
// parentCtx, for tasks that run until shutdown.
//
// The returned channel is closed when fn has returned.
//
//	done := async.SafeGo(ctx, logger, 0, "rates watcher", func(ctx context.Context) error {
//	    return table.Watch(ctx, path)
//	})
func SafeGo(parentCtx context.Context, logger logrus.FieldLogger, timeout time.Duration, taskName string, fn func(context.Context) error) <-chan struct{} {
	done := make(chan struct{})
	log := logger.WithField("task", taskName)

	go func() {
		defer close(done)

		ctx, cancel := parentCtx, context.CancelFunc(func() {})
		if timeout > 0 {
			ctx, cancel = context.WithTimeout(parentCtx, timeout)
		}
		defer cancel()

		defer func() {
			if r := recover(); r != nil {
				log.WithFields(logrus.Fields{
					"panic": r,
					"stack": string(debug.Stack()),
				}).Error("PANIC in background task")
			}
		}()

		if err := fn(ctx); err != nil {
			log.WithError(err).Error("Background task failed")
		}
	}()

	return done
}

// SafeGoNoError is like SafeGo for functions that don't return errors
func SafeGoNoError(parentCtx context.Context, logger logrus.FieldLogger, timeout time.Duration, taskName string, fn func(context.Context)) <-chan struct{} {
	return SafeGo(parentCtx, logger, timeout, taskName, func(ctx context.Context) error {
		fn(ctx)
		return nil
	})
}

// Wait blocks until every done channel is closed or ctx is done
func Wait(ctx context.Context, done ...<-chan struct{}) error {
	for _, ch := range done {
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
