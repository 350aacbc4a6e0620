package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
)

// DefaultMaxConcurrent bounds in-flight updates when no limit is configured.
const DefaultMaxConcurrent = 16

type loggerKey struct{}

func withLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

func loggerFrom(ctx context.Context, fallback *slog.Logger) *slog.Logger {
	if logger, ok := ctx.Value(loggerKey{}).(*slog.Logger); ok {
		return logger
	}
	return fallback
}

// UpdateHandler processes one update.
type UpdateHandler interface {
	HandleUpdate(ctx context.Context, u Update)
}

// Dispatcher runs each update in its own goroutine with a concurrency limit.
type Dispatcher struct {
	handler UpdateHandler
	sem     *semaphore.Weighted
	wg      sync.WaitGroup
	logger  *slog.Logger
}

// NewDispatcher creates a dispatcher allowing limit concurrent updates.
func NewDispatcher(handler UpdateHandler, limit int, logger *slog.Logger) *Dispatcher {
	if limit <= 0 {
		limit = DefaultMaxConcurrent
	}
	return &Dispatcher{
		handler: handler,
		sem:     semaphore.NewWeighted(int64(limit)),
		logger:  logger,
	}
}

// Dispatch waits for a free slot, then handles u in the background. Work
// outlives ctx cancellation so accepted updates are always answered.
func (d *Dispatcher) Dispatch(ctx context.Context, u Update) error {
	if err := d.sem.Acquire(ctx, 1); err != nil {
		return err
	}

	traceID := uuid.NewString()
	logger := d.logger.With("trace_id", traceID, "update_id", u.UpdateID)
	workCtx := withLogger(context.WithoutCancel(ctx), logger)

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer d.sem.Release(1)
		defer func() {
			if r := recover(); r != nil {
				logger.Error("panic while handling update",
					"panic", fmt.Sprint(r),
					"stack", string(debug.Stack()),
				)
			}
		}()

		d.handler.HandleUpdate(workCtx, u)
	}()
	return nil
}

// Wait blocks until every dispatched update has been handled or ctx is done.
func (d *Dispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
