// Package batch holds the background workers that drain work the flows only
// schedule: autorenew billing, data escrow, and history publication. Every
// worker is cursor-gated so restarts and concurrent runs never double-apply.
package batch

import (
	"context"
	"log/slog"
	"time"
)

// Worker is one periodic batch unit.
type Worker interface {
	Name() string
	RunOnce(ctx context.Context) error
}

// Clock is the worker's time source.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }

// Run loops a worker on the given interval until the context ends. A failing
// run is logged and retried at the next tick.
func Run(ctx context.Context, w Worker, interval time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if err := w.RunOnce(ctx); err != nil && ctx.Err() == nil {
			logger.ErrorContext(ctx, "batch run failed",
				slog.String("worker", w.Name()),
				slog.String("error", err.Error()))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
