package dispatch

import (
	"context"
	"log/slog"
	"time"
)

// TickLock serializes ticks across process replicas. A lost acquisition means
// another replica owns this tick; the work is simply skipped.
type TickLock interface {
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

// Runner drives the dispatcher on a fixed interval until the context is
// cancelled.
type Runner struct {
	dispatcher *Dispatcher
	interval   time.Duration
	lock       TickLock
	log        *slog.Logger
}

func NewRunner(d *Dispatcher, interval time.Duration, lock TickLock, log *slog.Logger) *Runner {
	if log == nil {
		log = slog.Default()
	}
	if interval <= 0 {
		interval = time.Minute
	}
	return &Runner{
		dispatcher: d,
		interval:   interval,
		lock:       lock,
		log:        log.With("component", "dispatch"),
	}
}

// Run blocks until ctx is cancelled. A slow tick delays subsequent ticks
// rather than stacking them; within a tick, provider calls are bounded by the
// dispatcher's worker pool.
func (r *Runner) Run(ctx context.Context) {
	r.log.Info("dispatch runner started", "interval", r.interval.String())
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.log.Info("dispatch runner stopped")
			return
		case <-ticker.C:
			r.tick(ctx)
		}
	}
}

func (r *Runner) tick(ctx context.Context) {
	if r.lock != nil {
		ok, err := r.lock.Acquire(ctx)
		if err != nil {
			r.log.Error("tick lock acquire failed", "err", err)
			return
		}
		if !ok {
			return
		}
		defer func() {
			if err := r.lock.Release(ctx); err != nil {
				r.log.Warn("tick lock release failed", "err", err)
			}
		}()
	}
	r.dispatcher.Tick(ctx)
}
