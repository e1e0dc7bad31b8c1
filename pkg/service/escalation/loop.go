package escalation

import (
	"context"
	"sync"
	"time"

	"github.com/howler-bot/howler/pkg/domain/model/errs"
	"github.com/howler-bot/howler/pkg/utils/clock"
	"github.com/howler-bot/howler/pkg/utils/logging"
)

// TickSource yields the periodic trigger channel for the given interval and
// a stop function. The default wraps time.Ticker; tests supply a channel
// they drive by hand.
type TickSource func(interval time.Duration) (<-chan time.Time, func())

func defaultTickSource(interval time.Duration) (<-chan time.Time, func()) {
	ticker := time.NewTicker(interval)
	return ticker.C, ticker.Stop
}

// Loop drives the periodic escalation check. It runs for the process
// lifetime and stops with its context; a tick that fails (e.g. store
// unavailable) is logged and retried at the next interval.
type Loop struct {
	engine *Engine
	ticks  TickSource

	mu       sync.Mutex
	lastTick time.Time
}

type LoopOption func(*Loop)

func WithTickSource(src TickSource) LoopOption {
	return func(x *Loop) {
		x.ticks = src
	}
}

func NewLoop(engine *Engine, opts ...LoopOption) *Loop {
	x := &Loop{
		engine: engine,
		ticks:  defaultTickSource,
	}
	for _, opt := range opts {
		opt(x)
	}
	return x
}

// Run blocks until ctx is cancelled. In ack-only mode it returns
// immediately: nothing is ever re-posted or escalated.
func (x *Loop) Run(ctx context.Context) error {
	if !x.engine.Config().Enabled {
		logging.From(ctx).Info("escalation disabled, clock loop not started")
		return nil
	}

	logger := logging.From(ctx)
	logger.Info("escalation clock started",
		"check_frequency", x.engine.Config().CheckFrequency,
		"window", x.engine.Config().Window)

	ticks, stop := x.ticks(x.engine.Config().CheckFrequency)
	defer stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("escalation clock stopped")
			return ctx.Err()

		case <-ticks:
			now := clock.Now(ctx)
			x.markTick(now)
			if err := x.engine.Tick(ctx, now); err != nil {
				errs.Handle(ctx, err)
			}
		}
	}
}

func (x *Loop) markTick(now time.Time) {
	x.mu.Lock()
	x.lastTick = now
	x.mu.Unlock()
}

// LastTick returns the time of the most recent tick, zero before the first
// one.
func (x *Loop) LastTick() time.Time {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.lastTick
}

// Alive is the liveness predicate surfaced by the health endpoint: the loop
// is healthy while ticks keep landing within the allowed staleness.
func (x *Loop) Alive(now time.Time, staleness time.Duration) bool {
	if !x.engine.Config().Enabled {
		return true
	}

	last := x.LastTick()
	if last.IsZero() {
		// Not ticked yet right after startup.
		return true
	}
	return now.Sub(last) <= staleness
}
