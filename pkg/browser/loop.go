package browser

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/odvcencio/lantern/pkg/logging"
)

// DefaultFrameRate caps how many ticks per second the loop runs.
const DefaultFrameRate = 60

// Loop drives Renderer.Tick from a single goroutine. It sleeps until the
// session waker fires (or the optional idle ticker), re-ticks while wakes
// keep landing mid-tick, and hands non-empty results to the OnTick callback.
type Loop struct {
	renderer *Renderer
	limiter  *rate.Limiter
	idle     time.Duration
	onTick   func(TickResult)
	log      *logging.Logger
}

// LoopOption configures a Loop.
type LoopOption func(*Loop)

// WithFrameRate caps ticks per second. Zero or negative removes the cap.
func WithFrameRate(fps int) LoopOption {
	return func(l *Loop) {
		if fps <= 0 {
			l.limiter = rate.NewLimiter(rate.Inf, 1)
			return
		}
		l.limiter = rate.NewLimiter(rate.Limit(fps), 1)
	}
}

// WithIdleTick makes the loop tick at least once per interval even without wakes.
func WithIdleTick(d time.Duration) LoopOption {
	return func(l *Loop) {
		l.idle = d
	}
}

// WithOnTick registers the consumer of tick results. It runs on the loop goroutine.
func WithOnTick(fn func(TickResult)) LoopOption {
	return func(l *Loop) {
		l.onTick = fn
	}
}

// WithLoopLogger sets the loop logger.
func WithLoopLogger(log *logging.Logger) LoopOption {
	return func(l *Loop) {
		if log != nil {
			l.log = log
		}
	}
}

// NewLoop creates a loop for r.
func NewLoop(r *Renderer, opts ...LoopOption) *Loop {
	l := &Loop{
		renderer: r,
		limiter:  rate.NewLimiter(rate.Limit(DefaultFrameRate), 1),
		log:      logging.Discard(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Run blocks until ctx is done and returns ctx.Err().
func (l *Loop) Run(ctx context.Context) error {
	var idleC <-chan time.Time
	if l.idle > 0 {
		ticker := time.NewTicker(l.idle)
		defer ticker.Stop()
		idleC = ticker.C
	}

	for {
		wakeC := l.renderer.Waker().C()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.renderer.SessionChanged():
			continue
		case <-wakeC:
			if !l.renderer.Pending() {
				// Already covered by a tick that started after this wake.
				continue
			}
		case <-idleC:
		}

		if err := l.step(ctx); err != nil {
			return err
		}
	}
}

func (l *Loop) step(ctx context.Context) error {
	for {
		if err := l.limiter.Wait(ctx); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return fmt.Errorf("tick limiter: %w", err)
		}
		res := l.renderer.Tick()
		if len(res.Updates) > 0 && l.onTick != nil {
			l.onTick(res)
		}
		if !res.Again {
			return nil
		}
		l.log.Debug("wake arrived during tick, ticking again")
	}
}
