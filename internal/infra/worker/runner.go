// Package worker runs delayed tasks: retry republishes and rate-limit
// deferrals wait out their backoff here instead of blocking a consumer.
package worker

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Runner fires scheduled tasks after their delay. Stop cancels the shared
// context, stops unfired timers, and waits for running tasks to return.
type Runner struct {
	log *zerolog.Logger

	mu      sync.Mutex
	timers  map[*time.Timer]struct{}
	stopped bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewRunner(ctx context.Context, logger *zerolog.Logger) *Runner {
	compLog := logger.With().Str("component", "DelayRunner").Logger()
	rctx, cancel := context.WithCancel(ctx)
	return &Runner{
		log:    &compLog,
		timers: make(map[*time.Timer]struct{}),
		ctx:    rctx,
		cancel: cancel,
	}
}

// Schedule runs task after delay. Tasks scheduled after Stop are dropped.
func (r *Runner) Schedule(delay time.Duration, task func(ctx context.Context)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		r.log.Warn().Dur("delay", delay).Msg("runner stopped, dropping scheduled task")
		return
	}

	r.wg.Add(1)
	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		defer r.wg.Done()
		r.mu.Lock()
		delete(r.timers, timer)
		stopped := r.stopped
		r.mu.Unlock()
		if stopped {
			return
		}
		task(r.ctx)
	})
	r.timers[timer] = struct{}{}
}

// Pending reports how many tasks are waiting on their timer.
func (r *Runner) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.timers)
}

// Stop is idempotent. Unfired tasks are dropped; tasks already running get
// a canceled context and are waited for.
func (r *Runner) Stop() {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.stopped = true
	for timer := range r.timers {
		if timer.Stop() {
			// The callback will never fire for a stopped timer.
			r.wg.Done()
		}
		delete(r.timers, timer)
	}
	r.mu.Unlock()

	r.cancel()
	r.wg.Wait()
	r.log.Info().Msg("runner stopped")
}
