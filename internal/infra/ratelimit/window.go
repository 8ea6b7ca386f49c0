// Package ratelimit implements the fixed-window counter that caps outbound
// sends per minute.
package ratelimit

import (
	"sync"
	"time"
)

// Snapshot reports the current window for the ops endpoints.
type Snapshot struct {
	Limit     int       `json:"limit"`
	Used      int       `json:"used"`
	Remaining int       `json:"remaining"`
	ResetsAt  time.Time `json:"resets_at"`
}

// Window counts sends in fixed, non-overlapping intervals. The counter is
// reset lazily on the first call after the interval rolls over, so an idle
// limiter costs nothing.
type Window struct {
	mu       sync.Mutex
	limit    int
	interval time.Duration
	count    int
	resetAt  time.Time
	now      func() time.Time
}

// NewWindow returns a limiter allowing limit sends per interval. A limit of
// zero or less disables the limiter (every Allow succeeds).
func NewWindow(limit int, interval time.Duration) *Window {
	return &Window{
		limit:    limit,
		interval: interval,
		now:      time.Now,
	}
}

// Allow reports whether one more send fits in the current window. When it
// does not, retryAfter is the time until the window resets. Allow does not
// consume budget; call Record once the send actually happens.
func (w *Window) Allow() (ok bool, retryAfter time.Duration) {
	if w.limit <= 0 {
		return true, 0
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.roll()
	if w.count >= w.limit {
		return false, w.resetAt.Sub(w.now())
	}
	return true, 0
}

// Record counts a completed send against the current window.
func (w *Window) Record() {
	if w.limit <= 0 {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.roll()
	w.count++
}

func (w *Window) Stats() Snapshot {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.roll()
	remaining := w.limit - w.count
	if remaining < 0 {
		remaining = 0
	}
	return Snapshot{
		Limit:     w.limit,
		Used:      w.count,
		Remaining: remaining,
		ResetsAt:  w.resetAt,
	}
}

// roll starts a fresh window if the current one has expired. Caller holds mu.
func (w *Window) roll() {
	now := w.now()
	if now.Before(w.resetAt) {
		return
	}
	w.count = 0
	w.resetAt = now.Add(w.interval)
}
