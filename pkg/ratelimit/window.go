// Package ratelimit holds the process-local limiters guarding the realtime
// layer. Both limiters keep their state in memory and are therefore
// per-instance: they do not coordinate across server processes.
package ratelimit

import (
	"sync"
	"time"
)

// Window is a fixed-window counter. The window resets when more than Size
// has elapsed since the window started; within a window at most Burst
// events are allowed.
type Window struct {
	mu          sync.Mutex
	size        time.Duration
	burst       int
	windowStart time.Time
	count       int

	now func() time.Time
}

func NewWindow(size time.Duration, burst int) *Window {
	return &Window{
		size:  size,
		burst: burst,
		now:   time.Now,
	}
}

// Allow records an attempt and reports whether it is within the limit.
func (w *Window) Allow() bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	if now.Sub(w.windowStart) > w.size {
		w.windowStart = now
		w.count = 0
	}
	w.count++
	return w.count <= w.burst
}
