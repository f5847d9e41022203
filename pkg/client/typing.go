package client

import (
	"sync"
	"time"
)

// typingThrottle lets at most one emission through per interval.
type typingThrottle struct {
	mu       sync.Mutex
	interval time.Duration
	last     time.Time
	now      func() time.Time
}

func newTypingThrottle(interval time.Duration) *typingThrottle {
	return &typingThrottle{interval: interval, now: time.Now}
}

func (t *typingThrottle) allow() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := t.now()
	if n.Sub(t.last) < t.interval {
		return false
	}
	t.last = n
	return true
}
