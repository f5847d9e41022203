package ratelimit

import (
	"sync"
	"time"
)

// PairCooldown enforces a minimum interval between attempts for an ordered
// (from, to) pair. Check and record happen under one lock so two concurrent
// attempts at the cooldown boundary cannot both slip through.
type PairCooldown struct {
	mu       sync.Mutex
	interval time.Duration
	last     map[pairKey]time.Time

	now func() time.Time
}

type pairKey struct {
	from string
	to   string
}

func NewPairCooldown(interval time.Duration) *PairCooldown {
	return &PairCooldown{
		interval: interval,
		last:     make(map[pairKey]time.Time),
		now:      time.Now,
	}
}

// Try reports whether the pair is outside its cooldown and, if so, records
// the attempt. Rejected attempts do not extend the cooldown.
func (c *PairCooldown) Try(from, to string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := pairKey{from: from, to: to}
	now := c.now()
	if last, ok := c.last[key]; ok && now.Sub(last) < c.interval {
		return false
	}
	c.last[key] = now
	return true
}
