package client

import (
	"sync"
	"time"
)

// ReadWatermarks tracks, per peer, the latest read receipt timestamp seen.
// Receipts can arrive out of order; the tracked value only ever moves
// forward.
type ReadWatermarks struct {
	mu    sync.Mutex
	marks map[string]time.Time
}

func NewReadWatermarks() *ReadWatermarks {
	return &ReadWatermarks{marks: make(map[string]time.Time)}
}

// Observe records a read receipt from peer. Older receipts are ignored.
func (w *ReadWatermarks) Observe(peer string, until time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if until.After(w.marks[peer]) {
		w.marks[peer] = until
	}
}

// For returns the watermark for peer, zero if none was observed.
func (w *ReadWatermarks) For(peer string) time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.marks[peer]
}
