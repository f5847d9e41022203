package client

import (
	"testing"
	"time"
)

func TestWatermarkMonotonicUnderReordering(t *testing.T) {
	w := NewReadWatermarks()
	base := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	// Receipts arrive out of order; the tracked value never regresses.
	w.Observe("bob", base.Add(2*time.Minute))
	w.Observe("bob", base.Add(time.Minute))
	w.Observe("bob", base)

	if got := w.For("bob"); !got.Equal(base.Add(2 * time.Minute)) {
		t.Errorf("Expected watermark to stay at max, got %v", got)
	}

	w.Observe("bob", base.Add(5*time.Minute))
	if got := w.For("bob"); !got.Equal(base.Add(5 * time.Minute)) {
		t.Errorf("Expected watermark to advance, got %v", got)
	}
}

func TestWatermarkPerPeer(t *testing.T) {
	w := NewReadWatermarks()
	base := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	w.Observe("bob", base.Add(time.Hour))
	w.Observe("carol", base)

	if got := w.For("carol"); !got.Equal(base) {
		t.Errorf("Peers must not share watermarks, got %v", got)
	}
	if !w.For("dave").IsZero() {
		t.Error("Unobserved peer should have a zero watermark")
	}
}

func TestTypingThrottle(t *testing.T) {
	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	th := newTypingThrottle(time.Second)
	th.now = func() time.Time { return now }

	if !th.allow() {
		t.Fatal("First emission should pass")
	}
	now = now.Add(500 * time.Millisecond)
	if th.allow() {
		t.Error("Emission inside the interval should be suppressed")
	}
	now = now.Add(600 * time.Millisecond)
	if !th.allow() {
		t.Error("Emission after the interval should pass")
	}
}

func TestCallSessionHappyPath(t *testing.T) {
	c := NewCallSession()

	c.Ring()
	if c.State() != CallRinging {
		t.Fatalf("Expected ringing, got %v", c.State())
	}
	c.Negotiate()
	c.Connect()
	if c.State() != CallConnected {
		t.Fatalf("Expected connected, got %v", c.State())
	}

	if !c.End() {
		t.Error("First End should report teardown")
	}
	if c.End() {
		t.Error("Second End must be a no-op")
	}
}

func TestCallSessionNeverRegresses(t *testing.T) {
	c := NewCallSession()
	c.Ring()
	c.Negotiate()
	c.Connect()

	// A duplicate offer after connect must not move the call backwards.
	c.Negotiate()
	if c.State() != CallConnected {
		t.Errorf("Expected connected after late offer, got %v", c.State())
	}
	c.Ring()
	if c.State() != CallConnected {
		t.Errorf("Expected connected after late ring, got %v", c.State())
	}
}

func TestCallSessionLateEndAfterTeardown(t *testing.T) {
	c := NewCallSession()
	c.Ring()
	c.End()

	// Remote rtc:end arriving after local teardown.
	if c.End() {
		t.Error("Late end must be tolerated as a no-op")
	}
	if c.State() != CallIdle {
		t.Errorf("Expected idle after settled teardown, got %v", c.State())
	}
}

func TestCallSessionNewCallAfterEnd(t *testing.T) {
	c := NewCallSession()
	c.Ring()
	c.Negotiate()
	c.End()

	c.Ring()
	if c.State() != CallRinging {
		t.Errorf("A new call after a finished one should ring, got %v", c.State())
	}
}
