package client

import "sync"

// CallState is the client-side call session phase.
type CallState int

const (
	CallIdle CallState = iota
	CallRinging
	CallNegotiating
	CallConnected
	CallEnded
)

func (s CallState) String() string {
	switch s {
	case CallIdle:
		return "idle"
	case CallRinging:
		return "ringing"
	case CallNegotiating:
		return "negotiating"
	case CallConnected:
		return "connected"
	case CallEnded:
		return "ended"
	default:
		return "unknown"
	}
}

// CallSession tracks a single call's lifecycle. Transitions only move
// forward; a late rtc:end after teardown is a no-op.
type CallSession struct {
	mu    sync.Mutex
	state CallState
}

func NewCallSession() *CallSession {
	return &CallSession{state: CallIdle}
}

func (c *CallSession) State() CallState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *CallSession) Ring() {
	c.advance(CallRinging)
}

func (c *CallSession) Negotiate() {
	c.advance(CallNegotiating)
}

func (c *CallSession) Connect() {
	c.advance(CallConnected)
}

// End tears the session down. Returns true on the first call, false when
// the session was already ended or never started.
func (c *CallSession) End() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == CallEnded || c.state == CallIdle {
		// Reset to idle so a new call can start after a finished one.
		c.state = CallIdle
		return false
	}
	c.state = CallEnded
	return true
}

// Reset returns the session to idle so a new call can begin.
func (c *CallSession) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = CallIdle
}

func (c *CallSession) advance(to CallState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	// A fresh ring after a previous call ended starts a new session.
	if c.state == CallEnded && to == CallRinging {
		c.state = CallRinging
		return
	}
	if to > c.state {
		c.state = to
	}
}
