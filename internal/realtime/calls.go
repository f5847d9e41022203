package realtime

import "sync"

// CallPhase tracks where a call attempt is, as far as the server can tell.
// The relay stays permissive (clients own the real state machine); the
// table exists so a disconnect can tear the call down for the peer.
type CallPhase int

const (
	PhaseRinging CallPhase = iota
	PhaseNegotiating
	PhaseConnected
)

type callSession struct {
	CallerID string
	CalleeID string
	Phase    CallPhase
}

// callTable holds at most one in-flight call attempt per unordered user
// pair, in memory only.
type callTable struct {
	mu       sync.Mutex
	sessions map[callKey]*callSession
}

type callKey struct {
	a, b string
}

// keyFor normalizes the pair so either party resolves the same session.
func keyFor(x, y string) callKey {
	if x < y {
		return callKey{a: x, b: y}
	}
	return callKey{a: y, b: x}
}

func newCallTable() *callTable {
	return &callTable{sessions: make(map[callKey]*callSession)}
}

// ring opens (or re-opens) a session in the ringing phase.
func (t *callTable) ring(callerID, calleeID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sessions[keyFor(callerID, calleeID)] = &callSession{
		CallerID: callerID,
		CalleeID: calleeID,
		Phase:    PhaseRinging,
	}
}

// advance moves an existing session forward; phases never regress. A
// missing session is left missing: relays are valid without one.
func (t *callTable) advance(x, y string, phase CallPhase) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok := t.sessions[keyFor(x, y)]; ok && phase > s.Phase {
		s.Phase = phase
	}
}

// end removes the session. Idempotent: ending an already-ended call is a
// no-op, which makes late rtc:end events harmless.
func (t *callTable) end(x, y string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.sessions, keyFor(x, y))
}

// peerOf returns the other party of userID's active call, if any.
func (t *callTable) peerOf(userID string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, s := range t.sessions {
		if s.CallerID == userID {
			return s.CalleeID, true
		}
		if s.CalleeID == userID {
			return s.CallerID, true
		}
	}
	return "", false
}

func (t *callTable) phase(x, y string) (CallPhase, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.sessions[keyFor(x, y)]
	if !ok {
		return 0, false
	}
	return s.Phase, true
}
