package realtime

import "testing"

func TestCallTableSharedAcrossPair(t *testing.T) {
	tbl := newCallTable()
	tbl.ring("alice", "bob")

	// Both orderings resolve the same session.
	if _, ok := tbl.phase("alice", "bob"); !ok {
		t.Fatal("Expected session for (alice, bob)")
	}
	if _, ok := tbl.phase("bob", "alice"); !ok {
		t.Fatal("Expected same session for (bob, alice)")
	}
}

func TestCallTablePhaseNeverRegresses(t *testing.T) {
	tbl := newCallTable()
	tbl.ring("alice", "bob")

	tbl.advance("alice", "bob", PhaseNegotiating)
	tbl.advance("bob", "alice", PhaseConnected)
	// A duplicate offer after connect must not move the phase back.
	tbl.advance("alice", "bob", PhaseNegotiating)

	phase, ok := tbl.phase("alice", "bob")
	if !ok || phase != PhaseConnected {
		t.Errorf("Expected connected, got %v (ok=%v)", phase, ok)
	}
}

func TestCallTableEndIsIdempotent(t *testing.T) {
	tbl := newCallTable()
	tbl.ring("alice", "bob")

	tbl.end("bob", "alice")
	tbl.end("alice", "bob") // late duplicate

	if _, ok := tbl.phase("alice", "bob"); ok {
		t.Error("Expected no session after end")
	}
	if _, ok := tbl.peerOf("alice"); ok {
		t.Error("Expected no peer after end")
	}
}

func TestCallTableAdvanceWithoutSession(t *testing.T) {
	tbl := newCallTable()
	// Relays are valid without a tracked session; advance must not create one.
	tbl.advance("alice", "bob", PhaseConnected)
	if _, ok := tbl.phase("alice", "bob"); ok {
		t.Error("Advance must not open a session")
	}
}

func TestCallTablePeerOf(t *testing.T) {
	tbl := newCallTable()
	tbl.ring("alice", "bob")

	if peer, ok := tbl.peerOf("alice"); !ok || peer != "bob" {
		t.Errorf("Expected bob, got %q (ok=%v)", peer, ok)
	}
	if peer, ok := tbl.peerOf("bob"); !ok || peer != "alice" {
		t.Errorf("Expected alice, got %q (ok=%v)", peer, ok)
	}
	if _, ok := tbl.peerOf("carol"); ok {
		t.Error("Uninvolved user must have no peer")
	}
}
