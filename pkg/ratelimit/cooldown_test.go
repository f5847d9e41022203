package ratelimit

import (
	"testing"
	"time"
)

func TestCooldownBlocksWithinInterval(t *testing.T) {
	clock := newFakeClock()
	c := NewPairCooldown(30 * time.Minute)
	c.now = clock.now

	if !c.Try("alice", "bob") {
		t.Fatal("First attempt should be allowed")
	}
	if c.Try("alice", "bob") {
		t.Error("Immediate retry should be blocked")
	}

	clock.advance(29 * time.Minute)
	if c.Try("alice", "bob") {
		t.Error("Attempt inside the cooldown should be blocked")
	}

	clock.advance(time.Minute)
	if !c.Try("alice", "bob") {
		t.Error("Attempt after the cooldown elapsed should be allowed")
	}
}

func TestCooldownIsPerOrderedPair(t *testing.T) {
	clock := newFakeClock()
	c := NewPairCooldown(30 * time.Minute)
	c.now = clock.now

	if !c.Try("alice", "bob") {
		t.Fatal("First attempt should be allowed")
	}
	// The reverse direction and other pairs are independent.
	if !c.Try("bob", "alice") {
		t.Error("Reverse direction should have its own cooldown")
	}
	if !c.Try("alice", "carol") {
		t.Error("A different pair should have its own cooldown")
	}
}

func TestCooldownRejectionsDoNotExtend(t *testing.T) {
	clock := newFakeClock()
	c := NewPairCooldown(10 * time.Minute)
	c.now = clock.now

	c.Try("alice", "bob")
	clock.advance(9 * time.Minute)
	c.Try("alice", "bob") // rejected

	clock.advance(time.Minute + time.Second)
	if !c.Try("alice", "bob") {
		t.Error("Rejected attempt must not push the cooldown forward")
	}
}
