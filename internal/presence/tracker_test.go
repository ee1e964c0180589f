package presence

import (
	"testing"
	"time"
)

func TestConnectAndPresent(t *testing.T) {
	tracker := NewTracker()
	if tracker.Present("alice") {
		t.Fatal("expected alice absent before connecting")
	}
	tracker.Connect("alice", "conn-1")
	if !tracker.Present("alice") {
		t.Fatal("expected alice present after connecting")
	}
	if tracker.Count() != 1 {
		t.Fatalf("expected one entry, got %d", tracker.Count())
	}
}

func TestDisconnectRemovesEntry(t *testing.T) {
	tracker := NewTracker()
	tracker.Connect("alice", "conn-1")
	if !tracker.Disconnect("alice", "conn-1") {
		t.Fatal("expected the owning connection to remove the entry")
	}
	if tracker.Present("alice") {
		t.Fatal("expected alice absent after disconnect")
	}
	//1.- Disconnecting an unknown identity reports nothing removed.
	if tracker.Disconnect("alice", "conn-1") {
		t.Fatal("expected a second disconnect to be a no-op")
	}
}

func TestStaleDisconnectAfterReconnect(t *testing.T) {
	clock := time.Unix(0, 0)
	tracker := NewTracker(WithClock(func() time.Time { return clock }))
	tracker.Connect("alice", "conn-1")
	//1.- A reconnect supersedes the old connection entirely.
	tracker.Connect("alice", "conn-2")
	//2.- The old connection's deferred close must not evict the new entry.
	if tracker.Disconnect("alice", "conn-1") {
		t.Fatal("expected the stale disconnect to be ignored")
	}
	if !tracker.Present("alice") {
		t.Fatal("expected alice to remain present on the new connection")
	}
	if !tracker.Disconnect("alice", "conn-2") {
		t.Fatal("expected the current connection to remove the entry")
	}
}

func TestBlankIdentityIgnored(t *testing.T) {
	tracker := NewTracker()
	tracker.Connect("  ", "conn-1")
	if tracker.Count() != 0 {
		t.Fatal("expected blank identities to be ignored")
	}
}
