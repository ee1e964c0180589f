package main

import (
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"testing"
	"time"

	"paddlearena/broker/internal/auth"
	"paddlearena/broker/internal/leaderboard"
	"paddlearena/broker/internal/logging"
	"paddlearena/broker/internal/match"
	"paddlearena/broker/internal/presence"
	"paddlearena/broker/internal/registry"
	"paddlearena/broker/internal/store"
)

func newTestBroker(t *testing.T) (*Broker, *presence.Tracker) {
	t.Helper()
	tracker := presence.NewTracker()
	broker := NewBroker(tracker, logging.NewTestLogger())
	mem := store.NewMemory()
	boards := leaderboard.NewAggregator(mem, logging.NewTestLogger())
	matches := registry.New(mem, boards, tracker, broker, logging.NewTestLogger(),
		registry.WithCountdown(1, time.Millisecond))
	t.Cleanup(matches.Close)
	broker.AttachRegistry(matches)
	return broker, tracker
}

// admitTestClient registers a connection-less client directly with the hub;
// dispatch and reply never touch the underlying websocket.
func admitTestClient(b *Broker, tracker *presence.Tracker, identity string) *client {
	c := &client{
		send:     make(chan []byte, 64),
		identity: identity,
		connID:   identity + "-conn",
	}
	b.lock.Lock()
	b.clients[c] = true
	b.lock.Unlock()
	tracker.Connect(identity, c.connID)
	return c
}

func nextFrame(t *testing.T, c *client) commandReply {
	t.Helper()
	select {
	case payload := <-c.send:
		var reply commandReply
		if err := json.Unmarshal(payload, &reply); err != nil {
			t.Fatalf("undecodable frame: %v", err)
		}
		return reply
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a frame")
	}
	return commandReply{}
}

func TestErrorCodeMapping(t *testing.T) {
	cases := []struct {
		err  error
		code string
	}{
		{match.ErrForbidden, "forbidden"},
		{fmt.Errorf("wrapped: %w", match.ErrForbidden), "forbidden"},
		{match.ErrInvalidPhase, "invalid_phase"},
		{match.ErrNotFound, "not_found"},
		{match.ErrPreconditionFailed, "precondition_failed"},
		{fmt.Errorf("boom"), "internal"},
	}
	for _, tc := range cases {
		if got := errorCode(tc.err); got != tc.code {
			t.Fatalf("errorCode(%v) = %q, want %q", tc.err, got, tc.code)
		}
	}
}

func TestAllowAllAuthenticatorRequiresIdentity(t *testing.T) {
	authenticator := allowAllAuthenticator{}

	request := httptest.NewRequest("GET", "/ws?identity=alice", nil)
	identity, err := authenticator.Authenticate(request)
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if identity != "alice" {
		t.Fatalf("expected alice, got %q", identity)
	}

	request = httptest.NewRequest("GET", "/ws", nil)
	if _, err := authenticator.Authenticate(request); err == nil {
		t.Fatalf("expected error for missing identity")
	}
}

func TestDispatchRejectsMutationsFromUnadmittedConnections(t *testing.T) {
	broker, tracker := newTestBroker(t)
	alice := admitTestClient(broker, tracker, "alice")
	bob := admitTestClient(broker, tracker, "bob")

	broker.dispatch(alice, []byte(`{"type":"createMatch","slot_b":"bob"}`))
	created := nextFrame(t, alice)
	if created.Type != "matchCreated" || created.Match == nil {
		t.Fatalf("expected matchCreated with a record, got %+v", created)
	}
	matchID := created.Match.ID

	//1.- Bob is a participant but never joined the group: every mutating
	// command must come back forbidden without touching the match.
	for _, kind := range []string{"startMatch", "pauseMatch", "removeMatch", "updatePaddle"} {
		payload := fmt.Sprintf(`{"type":%q,"match_id":%q,"slot":"b","y":50,"vy":10}`, kind, matchID)
		broker.dispatch(bob, []byte(payload))
		reply := nextFrame(t, bob)
		if reply.Type != "error" || reply.Code != "forbidden" {
			t.Fatalf("%s without admission: expected forbidden error, got %+v", kind, reply)
		}
	}

	//2.- After joinMatch the same start command goes through to the registry.
	broker.dispatch(bob, []byte(fmt.Sprintf(`{"type":"joinMatch","match_id":%q}`, matchID)))
	joined := nextFrame(t, bob)
	if joined.Type != "matchJoined" {
		t.Fatalf("expected matchJoined, got %+v", joined)
	}
	broker.dispatch(bob, []byte(fmt.Sprintf(`{"type":"startMatch","match_id":%q}`, matchID)))
	frame := nextFrame(t, bob)
	if frame.Type == "error" {
		t.Fatalf("expected the countdown stream after an admitted start, got %+v", frame)
	}
}

func TestReplyToDroppedClientDoesNotPanic(t *testing.T) {
	broker, tracker := newTestBroker(t)
	dropped := admitTestClient(broker, tracker, "alice")

	//1.- Simulate a slow consumer eviction closing the send channel.
	broker.lock.Lock()
	broker.dropLocked(dropped)
	broker.lock.Unlock()

	//2.- A reply racing the drop must be discarded, never sent on the closed channel.
	broker.reply(dropped, commandReply{Type: "matchList"})
	broker.replyError(dropped, "listMatches", match.ErrNotFound)
}

func TestHMACAuthenticatorAcceptsIssuedToken(t *testing.T) {
	const secret = "topsecret"
	authenticator, err := newHMACWebsocketAuthenticator(secret)
	if err != nil {
		t.Fatalf("new authenticator: %v", err)
	}

	token, err := auth.Issue(secret, "bob", time.Now(), time.Minute)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}

	request := httptest.NewRequest("GET", "/ws?auth_token="+token, nil)
	identity, err := authenticator.Authenticate(request)
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if identity != "bob" {
		t.Fatalf("expected bob, got %q", identity)
	}

	request = httptest.NewRequest("GET", "/ws", nil)
	if _, err := authenticator.Authenticate(request); err == nil {
		t.Fatalf("expected error for missing token")
	}
}
