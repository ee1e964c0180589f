package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"paddlearena/broker/internal/config"
	"paddlearena/broker/internal/logging"
	"paddlearena/broker/internal/match"
	"paddlearena/broker/internal/presence"
	"paddlearena/broker/internal/registry"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// client is one authenticated websocket connection.
type client struct {
	conn     *websocket.Conn
	send     chan []byte
	identity string
	connID   string
}

// Broker owns the websocket surface: it admits connections, routes commands
// to the match registry, and fans registry events back out to each match's
// admitted connections.
type Broker struct {
	lock    sync.Mutex
	clients map[*client]bool
	groups  map[string]map[*client]bool

	registry *registry.Registry
	presence *presence.Tracker

	wsAuthenticator websocketAuthenticator
	pingInterval    time.Duration
	maxPayloadBytes int64
	log             *logging.Logger
}

// BrokerOption customises broker construction.
type BrokerOption func(*Broker)

// WithPingInterval overrides the websocket keepalive cadence.
func WithPingInterval(interval time.Duration) BrokerOption {
	return func(b *Broker) {
		if interval > 0 {
			b.pingInterval = interval
		}
	}
}

// WithMaxPayloadBytes bounds inbound frame size.
func WithMaxPayloadBytes(limit int64) BrokerOption {
	return func(b *Broker) {
		if limit > 0 {
			b.maxPayloadBytes = limit
		}
	}
}

// NewBroker assembles the websocket hub over the given presence tracker.
func NewBroker(tracker *presence.Tracker, logger *logging.Logger, opts ...BrokerOption) *Broker {
	if logger == nil {
		logger = logging.L()
	}
	b := &Broker{
		clients:         make(map[*client]bool),
		groups:          make(map[string]map[*client]bool),
		presence:        tracker,
		wsAuthenticator: allowAllAuthenticator{},
		pingInterval:    config.DefaultPingInterval,
		maxPayloadBytes: config.DefaultMaxPayloadBytes,
		log:             logger,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

// AttachRegistry wires the match registry; resolves the construction cycle
// between the broker (the registry's broadcaster) and the registry itself.
func (b *Broker) AttachRegistry(reg *registry.Registry) {
	b.registry = reg
}

// Broadcast delivers a registry event to every connection admitted to the
// match's group. Slow consumers are disconnected rather than waited on.
func (b *Broker) Broadcast(matchID string, payload []byte) {
	if b == nil || len(payload) == 0 {
		return
	}
	b.lock.Lock()
	defer b.lock.Unlock()
	for c := range b.groups[matchID] {
		select {
		case c.send <- payload:
		default:
			b.dropLocked(c)
		}
	}
}

// dropLocked removes a client from every group and the client set; b.lock held.
func (b *Broker) dropLocked(c *client) {
	if !b.clients[c] {
		return
	}
	delete(b.clients, c)
	for id, group := range b.groups {
		delete(group, c)
		if len(group) == 0 {
			delete(b.groups, id)
		}
	}
	close(c.send)
}

func (b *Broker) joinGroup(matchID string, c *client) {
	b.lock.Lock()
	defer b.lock.Unlock()
	if !b.clients[c] {
		return
	}
	group := b.groups[matchID]
	if group == nil {
		group = make(map[*client]bool)
		b.groups[matchID] = group
	}
	group[c] = true
}

func (b *Broker) isMember(matchID string, c *client) bool {
	b.lock.Lock()
	defer b.lock.Unlock()
	return b.groups[matchID][c]
}

func (b *Broker) dropGroup(matchID string) {
	b.lock.Lock()
	defer b.lock.Unlock()
	delete(b.groups, matchID)
}

// serveWS upgrades the connection, authenticates it, registers presence, and
// runs the read and write pumps.
func (b *Broker) serveWS(w http.ResponseWriter, r *http.Request) {
	identity, err := b.wsAuthenticator.Authenticate(r)
	if err != nil {
		b.log.Warn("websocket auth rejected", logging.String("remote", r.RemoteAddr), logging.Error(err))
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.log.Warn("websocket upgrade failed", logging.String("remote", r.RemoteAddr), logging.Error(err))
		return
	}
	conn.SetReadLimit(b.maxPayloadBytes)

	c := &client{
		conn:     conn,
		send:     make(chan []byte, 256),
		identity: identity,
		connID:   uuid.NewString(),
	}
	b.lock.Lock()
	b.clients[c] = true
	b.lock.Unlock()
	b.presence.Connect(identity, c.connID)
	b.log.Info("client connected",
		logging.String("identity", identity),
		logging.String("conn_id", c.connID))

	go b.readPump(c)
	go b.writePump(c)
}

func (b *Broker) readPump(c *client) {
	defer func() {
		b.lock.Lock()
		b.dropLocked(c)
		b.lock.Unlock()
		_ = c.conn.Close()
		//1.- Presence only flips when this connection still owns the entry; a
		// reconnect that superseded it must not pause the player's matches.
		if b.presence.Disconnect(c.identity, c.connID) {
			b.registry.PauseForIdentity(c.identity)
			b.log.Info("client disconnected", logging.String("identity", c.identity))
		}
	}()
	for {
		_, payload, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		b.dispatch(c, payload)
	}
}

func (b *Broker) writePump(c *client) {
	ticker := time.NewTicker(b.pingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case payload, ok := <-c.send:
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteMessage(websocket.PingMessage, []byte{}); err != nil {
				return
			}
		}
	}
}

// clientCommand is the inbound command envelope.
type clientCommand struct {
	Type         string     `json:"type"`
	MatchID      string     `json:"match_id,omitempty"`
	SlotB        string     `json:"slot_b,omitempty"`
	Slot         match.Slot `json:"slot,omitempty"`
	Y            float64    `json:"y"`
	VY           float64    `json:"vy"`
	FinishedOnly bool       `json:"finished_only,omitempty"`
}

type commandReply struct {
	Type    string          `json:"type"`
	Request string          `json:"request,omitempty"`
	Match   *match.Record   `json:"match,omitempty"`
	Matches []*match.Record `json:"matches,omitempty"`
	Code    string          `json:"code,omitempty"`
	Message string          `json:"message,omitempty"`
}

func (b *Broker) dispatch(c *client, payload []byte) {
	var cmd clientCommand
	if err := json.Unmarshal(payload, &cmd); err != nil {
		b.replyError(c, "", errors.New("malformed command payload"))
		return
	}
	ctx := context.Background()

	switch cmd.Type {
	case "createMatch":
		record, err := b.registry.Create(ctx, c.identity, cmd.SlotB)
		if err != nil {
			b.replyError(c, cmd.Type, err)
			return
		}
		b.joinGroup(record.ID, c)
		b.reply(c, commandReply{Type: "matchCreated", Match: record})

	case "joinMatch":
		record, err := b.registry.Lookup(ctx, cmd.MatchID)
		if err != nil {
			b.replyError(c, cmd.Type, err)
			return
		}
		if _, ok := record.SlotOf(c.identity); !ok {
			b.replyError(c, cmd.Type, match.ErrForbidden)
			return
		}
		b.joinGroup(record.ID, c)
		b.reply(c, commandReply{Type: "matchJoined", Match: record})

	case "startMatch":
		//1.- Mutating a match requires an admitted connection, not just a
		// valid identity: the caller must be in the group that will receive
		// the countdown and snapshot events.
		if !b.isMember(cmd.MatchID, c) {
			b.replyError(c, cmd.Type, match.ErrForbidden)
			return
		}
		if err := b.registry.Start(cmd.MatchID, c.identity); err != nil {
			b.replyError(c, cmd.Type, err)
		}

	case "updatePaddle":
		if !b.isMember(cmd.MatchID, c) {
			b.replyError(c, cmd.Type, match.ErrForbidden)
			return
		}
		if err := b.registry.QueuePaddle(cmd.MatchID, c.identity, cmd.Slot, cmd.Y, cmd.VY); err != nil {
			b.replyError(c, cmd.Type, err)
		}

	case "pauseMatch":
		if !b.isMember(cmd.MatchID, c) {
			b.replyError(c, cmd.Type, match.ErrForbidden)
			return
		}
		if err := b.registry.Pause(cmd.MatchID, c.identity); err != nil {
			b.replyError(c, cmd.Type, err)
		}

	case "removeMatch":
		if !b.isMember(cmd.MatchID, c) {
			b.replyError(c, cmd.Type, match.ErrForbidden)
			return
		}
		if err := b.registry.Remove(ctx, cmd.MatchID, c.identity); err != nil {
			b.replyError(c, cmd.Type, err)
			return
		}
		b.dropGroup(cmd.MatchID)

	case "listMatches":
		records, err := b.registry.List(ctx, c.identity, cmd.FinishedOnly)
		if err != nil {
			b.replyError(c, cmd.Type, err)
			return
		}
		b.reply(c, commandReply{Type: "matchList", Matches: records})

	default:
		b.replyError(c, cmd.Type, errors.New("unknown command type"))
	}
}

func (b *Broker) reply(c *client, reply commandReply) {
	payload, err := json.Marshal(reply)
	if err != nil {
		return
	}
	//1.- Send under the hub lock: dropLocked closes c.send under the same
	// lock, so a reply can never race the close of a dropped client.
	b.lock.Lock()
	defer b.lock.Unlock()
	if !b.clients[c] {
		return
	}
	select {
	case c.send <- payload:
	default:
	}
}

func (b *Broker) replyError(c *client, request string, err error) {
	b.reply(c, commandReply{
		Type:    "error",
		Request: request,
		Code:    errorCode(err),
		Message: err.Error(),
	})
}

// errorCode maps the match error taxonomy onto stable wire codes.
func errorCode(err error) string {
	switch {
	case errors.Is(err, match.ErrForbidden):
		return "forbidden"
	case errors.Is(err, match.ErrInvalidPhase):
		return "invalid_phase"
	case errors.Is(err, match.ErrNotFound):
		return "not_found"
	case errors.Is(err, match.ErrPreconditionFailed):
		return "precondition_failed"
	default:
		return "internal"
	}
}
