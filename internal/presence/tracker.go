// Package presence tracks which identities currently hold an active
// connection. Entries are ephemeral: nothing is persisted and a reconnect
// rebuilds the entry from scratch.
package presence

import (
	"strings"
	"sync"
	"time"
)

// Entry records the connection currently representing an identity.
type Entry struct {
	ConnID      string
	ConnectedAt time.Time
}

// Tracker is the process-wide identity to connection map.
type Tracker struct {
	mu      sync.RWMutex
	entries map[string]Entry
	now     func() time.Time
}

// Option configures optional tracker behaviour at construction time.
type Option func(*Tracker)

// WithClock injects a deterministic clock, primarily for tests.
func WithClock(clock func() time.Time) Option {
	return func(t *Tracker) {
		if clock != nil {
			t.now = clock
		}
	}
}

// NewTracker constructs an empty presence tracker.
func NewTracker(opts ...Option) *Tracker {
	tracker := &Tracker{
		entries: make(map[string]Entry),
		now:     time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(tracker)
		}
	}
	return tracker
}

// Connect registers the connection currently representing the identity. A
// second connection for the same identity supersedes the first.
func (t *Tracker) Connect(identity, connID string) {
	if t == nil || strings.TrimSpace(identity) == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[identity] = Entry{ConnID: connID, ConnectedAt: t.now()}
}

// Disconnect removes the identity's entry, but only when the departing
// connection still owns it; a stale close after a reconnect is a no-op.
func (t *Tracker) Disconnect(identity, connID string) bool {
	if t == nil || strings.TrimSpace(identity) == "" {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	entry, ok := t.entries[identity]
	if !ok {
		return false
	}
	//1.- Only the connection that owns the entry may remove it.
	if connID != "" && entry.ConnID != connID {
		return false
	}
	delete(t.entries, identity)
	return true
}

// Present reports whether the identity currently has an active connection.
func (t *Tracker) Present(identity string) bool {
	if t == nil {
		return false
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.entries[identity]
	return ok
}

// Count returns how many identities are currently connected.
func (t *Tracker) Count() int {
	if t == nil {
		return 0
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}
