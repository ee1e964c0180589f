package store

import (
	"context"
	"sort"
	"strings"
	"sync"

	"paddlearena/broker/internal/leaderboard"
	"paddlearena/broker/internal/match"
)

// Memory is an in-memory Store for tests and local play without a database.
// All reads and writes deep-copy so callers never alias internal state.
type Memory struct {
	mu         sync.RWMutex
	matches    map[string]*match.Record
	aggregates map[string]*leaderboard.Aggregate
}

// NewMemory constructs an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		matches:    make(map[string]*match.Record),
		aggregates: make(map[string]*leaderboard.Aggregate),
	}
}

// SaveMatch upserts the record, honouring the revision guard.
func (m *Memory) SaveMatch(_ context.Context, record *match.Record) error {
	if m == nil || record == nil || strings.TrimSpace(record.ID) == "" {
		return ErrNotFound
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	//1.- Reject writes that do not advance the stored revision.
	if existing, ok := m.matches[record.ID]; ok && record.Revision <= existing.Revision {
		return ErrStaleWrite
	}
	m.matches[record.ID] = record.Clone()
	return nil
}

// FindMatch returns a copy of the stored record.
func (m *Memory) FindMatch(_ context.Context, id string) (*match.Record, error) {
	if m == nil {
		return nil, ErrNotFound
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	record, ok := m.matches[id]
	if !ok {
		return nil, ErrNotFound
	}
	return record.Clone(), nil
}

// FindMatchesByParticipant lists matches for an identity, optionally only
// those already finished, newest first.
func (m *Memory) FindMatchesByParticipant(_ context.Context, identity string, finishedOnly bool) ([]*match.Record, error) {
	if m == nil || strings.TrimSpace(identity) == "" {
		return nil, nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var results []*match.Record
	for _, record := range m.matches {
		if record.SlotA != identity && record.SlotB != identity {
			continue
		}
		if finishedOnly && record.Phase != match.PhaseFinished {
			continue
		}
		results = append(results, record.Clone())
	}
	//1.- Order deterministically so consumers and tests see stable payloads.
	sort.Slice(results, func(i, j int) bool {
		if results[i].CreatedAt.Equal(results[j].CreatedAt) {
			return results[i].ID < results[j].ID
		}
		return results[i].CreatedAt.After(results[j].CreatedAt)
	})
	return results, nil
}

// DeleteMatch removes the record; deleting an unknown id is an error.
func (m *Memory) DeleteMatch(_ context.Context, id string) error {
	if m == nil {
		return ErrNotFound
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.matches[id]; !ok {
		return ErrNotFound
	}
	delete(m.matches, id)
	return nil
}

// LoadAggregate returns a copy of the aggregate, or (nil, nil) when absent.
func (m *Memory) LoadAggregate(_ context.Context, identity string) (*leaderboard.Aggregate, error) {
	if m == nil {
		return nil, nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.aggregates[identity].Clone(), nil
}

// SaveAggregate upserts the aggregate document.
func (m *Memory) SaveAggregate(_ context.Context, aggregate *leaderboard.Aggregate) error {
	if m == nil || aggregate == nil || strings.TrimSpace(aggregate.Identity) == "" {
		return ErrNotFound
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.aggregates[aggregate.Identity] = aggregate.Clone()
	return nil
}
