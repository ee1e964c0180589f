// Package store is the persistence gateway boundary. Match state and
// leaderboard aggregates are documents behind a narrow save/load contract;
// implementations exist for Postgres and for in-memory use in tests and
// local play.
package store

import (
	"context"
	"errors"

	"paddlearena/broker/internal/leaderboard"
	"paddlearena/broker/internal/match"
)

var (
	// ErrNotFound signals that no document exists for the requested id.
	ErrNotFound = errors.New("document not found")
	// ErrStaleWrite rejects a save whose revision does not advance the stored
	// one, protecting a terminal write from late checkpoints.
	ErrStaleWrite = errors.New("write rejected by revision guard")
)

// Store is the document contract the match core depends on. SaveMatch is an
// upsert guarded by the record revision: a write only lands when its revision
// is strictly greater than the persisted one.
type Store interface {
	SaveMatch(ctx context.Context, record *match.Record) error
	FindMatch(ctx context.Context, id string) (*match.Record, error)
	FindMatchesByParticipant(ctx context.Context, identity string, finishedOnly bool) ([]*match.Record, error)
	DeleteMatch(ctx context.Context, id string) error

	leaderboard.Gateway
}
