package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"paddlearena/broker/internal/leaderboard"
	"paddlearena/broker/internal/match"
)

func newStoredRecord(t *testing.T, slotA, slotB string, created time.Time) *match.Record {
	t.Helper()
	record, err := match.NewRecord(slotA, slotB, created)
	require.NoError(t, err)
	return record
}

func TestSaveAndFindMatch(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()
	record := newStoredRecord(t, "alice", "bob", time.Unix(100, 0))

	require.NoError(t, store.SaveMatch(ctx, record))
	loaded, err := store.FindMatch(ctx, record.ID)
	require.NoError(t, err)
	require.Equal(t, record.ID, loaded.ID)

	//1.- The stored copy must be independent of the caller's record.
	record.SlotA = "mallory"
	loaded, err = store.FindMatch(ctx, record.ID)
	require.NoError(t, err)
	require.Equal(t, "alice", loaded.SlotA)
}

func TestRevisionGuardRejectsStaleWrites(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()
	record := newStoredRecord(t, "alice", "bob", time.Unix(100, 0))
	record.Revision = 5
	require.NoError(t, store.SaveMatch(ctx, record))

	//1.- A checkpoint carrying an older revision must be rejected.
	stale := record.Clone()
	stale.Revision = 4
	require.ErrorIs(t, store.SaveMatch(ctx, stale), ErrStaleWrite)

	//2.- Replaying the same revision is also a stale write.
	require.ErrorIs(t, store.SaveMatch(ctx, record.Clone()), ErrStaleWrite)

	//3.- A newer revision lands normally.
	fresh := record.Clone()
	fresh.Revision = 6
	require.NoError(t, store.SaveMatch(ctx, fresh))
}

func TestFindMatchesByParticipant(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()

	open := newStoredRecord(t, "alice", "bob", time.Unix(100, 0))
	require.NoError(t, store.SaveMatch(ctx, open))

	done := newStoredRecord(t, "alice", "carol", time.Unix(200, 0))
	done.Phase = match.PhaseFinished
	done.Winner = match.SlotA
	require.NoError(t, store.SaveMatch(ctx, done))

	other := newStoredRecord(t, "dave", "erin", time.Unix(300, 0))
	require.NoError(t, store.SaveMatch(ctx, other))

	all, err := store.FindMatchesByParticipant(ctx, "alice", false)
	require.NoError(t, err)
	require.Len(t, all, 2)
	//1.- Newest first ordering puts the later match ahead.
	require.Equal(t, done.ID, all[0].ID)

	finished, err := store.FindMatchesByParticipant(ctx, "alice", true)
	require.NoError(t, err)
	require.Len(t, finished, 1)
	require.Equal(t, done.ID, finished[0].ID)
}

func TestDeleteMatch(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()
	record := newStoredRecord(t, "alice", "bob", time.Unix(100, 0))
	require.NoError(t, store.SaveMatch(ctx, record))
	require.NoError(t, store.DeleteMatch(ctx, record.ID))
	require.ErrorIs(t, store.DeleteMatch(ctx, record.ID), ErrNotFound)
	_, err := store.FindMatch(ctx, record.ID)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestAggregateRoundTrip(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()

	//1.- Missing aggregates come back as nil without an error, enabling lazy creation.
	missing, err := store.LoadAggregate(ctx, "alice")
	require.NoError(t, err)
	require.Nil(t, missing)

	aggregate := &leaderboard.Aggregate{
		Identity: "alice",
		Wins:     leaderboard.WinLoss{Count: 1, MatchIDs: []string{"m1"}},
	}
	require.NoError(t, store.SaveAggregate(ctx, aggregate))

	loaded, err := store.LoadAggregate(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, 1, loaded.Wins.Count)

	//2.- Mutating the loaded copy must not leak back into the store.
	loaded.Wins.MatchIDs[0] = "tampered"
	reloaded, err := store.LoadAggregate(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, "m1", reloaded.Wins.MatchIDs[0])
}
