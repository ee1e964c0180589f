// Package leaderboard maintains per-identity win/loss aggregates across
// finished matches. Updates are idempotent per match id so a duplicated
// finish signal can never double-count a result.
package leaderboard

import (
	"context"
	"errors"
	"strings"
	"sync"

	"paddlearena/broker/internal/logging"
)

// WinLoss counts results and remembers which matches contributed them.
type WinLoss struct {
	Count    int      `json:"count"`
	MatchIDs []string `json:"match_ids"`
}

// Aggregate is the cumulative record for one identity.
type Aggregate struct {
	Identity string  `json:"identity"`
	Wins     WinLoss `json:"wins"`
	Losses   WinLoss `json:"losses"`
}

// Clone produces an independent copy of the aggregate.
func (a *Aggregate) Clone() *Aggregate {
	if a == nil {
		return nil
	}
	clone := *a
	clone.Wins.MatchIDs = append([]string(nil), a.Wins.MatchIDs...)
	clone.Losses.MatchIDs = append([]string(nil), a.Losses.MatchIDs...)
	return &clone
}

// Gateway is the narrow persistence contract the aggregator needs. A missing
// aggregate is reported as (nil, nil) so creation can stay lazy.
type Gateway interface {
	LoadAggregate(ctx context.Context, identity string) (*Aggregate, error)
	SaveAggregate(ctx context.Context, aggregate *Aggregate) error
}

// Aggregator applies finished-match results to the persisted aggregates.
type Aggregator struct {
	mu       sync.Mutex
	gateway  Gateway
	log      *logging.Logger
	recorded map[string]struct{}
}

// NewAggregator constructs an aggregator over the provided gateway.
func NewAggregator(gateway Gateway, logger *logging.Logger) *Aggregator {
	if logger == nil {
		logger = logging.L()
	}
	return &Aggregator{
		gateway:  gateway,
		log:      logger,
		recorded: make(map[string]struct{}),
	}
}

// RecordResult credits the winner and, when the loser is a human identity,
// debits the loser, exactly once per match id. An empty loser identity means
// the opposing slot was computer controlled and no aggregate is touched for it.
func (a *Aggregator) RecordResult(ctx context.Context, matchID, winner, loser string) error {
	if a == nil || a.gateway == nil {
		return errors.New("aggregator not configured")
	}
	matchID = strings.TrimSpace(matchID)
	winner = strings.TrimSpace(winner)
	if matchID == "" || winner == "" {
		return errors.New("match id and winner identity are required")
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	//1.- Drop duplicate finish signals so each match contributes at most once.
	if _, seen := a.recorded[matchID]; seen {
		a.log.Debug("duplicate finish ignored", logging.String("match_id", matchID))
		return nil
	}

	//2.- Credit the winner, creating the aggregate lazily on first completion.
	if err := a.apply(ctx, winner, matchID, true); err != nil {
		return err
	}
	//3.- Debit the loser only when a human occupied the opposing slot.
	if loser = strings.TrimSpace(loser); loser != "" {
		if err := a.apply(ctx, loser, matchID, false); err != nil {
			return err
		}
	}
	a.recorded[matchID] = struct{}{}
	a.log.Info("leaderboard updated",
		logging.String("match_id", matchID),
		logging.String("winner", winner),
		logging.Bool("human_loser", loser != ""))
	return nil
}

func (a *Aggregator) apply(ctx context.Context, identity, matchID string, won bool) error {
	aggregate, err := a.gateway.LoadAggregate(ctx, identity)
	if err != nil {
		return err
	}
	if aggregate == nil {
		aggregate = &Aggregate{Identity: identity}
	}
	//1.- Guard against replays that slipped past the in-memory latch, e.g. after restart.
	bucket := &aggregate.Wins
	if !won {
		bucket = &aggregate.Losses
	}
	for _, existing := range bucket.MatchIDs {
		if existing == matchID {
			return nil
		}
	}
	bucket.Count++
	bucket.MatchIDs = append(bucket.MatchIDs, matchID)
	return a.gateway.SaveAggregate(ctx, aggregate)
}
