// Package registry is the process-wide authority over live matches. It maps
// each match id to its authoritative record and the one tick loop allowed to
// mutate it, owns the lifecycle transitions, and drives broadcast,
// checkpointing, leaderboard updates and replay capture.
package registry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"paddlearena/broker/internal/bots"
	"paddlearena/broker/internal/leaderboard"
	"paddlearena/broker/internal/logging"
	"paddlearena/broker/internal/match"
	"paddlearena/broker/internal/physics"
	"paddlearena/broker/internal/replay"
	"paddlearena/broker/internal/simulation"
	"paddlearena/broker/internal/store"
)

// Broadcaster delivers an encoded event to every connection admitted to the
// match's group. Implementations must not block the caller.
type Broadcaster interface {
	Broadcast(matchID string, payload []byte)
}

// Presence answers whether an identity currently has an admitted connection.
type Presence interface {
	Present(identity string) bool
}

// RecorderFactory opens a replay recorder for a match, or returns nil to
// disable recording.
type RecorderFactory func(matchID string) (*replay.Recorder, error)

type paddleInput struct {
	slot match.Slot
	y    float64
	vy   float64
}

// entry pairs one match record with its loop handle and per-match scratch.
type entry struct {
	mu     sync.Mutex
	record *match.Record
	loop   *simulation.Loop

	inputs chan paddleInput

	tick           uint64
	lastCheckpoint time.Time
	checkpointBusy atomic.Bool
	counting       bool
	finalized      bool
	pendingFinal   *match.Record
	recorder       *replay.Recorder
}

// Registry owns every live match entry.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*entry

	store       store.Store
	boards      *leaderboard.Aggregator
	presence    Presence
	broadcaster Broadcaster
	bot         *bots.Controller
	recorders   RecorderFactory
	log         *logging.Logger
	now         func() time.Time

	tickRate           float64
	countdownFrom      int
	countdownStep      time.Duration
	checkpointInterval time.Duration
	finishAttempts     int
	finishBackoff      time.Duration

	baseCtx    context.Context
	cancelBase context.CancelFunc
}

// Option configures optional registry behaviour at construction time.
type Option func(*Registry)

// WithClock injects a deterministic clock, primarily for tests.
func WithClock(clock func() time.Time) Option {
	return func(r *Registry) {
		if clock != nil {
			r.now = clock
		}
	}
}

// WithTickRate overrides the simulation cadence in steps per second.
func WithTickRate(rate float64) Option {
	return func(r *Registry) {
		if rate > 0 {
			r.tickRate = rate
		}
	}
}

// WithCountdown configures how many counts precede a start and their spacing.
func WithCountdown(from int, step time.Duration) Option {
	return func(r *Registry) {
		if from >= 0 {
			r.countdownFrom = from
		}
		if step > 0 {
			r.countdownStep = step
		}
	}
}

// WithCheckpointInterval bounds how often in-progress state is persisted.
func WithCheckpointInterval(interval time.Duration) Option {
	return func(r *Registry) {
		if interval > 0 {
			r.checkpointInterval = interval
		}
	}
}

// WithFinishRetry tunes how often and how patiently the terminal save retries.
func WithFinishRetry(attempts int, backoff time.Duration) Option {
	return func(r *Registry) {
		if attempts > 0 {
			r.finishAttempts = attempts
		}
		if backoff >= 0 {
			r.finishBackoff = backoff
		}
	}
}

// WithRecorderFactory enables per-match replay capture.
func WithRecorderFactory(factory RecorderFactory) Option {
	return func(r *Registry) {
		r.recorders = factory
	}
}

// WithBotController overrides the computer opponent controller.
func WithBotController(controller *bots.Controller) Option {
	return func(r *Registry) {
		if controller != nil {
			r.bot = controller
		}
	}
}

// New constructs a registry over the given collaborators.
func New(st store.Store, boards *leaderboard.Aggregator, presence Presence, broadcaster Broadcaster, logger *logging.Logger, opts ...Option) *Registry {
	if logger == nil {
		logger = logging.L()
	}
	ctx, cancel := context.WithCancel(context.Background())
	registry := &Registry{
		entries:            make(map[string]*entry),
		store:              st,
		boards:             boards,
		presence:           presence,
		broadcaster:        broadcaster,
		bot:                bots.NewController(),
		log:                logger,
		now:                time.Now,
		tickRate:           60,
		countdownFrom:      3,
		countdownStep:      time.Second,
		checkpointInterval: 5 * time.Second,
		finishAttempts:     3,
		finishBackoff:      100 * time.Millisecond,
		baseCtx:            ctx,
		cancelBase:         cancel,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(registry)
		}
	}
	return registry
}

// Create builds a new waiting match, persists it, and registers it.
func (r *Registry) Create(ctx context.Context, slotA, slotB string) (*match.Record, error) {
	if r == nil {
		return nil, errors.New("registry not configured")
	}
	record, err := match.NewRecord(slotA, slotB, r.now())
	if err != nil {
		return nil, err
	}
	if err := r.store.SaveMatch(ctx, record); err != nil {
		return nil, err
	}
	e := &entry{
		record: record,
		inputs: make(chan paddleInput, 64),
	}
	r.mu.Lock()
	r.entries[record.ID] = e
	r.mu.Unlock()
	r.log.Info("match created",
		logging.String("match_id", record.ID),
		logging.String("slot_a", record.SlotA),
		logging.Bool("computer_opponent", record.ComputerOpponent()))
	return record.Clone(), nil
}

// Lookup returns a copy of a match record, falling back to the store for
// matches that have already been evicted.
func (r *Registry) Lookup(ctx context.Context, id string) (*match.Record, error) {
	if e := r.entry(id); e != nil {
		e.mu.Lock()
		defer e.mu.Unlock()
		return e.record.Clone(), nil
	}
	record, err := r.store.FindMatch(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, match.ErrNotFound
	}
	return record, err
}

// List returns the identity's matches from the store, optionally only the
// finished ones.
func (r *Registry) List(ctx context.Context, identity string, finishedOnly bool) ([]*match.Record, error) {
	if r == nil {
		return nil, errors.New("registry not configured")
	}
	return r.store.FindMatchesByParticipant(ctx, identity, finishedOnly)
}

// Start begins the countdown for a waiting or paused match. Every human
// participant must be present; the countdown then runs asynchronously and
// ends with the tick loop starting.
func (r *Registry) Start(id, identity string) error {
	e := r.entry(id)
	if e == nil {
		return match.ErrNotFound
	}
	e.mu.Lock()
	if _, ok := e.record.SlotOf(identity); !ok {
		e.mu.Unlock()
		return fmt.Errorf("%w: %s is not a participant", match.ErrForbidden, identity)
	}
	if e.counting {
		e.mu.Unlock()
		return fmt.Errorf("%w: countdown already in progress", match.ErrInvalidPhase)
	}
	if err := e.record.BeginCountdown(r.presence.Present, r.now()); err != nil {
		e.mu.Unlock()
		return err
	}
	e.counting = true
	matchID := e.record.ID
	e.mu.Unlock()

	r.log.Info("countdown started", logging.String("match_id", matchID), logging.String("by", identity))
	go r.runCountdown(e, matchID)
	return nil
}

// runCountdown emits the 3-2-1 stream, then flips the match to Running and
// hands it to a fresh tick loop.
func (r *Registry) runCountdown(e *entry, matchID string) {
	for value := r.countdownFrom; value >= 1; value-- {
		r.broadcaster.Broadcast(matchID, countdownEvent(matchID, value))
		select {
		case <-r.baseCtx.Done():
			e.mu.Lock()
			e.counting = false
			e.mu.Unlock()
			return
		case <-time.After(r.countdownStep):
		}
	}

	e.mu.Lock()
	e.counting = false
	if err := e.record.BeginRunning(r.now()); err != nil {
		//1.- The phase moved underneath the countdown; leave the record alone.
		e.mu.Unlock()
		r.log.Warn("countdown abandoned", logging.String("match_id", matchID), logging.Error(err))
		return
	}
	//2.- A participant who vanished during the countdown forces an immediate pause.
	for _, participant := range e.record.Participants() {
		if !r.presence.Present(participant) {
			slot, _ := e.record.SlotOf(participant)
			_ = e.record.Pause(slot, r.now())
			snapshot := e.record.Clone()
			e.mu.Unlock()
			r.broadcaster.Broadcast(matchID, pausedEvent(snapshot))
			r.checkpoint(snapshot)
			return
		}
	}
	r.ensureRecorderLocked(e)
	snapshot := e.record.Clone()
	recorder := e.recorder
	loop := simulation.NewLoop(r.tickRate, func(delta time.Duration) { r.step(e, delta) })
	e.loop = loop
	e.mu.Unlock()

	r.broadcaster.Broadcast(matchID, startedEvent(snapshot))
	if recorder != nil {
		_ = recorder.RecordEvent(eventStarted, startedEvent(snapshot))
	}
	loop.Start(r.baseCtx)
	r.log.Info("match running", logging.String("match_id", matchID))
}

// QueuePaddle validates and queues a paddle input for the next tick.
func (r *Registry) QueuePaddle(id, identity string, slot match.Slot, y, vy float64) error {
	e := r.entry(id)
	if e == nil {
		return match.ErrNotFound
	}
	e.mu.Lock()
	owned, ok := e.record.SlotOf(identity)
	if !ok || owned != slot {
		e.mu.Unlock()
		return fmt.Errorf("%w: %s does not own slot %q", match.ErrForbidden, identity, slot)
	}
	if e.record.Phase != match.PhaseRunning {
		phase := e.record.Phase
		e.mu.Unlock()
		return fmt.Errorf("%w: expected %s, have %s", match.ErrInvalidPhase, match.PhaseRunning, phase)
	}
	e.mu.Unlock()
	//1.- Shed inputs rather than block when the queue is saturated.
	select {
	case e.inputs <- paddleInput{slot: slot, y: y, vy: vy}:
	default:
	}
	return nil
}

// Pause stops the tick loop and transitions the match to Paused.
func (r *Registry) Pause(id, identity string) error {
	e := r.entry(id)
	if e == nil {
		return match.ErrNotFound
	}
	e.mu.Lock()
	slot, ok := e.record.SlotOf(identity)
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s is not a participant", match.ErrForbidden, identity)
	}
	return r.pauseEntry(e, slot)
}

// PauseForIdentity pauses every running match the identity participates in;
// invoked by the presence tracker when a connection drops.
func (r *Registry) PauseForIdentity(identity string) {
	if r == nil || strings.TrimSpace(identity) == "" {
		return
	}
	r.mu.Lock()
	candidates := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		candidates = append(candidates, e)
	}
	r.mu.Unlock()
	for _, e := range candidates {
		e.mu.Lock()
		slot, ok := e.record.SlotOf(identity)
		running := e.record.Phase == match.PhaseRunning
		e.mu.Unlock()
		if !ok || !running {
			continue
		}
		if err := r.pauseEntry(e, slot); err != nil && !errors.Is(err, match.ErrInvalidPhase) {
			r.log.Warn("auto-pause failed", logging.String("identity", identity), logging.Error(err))
		}
	}
}

func (r *Registry) pauseEntry(e *entry, by match.Slot) error {
	//1.- Stop the loop first so no tick can race the transition. Cancellation
	// is idempotent and returns only once the loop goroutine has exited.
	e.stopLoop()
	e.mu.Lock()
	if err := e.record.Pause(by, r.now()); err != nil {
		e.mu.Unlock()
		return err
	}
	snapshot := e.record.Clone()
	recorder := e.recorder
	e.mu.Unlock()

	r.broadcaster.Broadcast(snapshot.ID, pausedEvent(snapshot))
	if recorder != nil {
		_ = recorder.RecordEvent(eventPaused, pausedEvent(snapshot))
	}
	r.checkpoint(snapshot)
	r.log.Info("match paused",
		logging.String("match_id", snapshot.ID),
		logging.String("paused_by", string(snapshot.PausedBy)))
	return nil
}

// Remove stops any live loop, evicts the match, and deletes the persisted
// record permanently.
func (r *Registry) Remove(ctx context.Context, id, identity string) error {
	record, err := r.Lookup(ctx, id)
	if err != nil {
		return err
	}
	if _, ok := record.SlotOf(identity); !ok {
		return fmt.Errorf("%w: %s is not a participant", match.ErrForbidden, identity)
	}
	if e := r.entry(id); e != nil {
		e.stopLoop()
		e.mu.Lock()
		recorder := e.recorder
		e.recorder = nil
		e.mu.Unlock()
		if recorder != nil {
			_ = recorder.Close()
		}
		r.mu.Lock()
		delete(r.entries, id)
		r.mu.Unlock()
	}
	if err := r.store.DeleteMatch(ctx, id); err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}
	r.broadcaster.Broadcast(id, removedEvent(id))
	r.log.Info("match removed", logging.String("match_id", id), logging.String("by", identity))
	return nil
}

// step runs one tick: inputs, paddles, physics, scoring, broadcast, then an
// interval-coalesced checkpoint. All record mutation happens here or behind
// the same entry lock.
func (r *Registry) step(e *entry, delta time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.record.Phase != match.PhaseRunning || e.finalized {
		return
	}
	now := r.now()
	dt := delta.Seconds()

	//1.- Apply every queued paddle input before physics advances.
	for {
		var applied bool
		select {
		case input := <-e.inputs:
			applied = true
			if err := e.record.ApplyPaddleInput(input.slot, input.y, input.vy, now); err != nil {
				r.log.Debug("paddle input dropped", logging.Error(err))
			}
		default:
		}
		if !applied {
			break
		}
	}

	//2.- Integrate paddles; the computer slot gets its velocity from the bot.
	physics.IntegratePaddle(&e.record.PaddleA, dt)
	if e.record.ComputerOpponent() {
		e.record.PaddleB.VY = r.bot.Steer(e.record.Ball, e.record.PaddleB)
	}
	physics.IntegratePaddle(&e.record.PaddleB, dt)

	//3.- Advance the ball and resolve collisions and scoring.
	result := physics.Step(&e.record.Ball, &e.record.PaddleA, &e.record.PaddleB, dt)
	e.tick++
	e.record.Advance(now)

	//4.- Scoring takes precedence over broadcast and any pending checkpoint.
	if result.Outcome != physics.NoScore {
		winner := match.SlotA
		if result.Outcome == physics.ScoreB {
			winner = match.SlotB
		}
		r.finishLocked(e, winner, now)
		return
	}

	snapshot := e.record.Clone()
	r.broadcaster.Broadcast(snapshot.ID, updatedEvent(snapshot))
	if e.recorder != nil {
		_ = e.recorder.RecordTick(e.tick, updatedEvent(snapshot))
	}

	//5.- Checkpoint at most once per interval, never blocking the next tick.
	if now.Sub(e.lastCheckpoint) >= r.checkpointInterval && e.checkpointBusy.CompareAndSwap(false, true) {
		e.lastCheckpoint = now
		go func() {
			defer e.checkpointBusy.Store(false)
			r.checkpoint(snapshot)
		}()
	}
}

// finishLocked performs the terminal transition; e.mu is held by the caller.
func (r *Registry) finishLocked(e *entry, winner match.Slot, now time.Time) {
	if e.finalized {
		return
	}
	e.finalized = true
	if err := e.record.Finish(winner, now); err != nil {
		r.log.Error("finish transition failed", logging.String("match_id", e.record.ID), logging.Error(err))
		return
	}
	final := e.record.Clone()
	r.log.Info("match finished",
		logging.String("match_id", final.ID),
		logging.String("winner", string(final.Winner)))
	//1.- Completion work happens off the tick goroutine: the loop must be
	// stopped and the terminal save retried without stalling other matches.
	go r.completeMatch(e, final)
}

// completeMatch runs the terminal sequence off the tick goroutine: stop the
// loop, land the terminal save, update the leaderboard exactly once, then
// broadcast the outcome and evict the match from the registry.
func (r *Registry) completeMatch(e *entry, final *match.Record) {
	e.stopLoop()

	saved := false
	for attempt := 1; attempt <= r.finishAttempts; attempt++ {
		err := r.store.SaveMatch(r.baseCtx, final)
		if err == nil || errors.Is(err, store.ErrStaleWrite) {
			saved = true
			break
		}
		r.log.Warn("terminal save failed",
			logging.String("match_id", final.ID),
			logging.Int("attempt", attempt),
			logging.Error(err))
		time.Sleep(r.finishBackoff)
	}

	winner := final.Identity(final.Winner)
	loser := final.Identity(otherSlot(final.Winner))
	if err := r.boards.RecordResult(r.baseCtx, final.ID, winner, loser); err != nil {
		r.log.Error("leaderboard update failed", logging.String("match_id", final.ID), logging.Error(err))
	}

	//1.- Clients learn the outcome only after it is durable; the revision
	// guard makes the save-then-broadcast order observable.
	r.broadcaster.Broadcast(final.ID, finishedEvent(final))
	e.mu.Lock()
	recorder := e.recorder
	e.recorder = nil
	e.mu.Unlock()
	if recorder != nil {
		_ = recorder.RecordEvent(eventFinished, finishedEvent(final))
		_ = recorder.Close()
	}

	if !saved {
		//2.- Keep the entry registered so the eviction sweep can retry the save;
		// evicting now would lose the outcome permanently.
		e.mu.Lock()
		e.pendingFinal = final
		e.mu.Unlock()
		return
	}
	r.mu.Lock()
	delete(r.entries, final.ID)
	r.mu.Unlock()
}

// RetryEvictions re-attempts terminal saves that failed after a finish and
// evicts each match once its outcome is durable. Scheduled periodically.
func (r *Registry) RetryEvictions(ctx context.Context) {
	if r == nil {
		return
	}
	r.mu.Lock()
	pending := make([]*entry, 0)
	for _, e := range r.entries {
		e.mu.Lock()
		if e.pendingFinal != nil {
			pending = append(pending, e)
		}
		e.mu.Unlock()
	}
	r.mu.Unlock()

	for _, e := range pending {
		e.mu.Lock()
		final := e.pendingFinal
		e.mu.Unlock()
		err := r.store.SaveMatch(ctx, final)
		if err != nil && !errors.Is(err, store.ErrStaleWrite) {
			r.log.Warn("terminal save retry failed", logging.String("match_id", final.ID), logging.Error(err))
			continue
		}
		r.mu.Lock()
		delete(r.entries, final.ID)
		r.mu.Unlock()
		r.log.Info("deferred eviction completed", logging.String("match_id", final.ID))
	}
}

// Close stops every loop and releases registry resources.
func (r *Registry) Close() {
	if r == nil {
		return
	}
	r.cancelBase()
	r.mu.Lock()
	entries := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		entries = append(entries, e)
	}
	r.mu.Unlock()
	for _, e := range entries {
		e.stopLoop()
		e.mu.Lock()
		recorder := e.recorder
		e.recorder = nil
		e.mu.Unlock()
		if recorder != nil {
			_ = recorder.Close()
		}
	}
}

// checkpoint persists a snapshot, logging failures; the next interval or the
// terminal path will retry.
func (r *Registry) checkpoint(snapshot *match.Record) {
	if snapshot == nil {
		return
	}
	err := r.store.SaveMatch(r.baseCtx, snapshot)
	if err == nil || errors.Is(err, store.ErrStaleWrite) {
		return
	}
	r.log.Warn("checkpoint failed", logging.String("match_id", snapshot.ID), logging.Error(err))
}

func (r *Registry) ensureRecorderLocked(e *entry) {
	if e.recorder != nil || r.recorders == nil {
		return
	}
	recorder, err := r.recorders(e.record.ID)
	if err != nil {
		r.log.Warn("replay recorder unavailable", logging.String("match_id", e.record.ID), logging.Error(err))
		return
	}
	e.recorder = recorder
}

func (r *Registry) entry(id string) *entry {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.entries[id]
}

// stopLoop cancels the entry's loop if one is active; safe to call when no
// loop exists and safe to call repeatedly.
func (e *entry) stopLoop() {
	e.mu.Lock()
	loop := e.loop
	e.loop = nil
	e.mu.Unlock()
	if loop != nil {
		loop.Stop()
	}
}

func otherSlot(slot match.Slot) match.Slot {
	if slot == match.SlotA {
		return match.SlotB
	}
	return match.SlotA
}
