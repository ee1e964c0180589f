package match

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"paddlearena/broker/internal/physics"
)

// Phase enumerates the lifecycle states of a match.
type Phase string

const (
	PhaseWaiting   Phase = "waiting"
	PhaseCountdown Phase = "countdown"
	PhaseRunning   Phase = "running"
	PhasePaused    Phase = "paused"
	PhaseFinished  Phase = "finished"
)

// Valid reports whether the phase is one of the recognised lifecycle states.
func (p Phase) Valid() bool {
	switch p {
	case PhaseWaiting, PhaseCountdown, PhaseRunning, PhasePaused, PhaseFinished:
		return true
	default:
		return false
	}
}

// Slot names one of the two competing positions.
type Slot string

const (
	// SlotA is always occupied by a human identity.
	SlotA Slot = "a"
	// SlotB is a human identity or computer controlled when unoccupied.
	SlotB Slot = "b"
)

// Record is the authoritative, server-owned state of one match. All mutation
// happens on the goroutine that owns the match; callers outside it only ever
// see copies produced by Clone.
type Record struct {
	ID        string          `json:"id"`
	SlotA     string          `json:"slot_a"`
	SlotB     string          `json:"slot_b,omitempty"`
	PaddleA   physics.Paddle  `json:"paddle_a"`
	PaddleB   physics.Paddle  `json:"paddle_b"`
	Ball      physics.Ball    `json:"ball"`
	Phase     Phase           `json:"phase"`
	PausedBy  Slot            `json:"paused_by,omitempty"`
	Winner    Slot            `json:"winner,omitempty"`
	Revision  int64           `json:"revision"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// NewRecord builds a waiting match for the given participants. An empty slotB
// identity means the second paddle is computer controlled.
func NewRecord(slotA, slotB string, now time.Time) (*Record, error) {
	slotA = strings.TrimSpace(slotA)
	if slotA == "" {
		return nil, fmt.Errorf("slot A identity must not be empty")
	}
	slotB = strings.TrimSpace(slotB)
	if slotA == slotB {
		return nil, fmt.Errorf("a match needs two distinct participants")
	}
	//1.- Seed both paddles and the ball at their serve positions.
	return &Record{
		ID:        uuid.NewString(),
		SlotA:     slotA,
		SlotB:     slotB,
		PaddleA:   physics.NewPaddleA(),
		PaddleB:   physics.NewPaddleB(),
		Ball:      physics.NewBall(),
		Phase:     PhaseWaiting,
		Revision:  1,
		CreatedAt: now.UTC(),
		UpdatedAt: now.UTC(),
	}, nil
}

// ComputerOpponent reports whether slot B has no human occupant.
func (r *Record) ComputerOpponent() bool {
	return r != nil && strings.TrimSpace(r.SlotB) == ""
}

// SlotOf resolves which slot an identity occupies.
func (r *Record) SlotOf(identity string) (Slot, bool) {
	if r == nil || strings.TrimSpace(identity) == "" {
		return "", false
	}
	switch identity {
	case r.SlotA:
		return SlotA, true
	case r.SlotB:
		return SlotB, true
	default:
		return "", false
	}
}

// Identity returns the identity occupying a slot, empty for the computer.
func (r *Record) Identity(slot Slot) string {
	if r == nil {
		return ""
	}
	switch slot {
	case SlotA:
		return r.SlotA
	case SlotB:
		return r.SlotB
	default:
		return ""
	}
}

// Participants lists the human identities in the match.
func (r *Record) Participants() []string {
	if r == nil {
		return nil
	}
	identities := []string{r.SlotA}
	if !r.ComputerOpponent() {
		identities = append(identities, r.SlotB)
	}
	return identities
}

// Clone produces an independent copy safe to hand to other goroutines.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	clone := *r
	return &clone
}

// touch stamps a mutation batch with a fresh revision and update time.
func (r *Record) touch(now time.Time) {
	r.Revision++
	r.UpdatedAt = now.UTC()
}

// BeginCountdown transitions Waiting or Paused into Countdown. The caller
// supplies a presence probe so the guard can demand every human participant.
func (r *Record) BeginCountdown(present func(identity string) bool, now time.Time) error {
	if r == nil {
		return ErrNotFound
	}
	//1.- Guard the source phase before anything is mutated.
	if r.Phase != PhaseWaiting && r.Phase != PhasePaused {
		return fmt.Errorf("%w: expected %s or %s, have %s", ErrInvalidPhase, PhaseWaiting, PhasePaused, r.Phase)
	}
	//2.- Demand an admitted connection for every human slot; the computer never blocks.
	for _, identity := range r.Participants() {
		if present == nil || !present(identity) {
			return fmt.Errorf("%w: %s has no active connection", ErrPreconditionFailed, identity)
		}
	}
	r.Phase = PhaseCountdown
	r.PausedBy = ""
	r.touch(now)
	return nil
}

// BeginRunning transitions Countdown into Running and serves the ball.
func (r *Record) BeginRunning(now time.Time) error {
	if r == nil {
		return ErrNotFound
	}
	if r.Phase != PhaseCountdown {
		return fmt.Errorf("%w: expected %s, have %s", ErrInvalidPhase, PhaseCountdown, r.Phase)
	}
	//1.- Serve only when the ball is at rest; a resumed rally keeps its state.
	if r.Ball.Speed == 0 {
		physics.Serve(&r.Ball, false)
	}
	r.Phase = PhaseRunning
	r.touch(now)
	return nil
}

// Pause transitions Running into Paused, recording which slot caused it.
func (r *Record) Pause(by Slot, now time.Time) error {
	if r == nil {
		return ErrNotFound
	}
	if r.Phase != PhaseRunning {
		return fmt.Errorf("%w: expected %s, have %s", ErrInvalidPhase, PhaseRunning, r.Phase)
	}
	r.Phase = PhasePaused
	r.PausedBy = by
	r.touch(now)
	return nil
}

// Finish transitions Running into the terminal Finished phase.
func (r *Record) Finish(winner Slot, now time.Time) error {
	if r == nil {
		return ErrNotFound
	}
	if r.Phase != PhaseRunning {
		return fmt.Errorf("%w: expected %s, have %s", ErrInvalidPhase, PhaseRunning, r.Phase)
	}
	r.Phase = PhaseFinished
	r.Winner = winner
	r.PausedBy = ""
	r.touch(now)
	return nil
}

// Advance stamps one completed tick's worth of physics mutation. The tick
// loop calls it once per step so checkpoints always carry a fresh revision.
func (r *Record) Advance(now time.Time) {
	if r == nil {
		return
	}
	r.touch(now)
}

// ApplyPaddleInput moves the named slot's paddle to the requested position and
// velocity. Only legal while Running; the server clamps whatever arrives.
func (r *Record) ApplyPaddleInput(slot Slot, y, vy float64, now time.Time) error {
	if r == nil {
		return ErrNotFound
	}
	if r.Phase != PhaseRunning {
		return fmt.Errorf("%w: expected %s, have %s", ErrInvalidPhase, PhaseRunning, r.Phase)
	}
	var paddle *physics.Paddle
	switch slot {
	case SlotA:
		paddle = &r.PaddleA
	case SlotB:
		paddle = &r.PaddleB
	default:
		return fmt.Errorf("%w: unknown slot %q", ErrForbidden, slot)
	}
	//1.- Clamp the client supplied values so the paddle obeys field physics.
	paddle.Y = physics.ClampPaddleY(y)
	paddle.VY = physics.Clamp(vy, -physics.MaxPaddleSpeed, physics.MaxPaddleSpeed)
	r.touch(now)
	return nil
}
