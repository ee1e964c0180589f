package match

import (
	"errors"
	"testing"
	"time"
)

func alwaysPresent(string) bool { return true }

func neverPresent(string) bool { return false }

func newTestRecord(t *testing.T, slotB string) *Record {
	t.Helper()
	record, err := NewRecord("alice", slotB, time.Unix(100, 0))
	if err != nil {
		t.Fatalf("unexpected error building record: %v", err)
	}
	return record
}

func TestNewRecordRejectsEmptySlotA(t *testing.T) {
	if _, err := NewRecord("  ", "bob", time.Now()); err == nil {
		t.Fatal("expected an error for an empty slot A identity")
	}
	if _, err := NewRecord("alice", "alice", time.Now()); err == nil {
		t.Fatal("expected an error for duplicate participants")
	}
}

func TestLifecycleHappyPath(t *testing.T) {
	record := newTestRecord(t, "bob")
	now := time.Unix(200, 0)
	//1.- Walk Waiting -> Countdown -> Running -> Paused -> Countdown -> Running -> Finished.
	if err := record.BeginCountdown(alwaysPresent, now); err != nil {
		t.Fatalf("countdown: %v", err)
	}
	if err := record.BeginRunning(now); err != nil {
		t.Fatalf("run: %v", err)
	}
	if record.Ball.Speed == 0 {
		t.Fatal("expected the ball to be served on the first run")
	}
	if err := record.Pause(SlotB, now); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if record.PausedBy != SlotB {
		t.Fatalf("expected paused_by to record slot B, got %q", record.PausedBy)
	}
	if err := record.BeginCountdown(alwaysPresent, now); err != nil {
		t.Fatalf("resume countdown: %v", err)
	}
	if record.PausedBy != "" {
		t.Fatal("expected paused_by cleared on resume")
	}
	if err := record.BeginRunning(now); err != nil {
		t.Fatalf("resume run: %v", err)
	}
	if err := record.Finish(SlotA, now); err != nil {
		t.Fatalf("finish: %v", err)
	}
	//2.- Terminal invariants: winner set iff finished, no further transitions.
	if record.Winner != SlotA || record.Phase != PhaseFinished {
		t.Fatalf("expected finished with winner A, got phase=%s winner=%q", record.Phase, record.Winner)
	}
	if err := record.BeginCountdown(alwaysPresent, now); !errors.Is(err, ErrInvalidPhase) {
		t.Fatalf("expected ErrInvalidPhase from a finished match, got %v", err)
	}
}

func TestGuardsDoNotMutate(t *testing.T) {
	record := newTestRecord(t, "bob")
	before := *record
	//1.- A start without presence must fail and leave every field untouched.
	err := record.BeginCountdown(neverPresent, time.Unix(300, 0))
	if !errors.Is(err, ErrPreconditionFailed) {
		t.Fatalf("expected ErrPreconditionFailed, got %v", err)
	}
	if *record != before {
		t.Fatal("guard failure mutated the record")
	}
	//2.- Paddle input outside Running is rejected without mutation.
	err = record.ApplyPaddleInput(SlotA, 10, 10, time.Unix(300, 0))
	if !errors.Is(err, ErrInvalidPhase) {
		t.Fatalf("expected ErrInvalidPhase, got %v", err)
	}
	if *record != before {
		t.Fatal("rejected paddle input mutated the record")
	}
}

func TestComputerOpponentNeverBlocksStart(t *testing.T) {
	record := newTestRecord(t, "")
	if !record.ComputerOpponent() {
		t.Fatal("expected an empty slot B to mean a computer opponent")
	}
	//1.- Presence is demanded only for slot A, so this probe sees one identity.
	probed := 0
	err := record.BeginCountdown(func(identity string) bool {
		probed++
		return identity == "alice"
	}, time.Unix(400, 0))
	if err != nil {
		t.Fatalf("unexpected error starting against the computer: %v", err)
	}
	if probed != 1 {
		t.Fatalf("expected a single presence probe, got %d", probed)
	}
}

func TestApplyPaddleInputClampsValues(t *testing.T) {
	record := newTestRecord(t, "bob")
	now := time.Unix(500, 0)
	if err := record.BeginCountdown(alwaysPresent, now); err != nil {
		t.Fatalf("countdown: %v", err)
	}
	if err := record.BeginRunning(now); err != nil {
		t.Fatalf("run: %v", err)
	}
	if err := record.ApplyPaddleInput(SlotA, 10_000, -10_000, now); err != nil {
		t.Fatalf("paddle input: %v", err)
	}
	if record.PaddleA.Y > 150 || record.PaddleA.VY < -200 {
		t.Fatalf("expected clamped paddle values, got y=%v vy=%v", record.PaddleA.Y, record.PaddleA.VY)
	}
}

func TestRevisionIncreasesOnEveryMutation(t *testing.T) {
	record := newTestRecord(t, "bob")
	start := record.Revision
	now := time.Unix(600, 0)
	_ = record.BeginCountdown(alwaysPresent, now)
	_ = record.BeginRunning(now)
	_ = record.Pause(SlotA, now)
	if record.Revision != start+3 {
		t.Fatalf("expected three revision bumps, got %d -> %d", start, record.Revision)
	}
}

func TestSlotResolution(t *testing.T) {
	record := newTestRecord(t, "bob")
	if slot, ok := record.SlotOf("alice"); !ok || slot != SlotA {
		t.Fatalf("expected alice in slot A, got %q ok=%v", slot, ok)
	}
	if slot, ok := record.SlotOf("bob"); !ok || slot != SlotB {
		t.Fatalf("expected bob in slot B, got %q ok=%v", slot, ok)
	}
	if _, ok := record.SlotOf("mallory"); ok {
		t.Fatal("expected unknown identities to resolve to no slot")
	}
}
