package simulation

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestLoopDeliversMeasuredDeltas(t *testing.T) {
	var ticks atomic.Int64
	var total atomic.Int64
	loop := NewLoop(200, func(delta time.Duration) {
		ticks.Add(1)
		total.Add(int64(delta))
	})
	//1.- Run the loop briefly and confirm steps arrived with positive deltas.
	loop.Start(context.Background())
	deadline := time.Now().Add(2 * time.Second)
	for ticks.Load() < 5 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	loop.Stop()
	if ticks.Load() < 5 {
		t.Fatalf("expected at least 5 ticks, got %d", ticks.Load())
	}
	if total.Load() <= 0 {
		t.Fatal("expected the accumulated delta time to be positive")
	}
}

func TestStopIsIdempotentAndFinal(t *testing.T) {
	var ticks atomic.Int64
	loop := NewLoop(500, func(time.Duration) { ticks.Add(1) })
	loop.Start(context.Background())
	deadline := time.Now().Add(2 * time.Second)
	for ticks.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	//1.- Stop twice; the second call must return without blocking.
	loop.Stop()
	loop.Stop()
	//2.- No further steps may run after Stop returns.
	observed := ticks.Load()
	time.Sleep(20 * time.Millisecond)
	if ticks.Load() != observed {
		t.Fatalf("expected no ticks after Stop, got %d extra", ticks.Load()-observed)
	}
}

func TestStopWithoutStartIsSafe(t *testing.T) {
	loop := NewLoop(60, func(time.Duration) {})
	//1.- Stopping an idle loop must be a harmless no-op.
	loop.Stop()
}

func TestIntervalDerivesFromRate(t *testing.T) {
	loop := NewLoop(60, func(time.Duration) {})
	if loop.Interval() != time.Second/60 {
		t.Fatalf("expected a 60Hz interval, got %v", loop.Interval())
	}
	fallback := NewLoop(0, nil)
	if fallback.Interval() != time.Second/60 {
		t.Fatalf("expected the fallback interval, got %v", fallback.Interval())
	}
}
