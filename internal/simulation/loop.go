package simulation

import (
	"context"
	"sync"
	"time"
)

// StepFunc advances the simulation by the wall-clock time elapsed since the
// previous tick and may emit side effects.
type StepFunc func(delta time.Duration)

// Loop drives a fixed-cadence simulation at the configured target frequency.
// Each tick reports the measured elapsed time so physics stays correct under
// scheduling jitter.
type Loop struct {
	mu       sync.Mutex
	interval time.Duration
	stepFunc StepFunc
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewLoop configures a loop that targets the provided ticks per second.
func NewLoop(targetHz float64, step StepFunc) *Loop {
	if targetHz <= 0 {
		targetHz = 60
	}
	if step == nil {
		step = func(time.Duration) {}
	}
	interval := time.Duration(float64(time.Second) / targetHz)
	if interval <= 0 {
		interval = time.Second / 60
	}
	return &Loop{
		interval: interval,
		stepFunc: step,
	}
}

// Start begins ticking until the context is cancelled or Stop is invoked.
// Starting an already running loop is a no-op.
func (l *Loop) Start(ctx context.Context) {
	if l == nil || l.stepFunc == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cancel != nil {
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	l.cancel = cancel
	l.done = done

	go func() {
		defer close(done)
		ticker := time.NewTicker(l.interval)
		defer ticker.Stop()
		last := time.Now()
		for {
			select {
			case <-runCtx.Done():
				return
			case now := <-ticker.C:
				//1.- Feed the measured elapsed time so a delayed tick integrates further.
				delta := now.Sub(last)
				last = now
				if delta <= 0 {
					continue
				}
				l.stepFunc(delta)
			}
		}
	}()
}

// Stop cancels the loop and waits for the goroutine to exit. It is safe to
// call on a loop that never started and safe to call repeatedly; once it
// returns, no further steps will run.
func (l *Loop) Stop() {
	if l == nil {
		return
	}
	l.mu.Lock()
	cancel := l.cancel
	done := l.done
	l.cancel = nil
	l.done = nil
	l.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Interval exposes the configured tick interval for observability and tests.
func (l *Loop) Interval() time.Duration {
	if l == nil {
		return 0
	}
	return l.interval
}
