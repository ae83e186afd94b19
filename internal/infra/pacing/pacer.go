package pacing

// Periodic pacing: "after every Nth tick, wait D". Not a token bucket; the point is a
// predictable, deterministic request rate against public endpoints.

import (
	"context"
	"time"
)

// Clock is the only thing a Pacer needs from time; tests swap in a fake.
type Clock interface {
	Sleep(ctx context.Context, d time.Duration) error
}

type realClock struct{}

// RealClock sleeps on a timer and returns early with ctx.Err() on cancellation.
var RealClock Clock = realClock{}

func (realClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Pacer counts ticks for its whole lifetime. It is not safe for concurrent use; each
// owner drives it from a single sequential loop.
type Pacer struct {
	every int
	delay time.Duration
	clock Clock
	count uint64

	// OnPause, when set, is called right before each delay.
	OnPause func(tick uint64, d time.Duration)
}

// New returns a pacer that waits delay on every tick that is a multiple of every.
// every <= 0 or delay <= 0 disables waiting (ticks are still counted).
func New(every int, delay time.Duration, clock Clock) *Pacer {
	if clock == nil {
		clock = RealClock
	}
	return &Pacer{every: every, delay: delay, clock: clock}
}

// Tick advances the counter and waits if the new count is a multiple of every.
// It reports whether it paused.
func (p *Pacer) Tick(ctx context.Context) (bool, error) {
	p.count++
	if p.every <= 0 || p.delay <= 0 || p.count%uint64(p.every) != 0 {
		return false, ctx.Err()
	}
	if p.OnPause != nil {
		p.OnPause(p.count, p.delay)
	}
	return true, p.clock.Sleep(ctx, p.delay)
}
