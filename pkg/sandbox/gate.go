package sandbox

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// DefaultMinInterval is the minimum spacing between outbound sandbox requests.
const DefaultMinInterval = 300 * time.Millisecond

// gateSlack is added to the interval measured from the previous release so
// scheduling delays between release and the outbound call cannot shrink the gap.
const gateSlack = 5 * time.Millisecond

// RateGate throttles outbound sandbox requests. One instance is shared by every
// client in the process because the sandbox enforces an aggregate ceiling.
type RateGate interface {
	Wait(ctx context.Context) error
}

type limiterGate struct {
	limiter  *rate.Limiter
	interval time.Duration
	// turn admits one waiter at a time and guards last.
	turn chan struct{}
	last time.Time
}

// NewRateGate returns a gate that admits one request per interval with no
// bursting. Consecutive releases are never closer than interval.
func NewRateGate(interval time.Duration) RateGate {
	if interval <= 0 {
		interval = DefaultMinInterval
	}
	return &limiterGate{
		limiter:  rate.NewLimiter(rate.Every(interval), 1),
		interval: interval,
		turn:     make(chan struct{}, 1),
	}
}

func (g *limiterGate) Wait(ctx context.Context) error {
	select {
	case g.turn <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-g.turn }()

	if err := g.limiter.Wait(ctx); err != nil {
		return err
	}

	// The limiter spaces reservations, not releases; enforce the floor from
	// the moment the previous waiter actually left.
	if !g.last.IsZero() {
		if remaining := g.last.Add(g.interval + gateSlack).Sub(time.Now()); remaining > 0 {
			if err := sleepContext(ctx, remaining); err != nil {
				return err
			}
		}
	}
	g.last = time.Now()
	return nil
}

// NopGate never blocks. Intended for tests.
type NopGate struct{}

// Wait implements RateGate.
func (NopGate) Wait(ctx context.Context) error {
	return ctx.Err()
}
