package synth

import (
	"context"
	"time"
)

// Gate bounds concurrent synthesis sessions. The underlying model runtime
// tolerates only a small number of simultaneous inferences, so excess
// requests wait briefly for a slot and are then rejected rather than queued
// indefinitely.
type Gate struct {
	slots chan struct{}
	wait  time.Duration
}

func NewGate(maxConcurrent int, wait time.Duration) *Gate {
	return &Gate{
		slots: make(chan struct{}, maxConcurrent),
		wait:  wait,
	}
}

// Acquire claims a slot, waiting at most the configured bound. Returns
// ErrServerBusy when the wait expires and ctx.Err() when the caller gives up
// first.
func (g *Gate) Acquire(ctx context.Context) error {
	select {
	case g.slots <- struct{}{}:
		return nil
	default:
	}
	if g.wait <= 0 {
		return ErrServerBusy
	}
	timer := time.NewTimer(g.wait)
	defer timer.Stop()
	select {
	case g.slots <- struct{}{}:
		return nil
	case <-timer.C:
		return ErrServerBusy
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (g *Gate) Release() {
	select {
	case <-g.slots:
	default:
	}
}

// InUse reports currently held slots.
func (g *Gate) InUse() int { return len(g.slots) }
