// Package stick provides a wakeable deadline ticker for driving
// timeout-based work in a background goroutine.
package stick

import (
	"context"
	"time"
)

// TickFunc performs any due work and returns the next deadline.
// The bool is false when no deadline is currently set.
type TickFunc func() (time.Time, bool)

// Ticker repeatedly invokes a TickFunc, sleeping until the returned
// deadline or until woken early because the deadline changed.
type Ticker struct {
	wake chan struct{}
}

func NewTicker() *Ticker {
	return &Ticker{
		wake: make(chan struct{}, 1),
	}
}

// Wake causes the running loop to re-invoke its TickFunc immediately,
// picking up any deadline change. Safe to call from any goroutine;
// never blocks.
func (t *Ticker) Wake() {
	select {
	case t.wake <- struct{}{}:
	default:
	}
}

// Run drives tick until ctx is cancelled. When tick reports no
// deadline, the loop sleeps until the next Wake.
func (t *Ticker) Run(ctx context.Context, tick TickFunc) {
	timer := time.NewTimer(time.Hour)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		deadline, ok := tick()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-t.wake:
			}
			continue
		}

		timer.Reset(max(time.Until(deadline), 0))

		select {
		case <-ctx.Done():
			return
		case <-t.wake:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
		case <-timer.C:
		}
	}
}
