package bridge

import (
	"context"
	"time"
)

// Target receives the two scheduler triggers.
type Target interface {
	OnTick(ctx context.Context) error
	OnTimer(ctx context.Context) error
}

// Scheduler drives a Target from one goroutine: a fast tick for link checks
// and command processing, and a slower timer for keepalive and housekeeping.
// The two never run concurrently.
type Scheduler struct {
	target Target
	tick   time.Duration
	timer  time.Duration
}

// NewScheduler builds a Scheduler. Non-positive intervals fall back to 50ms
// and 1s.
func NewScheduler(target Target, tick, timer time.Duration) *Scheduler {
	if tick <= 0 {
		tick = 50 * time.Millisecond
	}
	if timer <= 0 {
		timer = time.Second
	}
	return &Scheduler{target: target, tick: tick, timer: timer}
}

// Run loops until ctx ends, returning nil, or until a trigger fails, returning
// that error. The first tick fires immediately.
func (s *Scheduler) Run(ctx context.Context) error {
	if err := s.target.OnTick(ctx); err != nil {
		return err
	}
	tick := time.NewTicker(s.tick)
	defer tick.Stop()
	timer := time.NewTicker(s.timer)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-tick.C:
			if err := s.target.OnTick(ctx); err != nil {
				return err
			}
		case <-timer.C:
			if err := s.target.OnTimer(ctx); err != nil {
				return err
			}
		}
	}
}
