// Package sweeper runs the periodic idle-session reaper: any Ready session
// with no open peers past its idle timeout is terminated administratively.
package sweeper

import (
	"context"
	"log"
	"time"

	"termproxy/internal/session"
)

// Sweeper periodically calls Engine.SweepIdle until its context is
// cancelled. It never blocks process shutdown: Run returns as soon as ctx
// is done, even if a sweep is not currently running.
type Sweeper struct {
	engine   *session.Engine
	interval time.Duration
}

// New creates a Sweeper that sweeps every interval.
func New(engine *session.Engine, interval time.Duration) *Sweeper {
	return &Sweeper{engine: engine, interval: interval}
}

// Run blocks, sweeping on a ticker, until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	if s.interval <= 0 {
		s.interval = 30 * time.Second
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.engine.SweepIdle(); n > 0 {
				log.Printf("sweeper: reaped %d idle session(s)", n)
			}
		}
	}
}
