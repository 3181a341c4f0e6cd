package registry

import (
	"context"
	"time"
)

// Sweeper periodically deletes expired tunnels: any tunnel whose channel has
// disconnected (reattachment is never offered, so disconnect is terminal),
// one that never completed its auth handshake within maxIdle of its
// creation, and an attached one whose last activity is older than maxIdle.
// Mirrors the original tunnel manager's periodic cleanup task,
// reimplemented as a context-cancellable loop instead of a cancellable
// asyncio task.
type Sweeper struct {
	registry *Registry
	interval time.Duration
	maxIdle  time.Duration
	onSweep  func(id string)
}

// NewSweeper builds a sweeper that runs every interval and evicts tunnels
// idle longer than maxIdle. onSweep, if non-nil, is called once per evicted
// tunnel id; it exists so callers can log without the registry depending on
// a logger.
func NewSweeper(registry *Registry, interval, maxIdle time.Duration, onSweep func(id string)) *Sweeper {
	return &Sweeper{registry: registry, interval: interval, maxIdle: maxIdle, onSweep: onSweep}
}

// Run blocks, sweeping on every tick, until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweepOnce()
		}
	}
}

func (s *Sweeper) sweepOnce() {
	now := time.Now()
	ids := s.registry.idleTunnelIDs(func(t *Tunnel) bool {
		switch t.Status() {
		case StatusDisconnected:
			return true
		case StatusConnecting:
			return now.Sub(t.CreatedAt) > s.maxIdle
		default:
			return now.Sub(t.lastActiveAt()) > s.maxIdle
		}
	})
	for _, id := range ids {
		if s.registry.Delete(id) && s.onSweep != nil {
			s.onSweep(id)
		}
	}
}
