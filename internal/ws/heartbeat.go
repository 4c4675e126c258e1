package ws

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/ghantakiran/turtletrading-sub002/internal/domain"
	"github.com/ghantakiran/turtletrading-sub002/internal/metrics"
)

// runHeartbeat sweeps all connections on a fixed interval. One periodic
// sweep instead of a timer per connection keeps scheduling overhead
// bounded at scale.
func (m *Manager) runHeartbeat(ctx context.Context) {
	ticker := m.clock.NewTicker(m.opts.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			m.sweep()
		}
	}
}

// sweep evicts connections silent for more than three intervals and sends
// an async heartbeat frame to those silent for more than one. The frame is
// fire-and-forget: the sweep never waits for a reply.
func (m *Manager) sweep() {
	now := m.clock.Now()
	evictAfter := 3 * m.opts.HeartbeatInterval

	var stale []uuid.UUID
	var quiet []*Connection

	m.mu.RLock()
	for id, c := range m.connections {
		silence := now.Sub(c.lastHeartbeat)
		switch {
		case silence > evictAfter:
			stale = append(stale, id)
		case silence > m.opts.HeartbeatInterval:
			quiet = append(quiet, c)
		}
	}
	m.mu.RUnlock()

	for _, id := range stale {
		slog.Warn("Evicting stale connection", "connection_id", id.String())
		metrics.HeartbeatTimeouts.Inc()
		m.Disconnect(id, ReasonHeartbeatTimeout)
	}

	if len(quiet) > 0 {
		frame := domain.NewHeartbeat(now)
		for _, c := range quiet {
			m.sendFrame(c, frame)
		}
	}
}
