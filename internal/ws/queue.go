package ws

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/ghantakiran/turtletrading-sub002/internal/domain"
	"github.com/ghantakiran/turtletrading-sub002/internal/metrics"
)

// queueItem is one pending symbol broadcast. The payload is marshaled once
// at enqueue time, not once per recipient.
type queueItem struct {
	symbol   string
	dataType string
	payload  []byte
}

// Enqueue places an envelope on the broadcast queue without blocking.
// Returns false when the queue is full (the message is dropped; delivery
// is at-most-once by design). Implements the subscriber's Enqueuer.
func (m *Manager) Enqueue(msg domain.Message, dataType string) bool {
	payload, err := json.Marshal(msg)
	if err != nil {
		slog.Error("Failed to marshal queue envelope", "symbol", msg.Symbol, "error", err)
		return false
	}

	select {
	case m.queue <- queueItem{symbol: msg.Symbol, dataType: dataType, payload: payload}:
		metrics.BroadcastQueueDepth.Set(float64(len(m.queue)))
		return true
	default:
		metrics.BroadcastsDropped.Inc()
		return false
	}
}

// runWorker drains the broadcast queue until ctx is cancelled. One worker
// consumes in arrival order, which preserves per-symbol FIFO delivery.
func (m *Manager) runWorker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case item := <-m.queue:
			metrics.BroadcastQueueDepth.Set(float64(len(m.queue)))
			m.fanOut(item)
		}
	}
}

// fanOut sends one queued item to the symbol's subscriber snapshot taken
// at pop time. Connections whose data-type filter excludes the item are
// skipped; a send failure disconnects only that connection.
func (m *Manager) fanOut(item queueItem) {
	m.mu.RLock()
	targets := make([]*Connection, 0, len(m.bySymbol[item.symbol]))
	for id := range m.bySymbol[item.symbol] {
		c, ok := m.connections[id]
		if !ok {
			continue
		}
		if c.wantsDataType(item.dataType) {
			targets = append(targets, c)
		}
	}
	m.mu.RUnlock()

	m.deliver(targets, item.payload)
}
