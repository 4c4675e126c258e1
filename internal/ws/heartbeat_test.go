package ws

import (
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ghantakiran/turtletrading-sub002/internal/domain"
)

func TestSweep_SendsHeartbeatToQuietConnections(t *testing.T) {
	h := newManagerHarness(t, Options{HeartbeatInterval: 30 * time.Second})
	conn, _ := h.dial("c1", "")

	h.clock.Advance(45 * time.Second)
	h.manager.sweep()

	frame := readFrame(t, conn)
	assert.Equal(t, "heartbeat", frame["type"])
	assert.Equal(t, 1, h.manager.GetConnectionStats().TotalConnections)
}

func TestSweep_LeavesActiveConnectionsAlone(t *testing.T) {
	h := newManagerHarness(t, Options{HeartbeatInterval: 30 * time.Second})
	conn, _ := h.dial("c1", "")

	h.clock.Advance(25 * time.Second)
	h.manager.sweep()

	// No heartbeat frame within one interval of silence.
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(100*time.Millisecond)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
}

func TestSweep_EvictsStaleConnections(t *testing.T) {
	h := newManagerHarness(t, Options{HeartbeatInterval: 30 * time.Second})
	stale, staleID := h.dial("c1", "")
	active, _ := h.dial("c2", "")

	writeFrame(t, stale, domain.ClientFrame{Type: "subscribe", Symbols: []string{"AAPL"}})
	require.Equal(t, "subscription_confirmed", readFrame(t, stale)["type"])

	h.clock.Advance(91 * time.Second)

	// The active connection pings, resetting its heartbeat clock.
	writeFrame(t, active, domain.ClientFrame{Type: "ping"})
	require.Equal(t, "pong", readFrame(t, active)["type"])

	h.manager.sweep()

	waitFor(t, func() bool {
		return h.manager.GetConnectionStats().TotalConnections == 1
	}, "stale connection was not evicted")

	assert.Empty(t, h.manager.Subscriptions("AAPL"))
	assert.Nil(t, h.manager.ConnectionSymbols(staleID))
	assert.Equal(t, 1, h.sub.unsubCount("AAPL"))

	require.NoError(t, stale.SetReadDeadline(time.Now().Add(2*time.Second)))
	var err error
	for err == nil {
		_, _, err = stale.ReadMessage()
	}
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure))
}

func TestHandleMessage_RefreshesHeartbeat(t *testing.T) {
	h := newManagerHarness(t, Options{HeartbeatInterval: 30 * time.Second})
	conn, _ := h.dial("c1", "")

	h.clock.Advance(80 * time.Second)
	writeFrame(t, conn, domain.ClientFrame{Type: "ping"})
	require.Equal(t, "pong", readFrame(t, conn)["type"])

	h.clock.Advance(80 * time.Second)
	h.manager.sweep()

	// 80s of silence after the ping is under the three-interval cutoff.
	assert.Equal(t, 1, h.manager.GetConnectionStats().TotalConnections)
}
