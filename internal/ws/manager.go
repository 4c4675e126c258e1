package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"

	"github.com/ghantakiran/turtletrading-sub002/internal/domain"
	"github.com/ghantakiran/turtletrading-sub002/internal/metrics"
	"github.com/ghantakiran/turtletrading-sub002/internal/ratelimit"
)

// Disconnect reasons.
const (
	ReasonClientClosed     = "client_closed"
	ReasonSendError        = "send_error"
	ReasonHeartbeatTimeout = "heartbeat_timeout"
	ReasonAdminDisconnect  = "admin_disconnect"
	ReasonShutdown         = "server_shutdown"
)

const broadcastSource = "websocket_manager"

// SymbolSubscriber keeps upstream channel subscriptions alive for symbols
// with at least one local subscriber. Implemented by the Redis subscriber;
// nil disables the cross-process relay (local-only operation).
type SymbolSubscriber interface {
	SubscribeToSymbol(ctx context.Context, symbol string) error
	UnsubscribeFromSymbol(ctx context.Context, symbol string) error
}

// Options configures a Manager.
type Options struct {
	// HeartbeatInterval is the sweep interval. Connections silent for more
	// than one interval receive a heartbeat frame; more than three, they
	// are evicted.
	HeartbeatInterval time.Duration

	// QueueSize bounds the broadcast queue.
	QueueSize int

	// MessageLimit caps inbound frames per connection per minute.
	MessageLimit int
}

// Manager owns the connection registry, the symbol and user indexes, the
// broadcast queue, and the heartbeat monitor. All index mutations happen
// under one lock within a single method call, so the bidirectional
// invariant (symbol in connection.subscriptions iff connection in
// bySymbol[symbol]) holds at every observable point.
type Manager struct {
	mu          sync.RWMutex
	connections map[uuid.UUID]*Connection
	bySymbol    map[string]map[uuid.UUID]struct{}
	byUser      map[string]map[uuid.UUID]struct{}

	queue      chan queueItem
	clock      clockwork.Clock
	limiter    *ratelimit.ConnectionLimiter
	tiered     *ratelimit.TieredLimiter
	subscriber SymbolSubscriber
	opts       Options

	running atomic.Bool
}

// NewManager creates a manager. tiered and subscriber may be nil.
func NewManager(clock clockwork.Clock, opts Options, tiered *ratelimit.TieredLimiter, subscriber SymbolSubscriber) *Manager {
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = 30 * time.Second
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 1024
	}
	if opts.MessageLimit <= 0 {
		opts.MessageLimit = 100
	}

	return &Manager{
		connections: make(map[uuid.UUID]*Connection),
		bySymbol:    make(map[string]map[uuid.UUID]struct{}),
		byUser:      make(map[string]map[uuid.UUID]struct{}),
		queue:       make(chan queueItem, opts.QueueSize),
		clock:       clock,
		limiter:     ratelimit.NewConnectionLimiter(clock, opts.MessageLimit, time.Minute),
		tiered:      tiered,
		subscriber:  subscriber,
		opts:        opts,
	}
}

// SetSubscriber attaches the upstream subscriber after construction. The
// subscriber needs the manager as its queue, so the two are wired in two
// steps. Must be called before Run.
func (m *Manager) SetSubscriber(subscriber SymbolSubscriber) {
	m.subscriber = subscriber
}

// Run starts the broadcast worker and the heartbeat monitor and blocks
// until ctx is cancelled, then closes every connection and returns.
func (m *Manager) Run(ctx context.Context) {
	m.running.Store(true)
	defer m.running.Store(false)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		m.runWorker(ctx)
	}()
	go func() {
		defer wg.Done()
		m.runHeartbeat(ctx)
	}()
	wg.Wait()

	m.closeAll(ReasonShutdown)
}

// Running reports whether the background loops are active.
func (m *Manager) Running() bool {
	return m.running.Load()
}

// Connect registers a new connection and sends the welcome frame. The
// transport must already be upgraded; upgrade failures are the caller's to
// propagate.
func (m *Manager) Connect(conn *websocket.Conn, clientID, userID string, tier ratelimit.Tier, ip string) (uuid.UUID, error) {
	id := uuid.New()
	now := m.clock.Now()

	c := &Connection{
		ID:            id,
		ClientID:      clientID,
		UserID:        userID,
		Tier:          tier,
		IP:            ip,
		ConnectedAt:   now,
		lastHeartbeat: now,
		subscriptions: make(map[string]struct{}),
		dataTypes:     make(map[string]struct{}),
	}
	c.writer = newClientWriter(conn, m.clock, func() {
		m.Disconnect(id, ReasonSendError)
	})

	m.mu.Lock()
	m.connections[id] = c
	if userID != "" {
		set, ok := m.byUser[userID]
		if !ok {
			set = make(map[uuid.UUID]struct{})
			m.byUser[userID] = set
		}
		set[id] = struct{}{}
	}
	total := len(m.connections)
	m.mu.Unlock()

	metrics.WebSocketConnections.Set(float64(total))
	metrics.WebSocketConnectionsTotal.Inc()

	m.sendFrame(c, domain.NewWelcomeFrame(id.String(), clientID, now))

	slog.Info("Connection established",
		"connection_id", id.String(),
		"client_id", clientID,
		"authenticated", userID != "",
		"ip", ip,
	)
	return id, nil
}

// Disconnect removes a connection from the registry, the user index, and
// every symbol index entry, releasing upstream channel references.
// Idempotent: disconnecting an unknown id is a no-op.
func (m *Manager) Disconnect(id uuid.UUID, reason string) {
	m.mu.Lock()
	c, ok := m.connections[id]
	if !ok {
		m.mu.Unlock()
		return
	}
	delete(m.connections, id)

	if c.UserID != "" {
		if set, ok := m.byUser[c.UserID]; ok {
			delete(set, id)
			if len(set) == 0 {
				delete(m.byUser, c.UserID)
			}
		}
	}

	released := c.symbolsLocked()
	for _, symbol := range released {
		if set, ok := m.bySymbol[symbol]; ok {
			delete(set, id)
			if len(set) == 0 {
				delete(m.bySymbol, symbol)
			}
		}
	}
	total := len(m.connections)
	m.mu.Unlock()

	m.limiter.Remove(id.String())
	c.writer.stopGraceful(reason)

	if m.subscriber != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		for _, symbol := range released {
			_ = m.subscriber.UnsubscribeFromSymbol(ctx, symbol)
		}
		cancel()
	}

	metrics.WebSocketConnections.Set(float64(total))
	metrics.WebSocketDisconnects.WithLabelValues(reason).Inc()
	metrics.SubscriptionsCurrent.Sub(float64(len(released)))

	slog.Info("Connection closed",
		"connection_id", id.String(),
		"reason", reason,
		"released_symbols", len(released),
	)
}

// HandleMessage processes one inbound frame: rate limiting first, then
// pure dispatch, then effect application. Protocol violations answer with
// error frames; the only error returned is an unknown connection id.
func (m *Manager) HandleMessage(ctx context.Context, id uuid.UUID, raw []byte) error {
	m.mu.Lock()
	c, ok := m.connections[id]
	if ok {
		c.lastHeartbeat = m.clock.Now()
	}
	m.mu.Unlock()
	if !ok {
		return domain.ErrUnknownConnection
	}

	if !m.limiter.Allow(id.String()) {
		metrics.RateLimitRejections.WithLabelValues("connection").Inc()
		m.sendFrame(c, domain.NewErrorFrame(domain.CodeRateLimitExceeded, "message rate limit exceeded"))
		return nil
	}

	if m.tiered != nil && c.UserID != "" {
		res, err := m.tiered.Allow(ctx, c.UserID, c.Tier, ratelimit.LimitWebSocketMessages)
		if err != nil {
			slog.Error("Tiered limit check failed", "connection_id", id.String(), "error", err)
		} else if !res.Allowed {
			m.sendFrame(c, domain.NewErrorFrame(domain.CodeRateLimitExceeded, "tier message quota exceeded"))
			return nil
		}
	}

	var frame domain.ClientFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		m.sendFrame(c, domain.NewErrorFrame(domain.CodeUnknownMessageType, "malformed frame"))
		return nil
	}
	metrics.WebSocketMessagesReceived.WithLabelValues(frame.Type).Inc()

	for _, action := range Dispatch(frame, m.clock.Now()) {
		switch action.Kind {
		case ActionReply:
			m.sendFrame(c, action.Reply)
		case ActionSubscribe:
			m.Subscribe(ctx, id, action.Symbol, action.DataTypes)
		case ActionUnsubscribe:
			m.Unsubscribe(ctx, id, action.Symbol)
		case ActionListSubscriptions:
			m.sendSubscriptionList(c)
		}
	}
	return nil
}

// Subscribe adds a (connection, symbol) pair to both index directions and
// replies with a confirmation frame. Idempotent: re-subscribing an
// existing pair unions data types and increments no upstream reference.
func (m *Manager) Subscribe(ctx context.Context, id uuid.UUID, symbol string, dataTypes []string) {
	m.mu.Lock()
	c, ok := m.connections[id]
	if !ok {
		m.mu.Unlock()
		return
	}

	_, existing := c.subscriptions[symbol]
	if !existing {
		c.subscriptions[symbol] = struct{}{}
		set, ok := m.bySymbol[symbol]
		if !ok {
			set = make(map[uuid.UUID]struct{})
			m.bySymbol[symbol] = set
		}
		set[id] = struct{}{}
	}
	for _, dt := range dataTypes {
		c.dataTypes[dt] = struct{}{}
	}
	m.mu.Unlock()

	if !existing {
		metrics.SubscriptionsCurrent.Inc()
		if m.subscriber != nil {
			if err := m.subscriber.SubscribeToSymbol(ctx, symbol); err != nil {
				slog.Warn("Upstream subscribe failed, local delivery unaffected",
					"symbol", symbol,
					"error", err,
				)
			}
		}
	}

	m.sendFrame(c, domain.NewSubscriptionConfirmed(symbol, m.clock.Now()))
}

// Unsubscribe removes a (connection, symbol) pair. Unsubscribing a symbol
// the connection never held is a defined no-op that still confirms.
func (m *Manager) Unsubscribe(ctx context.Context, id uuid.UUID, symbol string) {
	m.mu.Lock()
	c, ok := m.connections[id]
	if !ok {
		m.mu.Unlock()
		return
	}

	_, existing := c.subscriptions[symbol]
	if existing {
		delete(c.subscriptions, symbol)
		if set, ok := m.bySymbol[symbol]; ok {
			delete(set, id)
			if len(set) == 0 {
				delete(m.bySymbol, symbol)
			}
		}
	}
	m.mu.Unlock()

	if existing {
		metrics.SubscriptionsCurrent.Dec()
		if m.subscriber != nil {
			if err := m.subscriber.UnsubscribeFromSymbol(ctx, symbol); err != nil {
				slog.Warn("Upstream unsubscribe failed", "symbol", symbol, "error", err)
			}
		}
	}

	m.sendFrame(c, domain.NewSubscriptionCancelled(symbol, m.clock.Now()))
}

// BroadcastToSymbol enqueues a message for every subscriber of a symbol.
// Non-blocking: returns false if the queue is full and the message was
// dropped. This local path works with or without Redis.
func (m *Manager) BroadcastToSymbol(symbol, msgType string, data map[string]any, dataType string) bool {
	msg := domain.NewMessage(msgType, symbol, data, broadcastSource, m.clock.Now())
	metrics.BroadcastsTotal.WithLabelValues("symbol").Inc()
	return m.Enqueue(msg, dataType)
}

// BroadcastToUser delivers a message directly to every connection of a
// user, bypassing the symbol index.
func (m *Manager) BroadcastToUser(userID, msgType string, data map[string]any) {
	msg := domain.NewMessage(msgType, "", data, broadcastSource, m.clock.Now())
	payload, err := json.Marshal(msg)
	if err != nil {
		slog.Error("Failed to marshal user broadcast", "error", err)
		return
	}

	m.mu.RLock()
	targets := make([]*Connection, 0, len(m.byUser[userID]))
	for id := range m.byUser[userID] {
		if c, ok := m.connections[id]; ok {
			targets = append(targets, c)
		}
	}
	m.mu.RUnlock()

	metrics.BroadcastsTotal.WithLabelValues("user").Inc()
	m.deliver(targets, payload)
}

// BroadcastToAll delivers a message directly to every connection.
func (m *Manager) BroadcastToAll(msgType string, data map[string]any) {
	msg := domain.NewMessage(msgType, "", data, broadcastSource, m.clock.Now())
	payload, err := json.Marshal(msg)
	if err != nil {
		slog.Error("Failed to marshal broadcast", "error", err)
		return
	}

	m.mu.RLock()
	targets := make([]*Connection, 0, len(m.connections))
	for _, c := range m.connections {
		targets = append(targets, c)
	}
	m.mu.RUnlock()

	metrics.BroadcastsTotal.WithLabelValues("all").Inc()
	m.deliver(targets, payload)
}

// deliver sends a payload to each target, isolating failures: a full
// buffer disconnects that connection and never aborts the rest.
func (m *Manager) deliver(targets []*Connection, payload []byte) {
	for _, c := range targets {
		if !c.writer.trySend(payload) {
			metrics.WebSocketSendFailures.Inc()
			slog.Warn("Send buffer full, disconnecting client", "connection_id", c.ID.String())
			m.Disconnect(c.ID, ReasonSendError)
		}
	}
}

// sendFrame marshals and sends one control frame to a connection.
func (m *Manager) sendFrame(c *Connection, frame any) {
	payload, err := json.Marshal(frame)
	if err != nil {
		slog.Error("Failed to marshal frame", "error", err)
		return
	}
	if !c.writer.trySend(payload) {
		metrics.WebSocketSendFailures.Inc()
		m.Disconnect(c.ID, ReasonSendError)
	}
}

func (m *Manager) sendSubscriptionList(c *Connection) {
	m.mu.RLock()
	symbols := c.symbolsLocked()
	m.mu.RUnlock()
	sort.Strings(symbols)

	m.sendFrame(c, domain.SubscriptionListFrame{
		Type:          "subscriptions",
		Subscriptions: symbols,
		Timestamp:     m.clock.Now().UTC().Format(time.RFC3339Nano),
	})
}

// Subscriptions returns the sorted subscriber ids for a symbol. A symbol
// with no subscribers yields an empty slice, never a stale entry.
func (m *Manager) Subscriptions(symbol string) []uuid.UUID {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]uuid.UUID, 0, len(m.bySymbol[symbol]))
	for id := range m.bySymbol[symbol] {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	return ids
}

// ConnectionSymbols returns the sorted symbols a connection subscribes to.
func (m *Manager) ConnectionSymbols(id uuid.UUID) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.connections[id]
	if !ok {
		return nil
	}
	symbols := c.symbolsLocked()
	sort.Strings(symbols)
	return symbols
}

// Stats is the read-only aggregate connection report.
type Stats struct {
	TotalConnections   int     `json:"total_connections"`
	Authenticated      int     `json:"authenticated_connections"`
	Anonymous          int     `json:"anonymous_connections"`
	TotalSubscriptions int     `json:"total_subscriptions"`
	UniqueSymbols      int     `json:"unique_symbols"`
	ActiveSymbols      int     `json:"active_symbols"`
	AvgSubscriptions   float64 `json:"avg_subscriptions_per_connection"`
}

// GetConnectionStats computes aggregate counts without mutating anything.
func (m *Manager) GetConnectionStats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := Stats{TotalConnections: len(m.connections)}
	for _, c := range m.connections {
		if c.UserID != "" {
			stats.Authenticated++
		} else {
			stats.Anonymous++
		}
		stats.TotalSubscriptions += len(c.subscriptions)
	}
	stats.UniqueSymbols = len(m.bySymbol)
	stats.ActiveSymbols = len(m.bySymbol)
	if stats.TotalConnections > 0 {
		stats.AvgSubscriptions = float64(stats.TotalSubscriptions) / float64(stats.TotalConnections)
	}
	return stats
}

// closeAll disconnects every connection with the given reason.
func (m *Manager) closeAll(reason string) {
	m.mu.RLock()
	ids := make([]uuid.UUID, 0, len(m.connections))
	for id := range m.connections {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	for _, id := range ids {
		m.Disconnect(id, reason)
	}
}
