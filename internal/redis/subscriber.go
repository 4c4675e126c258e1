package redis

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/ghantakiran/turtletrading-sub002/internal/domain"
	"github.com/ghantakiran/turtletrading-sub002/internal/metrics"
)

const (
	reconnectBase = time.Second
	reconnectCap  = 30 * time.Second
)

// Enqueuer receives decoded envelopes for local fan-out. Implemented by the
// WebSocket manager's broadcast queue.
type Enqueuer interface {
	Enqueue(msg domain.Message, dataType string) bool
}

// Subscriber maintains reference-counted upstream channel subscriptions and
// forwards inbound messages into the local broadcast queue. The reference
// count per channel equals the number of distinct local connections that
// need it; the upstream (un)subscribe is issued only on the 0→1 and 1→0
// transitions.
type Subscriber struct {
	broker domain.Broker
	queue  Enqueuer
	clock  clockwork.Clock

	mu   sync.Mutex
	refs map[string]int
}

// NewSubscriber creates a subscriber forwarding into queue.
func NewSubscriber(broker domain.Broker, queue Enqueuer, clock clockwork.Clock) *Subscriber {
	return &Subscriber{
		broker: broker,
		queue:  queue,
		clock:  clock,
		refs:   make(map[string]int),
	}
}

// SubscribeToSymbol increments the reference count for every per-symbol
// channel, issuing the upstream subscribe on the 0→1 transition. The caller
// (the manager) guarantees at most one call per distinct (connection,
// symbol) pair.
func (s *Subscriber) SubscribeToSymbol(ctx context.Context, symbol string) error {
	var newChannels []string

	s.mu.Lock()
	for _, ch := range domain.SymbolChannels(symbol) {
		s.refs[ch]++
		if s.refs[ch] == 1 {
			newChannels = append(newChannels, ch)
		}
	}
	total := len(s.refs)
	s.mu.Unlock()

	metrics.RedisSubscribedChannels.Set(float64(total))

	if len(newChannels) == 0 {
		return nil
	}
	if err := s.broker.Subscribe(ctx, newChannels...); err != nil {
		// Keep the reference counts: the listen loop reconciles channels
		// after the next successful reconnect.
		slog.Warn("Upstream subscribe failed, will reconcile on reconnect",
			"channels", newChannels,
			"error", err,
		)
	}
	return nil
}

// UnsubscribeFromSymbol decrements reference counts and releases upstream
// channels that reach zero. Decrementing beyond zero is a no-op.
func (s *Subscriber) UnsubscribeFromSymbol(ctx context.Context, symbol string) error {
	var released []string

	s.mu.Lock()
	for _, ch := range domain.SymbolChannels(symbol) {
		count, ok := s.refs[ch]
		if !ok {
			continue
		}
		if count <= 1 {
			delete(s.refs, ch)
			released = append(released, ch)
		} else {
			s.refs[ch] = count - 1
		}
	}
	total := len(s.refs)
	s.mu.Unlock()

	metrics.RedisSubscribedChannels.Set(float64(total))

	if len(released) == 0 {
		return nil
	}
	if err := s.broker.Unsubscribe(ctx, released...); err != nil {
		slog.Warn("Upstream unsubscribe failed",
			"channels", released,
			"error", err,
		)
	}
	return nil
}

// RefCount returns the current reference count for a channel.
func (s *Subscriber) RefCount(channel string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refs[channel]
}

// Channels returns the sorted list of currently referenced channels.
func (s *Subscriber) Channels() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	channels := make([]string, 0, len(s.refs))
	for ch := range s.refs {
		channels = append(channels, ch)
	}
	sort.Strings(channels)
	return channels
}

// Run is the listen loop. It subscribes to the global overview channel,
// then forwards messages until ctx is cancelled. On connection loss it
// backs off exponentially (capped) and re-establishes every channel still
// present in the reference table: reconciliation, not replay — messages
// published during the gap are lost.
func (s *Subscriber) Run(ctx context.Context) {
	if err := s.broker.Subscribe(ctx, domain.ChannelMarketOverview); err != nil {
		slog.Warn("Initial overview subscribe failed, will retry", "error", err)
	}

	backoff := reconnectBase
	for {
		msg, err := s.broker.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}

			slog.Warn("Subscriber connection lost, reconnecting",
				"backoff", backoff,
				"error", err,
			)
			metrics.RedisSubscriberReconnects.Inc()

			timer := s.clock.NewTimer(backoff)
			select {
			case <-timer.Chan():
			case <-ctx.Done():
				timer.Stop()
				return
			}

			backoff *= 2
			if backoff > reconnectCap {
				backoff = reconnectCap
			}

			s.reconcile(ctx)
			continue
		}

		backoff = reconnectBase
		s.forward(msg)
	}
}

// reconcile re-subscribes every channel the reference table still needs.
func (s *Subscriber) reconcile(ctx context.Context) {
	channels := append(s.Channels(), domain.ChannelMarketOverview)
	if err := s.broker.Subscribe(ctx, channels...); err != nil {
		slog.Warn("Subscription reconcile failed", "error", err)
		return
	}
	slog.Info("Subscriptions reconciled after reconnect", "channels", len(channels))
}

// forward decodes one inbound message and hands it to the broadcast queue.
func (s *Subscriber) forward(raw domain.ChannelMessage) {
	msgType, dataType, symbol, ok := domain.ParseChannel(raw.Channel)
	if !ok {
		slog.Warn("Message on unknown channel dropped", "channel", raw.Channel)
		return
	}

	var msg domain.Message
	if err := json.Unmarshal(raw.Payload, &msg); err != nil {
		slog.Warn("Undecodable payload dropped", "channel", raw.Channel, "error", err)
		return
	}

	// The channel name is authoritative for routing; fill gaps left by
	// the producer.
	if msg.Type == "" {
		msg.Type = msgType
	}
	if msg.Symbol == "" {
		msg.Symbol = symbol
	}

	if !s.queue.Enqueue(msg, dataType) {
		slog.Warn("Broadcast queue full, envelope dropped",
			"channel", raw.Channel,
			"symbol", msg.Symbol,
		)
	}
}
