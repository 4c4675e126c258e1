package redis

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ghantakiran/turtletrading-sub002/internal/domain"
)

// capturingBroker records published payloads per channel.
type capturingBroker struct {
	mu        sync.Mutex
	published map[string][][]byte
	fail      bool
}

func newCapturingBroker() *capturingBroker {
	return &capturingBroker{published: make(map[string][][]byte)}
}

func (b *capturingBroker) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fail {
		return errors.New("broker down")
	}
	b.published[channel] = append(b.published[channel], payload)
	return nil
}

func (b *capturingBroker) Subscribe(context.Context, ...string) error   { return nil }
func (b *capturingBroker) Unsubscribe(context.Context, ...string) error { return nil }
func (b *capturingBroker) Receive(ctx context.Context) (domain.ChannelMessage, error) {
	<-ctx.Done()
	return domain.ChannelMessage{}, ctx.Err()
}
func (b *capturingBroker) Close() error { return nil }

func (b *capturingBroker) payloads(channel string) [][]byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.published[channel]
}

func TestPublisher_MarketDataEnvelope(t *testing.T) {
	broker := newCapturingBroker()
	clock := clockwork.NewFakeClockAt(time.Date(2026, 8, 28, 14, 30, 0, 0, time.UTC))
	pub := NewPublisher(broker, clock, "market_data_streamer")

	pub.PublishMarketData(context.Background(), "AAPL", map[string]any{"price": 189.5, "volume": float64(1200)})

	payloads := broker.payloads("market_data:AAPL")
	require.Len(t, payloads, 1)

	var msg domain.Message
	require.NoError(t, json.Unmarshal(payloads[0], &msg))
	assert.Equal(t, domain.TypePriceUpdate, msg.Type)
	assert.Equal(t, "AAPL", msg.Symbol)
	assert.Equal(t, "market_data_streamer", msg.Source)
	assert.Equal(t, "2026-08-28T14:30:00Z", msg.Timestamp)
	assert.Equal(t, 189.5, msg.Data["price"])
}

func TestPublisher_ChannelPerKind(t *testing.T) {
	broker := newCapturingBroker()
	pub := NewPublisher(broker, clockwork.NewFakeClock(), "test")
	ctx := context.Background()

	pub.PublishMarketData(ctx, "tsla", map[string]any{"price": 1.0})
	pub.PublishSentimentUpdate(ctx, "TSLA", map[string]any{"score": 0.4})
	pub.PublishLSTMPrediction(ctx, "TSLA", map[string]any{"horizon": "1d"})
	pub.PublishMarketOverview(ctx, map[string]any{"advancers": float64(210)})

	assert.Len(t, broker.payloads("market_data:TSLA"), 1, "symbols are upper-cased in channel names")
	assert.Len(t, broker.payloads("sentiment:TSLA"), 1)
	assert.Len(t, broker.payloads("lstm_prediction:TSLA"), 1)
	assert.Len(t, broker.payloads("market_overview"), 1)
}

func TestPublisher_OverviewCarriesNoSymbol(t *testing.T) {
	broker := newCapturingBroker()
	pub := NewPublisher(broker, clockwork.NewFakeClock(), "test")

	pub.PublishMarketOverview(context.Background(), map[string]any{"decliners": float64(95)})

	payloads := broker.payloads("market_overview")
	require.Len(t, payloads, 1)

	var msg domain.Message
	require.NoError(t, json.Unmarshal(payloads[0], &msg))
	assert.Equal(t, domain.TypeMarketOverview, msg.Type)
	assert.Empty(t, msg.Symbol)
}

func TestPublisher_BrokerFailureIsSwallowed(t *testing.T) {
	broker := newCapturingBroker()
	broker.fail = true
	pub := NewPublisher(broker, clockwork.NewFakeClock(), "test")

	// Must not panic or block; the message is dropped.
	pub.PublishMarketData(context.Background(), "AAPL", map[string]any{"price": 1.0})

	assert.Empty(t, broker.payloads("market_data:AAPL"))
}
