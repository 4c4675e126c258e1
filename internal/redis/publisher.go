package redis

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/ghantakiran/turtletrading-sub002/internal/domain"
	"github.com/ghantakiran/turtletrading-sub002/internal/metrics"
)

// Publisher pushes typed market-data envelopes onto Redis channels for
// cross-process fan-out. Publish failures are logged and swallowed:
// same-process delivery through the manager's broadcast queue keeps
// working while Redis is down.
type Publisher struct {
	broker domain.Broker
	clock  clockwork.Clock
	source string
}

// NewPublisher creates a publisher. source tags every envelope with the
// producing subsystem (e.g. "market_data_streamer").
func NewPublisher(broker domain.Broker, clock clockwork.Clock, source string) *Publisher {
	return &Publisher{broker: broker, clock: clock, source: source}
}

// PublishMarketData publishes a price update for a symbol.
func (p *Publisher) PublishMarketData(ctx context.Context, symbol string, data map[string]any) {
	p.publish(ctx, domain.MarketDataChannel(symbol), "market_data",
		domain.NewMessage(domain.TypePriceUpdate, symbol, data, p.source, p.clock.Now()))
}

// PublishSentimentUpdate publishes a sentiment score for a symbol.
func (p *Publisher) PublishSentimentUpdate(ctx context.Context, symbol string, data map[string]any) {
	p.publish(ctx, domain.SentimentChannel(symbol), "sentiment",
		domain.NewMessage(domain.TypeSentimentUpdate, symbol, data, p.source, p.clock.Now()))
}

// PublishLSTMPrediction publishes a model prediction for a symbol.
func (p *Publisher) PublishLSTMPrediction(ctx context.Context, symbol string, data map[string]any) {
	p.publish(ctx, domain.LSTMPredictionChannel(symbol), "lstm_prediction",
		domain.NewMessage(domain.TypeLSTMPrediction, symbol, data, p.source, p.clock.Now()))
}

// PublishMarketOverview publishes the global market summary.
func (p *Publisher) PublishMarketOverview(ctx context.Context, data map[string]any) {
	p.publish(ctx, domain.ChannelMarketOverview, "market_overview",
		domain.NewMessage(domain.TypeMarketOverview, "", data, p.source, p.clock.Now()))
}

func (p *Publisher) publish(ctx context.Context, channel, kind string, msg domain.Message) {
	payload, err := json.Marshal(msg)
	if err != nil {
		slog.Error("Failed to marshal envelope", "channel", channel, "error", err)
		metrics.RedisPublishesTotal.WithLabelValues(kind, "error").Inc()
		return
	}

	pubCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := p.broker.Publish(pubCtx, channel, payload); err != nil {
		slog.Warn("Publish failed, dropping message",
			"channel", channel,
			"error", err,
		)
		metrics.RedisPublishesTotal.WithLabelValues(kind, "dropped").Inc()
		return
	}
	metrics.RedisPublishesTotal.WithLabelValues(kind, "success").Inc()
}
