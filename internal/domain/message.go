package domain

import (
	"strings"
	"time"
)

// Outbound message types delivered to clients.
const (
	TypePriceUpdate     = "price_update"
	TypeSentimentUpdate = "sentiment_update"
	TypeLSTMPrediction  = "lstm_prediction"
	TypeMarketOverview  = "market_overview"
	TypeMarketStatus    = "market_status"
)

// Data-type tags a connection can filter its subscriptions by. An empty
// filter set means "all types".
const (
	DataTypeMarketData     = "market_data"
	DataTypeSentiment      = "sentiment"
	DataTypeLSTMPrediction = "lstm_prediction"
	DataTypeOverview       = "market_overview"
)

// Redis channel prefixes. Per-symbol channels are "<prefix>:<SYMBOL>";
// the overview channel is global and carries no symbol suffix.
const (
	channelMarketData     = "market_data"
	channelSentiment      = "sentiment"
	channelLSTMPrediction = "lstm_prediction"
	ChannelMarketOverview = "market_overview"
)

// Message is the envelope moved through Redis and the broadcast queue.
type Message struct {
	Type      string         `json:"type"`
	Symbol    string         `json:"symbol,omitempty"`
	Data      map[string]any `json:"data"`
	Timestamp string         `json:"timestamp"`
	Source    string         `json:"source"`
}

// NewMessage builds an envelope with an RFC 3339 timestamp.
func NewMessage(msgType, symbol string, data map[string]any, source string, now time.Time) Message {
	return Message{
		Type:      msgType,
		Symbol:    symbol,
		Data:      data,
		Timestamp: now.UTC().Format(time.RFC3339Nano),
		Source:    source,
	}
}

// MarketDataChannel returns the Redis channel carrying price updates for a symbol.
func MarketDataChannel(symbol string) string {
	return channelMarketData + ":" + strings.ToUpper(symbol)
}

// SentimentChannel returns the Redis channel carrying sentiment updates for a symbol.
func SentimentChannel(symbol string) string {
	return channelSentiment + ":" + strings.ToUpper(symbol)
}

// LSTMPredictionChannel returns the Redis channel carrying model predictions for a symbol.
func LSTMPredictionChannel(symbol string) string {
	return channelLSTMPrediction + ":" + strings.ToUpper(symbol)
}

// SymbolChannels returns every per-symbol channel a subscribed connection needs.
func SymbolChannels(symbol string) []string {
	return []string{
		MarketDataChannel(symbol),
		SentimentChannel(symbol),
		LSTMPredictionChannel(symbol),
	}
}

// ParseChannel decodes a Redis channel name into the outbound message type,
// the data-type tag used for subscription filtering, and the symbol (empty
// for the global overview channel). ok is false for unknown channels.
func ParseChannel(channel string) (msgType, dataType, symbol string, ok bool) {
	if channel == ChannelMarketOverview {
		return TypeMarketOverview, DataTypeOverview, "", true
	}

	prefix, symbol, found := strings.Cut(channel, ":")
	if !found || symbol == "" {
		return "", "", "", false
	}

	switch prefix {
	case channelMarketData:
		return TypePriceUpdate, DataTypeMarketData, symbol, true
	case channelSentiment:
		return TypeSentimentUpdate, DataTypeSentiment, symbol, true
	case channelLSTMPrediction:
		return TypeLSTMPrediction, DataTypeLSTMPrediction, symbol, true
	default:
		return "", "", "", false
	}
}
