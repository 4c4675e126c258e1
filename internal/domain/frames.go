package domain

import "time"

// Inbound frame types clients may send.
const (
	FramePing             = "ping"
	FrameSubscribe        = "subscribe"
	FrameUnsubscribe      = "unsubscribe"
	FrameGetSubscriptions = "get_subscriptions"
)

// Error codes returned in error frames. Clients only ever see these
// stable codes, never raw error text.
const (
	CodeMissingSymbol        = "MISSING_SYMBOL"
	CodeUnknownMessageType   = "UNKNOWN_MESSAGE_TYPE"
	CodeRateLimitExceeded    = "RATE_LIMIT_EXCEEDED"
	CodeSubscriptionFailed   = "SUBSCRIPTION_FAILED"
	CodeUnsubscriptionFailed = "UNSUBSCRIPTION_FAILED"
)

// ClientFrame is the decoded form of an inbound client message.
type ClientFrame struct {
	Type      string   `json:"type"`
	Symbols   []string `json:"symbols,omitempty"`
	DataTypes []string `json:"data_types,omitempty"`
}

// WelcomeFrame is sent once after a successful handshake.
type WelcomeFrame struct {
	Type         string          `json:"type"`
	ConnectionID string          `json:"connection_id"`
	ClientID     string          `json:"client_id"`
	ServerTime   string          `json:"server_time"`
	Features     map[string]bool `json:"features"`
}

// SubscriptionFrame confirms a subscribe or unsubscribe operation.
type SubscriptionFrame struct {
	Type      string `json:"type"`
	Symbol    string `json:"symbol"`
	Timestamp string `json:"timestamp"`
}

// SubscriptionListFrame answers a get_subscriptions request.
type SubscriptionListFrame struct {
	Type          string   `json:"type"`
	Subscriptions []string `json:"subscriptions"`
	Timestamp     string   `json:"timestamp"`
}

// ControlFrame covers heartbeat and pong replies.
type ControlFrame struct {
	Type      string `json:"type"`
	Timestamp string `json:"timestamp"`
}

// ErrorFrame is the structured error answer for protocol and rate-limit
// violations. The connection stays open after an error frame.
type ErrorFrame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// NewWelcomeFrame builds the connection_established frame advertising the
// server's streaming features.
func NewWelcomeFrame(connectionID, clientID string, now time.Time) WelcomeFrame {
	return WelcomeFrame{
		Type:         "connection_established",
		ConnectionID: connectionID,
		ClientID:     clientID,
		ServerTime:   now.UTC().Format(time.RFC3339Nano),
		Features: map[string]bool{
			"real_time_quotes":   true,
			"sentiment_analysis": true,
			"lstm_predictions":   true,
			"market_overview":    true,
		},
	}
}

// NewSubscriptionConfirmed builds a subscription_confirmed frame.
func NewSubscriptionConfirmed(symbol string, now time.Time) SubscriptionFrame {
	return SubscriptionFrame{
		Type:      "subscription_confirmed",
		Symbol:    symbol,
		Timestamp: now.UTC().Format(time.RFC3339Nano),
	}
}

// NewSubscriptionCancelled builds a subscription_cancelled frame.
func NewSubscriptionCancelled(symbol string, now time.Time) SubscriptionFrame {
	return SubscriptionFrame{
		Type:      "subscription_cancelled",
		Symbol:    symbol,
		Timestamp: now.UTC().Format(time.RFC3339Nano),
	}
}

// NewPong builds the reply to a client ping frame.
func NewPong(now time.Time) ControlFrame {
	return ControlFrame{Type: "pong", Timestamp: now.UTC().Format(time.RFC3339Nano)}
}

// NewHeartbeat builds the server-initiated liveness probe frame.
func NewHeartbeat(now time.Time) ControlFrame {
	return ControlFrame{Type: "heartbeat", Timestamp: now.UTC().Format(time.RFC3339Nano)}
}

// NewErrorFrame builds a structured error frame.
func NewErrorFrame(code, message string) ErrorFrame {
	return ErrorFrame{Type: "error", Message: message, Code: code}
}
