package ws

import (
	"strings"
	"time"

	"github.com/ghantakiran/turtletrading-sub002/internal/domain"
)

// ActionKind classifies the effects produced by frame dispatch.
type ActionKind int

const (
	// ActionReply sends an outbound frame to the originating connection.
	ActionReply ActionKind = iota
	// ActionSubscribe adds a (connection, symbol) subscription.
	ActionSubscribe
	// ActionUnsubscribe removes a (connection, symbol) subscription.
	ActionUnsubscribe
	// ActionListSubscriptions answers with the connection's current symbols.
	ActionListSubscriptions
)

// Action is one effect of dispatching an inbound frame. Dispatch itself
// performs no I/O and touches no shared state, so frame handling is
// testable without a live socket; the Manager applies the effects.
type Action struct {
	Kind      ActionKind
	Symbol    string
	DataTypes []string
	Reply     any
}

func reply(frame any) Action {
	return Action{Kind: ActionReply, Reply: frame}
}

func replyError(code, message string) Action {
	return reply(domain.NewErrorFrame(code, message))
}

// Dispatch maps an inbound client frame to its effects. Unknown types and
// missing required fields produce error-frame replies, never an error
// return.
func Dispatch(frame domain.ClientFrame, now time.Time) []Action {
	switch frame.Type {
	case domain.FramePing:
		return []Action{reply(domain.NewPong(now))}

	case domain.FrameSubscribe:
		if len(frame.Symbols) == 0 {
			return []Action{replyError(domain.CodeMissingSymbol, "subscribe requires at least one symbol")}
		}
		actions := make([]Action, 0, len(frame.Symbols))
		for _, symbol := range frame.Symbols {
			symbol = strings.ToUpper(strings.TrimSpace(symbol))
			if symbol == "" {
				actions = append(actions, replyError(domain.CodeMissingSymbol, "empty symbol"))
				continue
			}
			actions = append(actions, Action{Kind: ActionSubscribe, Symbol: symbol, DataTypes: frame.DataTypes})
		}
		return actions

	case domain.FrameUnsubscribe:
		if len(frame.Symbols) == 0 {
			return []Action{replyError(domain.CodeMissingSymbol, "unsubscribe requires at least one symbol")}
		}
		actions := make([]Action, 0, len(frame.Symbols))
		for _, symbol := range frame.Symbols {
			symbol = strings.ToUpper(strings.TrimSpace(symbol))
			if symbol == "" {
				actions = append(actions, replyError(domain.CodeMissingSymbol, "empty symbol"))
				continue
			}
			actions = append(actions, Action{Kind: ActionUnsubscribe, Symbol: symbol})
		}
		return actions

	case domain.FrameGetSubscriptions:
		return []Action{{Kind: ActionListSubscriptions}}

	default:
		return []Action{replyError(domain.CodeUnknownMessageType, "unknown message type: "+frame.Type)}
	}
}
