package ws

import (
	"time"

	"github.com/google/uuid"

	"github.com/ghantakiran/turtletrading-sub002/internal/ratelimit"
)

// Connection is one registered client socket. It is owned exclusively by
// the Manager: created on a successful handshake, mutated only under the
// manager's lock, destroyed on disconnect.
type Connection struct {
	ID          uuid.UUID
	ClientID    string
	UserID      string // empty for anonymous connections
	Tier        ratelimit.Tier
	IP          string
	ConnectedAt time.Time

	lastHeartbeat time.Time
	subscriptions map[string]struct{}
	dataTypes     map[string]struct{}
	writer        *clientWriter
}

// wantsDataType reports whether the connection's filter admits a data-type
// tag. An empty filter set means "all types".
func (c *Connection) wantsDataType(dataType string) bool {
	if len(c.dataTypes) == 0 {
		return true
	}
	_, ok := c.dataTypes[dataType]
	return ok
}

// Symbols returns a copy of the connection's subscription set. Caller must
// hold the manager lock.
func (c *Connection) symbolsLocked() []string {
	symbols := make([]string, 0, len(c.subscriptions))
	for s := range c.subscriptions {
		symbols = append(symbols, s)
	}
	return symbols
}
