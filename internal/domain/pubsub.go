package domain

import "context"

// ChannelMessage is one message received from the broker.
type ChannelMessage struct {
	Channel string
	Payload []byte
}

// Broker abstracts the pub/sub backend so the relay logic can be tested
// against an in-memory fake. The production implementation wraps Redis.
type Broker interface {
	// Publish sends a payload to a channel. Subscribers in other processes
	// receive it; there is no persistence and no replay.
	Publish(ctx context.Context, channel string, payload []byte) error

	// Subscribe adds upstream subscriptions for the given channels.
	Subscribe(ctx context.Context, channels ...string) error

	// Unsubscribe removes upstream subscriptions for the given channels.
	Unsubscribe(ctx context.Context, channels ...string) error

	// Receive blocks until the next message arrives or the connection
	// fails. A non-nil error means the connection is gone and the caller
	// must re-subscribe after reconnecting.
	Receive(ctx context.Context) (ChannelMessage, error)

	// Close tears down the upstream subscription connection.
	Close() error
}
