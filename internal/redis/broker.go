package redis

import (
	"context"
	"fmt"
	"sync"

	goredis "github.com/redis/go-redis/v9"

	"github.com/ghantakiran/turtletrading-sub002/internal/domain"
)

// Broker implements domain.Broker over go-redis pub/sub.
type Broker struct {
	rdb *goredis.Client

	mu  sync.Mutex
	sub *goredis.PubSub
}

var _ domain.Broker = (*Broker)(nil)

// NewBroker wraps a Redis client as a pub/sub broker.
func NewBroker(rdb *goredis.Client) *Broker {
	return &Broker{rdb: rdb}
}

func (b *Broker) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := b.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", channel, err)
	}
	return nil
}

func (b *Broker) Subscribe(ctx context.Context, channels ...string) error {
	if len(channels) == 0 {
		return nil
	}
	sub := b.pubsub(ctx)
	if err := sub.Subscribe(ctx, channels...); err != nil {
		return fmt.Errorf("subscribe %v: %w", channels, err)
	}
	return nil
}

func (b *Broker) Unsubscribe(ctx context.Context, channels ...string) error {
	if len(channels) == 0 {
		return nil
	}
	sub := b.pubsub(ctx)
	if err := sub.Unsubscribe(ctx, channels...); err != nil {
		return fmt.Errorf("unsubscribe %v: %w", channels, err)
	}
	return nil
}

// Receive blocks for the next message, skipping subscription confirmations
// and pongs. Errors indicate a broken connection; the caller reconciles
// subscriptions and retries.
func (b *Broker) Receive(ctx context.Context) (domain.ChannelMessage, error) {
	sub := b.pubsub(ctx)
	for {
		raw, err := sub.Receive(ctx)
		if err != nil {
			return domain.ChannelMessage{}, fmt.Errorf("pubsub receive: %w", err)
		}
		if msg, ok := raw.(*goredis.Message); ok {
			return domain.ChannelMessage{Channel: msg.Channel, Payload: []byte(msg.Payload)}, nil
		}
	}
}

func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sub == nil {
		return nil
	}
	err := b.sub.Close()
	b.sub = nil
	return err
}

// pubsub lazily creates the single subscription connection.
func (b *Broker) pubsub(ctx context.Context) *goredis.PubSub {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sub == nil {
		b.sub = b.rdb.Subscribe(ctx)
	}
	return b.sub
}
