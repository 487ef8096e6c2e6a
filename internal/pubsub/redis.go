package pubsub

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisBroker implements Broker on top of Redis pub/sub.
type RedisBroker struct {
	client redis.UniversalClient
}

// NewRedisBroker creates a Redis-backed broker.
func NewRedisBroker(client redis.UniversalClient) *RedisBroker {
	return &RedisBroker{
		client: client,
	}
}

// Publish sends payload to every subscriber of topic.
func (b *RedisBroker) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := b.client.Publish(ctx, topic, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}

	return nil
}

// Subscribe opens a subscription for the given topics. go-redis reconnects
// the underlying connection itself and replays the topic set on reconnect.
func (b *RedisBroker) Subscribe(ctx context.Context, topics ...string) (Subscription, error) {
	ps := b.client.Subscribe(ctx, topics...)

	// Force the connection open so an unreachable broker fails here, not on
	// the first message. With no initial topics there is no confirmation to
	// wait for; the connection opens on the first Add.
	if len(topics) > 0 {
		if _, err := ps.Receive(ctx); err != nil {
			_ = ps.Close()
			return nil, fmt.Errorf("failed to subscribe: %w", err)
		}
	}

	sub := &redisSubscription{
		ps:  ps,
		out: make(chan Message, 64),
	}
	go sub.pump()

	return sub, nil
}

type redisSubscription struct {
	ps  *redis.PubSub
	out chan Message
}

func (s *redisSubscription) pump() {
	defer close(s.out)
	for msg := range s.ps.Channel() {
		s.out <- Message{Topic: msg.Channel, Payload: []byte(msg.Payload)}
	}
}

func (s *redisSubscription) Add(ctx context.Context, topics ...string) error {
	return s.ps.Subscribe(ctx, topics...)
}

func (s *redisSubscription) Remove(ctx context.Context, topics ...string) error {
	return s.ps.Unsubscribe(ctx, topics...)
}

func (s *redisSubscription) Messages() <-chan Message {
	return s.out
}

func (s *redisSubscription) Close() error {
	return s.ps.Close()
}
