package pubsub

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/streadway/amqp"
)

// AMQPBroker implements Broker on a RabbitMQ topic exchange. Room ids map to
// routing keys; each subscription consumes from its own exclusive queue.
type AMQPBroker struct {
	conn     *amqp.Connection
	exchange string

	mu sync.Mutex
	ch *amqp.Channel
}

// NewAMQPBroker declares the exchange and returns a broker publishing to it.
func NewAMQPBroker(conn *amqp.Connection, exchange string) (*AMQPBroker, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("failed to declare exchange %s: %w", exchange, err)
	}

	return &AMQPBroker{
		conn:     conn,
		exchange: exchange,
		ch:       ch,
	}, nil
}

// Publish sends payload to the exchange with topic as the routing key.
func (b *AMQPBroker) Publish(_ context.Context, topic string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	err := b.ch.Publish(b.exchange, topic, false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        payload,
	})
	if err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}

	return nil
}

// Subscribe consumes from an exclusive queue bound to the given topics.
func (b *AMQPBroker) Subscribe(ctx context.Context, topics ...string) (Subscription, error) {
	sub := &amqpSubscription{
		conn:     b.conn,
		exchange: b.exchange,
		topics:   make(map[string]struct{}, len(topics)),
		out:      make(chan Message, 64),
		done:     make(chan struct{}),
	}
	for _, t := range topics {
		sub.topics[t] = struct{}{}
	}

	if err := sub.setup(); err != nil {
		return nil, err
	}
	go sub.run(ctx)

	return sub, nil
}

type amqpSubscription struct {
	conn     *amqp.Connection
	exchange string

	mu     sync.Mutex
	ch     *amqp.Channel
	queue  string
	topics map[string]struct{}

	out  chan Message
	done chan struct{}
}

func (s *amqpSubscription) setup() error {
	ch, err := s.conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open channel: %w", err)
	}

	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		_ = ch.Close()
		return fmt.Errorf("failed to declare queue: %w", err)
	}

	s.mu.Lock()
	s.ch = ch
	s.queue = q.Name
	topics := make([]string, 0, len(s.topics))
	for t := range s.topics {
		topics = append(topics, t)
	}
	s.mu.Unlock()

	for _, t := range topics {
		if err := ch.QueueBind(q.Name, t, s.exchange, false, nil); err != nil {
			_ = ch.Close()
			return fmt.Errorf("failed to bind %s: %w", t, err)
		}
	}

	return nil
}

// run pumps deliveries into the message channel, re-establishing the channel
// with exponential backoff when the broker connection drops it.
func (s *amqpSubscription) run(ctx context.Context) {
	defer close(s.out)

	for {
		s.mu.Lock()
		ch, queue := s.ch, s.queue
		s.mu.Unlock()

		deliveries, err := ch.Consume(queue, "", true, true, false, false, nil)
		if err == nil {
			for d := range deliveries {
				select {
				case s.out <- Message{Topic: d.RoutingKey, Payload: d.Body}:
				case <-s.done:
					return
				}
			}
		}

		select {
		case <-s.done:
			return
		case <-ctx.Done():
			return
		default:
		}

		bo := backoff.NewExponentialBackOff()
		bo.MaxInterval = 5 * time.Second
		err = backoff.Retry(func() error {
			select {
			case <-s.done:
				return backoff.Permanent(context.Canceled)
			default:
			}
			return s.setup()
		}, backoff.WithContext(bo, ctx))
		if err != nil {
			slog.Error("amqp subscription resubscribe failed", "error", err)
			return
		}
	}
}

func (s *amqpSubscription) Add(_ context.Context, topics ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, t := range topics {
		if err := s.ch.QueueBind(s.queue, t, s.exchange, false, nil); err != nil {
			return fmt.Errorf("failed to bind %s: %w", t, err)
		}
		s.topics[t] = struct{}{}
	}

	return nil
}

func (s *amqpSubscription) Remove(_ context.Context, topics ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, t := range topics {
		if err := s.ch.QueueUnbind(s.queue, t, s.exchange, nil); err != nil {
			return fmt.Errorf("failed to unbind %s: %w", t, err)
		}
		delete(s.topics, t)
	}

	return nil
}

func (s *amqpSubscription) Messages() <-chan Message {
	return s.out
}

func (s *amqpSubscription) Close() error {
	close(s.done)

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ch.Close()
}
