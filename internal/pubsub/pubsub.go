package pubsub

import (
	"context"
)

// Message is one event delivered on a topic.
type Message struct {
	Topic   string
	Payload []byte
}

// Broker is the minimal contract the relay and gateway need from the shared
// pub/sub channel: at-least-once publish and a topic-filtered stream. Delivery
// ordering beyond best-effort is not assumed.
type Broker interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	Subscribe(ctx context.Context, topics ...string) (Subscription, error)
}

// Subscription is a live stream whose topic set can change as local room
// membership changes.
type Subscription interface {
	Add(ctx context.Context, topics ...string) error
	Remove(ctx context.Context, topics ...string) error
	Messages() <-chan Message
	Close() error
}

// RoomTopic returns the channel name for a room's events.
func RoomTopic(roomID string) string {
	return "room:" + roomID
}
