package outbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/arcsolve/relay/internal/pubsub"
	model "github.com/arcsolve/relay/internal/service/models/outbox"
)

// ChatPublisher delivers chat event rows to the shared pub/sub channel keyed
// by room. The payload is forwarded verbatim; every gateway process
// subscribed to the room fans it out to its local connections.
type ChatPublisher struct {
	broker  pubsub.Broker
	timeout time.Duration
}

// NewChatPublisher creates a publisher for the durable chat profile.
func NewChatPublisher(broker pubsub.Broker, timeout time.Duration) *ChatPublisher {
	if timeout == 0 {
		timeout = 5 * time.Second
	}

	return &ChatPublisher{
		broker:  broker,
		timeout: timeout,
	}
}

func (p *ChatPublisher) Publish(ctx context.Context, row model.Row) error {
	if row.RoomID == "" {
		return Permanent(errors.New("row has no room id"))
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	if err := p.broker.Publish(ctx, pubsub.RoomTopic(row.RoomID), row.Payload); err != nil {
		return fmt.Errorf("failed to publish chat event: %w", err)
	}

	return nil
}
