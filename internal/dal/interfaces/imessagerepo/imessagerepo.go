package imessagerepo

import (
	"context"

	"github.com/arcsolve/relay/internal/service/models/message"
)

// IMessageRepository defines the interface for chat message operations.
type IMessageRepository interface {
	// Insert persists a message and returns it with the server-assigned id
	// and creation time.
	Insert(ctx context.Context, msg message.Message) (message.Message, error)

	// ListAfter returns up to limit messages of a room with id > afterID,
	// ordered by id ascending.
	ListAfter(ctx context.Context, roomID string, afterID int64, limit int) ([]message.Message, error)
}
