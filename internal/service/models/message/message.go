package message

import (
	"encoding/json"
	"time"
)

// Message is a persisted chat message.
type Message struct {
	ID        int64
	RoomID    string
	SenderID  string
	Body      json.RawMessage
	CreatedAt time.Time
}
