package event

import (
	"encoding/json"
	"time"
)

// Sources of a fanned-out event as seen by a client.
const (
	SourceLive     = "live"
	SourceBackfill = "backfill"
)

// MessageBody is the message portion of a chat event.
type MessageBody struct {
	ID        int64           `json:"id"`
	SenderID  string          `json:"sender_id"`
	Body      json.RawMessage `json:"body"`
	CreatedAt time.Time       `json:"created_at"`
	TempID    string          `json:"temp_id,omitempty"`
}

// Event is the wire shape pushed to subscribers. The write path stores it
// verbatim as the outbox payload so the relay and every gateway process can
// forward it without reshaping.
type Event struct {
	Op        string       `json:"op"`
	Type      string       `json:"type"`
	RoomID    string       `json:"room_id"`
	Message   *MessageBody `json:"message,omitempty"`
	Timestamp string       `json:"timestamp,omitempty"`
	Source    string       `json:"source,omitempty"`
}
