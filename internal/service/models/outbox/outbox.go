package outbox

import (
	"time"
)

// Status is the lifecycle state of an outbox row.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusPublished  Status = "published"
	StatusDead       Status = "dead"
)

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusPublished || s == StatusDead
}

// Row is one unit of relay work, written in the same transaction as the
// domain change it describes and delivered out-of-band by the relay worker.
type Row struct {
	ID            int64
	Type          string
	RoomID        string
	Payload       []byte
	Status        Status
	Attempts      int
	NextAttemptAt time.Time
	LockedBy      *string
	LockedUntil   *time.Time
	PublishedAt   *time.Time
	Error         *string
	CreatedAt     time.Time
}

// Type prefixes routing rows to worker profiles.
const (
	TypePrefixMessage  = "message."
	TypePrefixDocument = "document."
)

const (
	TypeMessageCreated = "message.created"
	TypeDocumentParse  = "document.parse"
)
