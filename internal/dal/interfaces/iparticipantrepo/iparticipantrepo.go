package iparticipantrepo

import (
	"context"

	"github.com/arcsolve/relay/internal/service/models/participant"
)

// IParticipantRepository defines the interface for room membership operations.
type IParticipantRepository interface {
	// Get returns the participant record, or nil when the user is not a
	// member of the room.
	Get(ctx context.Context, roomID, userID string) (*participant.Participant, error)

	// AdvanceReadCursor raises last_read_id to lastReadID; it never lowers it.
	AdvanceReadCursor(ctx context.Context, roomID, userID string, lastReadID int64) error
}
