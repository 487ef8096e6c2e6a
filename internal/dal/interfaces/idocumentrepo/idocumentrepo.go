package idocumentrepo

import (
	"context"

	"github.com/arcsolve/relay/internal/service/models/document"
)

// IDocumentRepository defines the interface for document status updates
// performed by the one-shot ingest worker profile.
type IDocumentRepository interface {
	// SetProcessingStatus updates the document's processing status, scoped to
	// its owner. Returns false when no such document exists.
	SetProcessingStatus(
		ctx context.Context,
		documentID, userID string,
		status document.ProcessingStatus,
	) (bool, error)
}
