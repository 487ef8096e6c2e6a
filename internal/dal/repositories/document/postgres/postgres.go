package postgres

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/arcsolve/relay/internal/dal/postgres"
	"github.com/arcsolve/relay/internal/service/models/document"
)

// DocumentRepository implements the document status repository for PostgreSQL.
type DocumentRepository struct {
	db postgres.Queryer
}

// NewDocumentRepository creates a new document repository.
func NewDocumentRepository(db postgres.Queryer) *DocumentRepository {
	return &DocumentRepository{
		db: db,
	}
}

// SetProcessingStatus updates the processing status of a document, scoped to
// its owner. Returns false when the document does not exist.
func (r *DocumentRepository) SetProcessingStatus(
	ctx context.Context,
	documentID, userID string,
	status document.ProcessingStatus,
) (bool, error) {
	query, args, err := sq.Update("documents").
		Set("processing_status", status).
		Where(sq.Eq{"document_id": documentID, "user_id": userID}).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("failed to build update query: %w", err)
	}

	tag, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("failed to update document status: %w", err)
	}

	return tag.RowsAffected() > 0, nil
}
