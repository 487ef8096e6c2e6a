package postgres

import (
	"context"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/arcsolve/relay/internal/dal/postgres"
	"github.com/arcsolve/relay/internal/service/models/participant"
	"github.com/jackc/pgx/v5"
)

// ParticipantRepository implements the room membership repository for PostgreSQL.
type ParticipantRepository struct {
	db postgres.Queryer
}

// NewParticipantRepository creates a new participant repository.
func NewParticipantRepository(db postgres.Queryer) *ParticipantRepository {
	return &ParticipantRepository{
		db: db,
	}
}

// Get returns the participant record, or nil when the user is not a member.
func (r *ParticipantRepository) Get(
	ctx context.Context,
	roomID, userID string,
) (*participant.Participant, error) {
	query, args, err := sq.Select("room_id", "user_id", "last_read_id", "role").
		From("participants").
		Where(sq.Eq{"room_id": roomID, "user_id": userID}).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build select query: %w", err)
	}

	var p participant.Participant
	err = r.db.QueryRow(ctx, query, args...).
		Scan(&p.RoomID, &p.UserID, &p.LastReadID, &p.Role)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to query participant: %w", err)
	}

	return &p, nil
}

// AdvanceReadCursor raises last_read_id; a stale ack never lowers it.
func (r *ParticipantRepository) AdvanceReadCursor(
	ctx context.Context,
	roomID, userID string,
	lastReadID int64,
) error {
	query, args, err := sq.Update("participants").
		Set("last_read_id", sq.Expr("GREATEST(last_read_id, ?)", lastReadID)).
		Where(sq.Eq{"room_id": roomID, "user_id": userID}).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build update query: %w", err)
	}

	if _, err := r.db.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to advance read cursor: %w", err)
	}

	return nil
}
