package postgres

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/arcsolve/relay/internal/dal/postgres"
	"github.com/arcsolve/relay/internal/service/models/message"
)

// MessageRepository implements the chat message repository for PostgreSQL.
type MessageRepository struct {
	db postgres.Queryer
}

// NewMessageRepository creates a new message repository.
func NewMessageRepository(db postgres.Queryer) *MessageRepository {
	return &MessageRepository{
		db: db,
	}
}

// Insert persists a message and returns it with the assigned id.
func (r *MessageRepository) Insert(
	ctx context.Context,
	msg message.Message,
) (message.Message, error) {
	query, args, err := sq.Insert("messages").
		Columns("room_id", "sender_id", "body").
		Values(msg.RoomID, msg.SenderID, msg.Body).
		Suffix("RETURNING id, created_at").
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return message.Message{}, fmt.Errorf("failed to build insert query: %w", err)
	}

	if err := r.db.QueryRow(ctx, query, args...).Scan(&msg.ID, &msg.CreatedAt); err != nil {
		return message.Message{}, fmt.Errorf("failed to insert message: %w", err)
	}

	return msg, nil
}

// ListAfter returns up to limit messages of a room with id > afterID.
func (r *MessageRepository) ListAfter(
	ctx context.Context,
	roomID string,
	afterID int64,
	limit int,
) ([]message.Message, error) {
	query, args, err := sq.Select("id", "room_id", "sender_id", "body", "created_at").
		From("messages").
		Where(sq.Eq{"room_id": roomID}).
		Where(sq.Gt{"id": afterID}).
		OrderBy("id ASC").
		Limit(uint64(limit)).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build select query: %w", err)
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var messages []message.Message
	for rows.Next() {
		var msg message.Message
		err := rows.Scan(&msg.ID, &msg.RoomID, &msg.SenderID, &msg.Body, &msg.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		messages = append(messages, msg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating messages: %w", err)
	}

	return messages, nil
}
