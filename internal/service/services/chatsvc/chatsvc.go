package chatsvc

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/arcsolve/relay/internal/dal/interfaces/imessagerepo"
	"github.com/arcsolve/relay/internal/dal/interfaces/ioutboxrepo"
	"github.com/arcsolve/relay/internal/dal/interfaces/iparticipantrepo"
	"github.com/arcsolve/relay/internal/dal/postgres"
	participantrepo "github.com/arcsolve/relay/internal/dal/repositories/participant/postgres"
	"github.com/arcsolve/relay/internal/dal/uow"
	"github.com/arcsolve/relay/internal/service/models/event"
	"github.com/arcsolve/relay/internal/service/models/message"
	"github.com/arcsolve/relay/internal/service/models/outbox"
)

// ChatService is the gateway's write path. A send is one transaction that
// inserts the chat message and its outbox row together, so delivery survives
// gateway crashes and reaches subscribers on every gateway process.
type ChatService struct {
	pgClient        *postgres.Client
	participantRepo iparticipantrepo.IParticipantRepository

	newUOW func() unitOfWork
}

type unitOfWork interface {
	Begin(ctx context.Context) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error

	MessageRepository() imessagerepo.IMessageRepository
	OutboxRepository() ioutboxrepo.IOutboxRepository
}

// option is a function that configures the ChatService.
type option func(*ChatService)

// MustNewChatService creates a new ChatService.
func MustNewChatService(opts ...option) *ChatService {
	s := &ChatService{}
	for _, opt := range opts {
		opt(s)
	}
	if s.participantRepo == nil && s.pgClient != nil {
		s.participantRepo = participantrepo.NewParticipantRepository(s.pgClient.Pool())
	}
	if s.newUOW == nil {
		s.newUOW = func() unitOfWork { return uow.NewUnitOfWork(s.pgClient) }
	}

	return s
}

// WithPostgresClient sets the Postgres client for the ChatService.
//
//goland:noinspection GoExportedFuncWithUnexportedType
func WithPostgresClient(pgClient *postgres.Client) option {
	return func(s *ChatService) {
		s.pgClient = pgClient
	}
}

// WithParticipantRepository overrides the membership repository.
//
//goland:noinspection GoExportedFuncWithUnexportedType
func WithParticipantRepository(repo iparticipantrepo.IParticipantRepository) option {
	return func(s *ChatService) {
		s.participantRepo = repo
	}
}

// WithUnitOfWorkFactory overrides transaction construction.
//
//goland:noinspection GoExportedFuncWithUnexportedType
func WithUnitOfWorkFactory(factory func() unitOfWork) option {
	return func(s *ChatService) {
		s.newUOW = factory
	}
}

// IsMember reports whether the principal is an authorized member of the room.
func (s *ChatService) IsMember(ctx context.Context, roomID, userID string) (bool, error) {
	p, err := s.participantRepo.Get(ctx, roomID, userID)
	if err != nil {
		return false, err
	}

	return p != nil, nil
}

// SendMessage persists the message and enqueues its fan-out event in one
// transaction. The stored outbox payload is the complete wire event, so the
// relay and gateways forward it without reshaping.
func (s *ChatService) SendMessage(
	ctx context.Context,
	roomID, senderID string,
	body json.RawMessage,
	tempID string,
) (message.Message, error) {
	work := s.newUOW()

	if err := work.Begin(ctx); err != nil {
		return message.Message{}, err
	}
	defer func() { _ = work.Rollback(ctx) }()

	msg, err := work.MessageRepository().Insert(ctx, message.Message{
		RoomID:   roomID,
		SenderID: senderID,
		Body:     body,
	})
	if err != nil {
		return message.Message{}, err
	}

	payload, err := json.Marshal(event.Event{
		Op:     "event",
		Type:   outbox.TypeMessageCreated,
		RoomID: roomID,
		Message: &event.MessageBody{
			ID:        msg.ID,
			SenderID:  senderID,
			Body:      body,
			CreatedAt: msg.CreatedAt,
			TempID:    tempID,
		},
		Timestamp: msg.CreatedAt.UTC().Format(time.RFC3339Nano),
		Source:    event.SourceLive,
	})
	if err != nil {
		return message.Message{}, fmt.Errorf("failed to encode event payload: %w", err)
	}

	_, err = work.OutboxRepository().Insert(ctx, outbox.Row{
		Type:    outbox.TypeMessageCreated,
		RoomID:  roomID,
		Payload: payload,
	})
	if err != nil {
		return message.Message{}, err
	}

	if err := work.Commit(ctx); err != nil {
		return message.Message{}, err
	}

	return msg, nil
}

// Backfill returns the messages of a room past the caller's read cursor.
func (s *ChatService) Backfill(
	ctx context.Context,
	roomID, userID string,
	limit int,
) ([]message.Message, error) {
	p, err := s.participantRepo.Get(ctx, roomID, userID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, nil
	}

	return s.newUOW().MessageRepository().ListAfter(ctx, roomID, p.LastReadID, limit)
}

// Ack advances the caller's read cursor; stale acks are ignored.
func (s *ChatService) Ack(ctx context.Context, roomID, userID string, lastReadID int64) error {
	return s.participantRepo.AdvanceReadCursor(ctx, roomID, userID, lastReadID)
}
