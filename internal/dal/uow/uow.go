package uow

import (
	"context"

	"github.com/arcsolve/relay/internal/dal/interfaces/imessagerepo"
	"github.com/arcsolve/relay/internal/dal/interfaces/ioutboxrepo"
	"github.com/arcsolve/relay/internal/dal/postgres"
	messagerepo "github.com/arcsolve/relay/internal/dal/repositories/message/postgres"
	outboxrepo "github.com/arcsolve/relay/internal/dal/repositories/outbox/postgres"
	"github.com/jackc/pgx/v5"
)

// unitOfWork binds the message and outbox repositories to one transaction so
// the domain row and its outbox row commit or roll back together.
type unitOfWork struct {
	client *postgres.Client
	tx     pgx.Tx

	messageRepo imessagerepo.IMessageRepository
	outboxRepo  ioutboxrepo.IOutboxRepository
}

func NewUnitOfWork(client *postgres.Client) *unitOfWork {
	return &unitOfWork{
		client:      client,
		messageRepo: messagerepo.NewMessageRepository(client.Pool()),
		outboxRepo:  outboxrepo.NewOutboxRepository(client.Pool()),
	}
}

func (u *unitOfWork) MessageRepository() imessagerepo.IMessageRepository {
	return u.messageRepo
}

func (u *unitOfWork) OutboxRepository() ioutboxrepo.IOutboxRepository {
	return u.outboxRepo
}

func (u *unitOfWork) Begin(ctx context.Context) error {
	tx, err := u.client.Pool().Begin(ctx)
	if err != nil {
		return err
	}

	u.tx = tx
	u.messageRepo = messagerepo.NewMessageRepository(tx)
	u.outboxRepo = outboxrepo.NewOutboxRepository(tx)

	return nil
}

func (u *unitOfWork) Commit(ctx context.Context) error {
	if u.tx == nil {
		return nil
	}
	return u.tx.Commit(ctx)
}

func (u *unitOfWork) Rollback(ctx context.Context) error {
	if u.tx == nil {
		return nil
	}
	return u.tx.Rollback(ctx)
}
