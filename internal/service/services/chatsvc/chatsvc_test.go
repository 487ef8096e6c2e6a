package chatsvc

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/arcsolve/relay/internal/dal/interfaces/imessagerepo"
	"github.com/arcsolve/relay/internal/dal/interfaces/ioutboxrepo"
	"github.com/arcsolve/relay/internal/service/models/event"
	"github.com/arcsolve/relay/internal/service/models/message"
	"github.com/arcsolve/relay/internal/service/models/outbox"
	"github.com/arcsolve/relay/internal/service/models/participant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeParticipantRepo struct {
	members  map[string]participant.Participant
	advanced []int64
}

func (f *fakeParticipantRepo) key(roomID, userID string) string { return roomID + "/" + userID }

func (f *fakeParticipantRepo) Get(_ context.Context, roomID, userID string) (*participant.Participant, error) {
	p, ok := f.members[f.key(roomID, userID)]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (f *fakeParticipantRepo) AdvanceReadCursor(_ context.Context, _, _ string, lastReadID int64) error {
	f.advanced = append(f.advanced, lastReadID)
	return nil
}

type fakeMessageRepo struct {
	inserted  []message.Message
	insertErr error
	listed    []message.Message
	listCalls []int64
}

func (f *fakeMessageRepo) Insert(_ context.Context, msg message.Message) (message.Message, error) {
	if f.insertErr != nil {
		return message.Message{}, f.insertErr
	}
	msg.ID = int64(len(f.inserted) + 1)
	msg.CreatedAt = time.Now()
	f.inserted = append(f.inserted, msg)
	return msg, nil
}

func (f *fakeMessageRepo) ListAfter(_ context.Context, _ string, afterID int64, _ int) ([]message.Message, error) {
	f.listCalls = append(f.listCalls, afterID)
	return f.listed, nil
}

type fakeOutboxRepo struct {
	ioutboxrepo.IOutboxRepository

	inserted  []outbox.Row
	insertErr error
}

func (f *fakeOutboxRepo) Insert(_ context.Context, row outbox.Row) (int64, error) {
	if f.insertErr != nil {
		return 0, f.insertErr
	}
	f.inserted = append(f.inserted, row)
	return int64(len(f.inserted)), nil
}

type fakeUOW struct {
	messages *fakeMessageRepo
	outbox   *fakeOutboxRepo

	began      bool
	committed  bool
	rolledBack bool
}

func (f *fakeUOW) Begin(context.Context) error { f.began = true; return nil }

func (f *fakeUOW) Commit(context.Context) error {
	f.committed = true
	return nil
}

func (f *fakeUOW) Rollback(context.Context) error {
	if !f.committed {
		f.rolledBack = true
	}
	return nil
}

func (f *fakeUOW) MessageRepository() imessagerepo.IMessageRepository { return f.messages }
func (f *fakeUOW) OutboxRepository() ioutboxrepo.IOutboxRepository    { return f.outbox }

func newTestService(uow *fakeUOW, participants *fakeParticipantRepo) *ChatService {
	return MustNewChatService(
		WithParticipantRepository(participants),
		WithUnitOfWorkFactory(func() unitOfWork { return uow }),
	)
}

func memberOf(roomID, userID string, lastRead int64) *fakeParticipantRepo {
	repo := &fakeParticipantRepo{members: map[string]participant.Participant{}}
	repo.members[roomID+"/"+userID] = participant.Participant{
		RoomID:     roomID,
		UserID:     userID,
		LastReadID: lastRead,
		Role:       participant.RoleMember,
	}
	return repo
}

func TestSendMessageWritesMessageAndOutboxTogether(t *testing.T) {
	work := &fakeUOW{messages: &fakeMessageRepo{}, outbox: &fakeOutboxRepo{}}
	svc := newTestService(work, memberOf("room-1", "alice", 0))

	body := json.RawMessage(`{"text":"hello"}`)
	msg, err := svc.SendMessage(context.Background(), "room-1", "alice", body, "tmp-42")
	require.NoError(t, err)

	assert.True(t, work.began)
	assert.True(t, work.committed)
	assert.False(t, work.rolledBack)
	assert.EqualValues(t, 1, msg.ID)

	require.Len(t, work.outbox.inserted, 1)
	row := work.outbox.inserted[0]
	assert.Equal(t, outbox.TypeMessageCreated, row.Type)
	assert.Equal(t, "room-1", row.RoomID)

	var evt event.Event
	require.NoError(t, json.Unmarshal(row.Payload, &evt))
	assert.Equal(t, "event", evt.Op)
	assert.Equal(t, outbox.TypeMessageCreated, evt.Type)
	assert.Equal(t, "room-1", evt.RoomID)
	require.NotNil(t, evt.Message)
	assert.Equal(t, msg.ID, evt.Message.ID)
	assert.Equal(t, "alice", evt.Message.SenderID)
	assert.Equal(t, "tmp-42", evt.Message.TempID)
	assert.JSONEq(t, string(body), string(evt.Message.Body))
	assert.Equal(t, event.SourceLive, evt.Source)
}

func TestSendMessageRollsBackWhenOutboxInsertFails(t *testing.T) {
	work := &fakeUOW{
		messages: &fakeMessageRepo{},
		outbox:   &fakeOutboxRepo{insertErr: errors.New("insert failed")},
	}
	svc := newTestService(work, memberOf("room-1", "alice", 0))

	_, err := svc.SendMessage(context.Background(), "room-1", "alice", json.RawMessage(`{}`), "")
	require.Error(t, err)
	assert.True(t, work.rolledBack)
	assert.False(t, work.committed)
}

func TestIsMember(t *testing.T) {
	svc := newTestService(
		&fakeUOW{messages: &fakeMessageRepo{}, outbox: &fakeOutboxRepo{}},
		memberOf("room-1", "alice", 0),
	)

	ok, err := svc.IsMember(context.Background(), "room-1", "alice")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = svc.IsMember(context.Background(), "room-1", "mallory")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestBackfillStartsAtReadCursor(t *testing.T) {
	messages := &fakeMessageRepo{listed: []message.Message{{ID: 8}, {ID: 9}}}
	work := &fakeUOW{messages: messages, outbox: &fakeOutboxRepo{}}
	svc := newTestService(work, memberOf("room-1", "alice", 7))

	got, err := svc.Backfill(context.Background(), "room-1", "alice", 50)
	require.NoError(t, err)
	assert.Len(t, got, 2)
	require.Len(t, messages.listCalls, 1)
	assert.EqualValues(t, 7, messages.listCalls[0])
}

func TestBackfillForNonMemberReturnsNothing(t *testing.T) {
	messages := &fakeMessageRepo{listed: []message.Message{{ID: 1}}}
	work := &fakeUOW{messages: messages, outbox: &fakeOutboxRepo{}}
	svc := newTestService(work, memberOf("room-1", "alice", 0))

	got, err := svc.Backfill(context.Background(), "room-1", "mallory", 50)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Empty(t, messages.listCalls)
}

func TestAckAdvancesCursor(t *testing.T) {
	participants := memberOf("room-1", "alice", 3)
	svc := newTestService(&fakeUOW{messages: &fakeMessageRepo{}, outbox: &fakeOutboxRepo{}}, participants)

	require.NoError(t, svc.Ack(context.Background(), "room-1", "alice", 9))
	assert.Equal(t, []int64{9}, participants.advanced)
}
