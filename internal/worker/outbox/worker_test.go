package outbox

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	model "github.com/arcsolve/relay/internal/service/models/outbox"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubPublisher records publishes and fails according to its script.
type stubPublisher struct {
	mu        sync.Mutex
	published []model.Row
	errs      []error
	calls     int
}

func (p *stubPublisher) Publish(_ context.Context, row model.Row) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.calls++
	if len(p.errs) > 0 {
		err := p.errs[0]
		p.errs = p.errs[1:]
		if err != nil {
			return err
		}
	}
	p.published = append(p.published, row)

	return nil
}

func testProfile(maxAttempts int) Profile {
	return Profile{
		Name:          "test",
		TypePrefix:    model.TypePrefixMessage,
		PollInterval:  time.Millisecond,
		ReapInterval:  time.Millisecond,
		BatchSize:     100,
		LeaseDuration: 30 * time.Second,
		MaxAttempts:   maxAttempts,
		BackoffBase:   time.Second,
		BackoffCap:    time.Minute,
	}
}

func seedRow(t *testing.T, repo *memOutboxRepo, rowType, roomID string) int64 {
	t.Helper()

	id, err := repo.Insert(context.Background(), model.Row{
		Type:    rowType,
		RoomID:  roomID,
		Payload: []byte(`{"op":"event"}`),
	})
	require.NoError(t, err)

	return id
}

func TestClaimBatchNoDoubleClaim(t *testing.T) {
	ctx := context.Background()
	repo := newMemOutboxRepo()

	const total = 200
	for i := 0; i < total; i++ {
		seedRow(t, repo, model.TypeMessageCreated, "room-1")
	}

	const workers = 8
	var wg sync.WaitGroup
	claimed := make([][]model.Row, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for {
				batch, err := repo.ClaimBatch(ctx, "worker", model.TypePrefixMessage, 7, 30*time.Second)
				require.NoError(t, err)
				if len(batch) == 0 {
					return
				}
				claimed[n] = append(claimed[n], batch...)
			}
		}(i)
	}
	wg.Wait()

	seen := make(map[int64]int)
	for _, batch := range claimed {
		for _, row := range batch {
			seen[row.ID]++
			assert.Equal(t, 1, row.Attempts)
		}
	}

	assert.Len(t, seen, total)
	for id, n := range seen {
		assert.Equalf(t, 1, n, "row %d claimed %d times", id, n)
	}
}

func TestClaimBatchFiltersByTypePrefix(t *testing.T) {
	ctx := context.Background()
	repo := newMemOutboxRepo()

	chatID := seedRow(t, repo, model.TypeMessageCreated, "room-1")
	seedRow(t, repo, model.TypeDocumentParse, "room-1")

	batch, err := repo.ClaimBatch(ctx, "w", model.TypePrefixMessage, 100, time.Minute)
	require.NoError(t, err)
	require.Len(t, batch, 1)
	assert.Equal(t, chatID, batch[0].ID)
}

func TestLeaseRecovery(t *testing.T) {
	ctx := context.Background()
	repo := newMemOutboxRepo()
	id := seedRow(t, repo, model.TypeMessageCreated, "room-1")

	batch, err := repo.ClaimBatch(ctx, "w1", model.TypePrefixMessage, 10, 30*time.Second)
	require.NoError(t, err)
	require.Len(t, batch, 1)

	// Not reclaimable while the lease is live.
	count, err := repo.ReapExpired(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)

	batch, err = repo.ClaimBatch(ctx, "w2", model.TypePrefixMessage, 10, 30*time.Second)
	require.NoError(t, err)
	assert.Empty(t, batch)

	// Reclaimable once the lease expired and the reaper ran.
	repo.advance(31 * time.Second)
	count, err = repo.ReapExpired(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)

	row := repo.get(id)
	assert.Equal(t, model.StatusPending, row.Status)
	assert.Nil(t, row.LockedBy)
	assert.Nil(t, row.LockedUntil)
	assert.Equal(t, 1, row.Attempts, "reap must not change attempts")

	batch, err = repo.ClaimBatch(ctx, "w2", model.TypePrefixMessage, 10, 30*time.Second)
	require.NoError(t, err)
	require.Len(t, batch, 1)
	assert.Equal(t, 2, batch[0].Attempts)
}

func TestAttemptMonotonicity(t *testing.T) {
	ctx := context.Background()
	repo := newMemOutboxRepo()
	id := seedRow(t, repo, model.TypeMessageCreated, "room-1")

	for want := 1; want <= 4; want++ {
		batch, err := repo.ClaimBatch(ctx, "w", model.TypePrefixMessage, 10, time.Second)
		require.NoError(t, err)
		require.Len(t, batch, 1)
		assert.Equal(t, want, batch[0].Attempts)

		repo.advance(2 * time.Second)
		_, err = repo.ReapExpired(ctx)
		require.NoError(t, err)
		assert.Equal(t, want, repo.get(id).Attempts)
	}
}

func TestTerminalImmutability(t *testing.T) {
	ctx := context.Background()
	repo := newMemOutboxRepo()

	publishedID := seedRow(t, repo, model.TypeMessageCreated, "room-1")
	deadID := seedRow(t, repo, model.TypeMessageCreated, "room-1")

	batch, err := repo.ClaimBatch(ctx, "w", model.TypePrefixMessage, 10, time.Second)
	require.NoError(t, err)
	require.Len(t, batch, 2)
	require.NoError(t, repo.MarkPublished(ctx, publishedID))
	require.NoError(t, repo.MarkDead(ctx, deadID, "permanent failure"))

	// No further claim, reap or resolve operation changes a terminal row.
	repo.advance(time.Hour)
	count, err := repo.ReapExpired(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)

	batch, err = repo.ClaimBatch(ctx, "w", model.TypePrefixMessage, 10, time.Second)
	require.NoError(t, err)
	assert.Empty(t, batch)

	require.NoError(t, repo.Reschedule(ctx, publishedID, time.Second, "late"))
	require.NoError(t, repo.MarkDead(ctx, publishedID, "late"))
	require.NoError(t, repo.MarkPublished(ctx, deadID))

	assert.Equal(t, model.StatusPublished, repo.get(publishedID).Status)
	assert.Equal(t, model.StatusDead, repo.get(deadID).Status)
}

func TestTransientFailureReschedulesWithBaseBackoff(t *testing.T) {
	ctx := context.Background()
	repo := newMemOutboxRepo()
	id := seedRow(t, repo, model.TypeMessageCreated, "room-1")

	publisher := &stubPublisher{errs: []error{errors.New("connection refused")}}
	worker := NewWorker(repo, publisher, testProfile(8))

	worker.processBatch(ctx)

	row := repo.get(id)
	assert.Equal(t, model.StatusPending, row.Status)
	assert.Equal(t, 1, row.Attempts)
	require.NotNil(t, row.Error)
	assert.Contains(t, *row.Error, "retry 1")

	// First retry lands around now + base backoff (jitter adds up to 10%).
	delay := row.NextAttemptAt.Sub(repo.nowTime())
	assert.GreaterOrEqual(t, delay, time.Second)
	assert.LessOrEqual(t, delay, 1100*time.Millisecond)
}

func TestDurableProfileDeadAfterMaxAttempts(t *testing.T) {
	ctx := context.Background()
	repo := newMemOutboxRepo()
	id := seedRow(t, repo, model.TypeMessageCreated, "room-1")

	publisher := &stubPublisher{errs: []error{
		errors.New("boom"), errors.New("boom"), errors.New("boom"),
	}}
	worker := NewWorker(repo, publisher, testProfile(3))

	for attempt := 1; attempt <= 3; attempt++ {
		worker.processBatch(ctx)
		repo.advance(5 * time.Minute)
	}

	row := repo.get(id)
	assert.Equal(t, model.StatusDead, row.Status)
	assert.Equal(t, 3, row.Attempts)
	require.NotNil(t, row.Error)
	assert.Contains(t, *row.Error, "dead after 3 attempts")
}

func TestOneShotProfileDeadAfterSingleFailure(t *testing.T) {
	ctx := context.Background()
	repo := newMemOutboxRepo()
	id, err := repo.Insert(ctx, model.Row{
		Type:    model.TypeDocumentParse,
		RoomID:  "room-1",
		Payload: []byte(`{"document_id":"d1","user_id":"u1"}`),
	})
	require.NoError(t, err)

	var deadRows []model.Row
	profile := testProfile(1)
	profile.TypePrefix = model.TypePrefixDocument
	profile.OnDead = func(_ context.Context, row model.Row, _ error) {
		deadRows = append(deadRows, row)
	}

	publisher := &stubPublisher{errs: []error{errors.New("sidecar returned 500")}}
	worker := NewWorker(repo, publisher, profile)

	worker.processBatch(ctx)

	row := repo.get(id)
	assert.Equal(t, model.StatusDead, row.Status)
	assert.Equal(t, 1, row.Attempts)
	require.Len(t, deadRows, 1, "OnDead compensation must run exactly once")
	assert.Equal(t, id, deadRows[0].ID)
}

func TestPermanentErrorDeadLettersImmediately(t *testing.T) {
	ctx := context.Background()
	repo := newMemOutboxRepo()
	id := seedRow(t, repo, model.TypeMessageCreated, "room-1")

	publisher := &stubPublisher{errs: []error{Permanent(errors.New("malformed payload"))}}
	worker := NewWorker(repo, publisher, testProfile(8))

	worker.processBatch(ctx)

	row := repo.get(id)
	assert.Equal(t, model.StatusDead, row.Status)
	assert.Equal(t, 1, row.Attempts)
}

func TestSuccessfulPublishMarksPublished(t *testing.T) {
	ctx := context.Background()
	repo := newMemOutboxRepo()
	id := seedRow(t, repo, model.TypeMessageCreated, "room-1")

	publisher := &stubPublisher{}
	worker := NewWorker(repo, publisher, testProfile(8))

	worker.processBatch(ctx)

	row := repo.get(id)
	assert.Equal(t, model.StatusPublished, row.Status)
	require.NotNil(t, row.PublishedAt)
	assert.Nil(t, row.LockedBy)
	assert.Nil(t, row.LockedUntil)
	require.Len(t, publisher.published, 1)
	assert.Equal(t, id, publisher.published[0].ID)
}

func (r *memOutboxRepo) nowTime() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.now()
}
