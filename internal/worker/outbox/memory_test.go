package outbox

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	model "github.com/arcsolve/relay/internal/service/models/outbox"
)

// memOutboxRepo is an in-memory outbox repository honoring the same
// atomicity contract as the Postgres implementation: claim, reap and resolve
// are each one critical section, terminal rows never change, and resolve
// operations only touch rows that are still in_progress.
type memOutboxRepo struct {
	mu     sync.Mutex
	now    func() time.Time
	nextID int64
	rows   map[int64]*model.Row
}

func newMemOutboxRepo() *memOutboxRepo {
	base := time.Now()

	return &memOutboxRepo{
		now:  func() time.Time { return base },
		rows: make(map[int64]*model.Row),
	}
}

func (r *memOutboxRepo) advance(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev := r.now
	r.now = func() time.Time { return prev().Add(d) }
}

func (r *memOutboxRepo) get(id int64) model.Row {
	r.mu.Lock()
	defer r.mu.Unlock()

	return *r.rows[id]
}

func (r *memOutboxRepo) Insert(_ context.Context, row model.Row) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	row.ID = r.nextID
	if row.Status == "" {
		row.Status = model.StatusPending
	}
	if row.NextAttemptAt.IsZero() {
		row.NextAttemptAt = r.now()
	}
	row.CreatedAt = r.now()
	r.rows[row.ID] = &row

	return row.ID, nil
}

func (r *memOutboxRepo) ClaimBatch(
	_ context.Context,
	workerID string,
	typePrefix string,
	batchSize int,
	leaseDuration time.Duration,
) ([]model.Row, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()

	var eligible []*model.Row
	for _, row := range r.rows {
		if row.Status == model.StatusPending &&
			!row.NextAttemptAt.After(now) &&
			strings.HasPrefix(row.Type, typePrefix) {
			eligible = append(eligible, row)
		}
	}
	sort.Slice(eligible, func(i, j int) bool {
		if !eligible[i].NextAttemptAt.Equal(eligible[j].NextAttemptAt) {
			return eligible[i].NextAttemptAt.Before(eligible[j].NextAttemptAt)
		}
		return eligible[i].ID < eligible[j].ID
	})
	if len(eligible) > batchSize {
		eligible = eligible[:batchSize]
	}

	until := now.Add(leaseDuration)
	claimed := make([]model.Row, 0, len(eligible))
	for _, row := range eligible {
		row.Status = model.StatusInProgress
		row.LockedBy = &workerID
		row.LockedUntil = &until
		row.Attempts++
		row.Error = nil
		claimed = append(claimed, *row)
	}

	return claimed, nil
}

func (r *memOutboxRepo) ReapExpired(_ context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()

	var count int64
	for _, row := range r.rows {
		if row.Status == model.StatusInProgress &&
			row.LockedUntil != nil &&
			!row.LockedUntil.After(now) {
			row.Status = model.StatusPending
			row.LockedBy = nil
			row.LockedUntil = nil
			count++
		}
	}

	return count, nil
}

func (r *memOutboxRepo) MarkPublished(_ context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	row, ok := r.rows[id]
	if !ok || row.Status != model.StatusInProgress {
		return nil
	}

	now := r.now()
	row.Status = model.StatusPublished
	row.PublishedAt = &now
	row.LockedBy = nil
	row.LockedUntil = nil
	row.Error = nil

	return nil
}

func (r *memOutboxRepo) Reschedule(_ context.Context, id int64, delay time.Duration, cause string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	row, ok := r.rows[id]
	if !ok || row.Status != model.StatusInProgress {
		return nil
	}

	row.Status = model.StatusPending
	row.NextAttemptAt = r.now().Add(delay)
	row.LockedBy = nil
	row.LockedUntil = nil
	row.Error = &cause

	return nil
}

func (r *memOutboxRepo) MarkDead(_ context.Context, id int64, cause string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	row, ok := r.rows[id]
	if !ok || row.Status != model.StatusInProgress {
		return nil
	}

	row.Status = model.StatusDead
	row.LockedBy = nil
	row.LockedUntil = nil
	row.Error = &cause

	return nil
}
