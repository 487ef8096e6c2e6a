package postgres

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/arcsolve/relay/internal/dal/postgres"
	"github.com/arcsolve/relay/internal/service/models/outbox"
)

// OutboxRepository implements the outbox repository for PostgreSQL.
type OutboxRepository struct {
	db postgres.Queryer
}

// NewOutboxRepository creates a new outbox repository. The queryer may be a
// pool or an open transaction.
func NewOutboxRepository(db postgres.Queryer) *OutboxRepository {
	return &OutboxRepository{
		db: db,
	}
}

// Insert adds a new row to the outbox and returns its id.
func (r *OutboxRepository) Insert(ctx context.Context, row outbox.Row) (int64, error) {
	status := row.Status
	if status == "" {
		status = outbox.StatusPending
	}

	query, args, err := sq.Insert("outbox").
		Columns(
			"type",
			"room_id",
			"payload",
			"status",
			"attempts",
			"next_attempt_at",
		).
		Values(
			row.Type,
			row.RoomID,
			row.Payload,
			status,
			row.Attempts,
			sq.Expr("COALESCE(?, NOW())", nullableTime(row.NextAttemptAt)),
		).
		Suffix("RETURNING id").
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("failed to build insert query: %w", err)
	}

	var id int64
	if err := r.db.QueryRow(ctx, query, args...).Scan(&id); err != nil {
		return 0, fmt.Errorf("failed to insert outbox row: %w", err)
	}

	return id, nil
}

// claimQuery selects eligible rows with SKIP LOCKED so concurrent claimers
// never block on each other, then leases them in the same statement. The
// select-and-update runs as one statement, which is the sole serialization
// point between worker instances.
const claimQuery = `
UPDATE outbox SET
	status = 'in_progress',
	locked_by = $1,
	locked_until = NOW() + make_interval(secs => $2),
	attempts = attempts + 1,
	error = NULL
WHERE id IN (
	SELECT id FROM outbox
	WHERE status = 'pending'
	  AND next_attempt_at <= NOW()
	  AND type LIKE $3
	ORDER BY next_attempt_at, id
	LIMIT $4
	FOR UPDATE SKIP LOCKED
)
RETURNING id, type, room_id, payload, status, attempts, next_attempt_at,
	locked_by, locked_until, published_at, error, created_at`

// ClaimBatch atomically claims up to batchSize due rows for workerID.
func (r *OutboxRepository) ClaimBatch(
	ctx context.Context,
	workerID string,
	typePrefix string,
	batchSize int,
	leaseDuration time.Duration,
) ([]outbox.Row, error) {
	rows, err := r.db.Query(ctx, claimQuery,
		workerID,
		leaseDuration.Seconds(),
		typePrefix+"%",
		batchSize,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to claim outbox batch: %w", err)
	}
	defer rows.Close()

	var claimed []outbox.Row
	for rows.Next() {
		var row outbox.Row
		err := rows.Scan(
			&row.ID,
			&row.Type,
			&row.RoomID,
			&row.Payload,
			&row.Status,
			&row.Attempts,
			&row.NextAttemptAt,
			&row.LockedBy,
			&row.LockedUntil,
			&row.PublishedAt,
			&row.Error,
			&row.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan claimed row: %w", err)
		}
		claimed = append(claimed, row)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating claimed rows: %w", err)
	}

	return claimed, nil
}

// ReapExpired resets in_progress rows whose lease has expired. Attempts stay
// as they are: the reaped attempt already counted against the cap.
func (r *OutboxRepository) ReapExpired(ctx context.Context) (int64, error) {
	query, args, err := sq.Update("outbox").
		Set("status", outbox.StatusPending).
		Set("locked_by", nil).
		Set("locked_until", nil).
		Where(sq.Eq{"status": outbox.StatusInProgress}).
		Where(sq.Expr("locked_until IS NOT NULL")).
		Where(sq.Expr("locked_until <= NOW()")).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("failed to build reap query: %w", err)
	}

	tag, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to reap expired locks: %w", err)
	}

	return tag.RowsAffected(), nil
}

// MarkPublished finalizes a delivered row.
func (r *OutboxRepository) MarkPublished(ctx context.Context, id int64) error {
	query, args, err := sq.Update("outbox").
		Set("status", outbox.StatusPublished).
		Set("published_at", sq.Expr("NOW()")).
		Set("locked_by", nil).
		Set("locked_until", nil).
		Set("error", nil).
		Where(sq.Eq{"id": id}).
		Where(sq.Eq{"status": outbox.StatusInProgress}).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build publish query: %w", err)
	}

	if _, err := r.db.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to mark outbox row published: %w", err)
	}

	return nil
}

// Reschedule returns a row to pending with a delay before the next attempt.
func (r *OutboxRepository) Reschedule(
	ctx context.Context,
	id int64,
	delay time.Duration,
	cause string,
) error {
	query, args, err := sq.Update("outbox").
		Set("status", outbox.StatusPending).
		Set("next_attempt_at", sq.Expr("NOW() + make_interval(secs => ?)", delay.Seconds())).
		Set("locked_by", nil).
		Set("locked_until", nil).
		Set("error", cause).
		Where(sq.Eq{"id": id}).
		Where(sq.Eq{"status": outbox.StatusInProgress}).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build reschedule query: %w", err)
	}

	if _, err := r.db.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to reschedule outbox row: %w", err)
	}

	return nil
}

// MarkDead dead-letters a row terminally.
func (r *OutboxRepository) MarkDead(ctx context.Context, id int64, cause string) error {
	query, args, err := sq.Update("outbox").
		Set("status", outbox.StatusDead).
		Set("locked_by", nil).
		Set("locked_until", nil).
		Set("error", cause).
		Where(sq.Eq{"id": id}).
		Where(sq.Eq{"status": outbox.StatusInProgress}).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build dead-letter query: %w", err)
	}

	if _, err := r.db.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to dead-letter outbox row: %w", err)
	}

	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}

	return &t
}
