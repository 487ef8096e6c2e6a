package ioutboxrepo

import (
	"context"
	"time"

	"github.com/arcsolve/relay/internal/service/models/outbox"
)

// IOutboxRepository defines the atomic operations on the outbox table.
// Claim, reap and the three resolve operations are the only code paths that
// mutate status, locked_by and locked_until.
type IOutboxRepository interface {
	// Insert adds a new row to the outbox and returns its id.
	Insert(ctx context.Context, row outbox.Row) (int64, error)

	// ClaimBatch atomically selects up to batchSize eligible rows whose type
	// starts with typePrefix, marks them in_progress, leases them to workerID
	// for leaseDuration and increments attempts. Rows locked by concurrent
	// claimers are skipped, not waited on. An empty result is not an error.
	ClaimBatch(
		ctx context.Context,
		workerID string,
		typePrefix string,
		batchSize int,
		leaseDuration time.Duration,
	) ([]outbox.Row, error)

	// ReapExpired resets in_progress rows with an expired lease back to
	// pending, leaving attempts untouched. Returns the number of reaped rows.
	ReapExpired(ctx context.Context) (int64, error)

	// MarkPublished finalizes a delivered row.
	MarkPublished(ctx context.Context, id int64) error

	// Reschedule returns a row to pending with the given delay, recording the
	// cause of the failed attempt.
	Reschedule(ctx context.Context, id int64, delay time.Duration, cause string) error

	// MarkDead dead-letters a row terminally, recording the cause.
	MarkDead(ctx context.Context, id int64, cause string) error
}
