package outbox

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/arcsolve/relay/internal/dal/interfaces/ioutboxrepo"
	model "github.com/arcsolve/relay/internal/service/models/outbox"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

// Publisher delivers one claimed row to its destination. Returning an error
// wrapped with Permanent dead-letters the row immediately; any other error is
// treated as transient and retried under the profile's attempt cap.
type Publisher interface {
	Publish(ctx context.Context, row model.Row) error
}

// Worker drives one profile of the outbox relay: reap expired leases on a
// fixed interval, claim due rows, publish them, and record the outcome.
// Multiple instances may run concurrently; the claim statement is the only
// serialization point between them.
type Worker struct {
	outboxRepo ioutboxrepo.IOutboxRepository
	publisher  Publisher
	profile    Profile
	workerID   string
	stopCh     chan struct{}
}

// NewWorker creates a new relay worker for the given profile.
func NewWorker(
	outboxRepo ioutboxrepo.IOutboxRepository,
	publisher Publisher,
	profile Profile,
) *Worker {
	hostname, _ := os.Hostname()

	return &Worker{
		outboxRepo: outboxRepo,
		publisher:  publisher,
		profile:    profile,
		workerID:   fmt.Sprintf("%s:%d:%s", hostname, os.Getpid(), uuid.NewString()),
		stopCh:     make(chan struct{}),
	}
}

// WorkerID returns this instance's lease owner identity.
func (w *Worker) WorkerID() string {
	return w.workerID
}

// Start begins processing until the context is cancelled or Stop is called.
func (w *Worker) Start(ctx context.Context) {
	pollTicker := time.NewTicker(w.profile.PollInterval)
	defer pollTicker.Stop()
	reapTicker := time.NewTicker(w.profile.ReapInterval)
	defer reapTicker.Stop()

	slog.Info("Outbox worker started",
		"profile", w.profile.Name,
		"worker_id", w.workerID,
		"poll_interval", w.profile.PollInterval,
		"batch_size", w.profile.BatchSize,
		"max_attempts", w.profile.MaxAttempts,
	)

	for {
		select {
		case <-ctx.Done():
			slog.Info("Outbox worker shutting down", "profile", w.profile.Name)

			return
		case <-w.stopCh:
			slog.Info("Outbox worker stopped", "profile", w.profile.Name)

			return
		case <-reapTicker.C:
			w.reap(ctx)
		case <-pollTicker.C:
			w.processBatch(ctx)
		}
	}
}

// Stop stops the worker.
func (w *Worker) Stop() {
	close(w.stopCh)
}

// reap recovers rows abandoned by crashed workers. Failures are logged and
// retried on the next interval; a transient store error is expected noise.
func (w *Worker) reap(ctx context.Context) {
	count, err := w.outboxRepo.ReapExpired(ctx)
	if err != nil {
		if IsTransient(err) {
			slog.Warn("Transient error reaping expired locks", "profile", w.profile.Name, "error", err)
		} else {
			slog.Error("Failed to reap expired locks", "profile", w.profile.Name, "error", err)
		}

		return
	}

	if count > 0 {
		slog.Warn("Reaped expired locks", "profile", w.profile.Name, "count", count)
	}
}

// processBatch claims due rows and resolves each one. An empty batch means no
// work is due, which is normal backpressure rather than an error.
func (w *Worker) processBatch(ctx context.Context) {
	ctx, span := otel.Tracer("relay").Start(ctx, "outbox.process_batch")
	defer span.End()

	rows, err := w.outboxRepo.ClaimBatch(
		ctx,
		w.workerID,
		w.profile.TypePrefix,
		w.profile.BatchSize,
		w.profile.LeaseDuration,
	)
	if err != nil {
		slog.Error("Failed to claim outbox batch", "profile", w.profile.Name, "error", err)

		return
	}

	if len(rows) == 0 {
		return
	}

	span.SetAttributes(attribute.Int("outbox.batch_size", len(rows)))
	slog.Info("Processing outbox batch", "profile", w.profile.Name, "count", len(rows))

	var ok, failed int
	for _, row := range rows {
		if err := w.publisher.Publish(ctx, row); err != nil {
			w.resolveFailure(ctx, row, err)
			failed++

			continue
		}

		if err := w.outboxRepo.MarkPublished(ctx, row.ID); err != nil {
			// The publish went out; the lease will expire and the row will be
			// re-published, which at-least-once delivery permits.
			slog.Error("Failed to mark outbox row published",
				"profile", w.profile.Name,
				"outbox_id", row.ID,
				"error", err,
			)
		}
		ok++
	}

	if ok > 0 {
		slog.Info("Published outbox rows", "profile", w.profile.Name, "ok", ok, "total", len(rows))
	}
	if failed > 0 {
		slog.Warn("Failed outbox rows", "profile", w.profile.Name, "failed", failed, "total", len(rows))
	}
}

// resolveFailure reschedules a transient failure with backoff, or
// dead-letters the row on a permanent failure or attempt exhaustion.
func (w *Worker) resolveFailure(ctx context.Context, row model.Row, cause error) {
	exhausted := row.Attempts >= w.profile.MaxAttempts

	if IsPermanent(cause) || exhausted {
		msg := fmt.Sprintf("dead after %d attempts: %v", row.Attempts, cause)
		if err := w.outboxRepo.MarkDead(ctx, row.ID, msg); err != nil {
			slog.Error("Failed to dead-letter outbox row",
				"profile", w.profile.Name,
				"outbox_id", row.ID,
				"error", err,
			)

			return
		}

		slog.Error("Outbox row dead-lettered",
			"profile", w.profile.Name,
			"outbox_id", row.ID,
			"attempts", row.Attempts,
			"error", cause,
		)

		if w.profile.OnDead != nil {
			w.profile.OnDead(ctx, row, cause)
		}

		return
	}

	delay := NextBackoff(row.Attempts, w.profile.BackoffBase, w.profile.BackoffCap)
	msg := fmt.Sprintf("retry %d: %v", row.Attempts, cause)
	if err := w.outboxRepo.Reschedule(ctx, row.ID, delay, msg); err != nil {
		slog.Error("Failed to reschedule outbox row",
			"profile", w.profile.Name,
			"outbox_id", row.ID,
			"error", err,
		)

		return
	}

	slog.Warn("Outbox publish failed, will retry",
		"profile", w.profile.Name,
		"outbox_id", row.ID,
		"attempts", row.Attempts,
		"next_attempt_in", delay,
		"error", cause,
	)
}
