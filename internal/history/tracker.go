// Package history records retry passes over batches. Each pass is one
// append-only AttemptRecord, opened before the first re-send and closed when
// the pass ends, whatever the outcome.
package history

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/waxal/smsgateway/internal/domain"
	"github.com/waxal/smsgateway/internal/logging"
	"github.com/waxal/smsgateway/internal/store"
	"github.com/waxal/smsgateway/pkg/codes"
)

// Tracker writes attempt history through the store.
type Tracker struct {
	attempts store.AttemptStore

	// now is swappable for tests.
	now func() time.Time
}

func NewTracker(attempts store.AttemptStore) *Tracker {
	return &Tracker{attempts: attempts, now: time.Now}
}

// StartAttempt opens the record for one retry pass.
func (t *Tracker) StartAttempt(ctx context.Context, batchID uuid.UUID, ordinal int32) (*domain.AttemptRecord, error) {
	rec := &domain.AttemptRecord{
		ID:           uuid.New(),
		BatchID:      batchID,
		RetryOrdinal: ordinal,
		StartedAt:    t.now(),
		Status:       codes.AttemptStatusInProgress,
	}
	if err := t.attempts.CreateAttempt(ctx, rec); err != nil {
		return nil, err
	}
	logCtx := logging.ContextWithBatchID(ctx, batchID)
	logCtx = logging.ContextWithAttempt(logCtx, ordinal)
	slog.InfoContext(logCtx, "retry pass started")
	return rec, nil
}

// CloseAttempt stamps the end of a pass. Duration is whole seconds between
// start and end.
func (t *Tracker) CloseAttempt(ctx context.Context, rec *domain.AttemptRecord, success, failed, pending int64, lastErr *string, status codes.AttemptStatus) error {
	end := t.now()
	rec.EndedAt = &end
	rec.DurationSecs = int64(end.Sub(rec.StartedAt).Seconds())
	rec.SuccessCount = success
	rec.FailedCount = failed
	rec.PendingCount = pending
	rec.LastError = lastErr
	rec.Status = status

	if err := t.attempts.CloseAttempt(ctx, rec); err != nil {
		return err
	}
	logCtx := logging.ContextWithBatchID(ctx, rec.BatchID)
	logCtx = logging.ContextWithAttempt(logCtx, rec.RetryOrdinal)
	slog.InfoContext(logCtx, "retry pass closed",
		slog.String("status", string(status)),
		slog.Int64("success", success),
		slog.Int64("failed", failed),
		slog.Int64("duration_secs", rec.DurationSecs))
	return nil
}

// ListAttempts returns the pass history for a batch.
func (t *Tracker) ListAttempts(ctx context.Context, batchID uuid.UUID) ([]domain.AttemptRecord, error) {
	return t.attempts.ListAttempts(ctx, batchID)
}
