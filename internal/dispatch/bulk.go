package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/waxal/smsgateway/internal/carrier"
	"github.com/waxal/smsgateway/internal/domain"
	"github.com/waxal/smsgateway/internal/logging"
	"github.com/waxal/smsgateway/internal/store"
	"github.com/waxal/smsgateway/pkg/codes"
	"github.com/waxal/smsgateway/pkg/msisdn"
)

// preparedBatch is a created batch with its rows inserted, ready for the
// send pass.
type preparedBatch struct {
	batch      *domain.Batch
	msgs       []*domain.OutboundMessage
	duplicates int64
	invalid    int64
}

// SendBulk dispatches one message body to many recipients as a tracked
// batch. Row creation fans out on the bulk-insert pool and submits on the
// bulk-send pool; the call returns when the whole pass has completed. Batch
// counters and the progress tracker are readable throughout.
func (s *Service) SendBulk(ctx context.Context, userID uuid.UUID, from string, recipients []string, body string) (BulkReport, error) {
	prepared, err := s.prepareBatch(ctx, userID, from, recipients, body)
	if err != nil {
		return BulkReport{}, err
	}
	return s.finishBulk(ctx, userID, prepared), nil
}

// SendBulkAsync creates the batch and its rows synchronously, then runs the
// send pass on the interactive pool. The returned batch id is immediately
// usable for status and progress polling.
func (s *Service) SendBulkAsync(ctx context.Context, userID uuid.UUID, from string, recipients []string, body string) (uuid.UUID, error) {
	prepared, err := s.prepareBatch(ctx, userID, from, recipients, body)
	if err != nil {
		return uuid.Nil, err
	}
	batchID := prepared.batch.ID
	err = s.pools.Interactive.Submit(ctx, func(taskCtx context.Context) {
		s.finishBulk(taskCtx, userID, prepared)
	})
	if err != nil {
		return uuid.Nil, fmt.Errorf("queue bulk send pass: %w", err)
	}
	return batchID, nil
}

func (s *Service) prepareBatch(ctx context.Context, userID uuid.UUID, from string, recipients []string, body string) (*preparedBatch, error) {
	logCtx := logging.ContextWithUserID(ctx, userID)

	if !msisdn.IsValidSender(from) {
		return nil, fmt.Errorf("invalid sender address: %q", from)
	}

	// Normalize up front so duplicates collapse on the carrier-facing form.
	seen := make(map[string]struct{}, len(recipients))
	var targets []struct{ raw, normalized string }
	var duplicates, invalid int64
	for _, raw := range recipients {
		normalized := msisdn.Normalize(raw)
		if !msisdn.IsValidRecipient(normalized) {
			invalid++
			continue
		}
		if _, dup := seen[normalized]; dup {
			duplicates++
			continue
		}
		seen[normalized] = struct{}{}
		targets = append(targets, struct{ raw, normalized string }{raw, normalized})
	}
	if len(targets) == 0 {
		return nil, fmt.Errorf("no sendable recipients (%d invalid, %d duplicate)", invalid, duplicates)
	}

	total := int64(len(targets))
	batch := &domain.Batch{
		ID:        uuid.New(),
		UserID:    userID,
		Total:     total,
		Pending:   total,
		Status:    codes.BatchStatusPending,
		CreatedAt: time.Now(),
	}
	if err := s.batches.CreateBatch(ctx, batch); err != nil {
		return nil, fmt.Errorf("create batch: %w", err)
	}
	logCtx = logging.ContextWithBatchID(logCtx, batch.ID)
	key := batch.ID.String()
	if err := s.tracker.Init(ctx, key, total); err != nil {
		slog.WarnContext(logCtx, "progress init failed", slog.Any("error", err))
	}

	coding := carrier.DataCodingFor(body)
	msgs := make([]*domain.OutboundMessage, len(targets))
	var inserted, insertErrs atomic.Int64
	var wg sync.WaitGroup
	for i, t := range targets {
		i, t := i, t
		wg.Add(1)
		err := s.pools.BulkInsert.Submit(ctx, func(taskCtx context.Context) {
			defer wg.Done()
			msg := &domain.OutboundMessage{
				ID:           uuid.New(),
				BatchID:      &batch.ID,
				UserID:       userID,
				SenderID:     from,
				RecipientRaw: t.raw,
				Recipient:    t.normalized,
				Body:         body,
				DataCoding:   coding,
				State:        codes.DeliveryStateCreated,
				CreatedAt:    time.Now(),
			}
			if err := s.messages.CreateMessage(taskCtx, msg); err != nil {
				slog.ErrorContext(logCtx, "batch row insert failed",
					slog.String("recipient", t.normalized), slog.Any("error", err))
				insertErrs.Add(1)
				return
			}
			msgs[i] = msg
			inserted.Add(1)
		})
		if err != nil {
			wg.Done()
			insertErrs.Add(1)
		}
	}
	wg.Wait()
	if err := s.tracker.UpdateDetailedProgress(ctx, key, 0, inserted.Load(), duplicates, invalid+insertErrs.Load(), false); err != nil {
		slog.WarnContext(logCtx, "progress update failed", slog.Any("error", err))
	}

	return &preparedBatch{batch: batch, msgs: msgs, duplicates: duplicates, invalid: invalid}, nil
}

// finishBulk runs the send pass over a prepared batch and settles the batch
// status and progress entry.
func (s *Service) finishBulk(ctx context.Context, userID uuid.UUID, prepared *preparedBatch) BulkReport {
	logCtx := logging.ContextWithUserID(ctx, userID)
	logCtx = logging.ContextWithBatchID(logCtx, prepared.batch.ID)
	key := prepared.batch.ID.String()

	report := s.runSendPass(logCtx, prepared.batch.ID, userID, key, prepared.msgs)
	report.Duplicates = prepared.duplicates
	report.Invalid = prepared.invalid

	status := codes.BatchStatusSent
	if report.Succeeded == 0 {
		status = codes.BatchStatusFailed
	}
	if err := s.batches.UpdateStatus(ctx, prepared.batch.ID, status); err != nil {
		slog.ErrorContext(logCtx, "batch status update failed", slog.Any("error", err))
	}
	if err := s.tracker.MarkCompleted(ctx, key, string(status)); err != nil {
		slog.WarnContext(logCtx, "progress completion failed", slog.Any("error", err))
	}
	slog.InfoContext(logCtx, "bulk send pass finished",
		slog.Int64("total", report.Total),
		slog.Int64("succeeded", report.Succeeded),
		slog.Int64("failed", report.Failed))
	return report
}

// runSendPass fans the given messages out on the bulk-send pool and blocks
// until every submit has resolved. Nil slots (failed inserts) are skipped;
// their pending slots are released as failures so the counters still add up.
func (s *Service) runSendPass(ctx context.Context, batchID, userID uuid.UUID, progressKey string, msgs []*domain.OutboundMessage) BulkReport {
	report := BulkReport{BatchID: batchID, Total: int64(len(msgs))}

	sess, sessErr := s.SessionFor(ctx, userID)

	var succeeded, failed atomic.Int64
	var wg sync.WaitGroup
	for _, msg := range msgs {
		msg := msg
		if msg == nil {
			failed.Add(1)
			if err := s.batches.ApplyDelta(ctx, batchID, store.BatchDelta{Sent: 1, Failed: 1, Pending: -1}); err != nil {
				slog.ErrorContext(ctx, "batch counter update failed", slog.Any("error", err))
			}
			continue
		}
		if sessErr != nil {
			s.recordSubmitFailure(ctx, msg, &batchID,
				fmt.Sprintf("carrier session unavailable: %v", sessErr))
			failed.Add(1)
			continue
		}
		wg.Add(1)
		err := s.pools.BulkSend.Submit(ctx, func(taskCtx context.Context) {
			defer wg.Done()
			res := s.submit(taskCtx, sess, msg, &batchID)
			if res.Success {
				succeeded.Add(1)
			} else {
				failed.Add(1)
			}
			if err := s.tracker.Increment(taskCtx, progressKey, 1); err != nil {
				slog.WarnContext(ctx, "progress increment failed", slog.Any("error", err))
			}
		})
		if err != nil {
			wg.Done()
			s.recordSubmitFailure(ctx, msg, &batchID, fmt.Sprintf("send pool unavailable: %v", err))
			failed.Add(1)
		}
	}
	wg.Wait()

	report.Succeeded = succeeded.Load()
	report.Failed = failed.Load()
	return report
}

// RetryBatch re-sends a batch's failed and unknown messages as one recorded
// attempt. The batch in-process flag is the mutual-exclusion gate: a second
// concurrent pass is rejected before any counter moves. The gate is released
// unconditionally, even when the pass errors out.
func (s *Service) RetryBatch(ctx context.Context, batchID uuid.UUID) (BulkReport, error) {
	logCtx := logging.ContextWithBatchID(ctx, batchID)

	acquired, err := s.batches.TryMarkInProcess(ctx, batchID)
	if err != nil {
		return BulkReport{}, fmt.Errorf("acquire retry gate: %w", err)
	}
	if !acquired {
		return BulkReport{}, ErrRetryInProgress
	}
	defer func() {
		if err := s.batches.ClearInProcess(context.WithoutCancel(ctx), batchID); err != nil {
			slog.ErrorContext(logCtx, "retry gate release failed", slog.Any("error", err))
		}
	}()

	ordinal, err := s.batches.IncrementRetryCount(ctx, batchID)
	if err != nil {
		return BulkReport{}, fmt.Errorf("increment retry count: %w", err)
	}
	rec, err := s.history.StartAttempt(ctx, batchID, ordinal)
	if err != nil {
		return BulkReport{}, fmt.Errorf("open attempt record: %w", err)
	}

	report, passErr := s.runRetryPass(logCtx, batchID, rec.RetryOrdinal)
	if passErr != nil {
		reason := passErr.Error()
		if err := s.history.CloseAttempt(ctx, rec, report.Succeeded, report.Failed, 0, &reason, codes.AttemptStatusError); err != nil {
			slog.ErrorContext(logCtx, "attempt record not closed", slog.Any("error", err))
		}
		return report, passErr
	}
	if err := s.history.CloseAttempt(ctx, rec, report.Succeeded, report.Failed, 0, nil, codes.AttemptStatusCompleted); err != nil {
		slog.ErrorContext(logCtx, "attempt record not closed", slog.Any("error", err))
	}
	return report, nil
}

func (s *Service) runRetryPass(ctx context.Context, batchID uuid.UUID, ordinal int32) (BulkReport, error) {
	ctx = logging.ContextWithAttempt(ctx, ordinal)
	batch, err := s.batches.GetBatch(ctx, batchID)
	if err != nil {
		return BulkReport{}, fmt.Errorf("load batch: %w", err)
	}
	retryable, err := s.messages.ListRetryable(ctx, batchID)
	if err != nil {
		return BulkReport{}, fmt.Errorf("list retryable messages: %w", err)
	}
	if len(retryable) == 0 {
		return BulkReport{BatchID: batchID}, nil
	}

	// Each message returns to pending before its re-send, reversing the
	// outcome counter it currently occupies.
	msgs := make([]*domain.OutboundMessage, 0, len(retryable))
	for i := range retryable {
		msg := retryable[i]
		delta := store.BatchDelta{Sent: -1, Pending: 1}
		if msg.State == codes.DeliveryStateUnknown {
			delta.Unknown = -1
		} else {
			delta.Failed = -1
		}
		if err := s.messages.ResetForRetry(ctx, msg.ID); err != nil {
			slog.ErrorContext(ctx, "message reset failed",
				slog.String("msg_id", msg.ID.String()), slog.Any("error", err))
			continue
		}
		if err := s.batches.ApplyDelta(ctx, batchID, delta); err != nil {
			return BulkReport{}, fmt.Errorf("rewind batch counters: %w", err)
		}
		msgs = append(msgs, &retryable[i])
	}

	// The pass re-initializes the batch's own progress key, so the same
	// polling endpoint that tracked the original send tracks the retry.
	key := batchID.String()
	if err := s.tracker.Init(ctx, key, int64(len(msgs))); err != nil {
		slog.WarnContext(ctx, "progress init failed", slog.Any("error", err))
	}
	report := s.runSendPass(ctx, batchID, batch.UserID, key, msgs)
	if err := s.tracker.MarkCompleted(ctx, key, "retry pass finished"); err != nil {
		slog.WarnContext(ctx, "progress completion failed", slog.Any("error", err))
	}
	return report, nil
}
