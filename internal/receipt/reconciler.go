// Package receipt closes the loop on submitted messages: the listener takes
// raw delivery receipts off the carrier session and the reconciler folds
// them into message state and batch counters.
package receipt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/waxal/smsgateway/internal/logging"
	"github.com/waxal/smsgateway/internal/store"
	"github.com/waxal/smsgateway/pkg/codes"
)

// Reconciler applies one receipt to the owning message and batch.
type Reconciler struct {
	messages store.MessageStore
	batches  store.BatchStore
}

func NewReconciler(messages store.MessageStore, batches store.BatchStore) *Reconciler {
	return &Reconciler{messages: messages, batches: batches}
}

// ProcessReceipt resolves the carrier message id and records the outcome.
// An unknown id is logged and dropped: receipts can legitimately arrive
// before the local row commits, or reference a stale correlation id, and
// must never create a message or move a counter.
func (r *Reconciler) ProcessReceipt(ctx context.Context, carrierMessageID string, statusCode byte, destination, errorCode string) error {
	logCtx := logging.ContextWithCarrierMsgID(ctx, carrierMessageID)
	logCtx = logging.ContextWithMSISDN(logCtx, destination)

	msg, err := r.messages.GetByCarrierMessageID(ctx, carrierMessageID)
	if errors.Is(err, store.ErrNotFound) {
		slog.InfoContext(logCtx, "receipt for unknown carrier message id dropped",
			slog.Int("status_code", int(statusCode)))
		return nil
	}
	if err != nil {
		return fmt.Errorf("resolve receipt target: %w", err)
	}

	state := codes.DeliveryStateFromReceipt(statusCode)
	var lastError *string
	if errorCode != "" && errorCode != "000" {
		e := fmt.Sprintf("carrier error %s", errorCode)
		lastError = &e
	}
	prior, applied, err := r.messages.UpdateDeliveryState(ctx, msg.ID, state, lastError, time.Now())
	if err != nil {
		return fmt.Errorf("record receipt outcome: %w", err)
	}

	// The delta is derived from the same prior state the store transitioned
	// from, so the message always leaves the bucket it occupied: an
	// intermediate receipt parks it in Unknown, and the terminal receipt that
	// follows moves it out again. A suppressed transition moves nothing.
	if applied && msg.BatchID != nil {
		delta := transitionDelta(prior, state)
		if delta != (store.BatchDelta{}) {
			if err := r.batches.ApplyDelta(ctx, *msg.BatchID, delta); err != nil {
				return fmt.Errorf("apply receipt batch delta: %w", err)
			}
		}
	}

	slog.InfoContext(logging.ContextWithMessageID(logCtx, msg.ID), "receipt reconciled",
		slog.String("state", string(state)))
	return nil
}

// transitionDelta is the counter move for one applied state transition:
// leave the bucket held before the receipt, enter the bucket of the new
// state. SUBMITTED occupies no outcome bucket.
func transitionDelta(prior, next codes.DeliveryState) store.BatchDelta {
	var d store.BatchDelta
	bumpBucket(&d, prior, -1)
	bumpBucket(&d, next, 1)
	return d
}

func bumpBucket(d *store.BatchDelta, state codes.DeliveryState, n int64) {
	switch state {
	case codes.DeliveryStateDelivered:
		d.Delivered += n
	case codes.DeliveryStateUndeliverable, codes.DeliveryStateExpired, codes.DeliveryStateRejected:
		d.Failed += n
	case codes.DeliveryStateUnknown:
		d.Unknown += n
	}
}
