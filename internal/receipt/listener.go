package receipt

import (
	"context"
	"log/slog"
	"time"

	"github.com/waxal/smsgateway/internal/carrier"
	"github.com/waxal/smsgateway/internal/config"
	"github.com/waxal/smsgateway/internal/logging"
	"github.com/waxal/smsgateway/internal/workers"
	"github.com/waxal/smsgateway/pkg/dlr"
)

// Listener subscribes to a carrier session's delivery receipts and hands
// each one to the receipt-processing pool. It is off by default; when
// disabled, Attach starts nothing and allocates nothing.
type Listener struct {
	enabled      bool
	drainTimeout time.Duration
	pool         *workers.Pool
	reconciler   *Reconciler
}

func NewListener(cfg config.ListenerConfig, pool *workers.Pool, reconciler *Reconciler) *Listener {
	return &Listener{
		enabled:      cfg.Enabled,
		drainTimeout: cfg.DrainTimeout,
		pool:         pool,
		reconciler:   reconciler,
	}
}

func (l *Listener) Enabled() bool { return l.enabled }

// Attach subscribes the listener to a session's receipt stream.
func (l *Listener) Attach(ctx context.Context, sess carrier.Session) {
	if !l.enabled {
		slog.InfoContext(ctx, "delivery receipt listener disabled")
		return
	}
	sess.SubscribeReceipts(l.handle)
	slog.InfoContext(ctx, "delivery receipt listener attached")
}

// handle runs on the session's read path, so it only extracts fields and
// queues the reconciliation. One bad receipt never stops the stream.
func (l *Listener) handle(ctx context.Context, evt carrier.ReceiptEvent) {
	carrierMessageID := dlr.FirstID(evt.IDField)
	if carrierMessageID == "" {
		slog.WarnContext(ctx, "receipt without a message id skipped",
			slog.String("body", evt.Body))
		return
	}
	errorCode := dlr.ErrorCode(evt.Body)

	logCtx := logging.ContextWithCarrierMsgID(ctx, carrierMessageID)
	err := l.pool.Submit(ctx, func(taskCtx context.Context) {
		if err := l.reconciler.ProcessReceipt(taskCtx, carrierMessageID, evt.StatusCode, evt.Destination, errorCode); err != nil {
			slog.ErrorContext(logCtx, "receipt processing failed", slog.Any("error", err))
		}
	})
	if err != nil {
		slog.ErrorContext(logCtx, "receipt could not be queued", slog.Any("error", err))
	}
}

// Drain waits for queued receipt work to finish within the configured grace
// period. Called during shutdown, after the session stops producing events.
func (l *Listener) Drain(ctx context.Context) {
	if !l.enabled {
		return
	}
	drainCtx, cancel := context.WithTimeout(ctx, l.drainTimeout)
	defer cancel()
	if err := l.pool.Shutdown(drainCtx); err != nil {
		slog.WarnContext(ctx, "receipt pool did not drain cleanly", slog.Any("error", err))
	}
}
