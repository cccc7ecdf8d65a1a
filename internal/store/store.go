// Package store defines the persistence boundary of the gateway. The
// postgres implementation backs production; the memory implementation backs
// unit tests and single-node deployments without a database.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/waxal/smsgateway/internal/domain"
	"github.com/waxal/smsgateway/pkg/codes"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("store: not found")

// BatchDelta is an atomic adjustment to a batch's outcome counters.
type BatchDelta struct {
	Sent      int64
	Delivered int64
	Failed    int64
	Unknown   int64
	Pending   int64
}

// MessageStore persists outbound messages.
type MessageStore interface {
	CreateMessage(ctx context.Context, msg *domain.OutboundMessage) error
	// MarkSubmitted assigns the carrier message id. The id is assigned exactly
	// once; a second assignment attempt is an error.
	MarkSubmitted(ctx context.Context, id uuid.UUID, carrierMessageID string, sentAt time.Time) error
	MarkSubmitFailed(ctx context.Context, id uuid.UUID, lastError string) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.OutboundMessage, error)
	GetByCarrierMessageID(ctx context.Context, carrierMessageID string) (*domain.OutboundMessage, error)
	// UpdateDeliveryState records a receipt outcome and reports the state the
	// message held before the call. The first terminal state wins: once
	// terminal, the transition is suppressed and applied is false. Prior state
	// and transition decision are atomic so callers can derive counter moves
	// from them without racing a concurrent receipt.
	UpdateDeliveryState(ctx context.Context, id uuid.UUID, state codes.DeliveryState, lastError *string, processedAt time.Time) (prior codes.DeliveryState, applied bool, err error)
	// ListRetryable returns the batch's messages eligible for a retry pass
	// (submit failures and unknowns).
	ListRetryable(ctx context.Context, batchID uuid.UUID) ([]domain.OutboundMessage, error)
	// ResetForRetry returns a message to its pre-submit state so a retry
	// pass can assign a fresh carrier message id.
	ResetForRetry(ctx context.Context, id uuid.UUID) error
	// SweepStale force-transitions messages stuck in SUBMITTED since before
	// the cutoff to UNKNOWN with the given note, returning how many moved.
	SweepStale(ctx context.Context, cutoff time.Time, note string) (int64, error)
}

// BatchStore persists batches and their hot counters.
type BatchStore interface {
	CreateBatch(ctx context.Context, b *domain.Batch) error
	GetBatch(ctx context.Context, id uuid.UUID) (*domain.Batch, error)
	// ApplyDelta atomically adjusts the batch counters. Never read-modify-write.
	ApplyDelta(ctx context.Context, id uuid.UUID, d BatchDelta) error
	UpdateStatus(ctx context.Context, id uuid.UUID, status codes.BatchStatus) error
	// TryMarkInProcess is the retry mutual-exclusion gate: a compare-and-set
	// of in_process from false to true. Returns false when already held.
	TryMarkInProcess(ctx context.Context, id uuid.UUID) (bool, error)
	ClearInProcess(ctx context.Context, id uuid.UUID) error
	IncrementRetryCount(ctx context.Context, id uuid.UUID) (int32, error)
}

// AttemptStore persists the append-only retry history.
type AttemptStore interface {
	CreateAttempt(ctx context.Context, a *domain.AttemptRecord) error
	CloseAttempt(ctx context.Context, a *domain.AttemptRecord) error
	ListAttempts(ctx context.Context, batchID uuid.UUID) ([]domain.AttemptRecord, error)
}

// ChannelStore resolves tenant carrier credentials.
type ChannelStore interface {
	GetChannelConfig(ctx context.Context, userID uuid.UUID) (*domain.ChannelConfig, error)
}
