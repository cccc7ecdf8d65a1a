package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/waxal/smsgateway/internal/domain"
	"github.com/waxal/smsgateway/pkg/codes"
)

func newMessage(batchID *uuid.UUID) *domain.OutboundMessage {
	return &domain.OutboundMessage{
		ID:        uuid.New(),
		BatchID:   batchID,
		UserID:    uuid.New(),
		SenderID:  "WAXAL",
		Recipient: "221770000001",
		Body:      "hello",
		State:     codes.DeliveryStateCreated,
		CreatedAt: time.Now(),
	}
}

func TestMarkSubmittedAssignsCarrierIDOnce(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	msg := newMessage(nil)
	require.NoError(t, m.CreateMessage(ctx, msg))

	require.NoError(t, m.MarkSubmitted(ctx, msg.ID, "C1", time.Now()))
	err := m.MarkSubmitted(ctx, msg.ID, "C2", time.Now())

	require.Error(t, err)
	got, err := m.GetByCarrierMessageID(ctx, "C1")
	require.NoError(t, err)
	assert.Equal(t, msg.ID, got.ID)
	assert.Equal(t, codes.DeliveryStateSubmitted, got.State)
}

func TestUpdateDeliveryStateTerminalWins(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	msg := newMessage(nil)
	require.NoError(t, m.CreateMessage(ctx, msg))
	require.NoError(t, m.MarkSubmitted(ctx, msg.ID, "C1", time.Now()))

	prior, applied, err := m.UpdateDeliveryState(ctx, msg.ID, codes.DeliveryStateDelivered, nil, time.Now())
	require.NoError(t, err)
	assert.Equal(t, codes.DeliveryStateSubmitted, prior)
	assert.True(t, applied)

	prior, applied, err = m.UpdateDeliveryState(ctx, msg.ID, codes.DeliveryStateUnknown, nil, time.Now())
	require.NoError(t, err)
	assert.Equal(t, codes.DeliveryStateDelivered, prior)
	assert.False(t, applied)

	got, err := m.GetByID(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, codes.DeliveryStateDelivered, got.State)
}

func TestResetForRetryUnlinksCarrierID(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	msg := newMessage(nil)
	require.NoError(t, m.CreateMessage(ctx, msg))
	require.NoError(t, m.MarkSubmitted(ctx, msg.ID, "C1", time.Now()))

	require.NoError(t, m.ResetForRetry(ctx, msg.ID))

	got, err := m.GetByID(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, codes.DeliveryStateCreated, got.State)
	assert.Nil(t, got.CarrierMessageID)
	assert.Nil(t, got.SentAt)

	_, err = m.GetByCarrierMessageID(ctx, "C1")
	assert.ErrorIs(t, err, ErrNotFound)

	// The original id is free again after the reset.
	require.NoError(t, m.MarkSubmitted(ctx, msg.ID, "C9", time.Now()))
}

func TestSweepStaleOnlyTouchesOldSubmitted(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	batch := &domain.Batch{ID: uuid.New(), Total: 3, Sent: 3, Status: codes.BatchStatusSent}
	require.NoError(t, m.CreateBatch(ctx, batch))

	stale := newMessage(&batch.ID)
	fresh := newMessage(&batch.ID)
	delivered := newMessage(&batch.ID)
	for _, msg := range []*domain.OutboundMessage{stale, fresh, delivered} {
		require.NoError(t, m.CreateMessage(ctx, msg))
	}
	require.NoError(t, m.MarkSubmitted(ctx, stale.ID, "OLD", time.Now().Add(-48*time.Hour)))
	require.NoError(t, m.MarkSubmitted(ctx, fresh.ID, "NEW", time.Now()))
	require.NoError(t, m.MarkSubmitted(ctx, delivered.ID, "DONE", time.Now().Add(-48*time.Hour)))
	_, _, err := m.UpdateDeliveryState(ctx, delivered.ID, codes.DeliveryStateDelivered, nil, time.Now())
	require.NoError(t, err)

	n, err := m.SweepStale(ctx, time.Now().Add(-24*time.Hour), "no receipt")
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	got, err := m.GetByID(ctx, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, codes.DeliveryStateUnknown, got.State)
	require.NotNil(t, got.LastError)
	assert.Equal(t, "no receipt", *got.LastError)

	untouched, err := m.GetByID(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, codes.DeliveryStateSubmitted, untouched.State)

	b, err := m.GetBatch(ctx, batch.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, b.Unknown)
}

func TestApplyDeltaAccumulates(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	batch := &domain.Batch{ID: uuid.New(), Total: 10, Pending: 10, Status: codes.BatchStatusPending}
	require.NoError(t, m.CreateBatch(ctx, batch))

	require.NoError(t, m.ApplyDelta(ctx, batch.ID, BatchDelta{Sent: 1, Pending: -1}))
	require.NoError(t, m.ApplyDelta(ctx, batch.ID, BatchDelta{Sent: 1, Failed: 1, Pending: -1}))

	got, err := m.GetBatch(ctx, batch.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 2, got.Sent)
	assert.EqualValues(t, 1, got.Failed)
	assert.EqualValues(t, 8, got.Pending)
	assert.EqualValues(t, got.Total, got.Sent+got.Pending)
}

func TestTryMarkInProcessIsExclusive(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	batch := &domain.Batch{ID: uuid.New(), Status: codes.BatchStatusSent}
	require.NoError(t, m.CreateBatch(ctx, batch))

	first, err := m.TryMarkInProcess(ctx, batch.ID)
	require.NoError(t, err)
	second, err := m.TryMarkInProcess(ctx, batch.ID)
	require.NoError(t, err)
	assert.True(t, first)
	assert.False(t, second)

	require.NoError(t, m.ClearInProcess(ctx, batch.ID))
	third, err := m.TryMarkInProcess(ctx, batch.ID)
	require.NoError(t, err)
	assert.True(t, third)
}
