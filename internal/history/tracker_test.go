package history

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/waxal/smsgateway/internal/store"
	"github.com/waxal/smsgateway/pkg/codes"
)

func TestAttemptLifecycle(t *testing.T) {
	mem := store.NewMemory()
	tr := NewTracker(mem)

	start := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	now := start
	tr.now = func() time.Time { return now }

	batchID := uuid.New()
	rec, err := tr.StartAttempt(context.Background(), batchID, 1)
	require.NoError(t, err)
	assert.Equal(t, codes.AttemptStatusInProgress, rec.Status)
	assert.Equal(t, start, rec.StartedAt)
	assert.Nil(t, rec.EndedAt)

	now = start.Add(90*time.Second + 400*time.Millisecond)
	lastErr := "carrier timeout"
	require.NoError(t, tr.CloseAttempt(context.Background(), rec, 7, 3, 0, &lastErr, codes.AttemptStatusError))

	attempts, err := tr.ListAttempts(context.Background(), batchID)
	require.NoError(t, err)
	require.Len(t, attempts, 1)

	got := attempts[0]
	assert.Equal(t, int64(90), got.DurationSecs)
	assert.Equal(t, int64(7), got.SuccessCount)
	assert.Equal(t, int64(3), got.FailedCount)
	assert.Equal(t, codes.AttemptStatusError, got.Status)
	require.NotNil(t, got.LastError)
	assert.Equal(t, "carrier timeout", *got.LastError)
	require.NotNil(t, got.EndedAt)
}

func TestAttemptOrdinalsAccumulate(t *testing.T) {
	mem := store.NewMemory()
	tr := NewTracker(mem)
	batchID := uuid.New()

	for ordinal := int32(1); ordinal <= 3; ordinal++ {
		rec, err := tr.StartAttempt(context.Background(), batchID, ordinal)
		require.NoError(t, err)
		require.NoError(t, tr.CloseAttempt(context.Background(), rec, 1, 0, 0, nil, codes.AttemptStatusCompleted))
	}

	attempts, err := tr.ListAttempts(context.Background(), batchID)
	require.NoError(t, err)
	require.Len(t, attempts, 3)
	for i, a := range attempts {
		assert.Equal(t, int32(i+1), a.RetryOrdinal)
		assert.True(t, a.Status.IsTerminal())
	}
}
