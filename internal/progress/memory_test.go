package progress

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConcurrentIncrementsLoseNothing(t *testing.T) {
	tr := NewMemoryTracker()
	ctx := context.Background()
	require.NoError(t, tr.Init(ctx, "batch-1", 100))

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = tr.Increment(ctx, "batch-1", 1)
		}()
	}
	wg.Wait()

	s, err := tr.GetProgress(ctx, "batch-1")
	require.NoError(t, err)
	assert.Equal(t, int64(100), s.Current)
	assert.Equal(t, 100.0, s.Percentage)
}

func TestPercentageZeroTotal(t *testing.T) {
	tr := NewMemoryTracker()
	ctx := context.Background()
	require.NoError(t, tr.Init(ctx, "empty", 0))
	require.NoError(t, tr.Increment(ctx, "empty", 3))

	s, err := tr.GetProgress(ctx, "empty")
	require.NoError(t, err)
	assert.Equal(t, 0.0, s.Percentage)
}

func TestRateAndETA(t *testing.T) {
	tr := NewMemoryTracker()
	base := time.Now()
	tr.now = func() time.Time { return base }
	ctx := context.Background()
	require.NoError(t, tr.Init(ctx, "k", 100))
	require.NoError(t, tr.Increment(ctx, "k", 40))

	tr.now = func() time.Time { return base.Add(10 * time.Second) }
	s, err := tr.GetProgress(ctx, "k")
	require.NoError(t, err)
	assert.InDelta(t, 4.0, s.Rate, 0.001)
	assert.InDelta(t, 15.0, s.ETASeconds, 0.001)
}

func TestMarkCompletedAndReason(t *testing.T) {
	tr := NewMemoryTracker()
	ctx := context.Background()
	require.NoError(t, tr.Init(ctx, "k", 10))
	require.NoError(t, tr.MarkCompleted(ctx, "k", "all rows inserted"))

	s, err := tr.GetProgress(ctx, "k")
	require.NoError(t, err)
	assert.True(t, s.Completed)
	assert.Equal(t, "all rows inserted", s.Reason)
}

func TestDetailedProgress(t *testing.T) {
	tr := NewMemoryTracker()
	ctx := context.Background()
	require.NoError(t, tr.Init(ctx, "k", 50))
	require.NoError(t, tr.UpdateDetailedProgress(ctx, "k", 40, 35, 3, 2, false))

	s, err := tr.GetProgress(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, int64(40), s.Current)
	assert.Equal(t, int64(35), s.Inserted)
	assert.Equal(t, int64(3), s.Duplicates)
	assert.Equal(t, int64(2), s.Errors)
}

func TestRemoveIsIdempotent(t *testing.T) {
	tr := NewMemoryTracker()
	ctx := context.Background()
	assert.NoError(t, tr.Remove(ctx, "never-existed"))

	require.NoError(t, tr.Init(ctx, "k", 1))
	assert.True(t, tr.Exists(ctx, "k"))
	assert.NoError(t, tr.Remove(ctx, "k"))
	assert.False(t, tr.Exists(ctx, "k"))
	assert.NoError(t, tr.Remove(ctx, "k"))

	_, err := tr.GetProgress(ctx, "k")
	assert.ErrorIs(t, err, ErrUnknownKey)
}
