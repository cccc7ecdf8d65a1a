package dispatch

import (
	"context"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/waxal/smsgateway/internal/receipt"
)

// Full path: three recipients are submitted, then two delivered and one
// undeliverable receipt arrive in arbitrary interleaving.
func TestBulkSendAndReconcileLifecycle(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	recipients := []string{"221770000001", "221770000002", "221770000003"}

	report, err := f.svc.SendBulk(ctx, f.userID, "WAXAL", recipients, "hello")
	require.NoError(t, err)
	require.Equal(t, int64(3), report.Succeeded)

	batch, err := f.mem.GetBatch(ctx, report.BatchID)
	require.NoError(t, err)
	require.Equal(t, int64(3), batch.Sent)
	require.Equal(t, int64(0), batch.Pending)

	// One receipt per carrier message id: the first two delivered, the
	// last undeliverable.
	f.sess.mu.Lock()
	carrierIDs := make([]string, 0, len(f.sess.submitted))
	for id := range f.sess.submitted {
		carrierIDs = append(carrierIDs, id)
	}
	f.sess.mu.Unlock()
	require.Len(t, carrierIDs, 3)

	r := receipt.NewReconciler(f.mem, f.mem)
	var wg sync.WaitGroup
	for i, id := range carrierIDs {
		i, id := i, id
		wg.Add(1)
		go func() {
			defer wg.Done()
			status := byte(2) // delivered
			errCode := ""
			if i == 2 {
				status = 5 // undeliverable
				errCode = "050"
			}
			assert.NoError(t, r.ProcessReceipt(ctx, id, status, "", errCode))
		}()
	}
	wg.Wait()

	batch, err = f.mem.GetBatch(ctx, report.BatchID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), batch.Delivered)
	assert.Equal(t, int64(1), batch.Failed)
	assert.Equal(t, int64(0), batch.Pending)
	assert.Equal(t, int64(3), batch.Sent)

	stats := batch.Stats()
	assert.True(t, stats.SuccessRate.Equal(decimal.RequireFromString("66.6")),
		"success rate = %s", stats.SuccessRate)
	assert.True(t, stats.FailureRate.Equal(decimal.RequireFromString("33.3")),
		"failure rate = %s", stats.FailureRate)
}
