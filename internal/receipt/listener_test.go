package receipt

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/waxal/smsgateway/internal/carrier"
	"github.com/waxal/smsgateway/internal/config"
	"github.com/waxal/smsgateway/internal/store"
	"github.com/waxal/smsgateway/internal/workers"
	"github.com/waxal/smsgateway/pkg/codes"
)

// stubSession only records the subscribed handler.
type stubSession struct {
	handler carrier.ReceiptHandler
}

func (s *stubSession) Submit(context.Context, carrier.SubmitRequest) (carrier.SubmitResponse, error) {
	return carrier.SubmitResponse{}, nil
}

func (s *stubSession) QueryStatus(context.Context, string, string) (codes.MessageStatus, error) {
	return codes.MessageStatusUnknown, nil
}

func (s *stubSession) SubscribeReceipts(handler carrier.ReceiptHandler) { s.handler = handler }
func (s *stubSession) Status() string                                   { return codes.StatusBound }
func (s *stubSession) Close(context.Context) error                      { return nil }

func TestListenerDisabledSubscribesNothing(t *testing.T) {
	sess := &stubSession{}
	l := NewListener(config.ListenerConfig{Enabled: false}, nil, nil)

	l.Attach(context.Background(), sess)

	assert.False(t, l.Enabled())
	assert.Nil(t, sess.handler)
}

func TestListenerForwardsReceiptsToReconciler(t *testing.T) {
	mem := store.NewMemory()
	pool := workers.NewPool("receipt-processing", 2, 16)
	t.Cleanup(func() { _ = pool.Shutdown(context.Background()) })

	l := NewListener(config.ListenerConfig{Enabled: true, DrainTimeout: time.Second},
		pool, NewReconciler(mem, mem))
	sess := &stubSession{}
	l.Attach(context.Background(), sess)
	require.NotNil(t, sess.handler)

	batchID, msgID := seedSubmitted(t, mem, "D4")

	// Receipt ids arrive either as a scalar or a list; the first element wins.
	sess.handler(context.Background(), carrier.ReceiptEvent{
		IDField:     []string{"D4", "stale"},
		StatusCode:  2,
		Destination: "221770000000",
		Body:        "id:D4 sub:001 dlvrd:001 stat:DELIVRD err:000",
		ReceivedAt:  time.Now(),
	})

	require.Eventually(t, func() bool {
		msg, err := mem.GetByID(context.Background(), msgID)
		return err == nil && msg.State == codes.DeliveryStateDelivered
	}, 2*time.Second, 10*time.Millisecond)

	batch, err := mem.GetBatch(context.Background(), batchID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), batch.Delivered)
}

func TestListenerSkipsReceiptWithoutID(t *testing.T) {
	mem := store.NewMemory()
	pool := workers.NewPool("receipt-processing", 1, 4)
	t.Cleanup(func() { _ = pool.Shutdown(context.Background()) })

	l := NewListener(config.ListenerConfig{Enabled: true, DrainTimeout: time.Second},
		pool, NewReconciler(mem, mem))
	sess := &stubSession{}
	l.Attach(context.Background(), sess)

	assert.NotPanics(t, func() {
		sess.handler(context.Background(), carrier.ReceiptEvent{
			IDField:    nil,
			StatusCode: 2,
			Body:       "stat:DELIVRD err:000",
		})
	})
	assert.Equal(t, 0, pool.QueueDepth())
}

func TestListenerDrainFinishesQueuedReceipts(t *testing.T) {
	mem := store.NewMemory()
	pool := workers.NewPool("receipt-processing", 1, 16)

	l := NewListener(config.ListenerConfig{Enabled: true, DrainTimeout: 2 * time.Second},
		pool, NewReconciler(mem, mem))
	sess := &stubSession{}
	l.Attach(context.Background(), sess)

	_, msgID := seedSubmitted(t, mem, "E5")
	sess.handler(context.Background(), carrier.ReceiptEvent{
		IDField:    "E5",
		StatusCode: 2,
		Body:       "id:E5 stat:DELIVRD err:000",
	})

	l.Drain(context.Background())

	msg, err := mem.GetByID(context.Background(), msgID)
	require.NoError(t, err)
	assert.Equal(t, codes.DeliveryStateDelivered, msg.State)
}
