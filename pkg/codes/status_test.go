package codes

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMessageStatusFromStateIsTotal(t *testing.T) {
	expected := map[byte]MessageStatus{
		0: MessageStatusScheduled,
		1: MessageStatusEnroute,
		2: MessageStatusDelivered,
		3: MessageStatusExpired,
		4: MessageStatusDeleted,
		5: MessageStatusUndeliverable,
		6: MessageStatusAccepted,
		7: MessageStatusUnknown,
		8: MessageStatusRejected,
	}
	for state, want := range expected {
		assert.Equal(t, want, MessageStatusFromState(state), "state %d", state)
	}

	// Everything outside the defined range resolves to UNKNOWN.
	for state := 9; state <= 255; state++ {
		assert.Equal(t, MessageStatusUnknown, MessageStatusFromState(byte(state)), "state %d", state)
	}
}

func TestDeliveryStateFromReceipt(t *testing.T) {
	assert.Equal(t, DeliveryStateDelivered, DeliveryStateFromReceipt(2))
	assert.Equal(t, DeliveryStateExpired, DeliveryStateFromReceipt(3))
	assert.Equal(t, DeliveryStateUndeliverable, DeliveryStateFromReceipt(4))
	assert.Equal(t, DeliveryStateUndeliverable, DeliveryStateFromReceipt(5))
	assert.Equal(t, DeliveryStateRejected, DeliveryStateFromReceipt(8))

	// Intermediate carrier states never produce a terminal delivery state.
	for _, state := range []byte{0, 1, 6, 7, 42} {
		got := DeliveryStateFromReceipt(state)
		assert.Equal(t, DeliveryStateUnknown, got, "state %d", state)
		assert.False(t, got.IsTerminal())
	}
}

func TestDeliveryStateTerminality(t *testing.T) {
	terminal := []DeliveryState{DeliveryStateDelivered, DeliveryStateUndeliverable, DeliveryStateExpired, DeliveryStateRejected}
	for _, s := range terminal {
		assert.True(t, s.IsTerminal(), string(s))
	}
	for _, s := range []DeliveryState{DeliveryStateCreated, DeliveryStateSubmitted, DeliveryStateUnknown} {
		assert.False(t, s.IsTerminal(), string(s))
	}
}
