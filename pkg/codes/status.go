package codes

// Connection Status Codes
const (
	StatusDisconnected  = "disconnected"
	StatusConnecting    = "connecting"
	StatusBinding       = "binding"
	StatusBound         = "bound"
	StatusUnbinding     = "unbinding"
	StatusBindingFailed = "binding_failed"
	StatusDisabled      = "disabled"
	StatusError         = "error"
)

// MessageStatus is the carrier-facing message state vocabulary returned by
// query operations and carried inside delivery receipts.
type MessageStatus string

const (
	MessageStatusScheduled     MessageStatus = "SCHEDULED"
	MessageStatusEnroute       MessageStatus = "ENROUTE"
	MessageStatusDelivered     MessageStatus = "DELIVERED"
	MessageStatusExpired       MessageStatus = "EXPIRED"
	MessageStatusDeleted       MessageStatus = "DELETED"
	MessageStatusUndeliverable MessageStatus = "UNDELIVERABLE"
	MessageStatusAccepted      MessageStatus = "ACCEPTED"
	MessageStatusUnknown       MessageStatus = "UNKNOWN"
	MessageStatusRejected      MessageStatus = "REJECTED"
)

// messageStateTable maps the numeric message_state byte from the carrier to
// the status vocabulary. Values outside the table resolve to UNKNOWN.
var messageStateTable = map[byte]MessageStatus{
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

// MessageStatusFromState maps a raw carrier message_state byte into the
// status vocabulary. The mapping is total: unrecognized values map to UNKNOWN.
func MessageStatusFromState(state byte) MessageStatus {
	if s, ok := messageStateTable[state]; ok {
		return s
	}
	return MessageStatusUnknown
}

// DeliveryState is the lifecycle state of an outbound message.
type DeliveryState string

const (
	DeliveryStateCreated       DeliveryState = "CREATED"
	DeliveryStateSubmitted     DeliveryState = "SUBMITTED"
	DeliveryStateDelivered     DeliveryState = "DELIVERED"
	DeliveryStateUndeliverable DeliveryState = "UNDELIVERABLE"
	DeliveryStateExpired       DeliveryState = "EXPIRED"
	DeliveryStateRejected      DeliveryState = "REJECTED"
	DeliveryStateUnknown       DeliveryState = "UNKNOWN"
)

// IsTerminal reports whether a delivery state is final. A receipt must never
// move a terminal state backward.
func (s DeliveryState) IsTerminal() bool {
	switch s {
	case DeliveryStateDelivered, DeliveryStateUndeliverable, DeliveryStateExpired, DeliveryStateRejected:
		return true
	}
	return false
}

// DeliveryStateFromReceipt maps the numeric status carried in a delivery
// receipt to the message delivery-state vocabulary. Non-terminal carrier
// states (scheduled, enroute, accepted) resolve to UNKNOWN so that a stale
// intermediate receipt never claims a terminal outcome.
func DeliveryStateFromReceipt(statusCode byte) DeliveryState {
	switch MessageStatusFromState(statusCode) {
	case MessageStatusDelivered:
		return DeliveryStateDelivered
	case MessageStatusUndeliverable, MessageStatusDeleted:
		return DeliveryStateUndeliverable
	case MessageStatusExpired:
		return DeliveryStateExpired
	case MessageStatusRejected:
		return DeliveryStateRejected
	default:
		return DeliveryStateUnknown
	}
}

// BatchStatus is the bulk-level sending status.
type BatchStatus string

const (
	BatchStatusPending BatchStatus = "PENDING"
	BatchStatusSent    BatchStatus = "SENT"
	BatchStatusFailed  BatchStatus = "FAILED"
)

// AttemptStatus is the completion status of one retry pass over a batch.
type AttemptStatus string

const (
	AttemptStatusInProgress    AttemptStatus = "IN_PROGRESS"
	AttemptStatusCompleted     AttemptStatus = "COMPLETED"
	AttemptStatusStoppedByUser AttemptStatus = "STOPPED_BY_USER"
	AttemptStatusError         AttemptStatus = "ERROR"
)

// IsTerminal reports whether an attempt status is final for reporting.
func (s AttemptStatus) IsTerminal() bool {
	return s == AttemptStatusCompleted || s == AttemptStatusStoppedByUser || s == AttemptStatusError
}

// Submission error codes recorded alongside last_error.
const (
	ErrorCodeCarrierUnavailable = "CARRIER_UNAVAILABLE"
	ErrorCodeCarrierTimeout     = "CARRIER_TIMEOUT"
	ErrorCodeCarrierReject      = "CARRIER_REJECT"
	ErrorCodeNoMessageID        = "NO_MESSAGE_ID"
	ErrorCodeInvalidMSISDN      = "INVALID_MSISDN"
	ErrorCodeUnverifiedChannel  = "UNVERIFIED_CHANNEL"
	ErrorCodeSystemError        = "SYS_ERR"
	ErrorCodeStaleSubmission    = "STALE_NO_RECEIPT"
)
