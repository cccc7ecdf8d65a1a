// Package carrier abstracts the binary session protocol to the upstream
// SMS carrier. The dispatch service and the receipt listener depend on the
// Session interface, never on a concrete protocol binding, so tests can
// substitute a scripted transport.
package carrier

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/waxal/smsgateway/pkg/codes"
)

// Type-of-number / numbering-plan-indicator values used in submit requests.
const (
	TONInternational = 1
	TONAlphanumeric  = 5
	NPIISDN          = 1
	NPIUnknown       = 0
)

// Data-coding indicator values.
const (
	CodingDefault byte = 0 // GSM 7-bit default alphabet
	CodingUCS2    byte = 8 // 8-bit / Unicode
)

// DataCodingFor picks the data-coding indicator for a message body. Any code
// point above 127 flips the whole message to UCS2; there is no mixed coding.
func DataCodingFor(body string) byte {
	for _, r := range body {
		if r > 127 {
			return CodingUCS2
		}
	}
	return CodingDefault
}

// SubmitRequest carries everything the carrier needs for one message.
type SubmitRequest struct {
	Source      string
	Dest        string
	Body        string
	DataCoding  byte
	SourceTON   byte
	SourceNPI   byte
	DestTON     byte
	DestNPI     byte
	// CallbackURL is the templated delivery-receipt webhook, honored by
	// carriers that support webhook-style receipts alongside the session
	// protocol. Receipt delivery over the session itself is always requested.
	CallbackURL string
}

// SubmitResponse is the carrier's local acknowledgment of a submit.
type SubmitResponse struct {
	CarrierMessageID string
}

// ReceiptEvent is one raw delivery receipt as it arrives on the session.
// IDField is deliberately untyped: the protocol binding delivers the receipt
// id either as a single value or as a list.
type ReceiptEvent struct {
	IDField     any
	StatusCode  byte
	Destination string
	SystemID    string
	Body        string
	ReceivedAt  time.Time
}

// ReceiptHandler consumes receipt events. It must not block the session's
// read loop for long; hand the work to a pool.
type ReceiptHandler func(ctx context.Context, evt ReceiptEvent)

// Session is an owned, stateful connection to the carrier.
type Session interface {
	// Submit sends one message and waits for the carrier's local
	// acknowledgment (not for delivery). A timeout is a failure: callers may
	// re-send, relying on carrier-side dedup.
	Submit(ctx context.Context, req SubmitRequest) (SubmitResponse, error)
	// QueryStatus asks the carrier for the current state of a previously
	// submitted message. The source address must match the one used at submit.
	QueryStatus(ctx context.Context, carrierMessageID, source string) (codes.MessageStatus, error)
	// SubscribeReceipts registers the handler invoked for every delivery
	// receipt arriving on this session.
	SubscribeReceipts(handler ReceiptHandler)
	// Status reports the connection status (codes.StatusBound etc).
	Status() string
	Close(ctx context.Context) error
}

// SessionConfig holds the link parameters for one carrier bind.
type SessionConfig struct {
	Host           string
	Port           int
	SystemID       string
	Password       string
	SystemType     string
	BindType       string // "trx", "tx", "rx"
	EnquireLink    time.Duration
	RequestTimeout time.Duration
	ConnectTimeout time.Duration
	MaxWindowSize  uint
}

// Opener establishes carrier sessions. The dispatch service keys sessions by
// tenant credentials and reuses them across sends.
type Opener interface {
	Open(ctx context.Context, cfg SessionConfig) (Session, error)
}

// Callback URL placeholders substituted by the carrier.
const callbackQuery = "/dlr/callback?msgid=%I&status=%d&phone=%p&ts=%t&smsc=%A&err=%e"

// BuildCallbackURL renders the delivery-receipt callback template for a base
// URL. Empty base means no webhook receipts are requested.
func BuildCallbackURL(base string) string {
	if base == "" {
		return ""
	}
	return strings.TrimRight(base, "/") + callbackQuery
}

// receiptStatToState maps the textual receipt stat field onto the numeric
// message-state vocabulary so the rest of the pipeline stays numeric.
var receiptStatToState = map[string]byte{
	"SCHEDLD": 0,
	"ENROUTE": 1,
	"DELIVRD": 2,
	"EXPIRED": 3,
	"DELETED": 4,
	"UNDELIV": 5,
	"ACCEPTD": 6,
	"UNKNOWN": 7,
	"REJECTD": 8,
}

// StateFromReceiptStat resolves a receipt stat token to a message-state
// byte, defaulting to unknown for anything unrecognized.
func StateFromReceiptStat(stat string) byte {
	if state, ok := receiptStatToState[strings.ToUpper(stat)]; ok {
		return state
	}
	return 7
}

// SubmitError is a typed transport-level submit failure.
type SubmitError struct {
	Code   string // codes.ErrorCode* classifier
	Reason string
}

func (e *SubmitError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Reason)
}

// NewSubmitError builds a SubmitError.
func NewSubmitError(code, format string, args ...any) *SubmitError {
	return &SubmitError{Code: code, Reason: fmt.Sprintf(format, args...)}
}
