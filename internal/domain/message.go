package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/waxal/smsgateway/pkg/codes"
)

// OutboundMessage is a single message travelling through the gateway.
// Created by the dispatch service, mutated only by the dispatch service
// (on submit) and the reconciler (on receipt).
type OutboundMessage struct {
	ID               uuid.UUID
	BatchID          *uuid.UUID
	UserID           uuid.UUID
	SenderID         string
	RecipientRaw     string
	Recipient        string // normalized
	Body             string
	DataCoding       byte // 0 = default 7-bit, 8 = UCS2
	CarrierMessageID *string
	State            codes.DeliveryState
	LastError        *string
	SentAt           *time.Time
	ProcessedAt      *time.Time
	CreatedAt        time.Time
}

// Batch groups messages submitted together and tracked as a unit.
// Counters satisfy sent+pending == total and delivered+failed+unknown <= sent.
type Batch struct {
	ID         uuid.UUID
	UserID     uuid.UUID
	Total      int64
	Sent       int64
	Delivered  int64
	Failed     int64
	Unknown    int64
	Pending    int64
	Status     codes.BatchStatus
	RetryCount int32
	InProcess  bool
	CreatedAt  time.Time
}

// AttemptRecord is the append-only history row for one retry pass.
type AttemptRecord struct {
	ID           uuid.UUID
	BatchID      uuid.UUID
	RetryOrdinal int32
	StartedAt    time.Time
	EndedAt      *time.Time
	DurationSecs int64
	SuccessCount int64
	FailedCount  int64
	PendingCount int64
	LastError    *string
	Status       codes.AttemptStatus
}

// DeliveryReceipt is the transient view of an asynchronous carrier receipt.
// It is audited, not persisted as its own entity.
type DeliveryReceipt struct {
	CarrierMessageID string
	StatusCode       byte
	Destination      string
	SystemID         string
	ErrorCode        string
	ReceivedAt       time.Time
	ProcessedAt      time.Time
}

// ChannelConfig holds a tenant's carrier credentials. The password is stored
// encrypted; dispatch decrypts it through the injected cipher just before
// binding. An unverified config fails fast with no network call.
type ChannelConfig struct {
	UserID            uuid.UUID
	Host              string
	Port              int
	SystemID          string
	EncryptedPassword []byte
	Verified          bool
}

// BatchStats is the queryable bulk status, valid even while sends are in flight.
type BatchStats struct {
	Batch       Batch
	SuccessRate decimal.Decimal
	FailureRate decimal.Decimal
}

// Stats derives rates from the batch counters. Rates are against total
// recipients; a zero-total batch reports zero rates.
func (b Batch) Stats() BatchStats {
	s := BatchStats{Batch: b}
	if b.Total == 0 {
		return s
	}
	total := decimal.NewFromInt(b.Total)
	hundred := decimal.NewFromInt(100)
	s.SuccessRate = decimal.NewFromInt(b.Delivered).Mul(hundred).Div(total).Truncate(1)
	s.FailureRate = decimal.NewFromInt(b.Failed).Mul(hundred).Div(total).Truncate(1)
	return s
}
