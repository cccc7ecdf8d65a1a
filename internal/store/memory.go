package store

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/waxal/smsgateway/internal/domain"
	"github.com/waxal/smsgateway/pkg/codes"
)

// Memory is a mutex-guarded in-memory implementation of every store
// interface. It honors the same counter atomicity and terminal-wins rules as
// the postgres implementation.
type Memory struct {
	mu        sync.Mutex
	messages  map[uuid.UUID]*domain.OutboundMessage
	byCarrier map[string]uuid.UUID
	batches   map[uuid.UUID]*domain.Batch
	attempts  map[uuid.UUID][]*domain.AttemptRecord
	channels  map[uuid.UUID]*domain.ChannelConfig
}

var (
	_ MessageStore = (*Memory)(nil)
	_ BatchStore   = (*Memory)(nil)
	_ AttemptStore = (*Memory)(nil)
	_ ChannelStore = (*Memory)(nil)
)

func NewMemory() *Memory {
	return &Memory{
		messages:  make(map[uuid.UUID]*domain.OutboundMessage),
		byCarrier: make(map[string]uuid.UUID),
		batches:   make(map[uuid.UUID]*domain.Batch),
		attempts:  make(map[uuid.UUID][]*domain.AttemptRecord),
		channels:  make(map[uuid.UUID]*domain.ChannelConfig),
	}
}

// PutChannelConfig seeds a tenant credential, used by tests and demo wiring.
func (m *Memory) PutChannelConfig(cfg *domain.ChannelConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *cfg
	m.channels[cfg.UserID] = &c
}

func (m *Memory) GetChannelConfig(_ context.Context, userID uuid.UUID) (*domain.ChannelConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cfg, ok := m.channels[userID]
	if !ok {
		return nil, ErrNotFound
	}
	c := *cfg
	return &c, nil
}

func (m *Memory) CreateMessage(_ context.Context, msg *domain.OutboundMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.messages[msg.ID]; exists {
		return errors.New("store: duplicate message id")
	}
	c := *msg
	m.messages[msg.ID] = &c
	return nil
}

func (m *Memory) MarkSubmitted(_ context.Context, id uuid.UUID, carrierMessageID string, sentAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.messages[id]
	if !ok {
		return ErrNotFound
	}
	if msg.CarrierMessageID != nil {
		return errors.New("store: carrier message id already assigned")
	}
	msg.CarrierMessageID = &carrierMessageID
	msg.State = codes.DeliveryStateSubmitted
	t := sentAt
	msg.SentAt = &t
	m.byCarrier[carrierMessageID] = id
	return nil
}

func (m *Memory) MarkSubmitFailed(_ context.Context, id uuid.UUID, lastError string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.messages[id]
	if !ok {
		return ErrNotFound
	}
	msg.State = codes.DeliveryStateRejected
	msg.LastError = &lastError
	return nil
}

func (m *Memory) GetByID(_ context.Context, id uuid.UUID) (*domain.OutboundMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.messages[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := *msg
	return &c, nil
}

func (m *Memory) GetByCarrierMessageID(_ context.Context, carrierMessageID string) (*domain.OutboundMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byCarrier[carrierMessageID]
	if !ok {
		return nil, ErrNotFound
	}
	c := *m.messages[id]
	return &c, nil
}

func (m *Memory) UpdateDeliveryState(_ context.Context, id uuid.UUID, state codes.DeliveryState, lastError *string, processedAt time.Time) (codes.DeliveryState, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.messages[id]
	if !ok {
		return "", false, ErrNotFound
	}
	prior := msg.State
	// First terminal wins: a later receipt never moves the state again.
	if prior.IsTerminal() {
		return prior, false, nil
	}
	msg.State = state
	msg.LastError = lastError
	t := processedAt
	msg.ProcessedAt = &t
	return prior, true, nil
}

func (m *Memory) ListRetryable(_ context.Context, batchID uuid.UUID) ([]domain.OutboundMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.OutboundMessage
	for _, msg := range m.messages {
		if msg.BatchID == nil || *msg.BatchID != batchID {
			continue
		}
		if msg.State == codes.DeliveryStateRejected || msg.State == codes.DeliveryStateUnknown {
			out = append(out, *msg)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) ResetForRetry(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.messages[id]
	if !ok {
		return ErrNotFound
	}
	if msg.CarrierMessageID != nil {
		delete(m.byCarrier, *msg.CarrierMessageID)
		msg.CarrierMessageID = nil
	}
	msg.State = codes.DeliveryStateCreated
	msg.LastError = nil
	msg.SentAt = nil
	msg.ProcessedAt = nil
	return nil
}

func (m *Memory) SweepStale(_ context.Context, cutoff time.Time, note string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, msg := range m.messages {
		if msg.State != codes.DeliveryStateSubmitted || msg.SentAt == nil || !msg.SentAt.Before(cutoff) {
			continue
		}
		msg.State = codes.DeliveryStateUnknown
		e := note
		msg.LastError = &e
		n++
		if msg.BatchID != nil {
			if b, ok := m.batches[*msg.BatchID]; ok {
				b.Unknown++
			}
		}
	}
	return n, nil
}

func (m *Memory) CreateBatch(_ context.Context, b *domain.Batch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *b
	m.batches[b.ID] = &c
	return nil
}

func (m *Memory) GetBatch(_ context.Context, id uuid.UUID) (*domain.Batch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.batches[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := *b
	return &c, nil
}

func (m *Memory) ApplyDelta(_ context.Context, id uuid.UUID, d BatchDelta) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.batches[id]
	if !ok {
		return ErrNotFound
	}
	b.Sent += d.Sent
	b.Delivered += d.Delivered
	b.Failed += d.Failed
	b.Unknown += d.Unknown
	b.Pending += d.Pending
	return nil
}

func (m *Memory) UpdateStatus(_ context.Context, id uuid.UUID, status codes.BatchStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.batches[id]
	if !ok {
		return ErrNotFound
	}
	b.Status = status
	return nil
}

func (m *Memory) TryMarkInProcess(_ context.Context, id uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.batches[id]
	if !ok {
		return false, ErrNotFound
	}
	if b.InProcess {
		return false, nil
	}
	b.InProcess = true
	return true, nil
}

func (m *Memory) ClearInProcess(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.batches[id]
	if !ok {
		return ErrNotFound
	}
	b.InProcess = false
	return nil
}

func (m *Memory) IncrementRetryCount(_ context.Context, id uuid.UUID) (int32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.batches[id]
	if !ok {
		return 0, ErrNotFound
	}
	b.RetryCount++
	return b.RetryCount, nil
}

func (m *Memory) CreateAttempt(_ context.Context, a *domain.AttemptRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *a
	m.attempts[a.BatchID] = append(m.attempts[a.BatchID], &c)
	return nil
}

func (m *Memory) CloseAttempt(_ context.Context, a *domain.AttemptRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range m.attempts[a.BatchID] {
		if rec.ID == a.ID {
			*rec = *a
			return nil
		}
	}
	return ErrNotFound
}

func (m *Memory) ListAttempts(_ context.Context, batchID uuid.UUID) ([]domain.AttemptRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	recs := m.attempts[batchID]
	out := make([]domain.AttemptRecord, 0, len(recs))
	for _, r := range recs {
		out = append(out, *r)
	}
	return out, nil
}
