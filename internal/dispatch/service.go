// Package dispatch is the submit boundary of the gateway. All transport and
// configuration failures are converted to typed results here; nothing
// upstream ever sees a raw carrier error.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/waxal/smsgateway/internal/carrier"
	"github.com/waxal/smsgateway/internal/config"
	"github.com/waxal/smsgateway/internal/domain"
	"github.com/waxal/smsgateway/internal/history"
	"github.com/waxal/smsgateway/internal/logging"
	"github.com/waxal/smsgateway/internal/progress"
	"github.com/waxal/smsgateway/internal/secrets"
	"github.com/waxal/smsgateway/internal/store"
	"github.com/waxal/smsgateway/internal/workers"
	"github.com/waxal/smsgateway/pkg/codes"
	"github.com/waxal/smsgateway/pkg/msisdn"
)

// ErrRetryInProgress is returned when a retry pass is requested for a batch
// whose in-process gate is already held.
var ErrRetryInProgress = errors.New("dispatch: retry already in progress for batch")

// SendResult is the typed outcome of one submit. It is always returned, never
// an error, so callers store Reason as last_error without unwrapping.
type SendResult struct {
	Success          bool
	MessageID        uuid.UUID
	CarrierMessageID string
	ErrorCode        string
	Reason           string
}

func failResult(id uuid.UUID, code, format string, args ...any) SendResult {
	return SendResult{MessageID: id, ErrorCode: code, Reason: fmt.Sprintf(format, args...)}
}

// StatusResult is the typed outcome of a carrier status query.
type StatusResult struct {
	Success  bool
	NotFound bool
	Status   codes.MessageStatus
	Reason   string
}

// BulkReport summarizes one completed send pass over a batch.
type BulkReport struct {
	BatchID    uuid.UUID
	Total      int64
	Succeeded  int64
	Failed     int64
	Duplicates int64
	Invalid    int64
}

// Service owns carrier sessions per tenant and drives all submits.
type Service struct {
	channels store.ChannelStore
	messages store.MessageStore
	batches  store.BatchStore
	cipher   secrets.Cipher
	opener   carrier.Opener
	pools    *workers.Manager
	tracker  progress.Tracker
	history  *history.Tracker
	cfg      config.CarrierConfig

	sessMu    sync.Mutex
	sessions  map[uuid.UUID]carrier.Session
	onSession func(ctx context.Context, sess carrier.Session)
}

// OnSession registers a hook invoked for every newly bound session. The
// receipt listener uses it to subscribe before any submit goes out.
func (s *Service) OnSession(hook func(ctx context.Context, sess carrier.Session)) {
	s.sessMu.Lock()
	defer s.sessMu.Unlock()
	s.onSession = hook
}

func NewService(
	channels store.ChannelStore,
	messages store.MessageStore,
	batches store.BatchStore,
	cipher secrets.Cipher,
	opener carrier.Opener,
	pools *workers.Manager,
	tracker progress.Tracker,
	hist *history.Tracker,
	cfg config.CarrierConfig,
) *Service {
	return &Service{
		channels: channels,
		messages: messages,
		batches:  batches,
		cipher:   cipher,
		opener:   opener,
		pools:    pools,
		tracker:  tracker,
		history:  hist,
		cfg:      cfg,
		sessions: make(map[uuid.UUID]carrier.Session),
	}
}

// SessionFor returns the tenant's carrier session, binding on first use.
// Sessions are reused across sends; the receipt listener subscribes to the
// same session.
func (s *Service) SessionFor(ctx context.Context, userID uuid.UUID) (carrier.Session, error) {
	s.sessMu.Lock()
	defer s.sessMu.Unlock()

	if sess, ok := s.sessions[userID]; ok && sess.Status() == codes.StatusBound {
		return sess, nil
	}

	cfg, err := s.channels.GetChannelConfig(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("resolve channel config: %w", err)
	}
	if !cfg.Verified {
		return nil, fmt.Errorf("channel for user %s is not verified", userID)
	}
	password, err := s.cipher.Decrypt(cfg.EncryptedPassword)
	if err != nil {
		return nil, fmt.Errorf("decrypt channel credential: %w", err)
	}

	sess, err := s.opener.Open(ctx, carrier.SessionConfig{
		Host:           cfg.Host,
		Port:           cfg.Port,
		SystemID:       cfg.SystemID,
		Password:       string(password),
		SystemType:     s.cfg.SystemType,
		BindType:       s.cfg.BindType,
		EnquireLink:    s.cfg.EnquireLink,
		RequestTimeout: s.cfg.RequestTimeout,
		ConnectTimeout: s.cfg.ConnectTimeout,
		MaxWindowSize:  s.cfg.MaxWindowSize,
	})
	if err != nil {
		return nil, err
	}
	s.sessions[userID] = sess
	if s.onSession != nil {
		s.onSession(ctx, sess)
	}
	return sess, nil
}

// Close unbinds every cached session.
func (s *Service) Close(ctx context.Context) {
	s.sessMu.Lock()
	defer s.sessMu.Unlock()
	for userID, sess := range s.sessions {
		if err := sess.Close(ctx); err != nil {
			slog.WarnContext(logging.ContextWithUserID(ctx, userID),
				"carrier session close failed", slog.Any("error", err))
		}
		delete(s.sessions, userID)
	}
}

// SendSingle dispatches one ad hoc message. Channel configuration and
// destination validity are checked before any network call.
func (s *Service) SendSingle(ctx context.Context, userID uuid.UUID, from, to, body string) SendResult {
	logCtx := logging.ContextWithUserID(ctx, userID)

	cfg, err := s.channels.GetChannelConfig(ctx, userID)
	if err != nil {
		return failResult(uuid.Nil, codes.ErrorCodeUnverifiedChannel, "no channel configured: %v", err)
	}
	if !cfg.Verified {
		return failResult(uuid.Nil, codes.ErrorCodeUnverifiedChannel,
			"channel configuration for user %s is not verified", userID)
	}

	if !msisdn.IsValidSender(from) {
		return failResult(uuid.Nil, codes.ErrorCodeInvalidMSISDN, "invalid sender address: %q", from)
	}
	dest := msisdn.Normalize(to)
	if !msisdn.IsValidRecipient(dest) {
		return failResult(uuid.Nil, codes.ErrorCodeInvalidMSISDN, "invalid recipient address: %q", to)
	}

	msg := &domain.OutboundMessage{
		ID:           uuid.New(),
		UserID:       userID,
		SenderID:     from,
		RecipientRaw: to,
		Recipient:    dest,
		Body:         body,
		DataCoding:   carrier.DataCodingFor(body),
		State:        codes.DeliveryStateCreated,
		CreatedAt:    time.Now(),
	}
	if err := s.messages.CreateMessage(ctx, msg); err != nil {
		return failResult(uuid.Nil, codes.ErrorCodeSystemError, "persist message: %v", err)
	}

	sess, err := s.SessionFor(ctx, userID)
	if err != nil {
		reason := fmt.Sprintf("carrier session unavailable: %v", err)
		s.recordSubmitFailure(logCtx, msg, nil, reason)
		return failResult(msg.ID, codes.ErrorCodeCarrierUnavailable, "%s", reason)
	}

	return s.submit(logCtx, sess, msg, nil)
}

// submit performs the carrier round trip for one persisted message and
// records the outcome. batchID is nil for single sends.
func (s *Service) submit(ctx context.Context, sess carrier.Session, msg *domain.OutboundMessage, batchID *uuid.UUID) SendResult {
	logCtx := logging.ContextWithMessageID(ctx, msg.ID)
	logCtx = logging.ContextWithMSISDN(logCtx, msg.Recipient)

	srcTON, srcNPI := addressIndicators(msg.SenderID)
	dstTON, dstNPI := addressIndicators(msg.Recipient)

	resp, err := sess.Submit(ctx, carrier.SubmitRequest{
		Source:      msg.SenderID,
		Dest:        msg.Recipient,
		Body:        msg.Body,
		DataCoding:  msg.DataCoding,
		SourceTON:   srcTON,
		SourceNPI:   srcNPI,
		DestTON:     dstTON,
		DestNPI:     dstNPI,
		CallbackURL: carrier.BuildCallbackURL(s.cfg.CallbackBaseURL),
	})
	if err != nil {
		code := codes.ErrorCodeCarrierUnavailable
		var submitErr *carrier.SubmitError
		if errors.As(err, &submitErr) {
			code = submitErr.Code
		}
		s.recordSubmitFailure(logCtx, msg, batchID, err.Error())
		return failResult(msg.ID, code, "%s", err.Error())
	}

	now := time.Now()
	if err := s.messages.MarkSubmitted(ctx, msg.ID, resp.CarrierMessageID, now); err != nil {
		slog.ErrorContext(logCtx, "carrier accepted but submit not recorded", slog.Any("error", err))
		return failResult(msg.ID, codes.ErrorCodeSystemError, "record submit: %v", err)
	}
	if batchID != nil {
		if err := s.batches.ApplyDelta(ctx, *batchID, store.BatchDelta{Sent: 1, Pending: -1}); err != nil {
			slog.ErrorContext(logCtx, "batch counter update failed", slog.Any("error", err))
		}
	}
	slog.InfoContext(logging.ContextWithCarrierMsgID(logCtx, resp.CarrierMessageID), "message submitted")
	return SendResult{Success: true, MessageID: msg.ID, CarrierMessageID: resp.CarrierMessageID}
}

// recordSubmitFailure stores last_error and, for batched messages, moves the
// batch counters from pending to sent+failed for this attempt.
func (s *Service) recordSubmitFailure(ctx context.Context, msg *domain.OutboundMessage, batchID *uuid.UUID, reason string) {
	slog.WarnContext(ctx, "submit failed", slog.String("reason", reason))
	if err := s.messages.MarkSubmitFailed(ctx, msg.ID, reason); err != nil {
		slog.ErrorContext(ctx, "submit failure not recorded", slog.Any("error", err))
	}
	if batchID != nil {
		if err := s.batches.ApplyDelta(ctx, *batchID, store.BatchDelta{Sent: 1, Failed: 1, Pending: -1}); err != nil {
			slog.ErrorContext(ctx, "batch counter update failed", slog.Any("error", err))
		}
	}
}

// QueryStatus asks the carrier for the current state of a submitted message.
// The query must carry the source address used at submit, so the message is
// resolved locally first.
func (s *Service) QueryStatus(ctx context.Context, userID uuid.UUID, carrierMessageID string) StatusResult {
	msg, err := s.messages.GetByCarrierMessageID(ctx, carrierMessageID)
	if err != nil {
		return StatusResult{Status: codes.MessageStatusUnknown,
			NotFound: errors.Is(err, store.ErrNotFound),
			Reason:   fmt.Sprintf("unknown carrier message id %q: %v", carrierMessageID, err)}
	}

	sess, err := s.SessionFor(ctx, userID)
	if err != nil {
		return StatusResult{Status: codes.MessageStatusUnknown,
			Reason: fmt.Sprintf("carrier session unavailable: %v", err)}
	}

	// QuerySM round trips run on the rate-limited pool: carriers cap these
	// far below submit throughput, and the token bucket enforces that cap.
	type queryOutcome struct {
		status codes.MessageStatus
		err    error
	}
	ch := make(chan queryOutcome, 1)
	err = s.pools.RateLimited.Submit(ctx, func(taskCtx context.Context) {
		if err := s.pools.Limiter.Wait(taskCtx); err != nil {
			ch <- queryOutcome{status: codes.MessageStatusUnknown, err: err}
			return
		}
		status, err := sess.QueryStatus(taskCtx, carrierMessageID, msg.SenderID)
		ch <- queryOutcome{status: status, err: err}
	})
	if err != nil {
		return StatusResult{Status: codes.MessageStatusUnknown,
			Reason: fmt.Sprintf("status query not accepted: %v", err)}
	}

	select {
	case out := <-ch:
		if out.err != nil {
			return StatusResult{Status: codes.MessageStatusUnknown, Reason: out.err.Error()}
		}
		return StatusResult{Success: true, Status: out.status}
	case <-ctx.Done():
		return StatusResult{Status: codes.MessageStatusUnknown,
			Reason: fmt.Sprintf("status query canceled: %v", ctx.Err())}
	}
}

// addressIndicators returns TON/NPI for an address: anything with a
// non-digit is an alphanumeric sender id (TON 5 / NPI 0), digit strings are
// international numbers (TON 1 / NPI 1).
func addressIndicators(addr string) (ton, npi byte) {
	for _, r := range addr {
		if r < '0' || r > '9' {
			return carrier.TONAlphanumeric, carrier.NPIUnknown
		}
	}
	return carrier.TONInternational, carrier.NPIISDN
}
