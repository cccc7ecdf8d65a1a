package carrier

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/linxGnu/gosmpp"
	"github.com/linxGnu/gosmpp/data"
	"github.com/linxGnu/gosmpp/pdu"
	"log/slog"

	"github.com/waxal/smsgateway/pkg/codes"
	dlrparse "github.com/waxal/smsgateway/pkg/dlr"
)

// Compile-time check
var _ Session = (*SMPPSession)(nil)

// pduResult carries the response (or failure) for one outstanding request.
type pduResult struct {
	resp pdu.PDU
	err  error
}

// SMPPSession implements Session on a gosmpp bind. Submits are synchronous
// from the caller's point of view: the PDU goes out through the windowed
// tracker and the caller blocks on a per-sequence response channel until the
// carrier acknowledges or the transaction timer expires.
type SMPPSession struct {
	config  SessionConfig
	session *gosmpp.Session

	status    atomic.Value // connection status string
	connMu    sync.Mutex
	handlerMu sync.RWMutex
	handler   ReceiptHandler

	// pending maps PDU sequence number -> chan pduResult (buffered, size 1).
	pending sync.Map
}

// SMPPOpener opens SMPP sessions; it is the production Opener.
type SMPPOpener struct{}

var _ Opener = (*SMPPOpener)(nil)

func (SMPPOpener) Open(ctx context.Context, cfg SessionConfig) (Session, error) {
	return NewSMPPSession(ctx, cfg)
}

// NewSMPPSession connects and binds. Background read handling is owned by
// gosmpp; this type only wires the callbacks.
func NewSMPPSession(ctx context.Context, cfg SessionConfig) (*SMPPSession, error) {
	if cfg.Host == "" || cfg.Port == 0 || cfg.SystemID == "" {
		return nil, errors.New("missing required SMPP config fields (Host, Port, SystemID)")
	}
	if cfg.EnquireLink <= 0 {
		cfg.EnquireLink = 30 * time.Second
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}
	if cfg.MaxWindowSize == 0 {
		cfg.MaxWindowSize = 32
	}

	s := &SMPPSession{config: cfg}
	s.status.Store(codes.StatusDisconnected)

	auth := gosmpp.Auth{
		SMSC:       fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		SystemID:   cfg.SystemID,
		Password:   cfg.Password,
		SystemType: cfg.SystemType,
	}

	var connector gosmpp.Connector
	switch strings.ToLower(cfg.BindType) {
	case "", "trx", "transceiver":
		connector = gosmpp.TRXConnector(gosmpp.NonTLSDialer, auth)
	case "tx", "transmitter":
		connector = gosmpp.TXConnector(gosmpp.NonTLSDialer, auth)
	case "rx", "receiver":
		connector = gosmpp.RXConnector(gosmpp.NonTLSDialer, auth)
	default:
		return nil, fmt.Errorf("unsupported bind type: %s", cfg.BindType)
	}

	settings := gosmpp.Settings{
		EnquireLink:  cfg.EnquireLink,
		ReadTimeout:  cfg.RequestTimeout + 5*time.Second,
		WriteTimeout: cfg.RequestTimeout,

		WindowedRequestTracking: &gosmpp.WindowedRequestTracking{
			MaxWindowSize:         uint8(cfg.MaxWindowSize),
			PduExpireTimeOut:      cfg.RequestTimeout,
			ExpireCheckTimer:      5 * time.Second,
			EnableAutoRespond:     false,
			OnReceivedPduRequest:  s.onReceivedPduRequest,
			OnExpectedPduResponse: s.onExpectedPduResponse,
			OnExpiredPduRequest:   s.onExpiredPduRequest,
			OnClosePduRequest:     s.onClosePduRequest,
		},

		OnSubmitError:    s.onSubmitError,
		OnReceivingError: s.onReceivingError,
		OnRebindingError: s.onRebindingError,
		OnClosed:         s.onClosed,
	}

	s.status.Store(codes.StatusConnecting)
	sess, err := gosmpp.NewSession(connector, settings, cfg.ConnectTimeout)
	if err != nil {
		s.status.Store(codes.StatusDisconnected)
		return nil, fmt.Errorf("smpp bind to %s:%d failed: %w", cfg.Host, cfg.Port, err)
	}
	s.connMu.Lock()
	s.session = sess
	s.connMu.Unlock()
	s.status.Store(codes.StatusBound)
	slog.InfoContext(ctx, "SMPP session bound",
		slog.String("host", cfg.Host), slog.Int("port", cfg.Port), slog.String("system_id", cfg.SystemID))
	return s, nil
}

func (s *SMPPSession) Status() string {
	return s.status.Load().(string)
}

func (s *SMPPSession) SubscribeReceipts(handler ReceiptHandler) {
	s.handlerMu.Lock()
	defer s.handlerMu.Unlock()
	s.handler = handler
}

func (s *SMPPSession) Close(_ context.Context) error {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	if s.session == nil {
		return nil
	}
	s.status.Store(codes.StatusUnbinding)
	err := s.session.Close()
	s.session = nil
	s.status.Store(codes.StatusDisconnected)
	return err
}

// bound returns the live bind, or an unavailable error once Close has run.
// The reference is read under connMu so an in-flight submit racing shutdown
// gets a clean error instead of a nil dereference.
func (s *SMPPSession) bound() (*gosmpp.Session, error) {
	s.connMu.Lock()
	sess := s.session
	s.connMu.Unlock()
	if sess == nil || s.Status() != codes.StatusBound {
		return nil, NewSubmitError(codes.ErrorCodeCarrierUnavailable,
			"session not bound (status: %s)", s.Status())
	}
	return sess, nil
}

// Submit sends one SubmitSM and blocks for the carrier's SubmitSMResp.
func (s *SMPPSession) Submit(ctx context.Context, req SubmitRequest) (SubmitResponse, error) {
	sess, err := s.bound()
	if err != nil {
		return SubmitResponse{}, err
	}

	p, err := buildSubmitSM(req)
	if err != nil {
		return SubmitResponse{}, NewSubmitError(codes.ErrorCodeSystemError, "build submit pdu: %v", err)
	}

	seq := p.GetSequenceNumber()
	ch := make(chan pduResult, 1)
	s.pending.Store(seq, ch)
	defer s.pending.Delete(seq)

	if err := sess.Transceiver().Submit(p); err != nil {
		return SubmitResponse{}, NewSubmitError(codes.ErrorCodeCarrierUnavailable, "submit write failed: %v", err)
	}

	select {
	case res := <-ch:
		if res.err != nil {
			return SubmitResponse{}, res.err
		}
		resp, ok := res.resp.(*pdu.SubmitSMResp)
		if !ok {
			return SubmitResponse{}, NewSubmitError(codes.ErrorCodeSystemError,
				"unexpected response pdu %s", res.resp.GetHeader().CommandID.String())
		}
		if !resp.IsOk() {
			return SubmitResponse{}, NewSubmitError(codes.ErrorCodeCarrierReject,
				"submit rejected by carrier: %s", resp.CommandStatus.Desc())
		}
		if resp.MessageID == "" {
			return SubmitResponse{}, NewSubmitError(codes.ErrorCodeNoMessageID, "no messageId returned")
		}
		return SubmitResponse{CarrierMessageID: resp.MessageID}, nil

	case <-time.After(s.config.RequestTimeout):
		return SubmitResponse{}, NewSubmitError(codes.ErrorCodeCarrierTimeout,
			"submit timed out after %s", s.config.RequestTimeout)
	case <-ctx.Done():
		return SubmitResponse{}, NewSubmitError(codes.ErrorCodeCarrierTimeout, "submit canceled: %v", ctx.Err())
	}
}

// QueryStatus issues a QuerySM and maps the returned message state.
func (s *SMPPSession) QueryStatus(ctx context.Context, carrierMessageID, source string) (codes.MessageStatus, error) {
	sess, err := s.bound()
	if err != nil {
		return codes.MessageStatusUnknown, err
	}

	p := pdu.NewQuerySM().(*pdu.QuerySM)
	p.MessageID = carrierMessageID
	srcAddr := pdu.NewAddress()
	srcAddr.SetTon(addrTON(source))
	srcAddr.SetNpi(addrNPI(source))
	if err := srcAddr.SetAddress(source); err != nil {
		return codes.MessageStatusUnknown, NewSubmitError(codes.ErrorCodeSystemError, "invalid source address %q: %v", source, err)
	}
	p.SourceAddr = srcAddr

	seq := p.GetSequenceNumber()
	ch := make(chan pduResult, 1)
	s.pending.Store(seq, ch)
	defer s.pending.Delete(seq)

	if err := sess.Transceiver().Submit(p); err != nil {
		return codes.MessageStatusUnknown, NewSubmitError(codes.ErrorCodeCarrierUnavailable, "query write failed: %v", err)
	}

	select {
	case res := <-ch:
		if res.err != nil {
			return codes.MessageStatusUnknown, res.err
		}
		resp, ok := res.resp.(*pdu.QuerySMResp)
		if !ok {
			return codes.MessageStatusUnknown, NewSubmitError(codes.ErrorCodeSystemError,
				"unexpected response pdu %s", res.resp.GetHeader().CommandID.String())
		}
		return codes.MessageStatusFromState(resp.MessageState), nil

	case <-time.After(s.config.RequestTimeout):
		return codes.MessageStatusUnknown, NewSubmitError(codes.ErrorCodeCarrierTimeout,
			"query timed out after %s", s.config.RequestTimeout)
	case <-ctx.Done():
		return codes.MessageStatusUnknown, NewSubmitError(codes.ErrorCodeCarrierTimeout, "query canceled: %v", ctx.Err())
	}
}

// buildSubmitSM constructs the PDU for one message.
func buildSubmitSM(req SubmitRequest) (*pdu.SubmitSM, error) {
	p := pdu.NewSubmitSM().(*pdu.SubmitSM)

	srcAddr := pdu.NewAddress()
	srcAddr.SetTon(req.SourceTON)
	srcAddr.SetNpi(req.SourceNPI)
	if err := srcAddr.SetAddress(req.Source); err != nil {
		return nil, fmt.Errorf("invalid source address %q: %w", req.Source, err)
	}
	p.SourceAddr = srcAddr

	destAddr := pdu.NewAddress()
	destAddr.SetTon(req.DestTON)
	destAddr.SetNpi(req.DestNPI)
	if err := destAddr.SetAddress(req.Dest); err != nil {
		return nil, fmt.Errorf("invalid destination address %q: %w", req.Dest, err)
	}
	p.DestAddr = destAddr

	coding := data.GSM7BIT
	if req.DataCoding == CodingUCS2 {
		coding = data.UCS2
	}
	if err := p.Message.SetMessageWithEncoding(req.Body, coding); err != nil {
		return nil, fmt.Errorf("set message content (coding %d): %w", req.DataCoding, err)
	}

	p.ProtocolID = 0
	p.RegisteredDelivery = 1 // always request a delivery receipt
	p.ReplaceIfPresentFlag = 0
	p.EsmClass = 0
	return p, nil
}

// isDeliveryReceipt tests the esm_class message-type bits that mark a
// DeliverSM as an SMSC delivery receipt rather than a mobile-originated
// message.
func isDeliveryReceipt(esmClass byte) bool {
	return esmClass&data.SM_SMSC_DLV_RCPT_TYPE != 0
}

// addrTON returns the type-of-number for an address: alphanumeric sender ids
// use TON 5, numeric addresses international TON 1.
func addrTON(addr string) byte {
	for _, r := range addr {
		if r < '0' || r > '9' {
			return TONAlphanumeric
		}
	}
	return TONInternational
}

func addrNPI(addr string) byte {
	if addrTON(addr) == TONAlphanumeric {
		return NPIUnknown
	}
	return NPIISDN
}

// =============================================================================
// gosmpp callbacks
// =============================================================================

func (s *SMPPSession) onReceivedPduRequest(p pdu.PDU) (pdu.PDU, bool) {
	switch pd := p.(type) {
	case *pdu.DeliverSM:
		s.processDeliverSM(pd)
		return pd.GetResponse(), false

	case *pdu.EnquireLink:
		return pd.GetResponse(), false

	case *pdu.Unbind:
		s.status.Store(codes.StatusUnbinding)
		go func() { _ = s.Close(context.Background()) }()
		return pd.GetResponse(), false

	default:
		slog.Warn("unexpected PDU from carrier", slog.String("cmd", p.GetHeader().CommandID.String()))
	}
	return nil, false
}

func (s *SMPPSession) onExpectedPduResponse(response gosmpp.Response) {
	seq := response.OriginalRequest.PDU.GetSequenceNumber()
	if ch, ok := s.pending.Load(seq); ok {
		ch.(chan pduResult) <- pduResult{resp: response.PDU}
	}
}

func (s *SMPPSession) onExpiredPduRequest(p pdu.PDU) bool {
	seq := p.GetSequenceNumber()
	if ch, ok := s.pending.Load(seq); ok {
		ch.(chan pduResult) <- pduResult{err: NewSubmitError(codes.ErrorCodeCarrierTimeout,
			"no response from carrier for seq %d", seq)}
	}
	// An expired enquire_link means the link is stale.
	if _, isEnquire := p.(*pdu.EnquireLink); isEnquire {
		slog.Error("enquire_link expired, connection likely stale")
		go func() { _ = s.Close(context.Background()) }()
		return true
	}
	return false
}

func (s *SMPPSession) onClosePduRequest(p pdu.PDU) {
	seq := p.GetSequenceNumber()
	if ch, ok := s.pending.Load(seq); ok {
		ch.(chan pduResult) <- pduResult{err: NewSubmitError(codes.ErrorCodeCarrierUnavailable,
			"session closed before response for seq %d", seq)}
	}
}

func (s *SMPPSession) onSubmitError(p pdu.PDU, err error) {
	seq := p.GetSequenceNumber()
	if ch, ok := s.pending.Load(seq); ok {
		ch.(chan pduResult) <- pduResult{err: NewSubmitError(codes.ErrorCodeCarrierUnavailable,
			"submit error: %v", err)}
	}
}

func (s *SMPPSession) onReceivingError(err error) {
	slog.Error("error reading from carrier", slog.Any("error", err))
}

func (s *SMPPSession) onRebindingError(err error) {
	slog.Error("carrier rebind failed", slog.Any("error", err))
	s.status.Store(codes.StatusBindingFailed)
}

func (s *SMPPSession) onClosed(state gosmpp.State) {
	slog.Warn("carrier session closed", slog.String("state", state.String()))
	s.status.Store(codes.StatusDisconnected)
}

// processDeliverSM converts an incoming DeliverSM into a ReceiptEvent for
// the subscribed handler. Non-receipt (mobile-originated) messages are
// ignored by this gateway.
func (s *SMPPSession) processDeliverSM(pd *pdu.DeliverSM) {
	if !isDeliveryReceipt(pd.EsmClass) {
		return
	}
	s.handlerMu.RLock()
	handler := s.handler
	s.handlerMu.RUnlock()
	if handler == nil {
		slog.Warn("delivery receipt arrived with no subscribed handler")
		return
	}

	body, err := pd.Message.GetMessage()
	if err != nil {
		slog.Warn("undecodable receipt payload", slog.Any("error", err))
		return
	}

	evt := ReceiptEvent{
		IDField:     dlrparse.MessageID(body),
		StatusCode:  StateFromReceiptStat(dlrparse.Stat(body)),
		Destination: pd.SourceAddr.Address(),
		SystemID:    s.config.SystemID,
		Body:        body,
		ReceivedAt:  time.Now(),
	}
	handler(context.Background(), evt)
}
