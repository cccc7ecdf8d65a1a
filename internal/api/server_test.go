package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/waxal/smsgateway/internal/carrier"
	"github.com/waxal/smsgateway/internal/config"
	"github.com/waxal/smsgateway/internal/dispatch"
	"github.com/waxal/smsgateway/internal/domain"
	"github.com/waxal/smsgateway/internal/history"
	"github.com/waxal/smsgateway/internal/progress"
	"github.com/waxal/smsgateway/internal/store"
	"github.com/waxal/smsgateway/internal/workers"
	"github.com/waxal/smsgateway/pkg/codes"
)

type passthroughCipher struct{}

func (passthroughCipher) Encrypt(p []byte) ([]byte, error) { return p, nil }
func (passthroughCipher) Decrypt(p []byte) ([]byte, error) { return p, nil }

type scriptedSession struct {
	mu     sync.Mutex
	nextID int
}

func (s *scriptedSession) Submit(_ context.Context, _ carrier.SubmitRequest) (carrier.SubmitResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	return carrier.SubmitResponse{CarrierMessageID: fmt.Sprintf("API%04d", s.nextID)}, nil
}

func (s *scriptedSession) QueryStatus(_ context.Context, _, _ string) (codes.MessageStatus, error) {
	return codes.MessageStatusDelivered, nil
}

func (s *scriptedSession) SubscribeReceipts(carrier.ReceiptHandler) {}
func (s *scriptedSession) Status() string                          { return codes.StatusBound }
func (s *scriptedSession) Close(context.Context) error             { return nil }

type scriptedOpener struct{ sess *scriptedSession }

func (o scriptedOpener) Open(context.Context, carrier.SessionConfig) (carrier.Session, error) {
	return o.sess, nil
}

type apiFixture struct {
	srv    *Server
	router http.Handler
	mem    *store.Memory
	userID uuid.UUID
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	mem := store.NewMemory()
	userID := uuid.New()
	mem.PutChannelConfig(&domain.ChannelConfig{
		UserID:            userID,
		Host:              "127.0.0.1",
		Port:              2775,
		SystemID:          "tenant",
		EncryptedPassword: []byte("s3cret"),
		Verified:          true,
	})

	pools := workers.NewManager(config.PoolsConfig{
		InteractiveWorkers: 2, InteractiveQueue: 8,
		BulkSendWorkers: 4, BulkSendQueue: 16,
		BulkInsertWorkers: 4, BulkInsertQueue: 16,
		ReceiptWorkers: 2, ReceiptQueue: 16,
		RateLimitedWorkers: 1, RateLimitedQueue: 2,
		RateLimitPerSec: 100, RateLimitBurst: 10,
	})
	t.Cleanup(func() { pools.Shutdown(context.Background()) })

	hist := history.NewTracker(mem)
	tracker := progress.NewMemoryTracker()
	svc := dispatch.NewService(mem, mem, mem, passthroughCipher{},
		scriptedOpener{sess: &scriptedSession{}}, pools, tracker, hist,
		config.CarrierConfig{RequestTimeout: time.Second})
	srv := NewServer(config.APIConfig{Addr: ":0"}, svc, mem, tracker, hist)
	return &apiFixture{srv: srv, router: srv.Routes(), mem: mem, userID: userID}
}

func (f *apiFixture) do(t *testing.T, method, path, body string, tenant bool) *httptest.ResponseRecorder {
	t.Helper()
	var rd *strings.Reader
	if body == "" {
		rd = strings.NewReader("{}")
	} else {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	if tenant {
		req.Header.Set(tenantHeader, f.userID.String())
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&out))
	return out
}

func TestHealthEndpoint(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodGet, "/health", "", false)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", decodeBody(t, rec)["status"])
}

func TestSendMessageRequiresTenantHeader(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/v1/messages",
		`{"sender_id":"WAXAL","recipient":"0612345678","content":"hi"}`, false)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, decodeBody(t, rec)["error"], tenantHeader)
}

func TestSendMessageSuccess(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/v1/messages",
		`{"sender_id":"WAXAL","recipient":"0612345678","content":"hello"}`, true)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "API0001", body["carrier_message_id"])
	assert.NotEmpty(t, body["message_id"])
}

func TestSendMessageInvalidRecipient(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/v1/messages",
		`{"sender_id":"WAXAL","recipient":"not-a-number","content":"hello"}`, true)

	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, codes.ErrorCodeInvalidMSISDN, body["error_code"])
}

func TestSendMessageMalformedPayload(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/v1/messages", `{"sender_id":`, true)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestQueryStatusEndpoint(t *testing.T) {
	f := newAPIFixture(t)

	send := f.do(t, http.MethodPost, "/v1/messages",
		`{"sender_id":"WAXAL","recipient":"0612345678","content":"hello"}`, true)
	require.Equal(t, http.StatusOK, send.Code)
	carrierID := decodeBody(t, send)["carrier_message_id"].(string)

	rec := f.do(t, http.MethodGet, "/v1/messages/"+carrierID+"/status", "", true)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, string(codes.MessageStatusDelivered), body["status"])
	assert.Equal(t, true, body["success"])
}

func TestQueryStatusUnknownCarrierID(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodGet, "/v1/messages/NOPE/status", "", true)

	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, string(codes.MessageStatusUnknown), decodeBody(t, rec)["status"])
}

func TestSendBatchAcceptedAndSettles(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/v1/batches",
		`{"sender_id":"WAXAL","recipients":["0612345678","0612345679","0612345680"],"content":"promo"}`, true)

	require.Equal(t, http.StatusAccepted, rec.Code)
	batchID := decodeBody(t, rec)["batch_id"].(string)
	require.NotEmpty(t, batchID)

	require.Eventually(t, func() bool {
		status := f.do(t, http.MethodGet, "/v1/batches/"+batchID, "", true)
		if status.Code != http.StatusOK {
			return false
		}
		return decodeBody(t, status)["status"] == string(codes.BatchStatusSent)
	}, 3*time.Second, 20*time.Millisecond)

	status := f.do(t, http.MethodGet, "/v1/batches/"+batchID, "", true)
	body := decodeBody(t, status)
	assert.EqualValues(t, 3, body["total"])
	assert.EqualValues(t, 3, body["sent"])
	assert.EqualValues(t, 0, body["pending"])

	prog := f.do(t, http.MethodGet, "/v1/batches/"+batchID+"/progress", "", true)
	require.Equal(t, http.StatusOK, prog.Code)
	assert.EqualValues(t, 100, decodeBody(t, prog)["percentage"])
}

func TestBatchStatusNotFound(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodGet, "/v1/batches/"+uuid.NewString(), "", true)

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestBatchStatusInvalidID(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodGet, "/v1/batches/nope", "", true)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBatchProgressMissingEntry(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodGet, "/v1/batches/"+uuid.NewString()+"/progress", "", true)

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRetryConflictWhileInProcess(t *testing.T) {
	f := newAPIFixture(t)
	batch := &domain.Batch{ID: uuid.New(), UserID: f.userID, Status: codes.BatchStatusSent}
	require.NoError(t, f.mem.CreateBatch(context.Background(), batch))
	held, err := f.mem.TryMarkInProcess(context.Background(), batch.ID)
	require.NoError(t, err)
	require.True(t, held)

	rec := f.do(t, http.MethodPost, "/v1/batches/"+batch.ID.String()+"/retry", "", true)

	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestBatchAttemptsEmpty(t *testing.T) {
	f := newAPIFixture(t)
	batch := &domain.Batch{ID: uuid.New(), UserID: f.userID, Status: codes.BatchStatusSent}
	require.NoError(t, f.mem.CreateBatch(context.Background(), batch))

	rec := f.do(t, http.MethodGet, "/v1/batches/"+batch.ID.String()+"/attempts", "", true)

	require.Equal(t, http.StatusOK, rec.Code)
	var attempts []attemptResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&attempts))
	assert.Empty(t, attempts)
}
