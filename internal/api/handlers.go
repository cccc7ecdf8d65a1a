package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/waxal/smsgateway/internal/dispatch"
	"github.com/waxal/smsgateway/internal/store"
)

// tenantHeader identifies the calling tenant. The management API fronts
// trusted operator tooling; tenant-facing authentication lives upstream.
const tenantHeader = "X-User-ID"

type sendMessageRequest struct {
	SenderID  string `json:"sender_id"`
	Recipient string `json:"recipient"`
	Content   string `json:"content"`
}

type sendMessageResponse struct {
	MessageID        string `json:"message_id,omitempty"`
	CarrierMessageID string `json:"carrier_message_id,omitempty"`
	Success          bool   `json:"success"`
	ErrorCode        string `json:"error_code,omitempty"`
	Reason           string `json:"reason,omitempty"`
}

type sendBatchRequest struct {
	SenderID   string   `json:"sender_id"`
	Recipients []string `json:"recipients"`
	Content    string   `json:"content"`
}

type batchStatusResponse struct {
	BatchID     string    `json:"batch_id"`
	Status      string    `json:"status"`
	Total       int64     `json:"total"`
	Sent        int64     `json:"sent"`
	Delivered   int64     `json:"delivered"`
	Failed      int64     `json:"failed"`
	Unknown     int64     `json:"unknown"`
	Pending     int64     `json:"pending"`
	RetryCount  int32     `json:"retry_count"`
	InProcess   bool      `json:"in_process"`
	SuccessRate string    `json:"success_rate"`
	FailureRate string    `json:"failure_rate"`
	CreatedAt   time.Time `json:"created_at"`
}

type attemptResponse struct {
	RetryOrdinal int32      `json:"retry_ordinal"`
	Status       string     `json:"status"`
	StartedAt    time.Time  `json:"started_at"`
	EndedAt      *time.Time `json:"ended_at,omitempty"`
	DurationSecs int64      `json:"duration_secs"`
	SuccessCount int64      `json:"success_count"`
	FailedCount  int64      `json:"failed_count"`
	LastError    *string    `json:"last_error,omitempty"`
}

func tenantID(r *http.Request) (uuid.UUID, error) {
	raw := r.Header.Get(tenantHeader)
	if raw == "" {
		return uuid.Nil, errors.New("missing " + tenantHeader + " header")
	}
	return uuid.Parse(raw)
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	userID, err := tenantID(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request payload: "+err.Error())
		return
	}

	res := s.dispatcher.SendSingle(r.Context(), userID, req.SenderID, req.Recipient, req.Content)
	status := http.StatusOK
	if !res.Success {
		status = http.StatusUnprocessableEntity
	}
	resp := sendMessageResponse{
		Success:          res.Success,
		CarrierMessageID: res.CarrierMessageID,
		ErrorCode:        res.ErrorCode,
		Reason:           res.Reason,
	}
	if res.MessageID != uuid.Nil {
		resp.MessageID = res.MessageID.String()
	}
	writeJSON(w, status, resp)
}

func (s *Server) handleQueryStatus(w http.ResponseWriter, r *http.Request) {
	userID, err := tenantID(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	carrierMessageID := chi.URLParam(r, "carrierMessageID")

	res := s.dispatcher.QueryStatus(r.Context(), userID, carrierMessageID)
	status := http.StatusOK
	switch {
	case res.NotFound:
		status = http.StatusNotFound
	case !res.Success:
		status = http.StatusBadGateway
	}
	writeJSON(w, status, map[string]any{
		"carrier_message_id": carrierMessageID,
		"status":             res.Status,
		"success":            res.Success,
		"reason":             res.Reason,
	})
}

func (s *Server) handleSendBatch(w http.ResponseWriter, r *http.Request) {
	userID, err := tenantID(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	var req sendBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request payload: "+err.Error())
		return
	}

	batchID, err := s.dispatcher.SendBulkAsync(r.Context(), userID, req.SenderID, req.Recipients, req.Content)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"batch_id": batchID.String()})
}

func (s *Server) batchFromRequest(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	batchID, err := uuid.Parse(chi.URLParam(r, "batchID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid batch id")
		return uuid.Nil, false
	}
	return batchID, true
}

func (s *Server) handleBatchStatus(w http.ResponseWriter, r *http.Request) {
	batchID, ok := s.batchFromRequest(w, r)
	if !ok {
		return
	}
	batch, err := s.batches.GetBatch(r.Context(), batchID)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "batch not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	stats := batch.Stats()
	writeJSON(w, http.StatusOK, batchStatusResponse{
		BatchID:     batch.ID.String(),
		Status:      string(batch.Status),
		Total:       batch.Total,
		Sent:        batch.Sent,
		Delivered:   batch.Delivered,
		Failed:      batch.Failed,
		Unknown:     batch.Unknown,
		Pending:     batch.Pending,
		RetryCount:  batch.RetryCount,
		InProcess:   batch.InProcess,
		SuccessRate: stats.SuccessRate.String(),
		FailureRate: stats.FailureRate.String(),
		CreatedAt:   batch.CreatedAt,
	})
}

func (s *Server) handleBatchProgress(w http.ResponseWriter, r *http.Request) {
	batchID, ok := s.batchFromRequest(w, r)
	if !ok {
		return
	}
	key := batchID.String()
	if !s.tracker.Exists(r.Context(), key) {
		writeError(w, http.StatusNotFound, "no progress entry for batch")
		return
	}
	snap, err := s.tracker.GetProgress(r.Context(), key)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleBatchAttempts(w http.ResponseWriter, r *http.Request) {
	batchID, ok := s.batchFromRequest(w, r)
	if !ok {
		return
	}
	attempts, err := s.history.ListAttempts(r.Context(), batchID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	out := make([]attemptResponse, 0, len(attempts))
	for _, a := range attempts {
		out = append(out, attemptResponse{
			RetryOrdinal: a.RetryOrdinal,
			Status:       string(a.Status),
			StartedAt:    a.StartedAt,
			EndedAt:      a.EndedAt,
			DurationSecs: a.DurationSecs,
			SuccessCount: a.SuccessCount,
			FailedCount:  a.FailedCount,
			LastError:    a.LastError,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleRetryBatch(w http.ResponseWriter, r *http.Request) {
	batchID, ok := s.batchFromRequest(w, r)
	if !ok {
		return
	}
	report, err := s.dispatcher.RetryBatch(r.Context(), batchID)
	if errors.Is(err, dispatch.ErrRetryInProgress) {
		writeError(w, http.StatusConflict, "a retry pass is already running for this batch")
		return
	}
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "batch not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"batch_id":  batchID.String(),
		"resent":    report.Total,
		"succeeded": report.Succeeded,
		"failed":    report.Failed,
	})
}
