package logging

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
)

type contextKey string

const (
	UserIDKey       contextKey = "user_id"
	BatchIDKey      contextKey = "batch_id"
	MessageIDKey    contextKey = "msg_id"
	CarrierMsgIDKey contextKey = "carrier_msg_id"
	MSISDNKey       contextKey = "msisdn"
	WorkerKey       contextKey = "worker"
	AttemptKey      contextKey = "attempt"
)

// ContextHandler wraps another slog.Handler and adds attributes from context.
type ContextHandler struct {
	slog.Handler
}

// NewContextHandler creates a handler that extracts values from context.
func NewContextHandler(h slog.Handler) *ContextHandler {
	return &ContextHandler{Handler: h}
}

// Handle adds context attributes before calling the wrapped handler.
func (h *ContextHandler) Handle(ctx context.Context, r slog.Record) error {
	if id, ok := ctx.Value(UserIDKey).(uuid.UUID); ok {
		r.AddAttrs(slog.String("user_id", id.String()))
	}
	if id, ok := ctx.Value(BatchIDKey).(uuid.UUID); ok {
		r.AddAttrs(slog.String("batch_id", id.String()))
	}
	if id, ok := ctx.Value(MessageIDKey).(uuid.UUID); ok {
		r.AddAttrs(slog.String("msg_id", id.String()))
	}
	if id, ok := ctx.Value(CarrierMsgIDKey).(string); ok {
		r.AddAttrs(slog.String("carrier_msg_id", id))
	}
	if v, ok := ctx.Value(MSISDNKey).(string); ok {
		r.AddAttrs(slog.String("msisdn", v))
	}
	if v, ok := ctx.Value(WorkerKey).(string); ok {
		r.AddAttrs(slog.String("worker", v))
	}
	if v, ok := ctx.Value(AttemptKey).(int32); ok {
		r.AddAttrs(slog.Int("attempt", int(v)))
	}
	return h.Handler.Handle(ctx, r)
}

func (h *ContextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &ContextHandler{Handler: h.Handler.WithAttrs(attrs)}
}

func (h *ContextHandler) WithGroup(name string) slog.Handler {
	return &ContextHandler{Handler: h.Handler.WithGroup(name)}
}

// Helper functions to add values to context

func ContextWithUserID(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, UserIDKey, id)
}

func ContextWithBatchID(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, BatchIDKey, id)
}

func ContextWithMessageID(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, MessageIDKey, id)
}

func ContextWithCarrierMsgID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, CarrierMsgIDKey, id)
}

func ContextWithMSISDN(ctx context.Context, msisdn string) context.Context {
	return context.WithValue(ctx, MSISDNKey, msisdn)
}

func ContextWithWorker(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, WorkerKey, name)
}

func ContextWithAttempt(ctx context.Context, ordinal int32) context.Context {
	return context.WithValue(ctx, AttemptKey, ordinal)
}
