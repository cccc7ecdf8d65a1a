// Package api is the management HTTP surface of the gateway: message and
// batch submission, status and progress polling, and retry control.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/waxal/smsgateway/internal/config"
	"github.com/waxal/smsgateway/internal/dispatch"
	"github.com/waxal/smsgateway/internal/history"
	"github.com/waxal/smsgateway/internal/progress"
	"github.com/waxal/smsgateway/internal/store"
)

// Server serves the management API.
type Server struct {
	cfg        config.APIConfig
	dispatcher *dispatch.Service
	batches    store.BatchStore
	tracker    progress.Tracker
	history    *history.Tracker

	httpServer *http.Server
	stopOnce   sync.Once
}

func NewServer(cfg config.APIConfig, dispatcher *dispatch.Service, batches store.BatchStore,
	tracker progress.Tracker, hist *history.Tracker,
) *Server {
	return &Server{
		cfg:        cfg,
		dispatcher: dispatcher,
		batches:    batches,
		tracker:    tracker,
		history:    hist,
	}
}

// Routes builds the router. Split out so tests can serve it directly.
func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Route("/v1", func(r chi.Router) {
		r.Post("/messages", s.handleSendMessage)
		r.Get("/messages/{carrierMessageID}/status", s.handleQueryStatus)
		r.Post("/batches", s.handleSendBatch)
		r.Get("/batches/{batchID}", s.handleBatchStatus)
		r.Get("/batches/{batchID}/progress", s.handleBatchProgress)
		r.Get("/batches/{batchID}/attempts", s.handleBatchAttempts)
		r.Post("/batches/{batchID}/retry", s.handleRetryBatch)
	})
	return r
}

// ListenAndServe starts the server and blocks until shutdown.
func (s *Server) ListenAndServe() error {
	s.httpServer = &http.Server{
		Addr:         s.cfg.Addr,
		Handler:      s.Routes(),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  s.cfg.IdleTimeout,
		ErrorLog:     slog.NewLogLogger(slog.Default().Handler(), slog.LevelWarn),
	}
	slog.Info("Starting management API", slog.String("address", s.cfg.Addr))
	err := s.httpServer.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting connections and drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	s.stopOnce.Do(func() {
		if s.httpServer != nil {
			err = s.httpServer.Shutdown(ctx)
		}
	})
	return err
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("response encode failed", slog.Any("error", err))
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
