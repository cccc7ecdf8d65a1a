package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"github.com/waxal/smsgateway/internal/api"
	"github.com/waxal/smsgateway/internal/carrier"
	"github.com/waxal/smsgateway/internal/config"
	"github.com/waxal/smsgateway/internal/dispatch"
	"github.com/waxal/smsgateway/internal/history"
	"github.com/waxal/smsgateway/internal/logging"
	"github.com/waxal/smsgateway/internal/progress"
	"github.com/waxal/smsgateway/internal/receipt"
	"github.com/waxal/smsgateway/internal/secrets"
	"github.com/waxal/smsgateway/internal/store"
	"github.com/waxal/smsgateway/internal/workers"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logLevel := slog.LevelInfo
	if cfg.LogLevel == "debug" {
		logLevel = slog.LevelDebug
	}
	baseHandler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	slog.SetDefault(slog.New(logging.NewContextHandler(baseHandler)))
	slog.Info("Logging initialized", "level", logLevel.String())

	// --- Stores ---
	var (
		messages store.MessageStore
		batches  store.BatchStore
		attempts store.AttemptStore
		channels store.ChannelStore
	)
	if cfg.DatabaseURL == "memory" {
		mem := store.NewMemory()
		messages, batches, attempts, channels = mem, mem, mem, mem
		slog.Warn("Running on the in-memory store, nothing will survive a restart")
	} else {
		dbpool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("Unable to connect to database: %v", err)
		}
		defer dbpool.Close()
		if err := dbpool.Ping(ctx); err != nil {
			log.Fatalf("Failed to ping database: %v", err)
		}
		slog.Info("Database connection pool established")
		pg := store.NewPostgres(dbpool)
		messages, batches, attempts, channels = pg, pg, pg, pg
	}

	// --- Progress tracker ---
	var tracker progress.Tracker = progress.NewMemoryTracker()
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := client.Ping(ctx).Err(); err != nil {
			log.Fatalf("Failed to ping redis: %v", err)
		}
		defer client.Close()
		tracker = progress.NewRedisTracker(client)
		slog.Info("Progress tracking on redis", "addr", cfg.RedisAddr)
	}

	cipher, err := secrets.NewAEADCipher(cfg.SecretKey)
	if err != nil {
		log.Fatalf("Invalid SECRET_KEY: %v", err)
	}

	// --- Services ---
	pools := workers.NewManager(cfg.Pools)
	hist := history.NewTracker(attempts)
	svc := dispatch.NewService(channels, messages, batches, cipher, carrier.SMPPOpener{},
		pools, tracker, hist, cfg.Carrier)

	reconciler := receipt.NewReconciler(messages, batches)
	listener := receipt.NewListener(cfg.Listener, pools.Receipt, reconciler)
	if listener.Enabled() {
		svc.OnSession(listener.Attach)
	}

	apiServer := api.NewServer(cfg.API, svc, batches, tracker, hist)

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		workers.NewSweeper(messages, cfg.Sweeper.Interval, cfg.Sweeper.StaleAge).Run(groupCtx)
		return nil
	})
	group.Go(apiServer.ListenAndServe)

	// --- Graceful shutdown ---
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
		slog.Info("Shutdown signal received, shutting down gracefully")
	case <-groupCtx.Done():
		slog.Error("Background service failed, shutting down")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		slog.Warn("API shutdown error", slog.Any("error", err))
	}
	cancel()
	if err := group.Wait(); err != nil {
		slog.Error("Background service error", slog.Any("error", err))
	}

	// Unbind first so no new receipts arrive, then drain what is queued.
	svc.Close(shutdownCtx)
	listener.Drain(shutdownCtx)
	pools.Shutdown(shutdownCtx)
	slog.Info("Gateway stopped")
}
