package workers

import (
	"context"
	"log/slog"
	"time"

	"github.com/waxal/smsgateway/internal/logging"
	"github.com/waxal/smsgateway/internal/store"
)

const staleNote = "no delivery receipt received; resolved by maintenance sweep"

// Sweeper is the daily maintenance job that force-transitions messages stuck
// in SUBMITTED past the stale age to UNKNOWN. It is the safety net against
// receipts that never arrive.
type Sweeper struct {
	messages store.MessageStore
	interval time.Duration
	staleAge time.Duration
}

func NewSweeper(messages store.MessageStore, interval, staleAge time.Duration) *Sweeper {
	return &Sweeper{messages: messages, interval: interval, staleAge: staleAge}
}

// Run loops until ctx ends. One pass executes immediately at startup so a
// restart never postpones overdue cleanup by a full interval.
func (s *Sweeper) Run(ctx context.Context) {
	ctx = logging.ContextWithWorker(ctx, "stale-sweeper")
	slog.InfoContext(ctx, "stale-submission sweeper starting",
		slog.Duration("interval", s.interval), slog.Duration("stale_age", s.staleAge))

	s.sweep(ctx)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			slog.InfoContext(ctx, "stale-submission sweeper stopping")
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	runCtx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	cutoff := time.Now().Add(-s.staleAge)
	n, err := s.messages.SweepStale(runCtx, cutoff, staleNote)
	if err != nil {
		slog.ErrorContext(runCtx, "stale sweep failed", slog.Any("error", err))
		return
	}
	if n > 0 {
		slog.InfoContext(runCtx, "swept stale submissions to UNKNOWN", slog.Int64("count", n))
	}
}
