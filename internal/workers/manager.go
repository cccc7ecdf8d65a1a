package workers

import (
	"context"
	"log/slog"

	"github.com/waxal/smsgateway/internal/config"
)

// Manager owns the five workload-class pools.
type Manager struct {
	Interactive *Pool
	BulkSend    *Pool
	BulkInsert  *Pool
	Receipt     *Pool
	RateLimited *Pool

	// Limiter guards the rate-limited pool's external calls.
	Limiter *TokenBucket
}

// NewManager builds the pools from configuration. Each pool is sized for its
// workload shape: receipt processing gets the deep queue (high fan-in), the
// rate-limited pool stays tiny so callers feel back-pressure early.
func NewManager(cfg config.PoolsConfig) *Manager {
	return &Manager{
		Interactive: NewPool("interactive", cfg.InteractiveWorkers, cfg.InteractiveQueue),
		BulkSend:    NewPool("bulk-send", cfg.BulkSendWorkers, cfg.BulkSendQueue),
		BulkInsert:  NewPool("bulk-insert", cfg.BulkInsertWorkers, cfg.BulkInsertQueue),
		Receipt:     NewPool("receipt-processing", cfg.ReceiptWorkers, cfg.ReceiptQueue),
		RateLimited: NewPool("rate-limited", cfg.RateLimitedWorkers, cfg.RateLimitedQueue),
		Limiter:     NewTokenBucket(float64(cfg.RateLimitBurst), cfg.RateLimitPerSec),
	}
}

// Shutdown drains the pools in dependency order: intake pools first so no new
// submits land, then receipt processing so in-flight receipts finish.
func (m *Manager) Shutdown(ctx context.Context) {
	for _, p := range []*Pool{m.Interactive, m.BulkInsert, m.BulkSend, m.RateLimited, m.Receipt} {
		if err := p.Shutdown(ctx); err != nil {
			slog.Warn("pool did not drain cleanly", slog.String("pool", p.Name()))
		}
	}
}
