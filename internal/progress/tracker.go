// Package progress tracks live bulk-send progress. Entries are hot,
// multiply-written structures: many dispatch workers increment them while a
// polling client reads snapshots.
package progress

import "context"

// Snapshot is the polling view of one tracked key.
type Snapshot struct {
	Total      int64   `json:"total"`
	Current    int64   `json:"current"`
	Inserted   int64   `json:"inserted"`
	Duplicates int64   `json:"duplicates"`
	Errors     int64   `json:"errors"`
	Percentage float64 `json:"percentage"`
	Rate       float64 `json:"rate"`
	ETASeconds float64 `json:"etaSeconds"`
	Completed  bool    `json:"completed"`
	Reason     string  `json:"reason,omitempty"`
}

// Tracker is the progress store consumed by the dispatch service and the
// reconciler. Implementations must support atomic increments and atomic
// snapshot reads under heavy concurrent writes.
type Tracker interface {
	Init(ctx context.Context, key string, total int64) error
	Increment(ctx context.Context, key string, delta int64) error
	SetProgress(ctx context.Context, key string, current, total int64, completed bool) error
	UpdateDetailedProgress(ctx context.Context, key string, processed, inserted, duplicates, errors int64, completed bool) error
	MarkCompleted(ctx context.Context, key, reason string) error
	GetProgress(ctx context.Context, key string) (Snapshot, error)
	Exists(ctx context.Context, key string) bool
	// Remove is safe to call for a key that never existed.
	Remove(ctx context.Context, key string) error
}

// percentage returns current*100/total, 0 when total is 0.
func percentage(current, total int64) float64 {
	if total == 0 {
		return 0
	}
	return float64(current) * 100 / float64(total)
}

// derive computes best-effort rate and ETA from elapsed wall-clock seconds.
func derive(current, total int64, elapsedSecs float64) (rate, eta float64) {
	if elapsedSecs <= 0 || current <= 0 {
		return 0, 0
	}
	rate = float64(current) / elapsedSecs
	if remaining := total - current; remaining > 0 && rate > 0 {
		eta = float64(remaining) / rate
	}
	return rate, eta
}
