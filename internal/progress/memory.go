package progress

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	cmap "github.com/orcaman/concurrent-map/v2"
)

// ErrUnknownKey is returned when reading progress for an untracked key.
var ErrUnknownKey = errors.New("progress: unknown key")

// entry is one tracked key. Counters are atomics so concurrent workers can
// increment without a lock; the completion flag and reason ride on
// atomic.Value to keep snapshot reads lock-free too.
type entry struct {
	total      atomic.Int64
	current    atomic.Int64
	inserted   atomic.Int64
	duplicates atomic.Int64
	errs       atomic.Int64
	completed  atomic.Bool
	reason     atomic.Value // string
	startedAt  time.Time
}

// MemoryTracker is the in-process Tracker used for single-node deployments.
type MemoryTracker struct {
	entries cmap.ConcurrentMap[string, *entry]
	now     func() time.Time
}

var _ Tracker = (*MemoryTracker)(nil)

func NewMemoryTracker() *MemoryTracker {
	return &MemoryTracker{
		entries: cmap.New[*entry](),
		now:     time.Now,
	}
}

func (t *MemoryTracker) Init(_ context.Context, key string, total int64) error {
	e := &entry{startedAt: t.now()}
	e.total.Store(total)
	e.reason.Store("")
	t.entries.Set(key, e)
	return nil
}

// get lazily creates the entry so that Increment on an uninitialized key is
// never a lost update.
func (t *MemoryTracker) get(key string) *entry {
	if e, ok := t.entries.Get(key); ok {
		return e
	}
	e := &entry{startedAt: t.now()}
	e.reason.Store("")
	t.entries.SetIfAbsent(key, e)
	got, _ := t.entries.Get(key)
	return got
}

func (t *MemoryTracker) Increment(_ context.Context, key string, delta int64) error {
	t.get(key).current.Add(delta)
	return nil
}

func (t *MemoryTracker) SetProgress(_ context.Context, key string, current, total int64, completed bool) error {
	e := t.get(key)
	e.current.Store(current)
	e.total.Store(total)
	e.completed.Store(completed)
	return nil
}

func (t *MemoryTracker) UpdateDetailedProgress(_ context.Context, key string, processed, inserted, duplicates, errs int64, completed bool) error {
	e := t.get(key)
	e.current.Store(processed)
	e.inserted.Store(inserted)
	e.duplicates.Store(duplicates)
	e.errs.Store(errs)
	e.completed.Store(completed)
	return nil
}

func (t *MemoryTracker) MarkCompleted(_ context.Context, key, reason string) error {
	e := t.get(key)
	e.reason.Store(reason)
	e.completed.Store(true)
	return nil
}

func (t *MemoryTracker) GetProgress(_ context.Context, key string) (Snapshot, error) {
	e, ok := t.entries.Get(key)
	if !ok {
		return Snapshot{}, ErrUnknownKey
	}
	s := Snapshot{
		Total:      e.total.Load(),
		Current:    e.current.Load(),
		Inserted:   e.inserted.Load(),
		Duplicates: e.duplicates.Load(),
		Errors:     e.errs.Load(),
		Completed:  e.completed.Load(),
		Reason:     e.reason.Load().(string),
	}
	s.Percentage = percentage(s.Current, s.Total)
	s.Rate, s.ETASeconds = derive(s.Current, s.Total, t.now().Sub(e.startedAt).Seconds())
	return s, nil
}

func (t *MemoryTracker) Exists(_ context.Context, key string) bool {
	return t.entries.Has(key)
}

func (t *MemoryTracker) Remove(_ context.Context, key string) error {
	t.entries.Remove(key)
	return nil
}
