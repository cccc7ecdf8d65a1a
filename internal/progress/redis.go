package progress

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	redisKeyPrefix = "progress:"
	redisEntryTTL  = 24 * time.Hour
)

// RedisTracker is the distributed Tracker variant, used when multiple
// gateway instances serve the same tenant and the poller may hit any of
// them. Counters live in a Redis hash; HIncrBy keeps increments atomic.
type RedisTracker struct {
	client *redis.Client
	now    func() time.Time
}

var _ Tracker = (*RedisTracker)(nil)

func NewRedisTracker(client *redis.Client) *RedisTracker {
	return &RedisTracker{client: client, now: time.Now}
}

func (t *RedisTracker) key(key string) string { return redisKeyPrefix + key }

func (t *RedisTracker) Init(ctx context.Context, key string, total int64) error {
	k := t.key(key)
	pipe := t.client.TxPipeline()
	pipe.HSet(ctx, k,
		"total", total,
		"current", 0,
		"inserted", 0,
		"duplicates", 0,
		"errors", 0,
		"completed", 0,
		"reason", "",
		"started_at", t.now().UnixMilli(),
	)
	pipe.Expire(ctx, k, redisEntryTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("init progress key: %w", err)
	}
	return nil
}

func (t *RedisTracker) Increment(ctx context.Context, key string, delta int64) error {
	if err := t.client.HIncrBy(ctx, t.key(key), "current", delta).Err(); err != nil {
		return fmt.Errorf("increment progress: %w", err)
	}
	return nil
}

func (t *RedisTracker) SetProgress(ctx context.Context, key string, current, total int64, completed bool) error {
	err := t.client.HSet(ctx, t.key(key),
		"current", current, "total", total, "completed", boolField(completed)).Err()
	if err != nil {
		return fmt.Errorf("set progress: %w", err)
	}
	return nil
}

func (t *RedisTracker) UpdateDetailedProgress(ctx context.Context, key string, processed, inserted, duplicates, errs int64, completed bool) error {
	err := t.client.HSet(ctx, t.key(key),
		"current", processed, "inserted", inserted, "duplicates", duplicates,
		"errors", errs, "completed", boolField(completed)).Err()
	if err != nil {
		return fmt.Errorf("update detailed progress: %w", err)
	}
	return nil
}

func (t *RedisTracker) MarkCompleted(ctx context.Context, key, reason string) error {
	err := t.client.HSet(ctx, t.key(key), "completed", 1, "reason", reason).Err()
	if err != nil {
		return fmt.Errorf("mark progress completed: %w", err)
	}
	return nil
}

func (t *RedisTracker) GetProgress(ctx context.Context, key string) (Snapshot, error) {
	fields, err := t.client.HGetAll(ctx, t.key(key)).Result()
	if err != nil {
		return Snapshot{}, fmt.Errorf("read progress: %w", err)
	}
	if len(fields) == 0 {
		return Snapshot{}, ErrUnknownKey
	}
	s := Snapshot{
		Total:      intField(fields, "total"),
		Current:    intField(fields, "current"),
		Inserted:   intField(fields, "inserted"),
		Duplicates: intField(fields, "duplicates"),
		Errors:     intField(fields, "errors"),
		Completed:  intField(fields, "completed") == 1,
		Reason:     fields["reason"],
	}
	s.Percentage = percentage(s.Current, s.Total)
	startedAt := time.UnixMilli(intField(fields, "started_at"))
	s.Rate, s.ETASeconds = derive(s.Current, s.Total, t.now().Sub(startedAt).Seconds())
	return s, nil
}

func (t *RedisTracker) Exists(ctx context.Context, key string) bool {
	n, err := t.client.Exists(ctx, t.key(key)).Result()
	return err == nil && n > 0
}

func (t *RedisTracker) Remove(ctx context.Context, key string) error {
	if err := t.client.Del(ctx, t.key(key)).Err(); err != nil {
		return fmt.Errorf("remove progress key: %w", err)
	}
	return nil
}

func intField(fields map[string]string, name string) int64 {
	n, _ := strconv.ParseInt(fields[name], 10, 64)
	return n
}

func boolField(b bool) int {
	if b {
		return 1
	}
	return 0
}
