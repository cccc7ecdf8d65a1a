// Package workers provides the gateway's bounded worker pools. Each workload
// class gets its own pool so that a flood of bulk sends cannot starve receipt
// processing or interactive traffic.
package workers

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/waxal/smsgateway/internal/logging"
)

// ErrPoolClosed is returned by Submit after Shutdown has begun.
var ErrPoolClosed = errors.New("workers: pool closed")

// Task is one unit of pool work.
type Task func(ctx context.Context)

// Pool is a named, bounded worker pool. Submit blocks when the queue is
// full: overload back-pressures the submitting goroutine instead of dropping
// work, because losing a send or a receipt silently is unacceptable.
type Pool struct {
	name  string
	tasks chan Task
	quit  chan struct{}
	wg    sync.WaitGroup
	once  sync.Once
}

// NewPool starts workers goroutines consuming a queue of size queueSize.
func NewPool(name string, workers, queueSize int) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	p := &Pool{
		name:  name,
		tasks: make(chan Task, queueSize),
		quit:  make(chan struct{}),
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.run()
	}
	return p
}

func (p *Pool) run() {
	defer p.wg.Done()
	ctx := logging.ContextWithWorker(context.Background(), p.name)
	for {
		select {
		case <-p.quit:
			// Drain what was accepted before shutdown, then exit.
			for {
				select {
				case task := <-p.tasks:
					p.safeRun(ctx, task)
				default:
					return
				}
			}
		case task := <-p.tasks:
			p.safeRun(ctx, task)
		}
	}
}

func (p *Pool) safeRun(ctx context.Context, task Task) {
	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "panic in pool task", slog.String("pool", p.name), slog.Any("panic", r))
		}
	}()
	task(ctx)
}

// Submit enqueues a task, blocking while the queue is full. It fails only
// when the caller's context ends or the pool is shutting down.
func (p *Pool) Submit(ctx context.Context, task Task) error {
	select {
	case <-p.quit:
		return ErrPoolClosed
	default:
	}
	select {
	case p.tasks <- task:
		return nil
	case <-p.quit:
		return ErrPoolClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Name returns the pool's name.
func (p *Pool) Name() string { return p.name }

// QueueDepth reports the number of queued, unstarted tasks.
func (p *Pool) QueueDepth() int { return len(p.tasks) }

// Shutdown stops intake and waits for queued tasks to drain, bounded by ctx.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.once.Do(func() { close(p.quit) })

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		slog.Warn("pool shutdown timed out before drain completed",
			slog.String("pool", p.name), slog.Int("queued", len(p.tasks)))
		return ctx.Err()
	}
}

// TokenBucket is a simple refill-on-take limiter guarding rate-capped
// external calls.
type TokenBucket struct {
	capacity   float64
	tokens     float64
	refillRate float64
	lastRefill time.Time
	mu         sync.Mutex
}

func NewTokenBucket(capacity, refillRate float64) *TokenBucket {
	return &TokenBucket{
		capacity:   capacity,
		tokens:     capacity,
		refillRate: refillRate,
		lastRefill: time.Now(),
	}
}

// Take consumes one token if available.
func (tb *TokenBucket) Take() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(tb.lastRefill)
	tb.tokens = min(tb.capacity, tb.tokens+elapsed.Seconds()*tb.refillRate)
	tb.lastRefill = now

	if tb.tokens >= 1 {
		tb.tokens--
		return true
	}
	return false
}

// Wait blocks until a token is available or ctx ends.
func (tb *TokenBucket) Wait(ctx context.Context) error {
	for {
		if tb.Take() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(10 * time.Millisecond):
		}
	}
}
