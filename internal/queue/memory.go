package queue

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"gumroad/internal/domain"
	applog "gumroad/internal/log"
)

const (
	DefaultMaxAttempts = 5
	DefaultBackoff     = 200 * time.Millisecond
	DefaultMaxBackoff  = 5 * time.Second
)

type delivery struct {
	Message
	attempt int
}

// Memory is an in-process queue backed by a bounded channel. A job whose
// handler fails is put back after a capped exponential backoff, up to
// MaxAttempts deliveries.
type Memory struct {
	MaxAttempts int
	Backoff     time.Duration
	MaxBackoff  time.Duration

	jobs    chan delivery
	workers int
	limiter *rate.Limiter
}

// NewMemory builds a queue holding up to size pending jobs, processed by
// workers goroutines at no more than rps jobs per second (rps <= 0 means
// unlimited).
func NewMemory(size, workers int, rps float64) *Memory {
	if size < 1 {
		size = 1
	}
	if workers < 1 {
		workers = 1
	}
	lim := rate.NewLimiter(rate.Inf, 1)
	if rps > 0 {
		lim = rate.NewLimiter(rate.Limit(rps), max(1, int(rps)))
	}
	return &Memory{
		MaxAttempts: DefaultMaxAttempts,
		Backoff:     DefaultBackoff,
		MaxBackoff:  DefaultMaxBackoff,
		jobs:        make(chan delivery, size),
		workers:     workers,
		limiter:     lim,
	}
}

// Enqueue never blocks; it fails with ErrQueueFull when the buffer is full.
func (q *Memory) Enqueue(ctx context.Context, job domain.DuplicationJob) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m := NewMessage(job)
	if err := m.Validate(); err != nil {
		return err
	}
	return q.offer(delivery{Message: m, attempt: 1})
}

func (q *Memory) offer(d delivery) error {
	select {
	case q.jobs <- d:
		return nil
	default:
		return ErrQueueFull
	}
}

func (q *Memory) Len() int { return len(q.jobs) }

// Run processes jobs until ctx is done, then waits for in-flight handlers.
// Handlers see a context that is not cancelled with ctx. Jobs still buffered
// when ctx is done are dropped; their rows stay queued for the next start.
func (q *Memory) Run(ctx context.Context, h Handler) error {
	var wg sync.WaitGroup
	for i := 0; i < q.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				if err := q.limiter.Wait(ctx); err != nil {
					return
				}
				select {
				case <-ctx.Done():
					return
				case d := <-q.jobs:
					q.handle(ctx, h, d)
				}
			}
		}()
	}
	wg.Wait()
	return nil
}

func (q *Memory) handle(ctx context.Context, h Handler, d delivery) {
	err := h(context.WithoutCancel(ctx), d.JobID)
	if err == nil {
		return
	}
	fields := map[string]any{"job_id": d.JobID, "product_id": d.ProductID, "attempt": d.attempt}
	applog.BackgroundError("queue.memory.job.error", err, fields)
	if d.attempt >= q.maxAttempts() {
		applog.BackgroundError("queue.memory.job.dropped", err, fields)
		return
	}
	next := delivery{Message: d.Message, attempt: d.attempt + 1}
	time.AfterFunc(q.backoff(d.attempt), func() {
		if ctx.Err() != nil {
			return
		}
		if err := q.offer(next); err != nil {
			applog.BackgroundError("queue.memory.job.dropped", err, fields)
		}
	})
}

func (q *Memory) maxAttempts() int {
	if q.MaxAttempts < 1 {
		return 1
	}
	return q.MaxAttempts
}

// backoff doubles from Backoff per failed attempt, capped at MaxBackoff.
func (q *Memory) backoff(attempt int) time.Duration {
	d := q.Backoff
	if d <= 0 {
		d = DefaultBackoff
	}
	for i := 1; i < attempt; i++ {
		d *= 2
		if q.MaxBackoff > 0 && d >= q.MaxBackoff {
			return q.MaxBackoff
		}
	}
	if q.MaxBackoff > 0 && d > q.MaxBackoff {
		return q.MaxBackoff
	}
	return d
}
