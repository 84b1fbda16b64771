package completion

import (
	"context"
	"sync"
	"time"

	"github.com/yungbote/quizgen-backend/internal/domain/jobs"
	"github.com/yungbote/quizgen-backend/internal/platform/logger"
)

// MemoryQueue is an in-process Queue. Events a handler rejects are retried
// after RetryDelay, up to MaxAttempts deliveries.
type MemoryQueue struct {
	log         *logger.Logger
	ch          chan delivery
	RetryDelay  time.Duration
	MaxAttempts int

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

type delivery struct {
	raw     []byte
	attempt int
}

func NewMemoryQueue(baseLog *logger.Logger, buffer int) *MemoryQueue {
	if buffer <= 0 {
		buffer = 256
	}
	return &MemoryQueue{
		log:         baseLog.With("component", "MemoryCompletionQueue"),
		ch:          make(chan delivery, buffer),
		RetryDelay:  time.Second,
		MaxAttempts: 5,
		done:        make(chan struct{}),
	}
}

func (q *MemoryQueue) Publish(ctx context.Context, ev jobs.CompletionEvent) error {
	raw, err := Encode(ev)
	if err != nil {
		return err
	}
	return q.enqueue(ctx, delivery{raw: raw, attempt: 1})
}

// enqueue may block on a full buffer; it does so without holding q.mu so
// Close can still wake it.
func (q *MemoryQueue) enqueue(ctx context.Context, d delivery) error {
	q.mu.Lock()
	closed := q.closed
	q.mu.Unlock()
	if closed {
		return ErrClosed
	}
	select {
	case q.ch <- d:
		return nil
	case <-q.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *MemoryQueue) Run(ctx context.Context, h Handler) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case d := <-q.ch:
			q.deliver(ctx, h, d)
		case <-q.done:
			q.drain(ctx, h)
			return nil
		}
	}
}

// drain delivers what was buffered before Close.
func (q *MemoryQueue) drain(ctx context.Context, h Handler) {
	for {
		select {
		case d := <-q.ch:
			q.deliver(ctx, h, d)
		default:
			return
		}
	}
}

func (q *MemoryQueue) deliver(ctx context.Context, h Handler, d delivery) {
	ev, err := Decode(d.raw)
	if err != nil {
		q.log.Error("Dropping undecodable completion event", "error", err)
		return
	}
	if err := h(ctx, ev); err == nil {
		return
	} else if d.attempt >= q.MaxAttempts {
		q.log.Error("Completion event exhausted retries", "job_id", ev.JobID, "event_id", ev.EventID, "attempts", d.attempt, "error", err)
		return
	} else {
		q.log.Warn("Completion handler failed; will redeliver", "job_id", ev.JobID, "attempt", d.attempt, "error", err)
	}
	d.attempt++
	go func() {
		select {
		case <-ctx.Done():
			return
		case <-time.After(q.RetryDelay):
		}
		_ = q.enqueue(ctx, d)
	}()
}

func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.done)
	}
	return nil
}
