package completion

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/yungbote/quizgen-backend/internal/domain/jobs"
	"github.com/yungbote/quizgen-backend/internal/platform/logger"
)

const (
	DefaultStream = "quizgen:completions"
	DefaultGroup  = "quizgen-orchestrator"

	payloadField = "event"
)

// RedisStreamQueue is a Queue on a Redis stream with one consumer group.
// Messages are acked only after the handler succeeds; messages left pending
// longer than the claim idle time are reclaimed by any consumer.
type RedisStreamQueue struct {
	log       *logger.Logger
	rdb       goredis.UniversalClient
	stream    string
	group     string
	consumer  string
	claimIdle time.Duration
	block     time.Duration
	batch     int64
	maxLen    int64
}

type RedisOption func(*RedisStreamQueue)

func WithStream(name string) RedisOption {
	return func(q *RedisStreamQueue) {
		if strings.TrimSpace(name) != "" {
			q.stream = strings.TrimSpace(name)
		}
	}
}

func WithGroup(name string) RedisOption {
	return func(q *RedisStreamQueue) {
		if strings.TrimSpace(name) != "" {
			q.group = strings.TrimSpace(name)
		}
	}
}

func WithConsumerName(name string) RedisOption {
	return func(q *RedisStreamQueue) {
		if strings.TrimSpace(name) != "" {
			q.consumer = strings.TrimSpace(name)
		}
	}
}

func WithClaimIdle(d time.Duration) RedisOption {
	return func(q *RedisStreamQueue) {
		if d > 0 {
			q.claimIdle = d
		}
	}
}

func WithBlock(d time.Duration) RedisOption {
	return func(q *RedisStreamQueue) {
		if d > 0 {
			q.block = d
		}
	}
}

// WithMaxLen caps the stream length (approximate trimming). Zero disables trimming.
func WithMaxLen(n int64) RedisOption {
	return func(q *RedisStreamQueue) { q.maxLen = n }
}

func NewRedisStreamQueue(baseLog *logger.Logger, rdb goredis.UniversalClient, opts ...RedisOption) *RedisStreamQueue {
	host, _ := os.Hostname()
	if host == "" {
		host = "orchestrator"
	}
	q := &RedisStreamQueue{
		rdb:       rdb,
		stream:    DefaultStream,
		group:     DefaultGroup,
		consumer:  fmt.Sprintf("%s-%d", host, os.Getpid()),
		claimIdle: time.Minute,
		block:     5 * time.Second,
		batch:     16,
		maxLen:    100000,
	}
	for _, opt := range opts {
		opt(q)
	}
	q.log = baseLog.With("component", "RedisCompletionQueue", "stream", q.stream, "group", q.group)
	return q
}

func (q *RedisStreamQueue) Publish(ctx context.Context, ev jobs.CompletionEvent) error {
	raw, err := Encode(ev)
	if err != nil {
		return err
	}
	args := &goredis.XAddArgs{
		Stream: q.stream,
		Values: map[string]any{payloadField: string(raw)},
	}
	if q.maxLen > 0 {
		args.MaxLen = q.maxLen
		args.Approx = true
	}
	if err := q.rdb.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("xadd %s: %w", q.stream, err)
	}
	return nil
}

// EnsureGroup creates the stream and consumer group if they do not exist.
func (q *RedisStreamQueue) EnsureGroup(ctx context.Context) error {
	err := q.rdb.XGroupCreateMkStream(ctx, q.stream, q.group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("xgroup create %s/%s: %w", q.stream, q.group, err)
	}
	return nil
}

func (q *RedisStreamQueue) Run(ctx context.Context, h Handler) error {
	if err := q.EnsureGroup(ctx); err != nil {
		return err
	}
	q.log.Info("Completion consumer started", "consumer", q.consumer)
	lastClaim := time.Time{}
	for {
		if ctx.Err() != nil {
			return nil
		}
		if time.Since(lastClaim) >= q.claimIdle/2 {
			q.reclaim(ctx, h)
			lastClaim = time.Now()
		}

		streams, err := q.rdb.XReadGroup(ctx, &goredis.XReadGroupArgs{
			Group:    q.group,
			Consumer: q.consumer,
			Streams:  []string{q.stream, ">"},
			Count:    q.batch,
			Block:    q.block,
		}).Result()
		if err != nil {
			if errors.Is(err, goredis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				return nil
			}
			q.log.Warn("XREADGROUP failed", "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}
		for _, s := range streams {
			for _, msg := range s.Messages {
				q.handle(ctx, h, msg)
			}
		}
	}
}

func (q *RedisStreamQueue) reclaim(ctx context.Context, h Handler) {
	start := "0-0"
	for {
		msgs, next, err := q.rdb.XAutoClaim(ctx, &goredis.XAutoClaimArgs{
			Stream:   q.stream,
			Group:    q.group,
			Consumer: q.consumer,
			MinIdle:  q.claimIdle,
			Start:    start,
			Count:    q.batch,
		}).Result()
		if err != nil {
			if ctx.Err() == nil {
				q.log.Warn("XAUTOCLAIM failed", "error", err)
			}
			return
		}
		for _, msg := range msgs {
			q.handle(ctx, h, msg)
		}
		if next == "" || next == "0-0" || len(msgs) == 0 {
			return
		}
		start = next
	}
}

func (q *RedisStreamQueue) handle(ctx context.Context, h Handler, msg goredis.XMessage) {
	raw, _ := msg.Values[payloadField].(string)
	ev, err := Decode([]byte(raw))
	if err != nil {
		q.log.Error("Dropping undecodable completion event", "message_id", msg.ID, "error", err)
		q.ack(ctx, msg.ID)
		return
	}
	if err := h(ctx, ev); err != nil {
		q.log.Warn("Completion handler failed; leaving pending", "message_id", msg.ID, "job_id", ev.JobID, "error", err)
		return
	}
	q.ack(ctx, msg.ID)
}

func (q *RedisStreamQueue) ack(ctx context.Context, id string) {
	if err := q.rdb.XAck(ctx, q.stream, q.group, id).Err(); err != nil {
		q.log.Warn("XACK failed", "message_id", id, "error", err)
	}
}

func (q *RedisStreamQueue) Close() error { return nil }
