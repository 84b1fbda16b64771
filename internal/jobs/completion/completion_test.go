package completion

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/yungbote/quizgen-backend/internal/domain/jobs"
	"github.com/yungbote/quizgen-backend/internal/platform/logger"
)

func TestEncodeAssignsEventID(t *testing.T) {
	raw, err := Encode(jobs.CompletionEvent{JobID: uuid.New(), Outcome: jobs.CompletionSucceeded})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	ev, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if ev.EventID == uuid.Nil {
		t.Fatalf("expected an event id")
	}
	if _, err := Encode(jobs.CompletionEvent{}); err == nil {
		t.Fatalf("expected missing job_id error")
	}
	if _, err := Decode([]byte(`{"outcome":"succeeded"}`)); err == nil {
		t.Fatalf("expected missing job_id error on decode")
	}
}

func TestMemoryQueueRedeliversUntilHandled(t *testing.T) {
	q := NewMemoryQueue(logger.NewNop(), 4)
	q.RetryDelay = 5 * time.Millisecond
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	jobID := uuid.New()
	var mu sync.Mutex
	attempts := 0
	done := make(chan struct{})
	go func() {
		_ = q.Run(ctx, func(ctx context.Context, ev jobs.CompletionEvent) error {
			mu.Lock()
			defer mu.Unlock()
			attempts++
			if ev.JobID != jobID {
				t.Errorf("job id %s", ev.JobID)
			}
			if attempts < 3 {
				return errors.New("transient")
			}
			close(done)
			return nil
		})
	}()

	if err := q.Publish(ctx, jobs.CompletionEvent{JobID: jobID, Outcome: jobs.CompletionFailed}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	select {
	case <-done:
	case <-ctx.Done():
		t.Fatalf("event was not redelivered")
	}
	mu.Lock()
	defer mu.Unlock()
	if attempts != 3 {
		t.Fatalf("attempts=%d", attempts)
	}
}

func TestMemoryQueuePublishAfterClose(t *testing.T) {
	q := NewMemoryQueue(logger.NewNop(), 1)
	_ = q.Close()
	if err := q.Publish(context.Background(), jobs.CompletionEvent{JobID: uuid.New()}); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestMemoryQueueCloseWakesBlockedPublisher(t *testing.T) {
	q := NewMemoryQueue(logger.NewNop(), 1)
	ctx := context.Background()
	if err := q.Publish(ctx, jobs.CompletionEvent{JobID: uuid.New()}); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	blocked := make(chan error, 1)
	go func() {
		blocked <- q.Publish(ctx, jobs.CompletionEvent{JobID: uuid.New()})
	}()
	time.Sleep(20 * time.Millisecond)

	closed := make(chan struct{})
	go func() {
		_ = q.Close()
		close(closed)
	}()
	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatalf("Close blocked behind a publisher on a full buffer")
	}
	select {
	case err := <-blocked:
		if !errors.Is(err, ErrClosed) {
			t.Fatalf("expected ErrClosed, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("blocked publisher was not released by Close")
	}
}

func TestMemoryQueueRunDrainsAfterClose(t *testing.T) {
	q := NewMemoryQueue(logger.NewNop(), 2)
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if err := q.Publish(ctx, jobs.CompletionEvent{JobID: uuid.New()}); err != nil {
			t.Fatalf("Publish: %v", err)
		}
	}
	_ = q.Close()

	handled := 0
	if err := q.Run(ctx, func(context.Context, jobs.CompletionEvent) error {
		handled++
		return nil
	}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if handled != 2 {
		t.Fatalf("handled %d buffered events", handled)
	}
}

func TestRedisStreamQueueRoundTrip(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	rdb := goredis.NewClient(&goredis.Options{Addr: addr})
	t.Cleanup(func() { rdb.Close() })
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		t.Fatalf("redis not available at %s: %v", addr, err)
	}

	stream := "test:" + t.Name() + ":" + uuid.NewString()
	t.Cleanup(func() { rdb.Del(context.Background(), stream) })
	q := NewRedisStreamQueue(logger.NewNop(), rdb, WithStream(stream), WithBlock(100*time.Millisecond), WithClaimIdle(200*time.Millisecond))
	if err := q.EnsureGroup(ctx); err != nil {
		t.Fatalf("EnsureGroup: %v", err)
	}

	jobID := uuid.New()
	if err := q.Publish(ctx, jobs.CompletionEvent{JobID: jobID, Outcome: jobs.CompletionSucceeded}); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	got := make(chan uuid.UUID, 4)
	failedOnce := false
	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	go func() {
		_ = q.Run(runCtx, func(ctx context.Context, ev jobs.CompletionEvent) error {
			if !failedOnce {
				failedOnce = true
				return errors.New("transient")
			}
			got <- ev.JobID
			return nil
		})
	}()

	select {
	case id := <-got:
		if id != jobID {
			t.Fatalf("job id %s", id)
		}
	case <-ctx.Done():
		t.Fatalf("pending message was not reclaimed")
	}
	stop()

	pending, err := rdb.XPending(context.Background(), stream, DefaultGroup).Result()
	if err != nil {
		t.Fatalf("XPending: %v", err)
	}
	if pending.Count != 0 {
		t.Fatalf("pending=%d", pending.Count)
	}
}
