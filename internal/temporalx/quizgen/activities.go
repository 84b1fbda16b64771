package quizgen

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.temporal.io/sdk/activity"

	"github.com/yungbote/quizgen-backend/internal/jobs/pipeline"
)

type Activities struct {
	Runner *pipeline.Runner
}

func (a *Activities) Start(ctx context.Context, jobID string) (pipeline.StartResult, error) {
	id, err := uuid.Parse(jobID)
	if err != nil || id == uuid.Nil {
		return pipeline.StartResult{}, fmt.Errorf("quizgen: invalid job_id %q", jobID)
	}
	return a.Runner.Start(ctx, id)
}

func (a *Activities) GenerateChunk(ctx context.Context, in pipeline.ChunkInput) (pipeline.ChunkResult, error) {
	stop := startHeartbeat(ctx)
	defer stop()
	return a.Runner.GenerateChunk(ctx, in)
}

func (a *Activities) Publish(ctx context.Context, in pipeline.PublishInput) error {
	return a.Runner.Publish(ctx, in)
}

// startHeartbeat keeps a long model call visible to the server so a dead
// worker is detected within the heartbeat timeout.
func startHeartbeat(ctx context.Context) func() {
	done := make(chan struct{})
	go func() {
		t := time.NewTicker(10 * time.Second)
		defer t.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-t.C:
				activity.RecordHeartbeat(ctx)
			}
		}
	}()
	return func() { close(done) }
}
