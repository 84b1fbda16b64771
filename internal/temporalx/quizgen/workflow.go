package quizgen

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/yungbote/quizgen-backend/internal/domain/jobs"
	"github.com/yungbote/quizgen-backend/internal/jobs/pipeline"
)

// Workflow generates questions chunk by chunk and publishes one completion
// event, a failure when any step fails after its retries. A cancelled
// workflow publishes nothing; the orchestrator has already settled the job.
func Workflow(ctx workflow.Context, jobID string) error {
	jobID = strings.TrimSpace(jobID)
	if jobID == "" {
		return fmt.Errorf("quizgen: missing job_id")
	}
	log := workflow.GetLogger(ctx)

	stepCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval: time.Second,
			MaximumAttempts: 5,
		},
	})
	chunkCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 10 * time.Minute,
		HeartbeatTimeout:    time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    2 * time.Second,
			BackoffCoefficient: 2,
			MaximumAttempts:    3,
		},
	})

	var start pipeline.StartResult
	if err := workflow.ExecuteActivity(stepCtx, ActivityStart, jobID).Get(ctx, &start); err != nil {
		if temporal.IsCanceledError(err) {
			return err
		}
		id, perr := uuid.Parse(jobID)
		if perr != nil {
			return err
		}
		// The job may already be PROCESSING with tokens held; fail it so the
		// reservation is settled now instead of by the stale window.
		log.Warn("Start failed after retries", "job_id", jobID, "error", err)
		return workflow.ExecuteActivity(stepCtx, ActivityPublish, pipeline.PublishInput{
			JobID:  id,
			Failed: true,
			Reason: fmt.Sprintf("start: %v", err),
		}).Get(ctx, nil)
	}
	if !start.Proceed {
		return nil
	}

	out := pipeline.PublishInput{
		JobID:          start.JobID,
		Request:        start.Request,
		ChunkQuestions: map[int][]jobs.GeneratedQuestion{},
	}
	progress := pipeline.Progress{}
	for _, idx := range start.Chunks {
		var res pipeline.ChunkResult
		err := workflow.ExecuteActivity(chunkCtx, ActivityGenerateChunk, pipeline.ChunkInput{
			JobID:      start.JobID,
			ChunkIndex: idx,
			Request:    start.Request,
			Progress:   progress,
		}).Get(ctx, &res)
		if temporal.IsCanceledError(err) {
			return err
		}
		if err != nil {
			log.Warn("Chunk failed after retries", "job_id", jobID, "chunk_index", idx, "error", err)
			out.Failed = true
			out.Reason = fmt.Sprintf("chunk %d: %v", idx, err)
			out.ChunkQuestions = nil
			break
		}
		if res.Stopped {
			return nil
		}
		progress = res.Progress
		out.ChunkQuestions[idx] = res.Questions
	}

	return workflow.ExecuteActivity(stepCtx, ActivityPublish, out).Get(ctx, nil)
}
