package quizgen

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.temporal.io/api/serviceerror"
	temporalsdkclient "go.temporal.io/sdk/client"

	types "github.com/yungbote/quizgen-backend/internal/domain"
	"github.com/yungbote/quizgen-backend/internal/platform/logger"
)

// Executor dispatches generation jobs as Temporal workflows.
type Executor struct {
	log       *logger.Logger
	client    temporalsdkclient.Client
	taskQueue string
}

func NewExecutor(baseLog *logger.Logger, c temporalsdkclient.Client, taskQueue string) *Executor {
	return &Executor{
		log:       baseLog.With("component", "TemporalExecutor"),
		client:    c,
		taskQueue: taskQueue,
	}
}

func (e *Executor) Dispatch(ctx context.Context, job *types.GenerationJob) error {
	if e.client == nil {
		return fmt.Errorf("temporal client is not configured")
	}
	run, err := e.client.ExecuteWorkflow(ctx, temporalsdkclient.StartWorkflowOptions{
		ID:        WorkflowID(job.ID),
		TaskQueue: e.taskQueue,
	}, WorkflowName, job.ID.String())
	if err != nil {
		var started *serviceerror.WorkflowExecutionAlreadyStarted
		if errors.As(err, &started) {
			e.log.Info("Generation workflow already running", "job_id", job.ID)
			return nil
		}
		return fmt.Errorf("start workflow for job %s: %w", job.ID, err)
	}
	e.log.Info("Started generation workflow", "job_id", job.ID, "workflow_id", run.GetID(), "run_id", run.GetRunID())
	return nil
}

func (e *Executor) Cancel(ctx context.Context, jobID uuid.UUID) error {
	if e.client == nil {
		return nil
	}
	err := e.client.CancelWorkflow(ctx, WorkflowID(jobID), "")
	var nf *serviceerror.NotFound
	if err != nil && !errors.As(err, &nf) {
		return fmt.Errorf("cancel workflow for job %s: %w", jobID, err)
	}
	return nil
}
