package pipeline

import (
	"context"
	"sync"

	"github.com/google/uuid"

	types "github.com/yungbote/quizgen-backend/internal/domain"
	"github.com/yungbote/quizgen-backend/internal/platform/logger"
)

// InlineExecutor runs the pipeline in a goroutine of the API process. It is
// used when no Temporal cluster is configured.
type InlineExecutor struct {
	log    *logger.Logger
	runner *Runner
	base   context.Context

	mu      sync.Mutex
	cancels map[uuid.UUID]context.CancelFunc
	wg      sync.WaitGroup
}

// NewInlineExecutor runs jobs under base; cancelling base stops them all.
func NewInlineExecutor(base context.Context, baseLog *logger.Logger, runner *Runner) *InlineExecutor {
	return &InlineExecutor{
		log:     baseLog.With("component", "InlineExecutor"),
		runner:  runner,
		base:    base,
		cancels: map[uuid.UUID]context.CancelFunc{},
	}
}

func (e *InlineExecutor) Dispatch(ctx context.Context, job *types.GenerationJob) error {
	runCtx, cancel := context.WithCancel(e.base)
	e.mu.Lock()
	e.cancels[job.ID] = cancel
	e.mu.Unlock()

	jobID := job.ID
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer e.forget(jobID)
		defer func() {
			if r := recover(); r != nil {
				e.log.Error("Inline generation panic", "job_id", jobID, "panic", r)
			}
		}()
		if err := e.runner.Run(runCtx, jobID); err != nil && runCtx.Err() == nil {
			e.log.Warn("Inline generation ended with error", "job_id", jobID, "error", err)
		}
	}()
	return nil
}

func (e *InlineExecutor) Cancel(ctx context.Context, jobID uuid.UUID) error {
	e.mu.Lock()
	cancel, ok := e.cancels[jobID]
	e.mu.Unlock()
	if ok {
		cancel()
	}
	return nil
}

func (e *InlineExecutor) forget(jobID uuid.UUID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if cancel, ok := e.cancels[jobID]; ok {
		cancel()
		delete(e.cancels, jobID)
	}
}

// Wait blocks until every dispatched run has returned.
func (e *InlineExecutor) Wait() { e.wg.Wait() }
