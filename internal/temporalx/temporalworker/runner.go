package temporalworker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/activity"
	temporalsdkclient "go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"

	"github.com/yungbote/quizgen-backend/internal/jobs/pipeline"
	"github.com/yungbote/quizgen-backend/internal/platform/httpx"
	"github.com/yungbote/quizgen-backend/internal/platform/logger"
	"github.com/yungbote/quizgen-backend/internal/temporalx"
	"github.com/yungbote/quizgen-backend/internal/temporalx/quizgen"
)

// Runner hosts the quiz generation workflow and its activities.
type Runner struct {
	log    *logger.Logger
	cfg    temporalx.Config
	tc     temporalsdkclient.Client
	runner *pipeline.Runner
}

func NewRunner(log *logger.Logger, cfg temporalx.Config, tc temporalsdkclient.Client, runner *pipeline.Runner) (*Runner, error) {
	if tc == nil {
		return nil, fmt.Errorf("temporal client is not configured")
	}
	if runner == nil {
		return nil, fmt.Errorf("temporal worker missing pipeline")
	}
	return &Runner{log: log.With("component", "TemporalWorker"), cfg: cfg, tc: tc, runner: runner}, nil
}

// Start polls the task queue until ctx is done. Startup is retried while the
// cluster or namespace is still coming up.
func (r *Runner) Start(ctx context.Context) error {
	cfg := r.cfg
	r.log.Info("Starting Temporal worker", "address", cfg.Address, "namespace", cfg.Namespace, "task_queue", cfg.TaskQueue)

	if cfg.AutoRegisterNamespace {
		if err := temporalx.EnsureNamespace(ctx, r.log, cfg); err != nil {
			r.log.Warn("Temporal namespace ensure failed; worker will retry on start", "namespace", cfg.Namespace, "error", err)
		}
	}

	deadline := time.Now().Add(cfg.DialMaxWait)
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		w := r.newWorker()
		startErr := w.Start()
		if startErr == nil {
			go func() {
				<-ctx.Done()
				w.Stop()
			}()
			r.log.Info("Temporal worker started", "task_queue", cfg.TaskQueue, "attempts", attempt)
			return nil
		}
		w.Stop()

		var nfe *serviceerror.NamespaceNotFound
		isMissingNS := errors.As(startErr, &nfe)
		if isMissingNS && cfg.AutoRegisterNamespace {
			_ = temporalx.EnsureNamespace(ctx, r.log, cfg)
		}
		if cfg.DialMaxWait <= 0 || time.Now().After(deadline) {
			if isMissingNS {
				return fmt.Errorf("temporal namespace not found (namespace=%s): %w", cfg.Namespace, startErr)
			}
			return startErr
		}
		r.log.Warn("Temporal worker failed to start; retrying", "attempt", attempt, "error", startErr)
		if err := httpx.Sleep(ctx, cfg.RetryBackoff().Delay(attempt-1, nil)); err != nil {
			return err
		}
	}
}

func (r *Runner) newWorker() worker.Worker {
	concurrency := r.cfg.WorkerConcurrency
	if concurrency < 1 {
		concurrency = 1
	}
	w := worker.New(r.tc, r.cfg.TaskQueue, worker.Options{
		MaxConcurrentActivityExecutionSize:     concurrency,
		MaxConcurrentWorkflowTaskExecutionSize: concurrency,
	})
	acts := &quizgen.Activities{Runner: r.runner}
	w.RegisterWorkflowWithOptions(quizgen.Workflow, workflow.RegisterOptions{Name: quizgen.WorkflowName})
	w.RegisterActivityWithOptions(acts.Start, activity.RegisterOptions{Name: quizgen.ActivityStart})
	w.RegisterActivityWithOptions(acts.GenerateChunk, activity.RegisterOptions{Name: quizgen.ActivityGenerateChunk})
	w.RegisterActivityWithOptions(acts.Publish, activity.RegisterOptions{Name: quizgen.ActivityPublish})
	return w
}

