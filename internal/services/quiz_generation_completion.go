package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/yungbote/quizgen-backend/internal/data/aggregates"
	types "github.com/yungbote/quizgen-backend/internal/domain"
	"github.com/yungbote/quizgen-backend/internal/domain/jobs"
	"github.com/yungbote/quizgen-backend/internal/observability"
	"github.com/yungbote/quizgen-backend/internal/platform/ctxutil"
	"github.com/yungbote/quizgen-backend/internal/platform/dbctx"
)

// HandleCompletion applies the executor's terminal event. Delivery is at
// least once, so a job that is already finished makes the event a no-op.
// A returned error means the event should be redelivered.
func (s *quizGenerationService) HandleCompletion(ctx context.Context, ev jobs.CompletionEvent) (err error) {
	const op = "quizgen.completion"
	ctx, span := observability.StartSpan(ctx, op,
		attribute.String("job_id", ev.JobID.String()),
		attribute.String("outcome", ev.Outcome),
	)
	defer func() { observability.EndSpan(span, err) }()

	job, err := s.jobs.GetByID(dbctx.Background(ctx), ev.JobID)
	if err != nil {
		return aggregates.MapError(op, err)
	}
	if job == nil {
		s.log.Warn("Completion for unknown job", "job_id", ev.JobID, "event_id", ev.EventID)
		s.metrics.IncCompletionEvent(ev.Outcome, "unknown_job")
		return nil
	}
	if job.IsTerminal() {
		s.log.Info("Completion ignored, job already finished", "job_id", job.ID, "status", job.Status, "event_id", ev.EventID)
		s.metrics.IncCompletionEvent(ev.Outcome, "ignored")
		return nil
	}

	if !ev.Succeeded() || ev.TotalQuestions() == 0 {
		reason := strings.TrimSpace(ev.Reason)
		if reason == "" {
			reason = "generation produced no questions"
		}
		if _, err := s.failJob(ctx, job.ID, reason); err != nil {
			return err
		}
		s.metrics.IncCompletionEvent(ev.Outcome, "failed")
		return nil
	}

	completed, err := s.complete(ctx, job, ev)
	if err != nil {
		s.log.Error("Quiz assembly failed", "job_id", job.ID, "error", err)
		if _, ferr := s.failJob(ctx, job.ID, err.Error()); ferr != nil {
			return errors.Join(err, ferr)
		}
		s.metrics.IncCompletionEvent(ev.Outcome, "failed")
		return nil
	}
	if !completed {
		s.metrics.IncCompletionEvent(ev.Outcome, "ignored")
		return nil
	}
	s.metrics.IncCompletionEvent(ev.Outcome, "completed")

	// The quiz stands regardless of what happens to billing from here on.
	outcome, cerr := s.CommitTokens(ctx, job.ID)
	if cerr != nil {
		s.log.Warn("Token commit did not complete", "job_id", job.ID, "outcome", outcome.Kind, "error", cerr)
	}
	return nil
}

// complete assembles the quizzes and moves the job to completed in one
// transaction. It reports false when a concurrent cancel won the race.
func (s *quizGenerationService) complete(ctx context.Context, job *types.GenerationJob, ev jobs.CompletionEvent) (bool, error) {
	const op = "quizgen.complete"
	req := job.Request.Data()
	if req.Difficulty == "" {
		req.Difficulty = ev.OriginalRequest.Normalized().Difficulty
	}
	title := req.Title
	if title == "" {
		title = job.Title
	}
	docTitle := ""
	if doc, err := s.documents.GetForUser(ctx, job.UserID, job.DocumentID); err == nil && doc != nil {
		docTitle = doc.Title
	}

	completed := false
	var result AssembleResult
	err := aggregates.ExecuteWrite(ctx, s.deps, op, func(dbc dbctx.Context) error {
		locked, err := s.jobs.LockByID(dbc, job.ID)
		if err != nil {
			return err
		}
		if locked == nil || locked.IsTerminal() {
			return nil
		}
		result, err = s.assembler.Assemble(dbc, AssembleInput{
			CreatorID:      job.UserID,
			DocumentID:     job.DocumentID,
			JobID:          job.ID,
			RequestedTitle: title,
			DocumentTitle:  docTitle,
			Difficulty:     req.Difficulty,
			ChunkQuestions: ev.ChunkQuestions,
		})
		if err != nil {
			return err
		}
		now := s.now()
		ok, err := s.jobs.UpdateFieldsIfStatus(dbc, job.ID, jobs.ActiveStatuses, map[string]interface{}{
			"status":                    jobs.StatusCompleted,
			"generated_quiz_id":         result.Consolidated.ID,
			"total_questions_generated": result.TotalQuestions,
			"processed_chunks":          locked.TotalChunks,
			"error_message":             "",
			"completed_at":              now,
			"heartbeat_at":              now,
			"updated_at":                now,
		})
		if err != nil {
			return err
		}
		if !ok {
			return aggregates.ConflictError(fmt.Sprintf("job %s left the active states during completion", job.ID))
		}
		completed = true
		return nil
	})
	if err != nil {
		return false, err
	}
	if completed {
		s.metrics.IncJobTransition(jobs.StatusCompleted)
		s.log.Info("Generation job completed",
			"job_id", job.ID,
			"quiz_id", result.Consolidated.ID,
			"chunk_quizzes", len(result.ChunkQuizzes),
			"questions", result.TotalQuestions,
		)
	}
	return completed, nil
}

// failJob moves an active job to failed and returns its reservation. The
// release is best effort: its error is recorded on the job and logged but
// never returned, so it cannot hide the original failure.
func (s *quizGenerationService) failJob(ctx context.Context, jobID uuid.UUID, reason string) (bool, error) {
	const op = "quizgen.fail"
	now := s.now()
	ok, err := s.jobs.UpdateFieldsIfStatus(dbctx.Background(ctx), jobID, jobs.ActiveStatuses, map[string]interface{}{
		"status":        jobs.StatusFailed,
		"error_message": truncateRunes(reason, 2000),
		"completed_at":  now,
		"updated_at":    now,
	})
	if err != nil {
		return false, aggregates.MapError(op, err)
	}
	if !ok {
		return false, nil
	}
	s.metrics.IncJobTransition(jobs.StatusFailed)
	s.log.Warn("Generation job failed", "job_id", jobID, "reason", reason)

	rerr := aggregates.ExecuteWrite(ctx, s.deps, "quizgen.fail_release", func(dbc dbctx.Context) error {
		job, err := s.jobs.LockByID(dbc, jobID)
		if err != nil {
			return err
		}
		if job == nil || job.BillingReservationID == nil || job.BillingState != jobs.BillingReserved {
			return nil
		}
		return s.releaseLocked(dbc, job, "generation failed")
	})
	if rerr != nil {
		s.log.Error("Release after failure failed", "job_id", jobID, "error", rerr)
		s.recordBillingError(ctx, jobID, jobs.BillingErrorRelease, rerr)
	}
	return true, nil
}

// recordBillingError stores err as the job's last billing error. It never fails
// the caller.
func (s *quizGenerationService) recordBillingError(ctx context.Context, jobID uuid.UUID, kind string, cause error) {
	correlationID := ctxutil.CorrelationID(ctx)
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	now := s.now()
	err := s.jobs.UpdateFields(dbctx.Background(ctx), jobID, map[string]interface{}{
		"last_billing_error_message":        truncateRunes(cause.Error(), 2000),
		"last_billing_error_kind":           kind,
		"last_billing_error_at":             now,
		"last_billing_error_correlation_id": correlationID,
	})
	s.metrics.IncBillingError(kind)
	if err != nil {
		s.log.Error("Could not record billing error", "job_id", jobID, "kind", kind, "cause", cause, "error", err)
	}
}

func clearedBillingError(updates map[string]interface{}) map[string]interface{} {
	updates["last_billing_error_message"] = ""
	updates["last_billing_error_kind"] = ""
	updates["last_billing_error_at"] = nil
	updates["last_billing_error_correlation_id"] = ""
	return updates
}
