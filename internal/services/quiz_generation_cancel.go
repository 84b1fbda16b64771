package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/datatypes"

	"github.com/yungbote/quizgen-backend/internal/data/aggregates"
	types "github.com/yungbote/quizgen-backend/internal/domain"
	domainagg "github.com/yungbote/quizgen-backend/internal/domain/aggregates"
	"github.com/yungbote/quizgen-backend/internal/domain/jobs"
	"github.com/yungbote/quizgen-backend/internal/domain/ledger"
	"github.com/yungbote/quizgen-backend/internal/observability"
	"github.com/yungbote/quizgen-backend/internal/platform/dbctx"
)

const userCancelMessage = "Cancelled by user"

func (s *quizGenerationService) CancelJob(ctx context.Context, userID, jobID uuid.UUID) (job *types.GenerationJob, err error) {
	ctx, span := observability.StartSpan(ctx, "quizgen.cancel", attribute.String("job_id", jobID.String()))
	defer func() { observability.EndSpan(span, err) }()

	if _, err := s.GetJob(ctx, userID, jobID); err != nil {
		return nil, err
	}
	job, err = s.cancel(ctx, jobID, userCancelMessage)
	if err != nil {
		return nil, err
	}
	s.stopExecution(ctx, jobID)
	return job, nil
}

// stopExecution asks the executor to stop a job that is already terminal.
// Failure only costs wasted work, so it is logged and ignored.
func (s *quizGenerationService) stopExecution(ctx context.Context, jobID uuid.UUID) {
	if s.executor == nil {
		return
	}
	if err := s.executor.Cancel(ctx, jobID); err != nil {
		s.log.Warn("Executor cancel failed", "job_id", jobID, "error", err)
	}
}

// cancel is shared by user cancellation and stale-job recovery. The status
// change always sticks; billing problems are recorded on the job instead of
// being returned.
func (s *quizGenerationService) cancel(ctx context.Context, jobID uuid.UUID, message string) (*types.GenerationJob, error) {
	const op = "quizgen.cancel"
	err := aggregates.ExecuteWrite(ctx, s.deps, op, func(dbc dbctx.Context) error {
		job, err := s.jobs.LockByID(dbc, jobID)
		if err != nil {
			return err
		}
		if job == nil {
			return domainagg.NotFound(op, fmt.Sprintf("generation job %s not found", jobID))
		}
		if job.IsTerminal() {
			return terminalJobError(op, job.Status)
		}
		now := s.now()
		ok, err := s.jobs.UpdateFieldsIfStatus(dbc, jobID, jobs.ActiveStatuses, map[string]interface{}{
			"status":        jobs.StatusCancelled,
			"error_message": message,
			"completed_at":  now,
			"updated_at":    now,
		})
		if err != nil {
			return err
		}
		if !ok {
			return terminalJobError(op, "finished")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.metrics.IncJobTransition(jobs.StatusCancelled)
	s.log.Info("Generation job cancelled", "job_id", jobID, "message", message)

	s.settleCancelled(ctx, jobID)

	job, err := s.jobs.GetByID(dbctx.Background(ctx), jobID)
	if err != nil {
		return nil, aggregates.MapError(op, err)
	}
	return job, nil
}

// settleCancelled charges a cancelled job for work already started, or
// returns its whole reservation.
func (s *quizGenerationService) settleCancelled(ctx context.Context, jobID uuid.UUID) {
	const op = "quizgen.cancel_billing"
	kind := jobs.BillingErrorLedger
	err := aggregates.ExecuteWrite(ctx, s.deps, op, func(dbc dbctx.Context) error {
		job, err := s.jobs.LockByID(dbc, jobID)
		if err != nil {
			return err
		}
		if job == nil || job.BillingReservationID == nil || job.BillingState != jobs.BillingReserved {
			return nil
		}

		if job.HasStartedAICalls && s.cfg.CommitOnCancel {
			soFar := s.actualTokensSoFar(job)
			amount := clampTokens(maxInt64(soFar, s.cfg.MinStartFeeTokens), 0, job.BillingEstimatedTokens)
			if amount > 0 {
				return s.commitOnCancel(dbc, job, amount, soFar)
			}
		}
		kind = jobs.BillingErrorRelease
		return s.releaseLocked(dbc, job, "cancelled")
	})
	if err != nil {
		if errors.Is(err, ledger.ErrReservationExpired) {
			kind = jobs.BillingErrorExpired
		}
		s.log.Error("Cancel billing failed", "job_id", jobID, "error", err)
		s.recordBillingError(ctx, jobID, kind, err)
	}
}

func (s *quizGenerationService) commitOnCancel(dbc dbctx.Context, job *types.GenerationJob, amount, soFar int64) error {
	keys := job.IdempotencyKeys.Data()
	key := jobs.IdempotencyKey(job.ID, jobs.OpCommitCancel)
	if keys.Get(jobs.OpCommitCancel) == key {
		return nil
	}
	res, err := s.ledger.Commit(dbc, *job.BillingReservationID, amount, ledger.CommitContext{
		JobID:             job.ID,
		ActualTokens:      soFar,
		EstimationVersion: job.EstimationVersion,
		CorrelationID:     job.ID.String(),
	}, key)
	if err != nil {
		return err
	}
	keys = keys.With(jobs.OpCommitCancel, key)
	if remainder := job.BillingEstimatedTokens - res.CommittedTokens; remainder > 0 && res.ReleasedTokens == 0 {
		releaseKey := jobs.IdempotencyKey(job.ID, jobs.OpRelease)
		if err := s.ledger.Release(dbc, *job.BillingReservationID, "cancel remainder", releaseKey); err != nil {
			return err
		}
		keys = keys.With(jobs.OpRelease, releaseKey)
	}
	s.log.Info("Committed partial usage on cancel", "job_id", job.ID, "committed_tokens", res.CommittedTokens, "actual_tokens", soFar)
	updates := clearedBillingError(map[string]interface{}{
		"billing_state":            jobs.BillingCommitted,
		"billing_committed_tokens": res.CommittedTokens,
		"actual_tokens":            soFar,
		"billing_idempotency_keys": datatypes.NewJSONType(keys),
	})
	return s.jobs.UpdateFields(dbc, job.ID, updates)
}

// releaseLocked returns the reservation of a job already locked by dbc. It is
// a no-op once the job's release key is recorded.
func (s *quizGenerationService) releaseLocked(dbc dbctx.Context, job *types.GenerationJob, reason string) error {
	keys := job.IdempotencyKeys.Data()
	key := jobs.IdempotencyKey(job.ID, jobs.OpRelease)
	if keys.Get(jobs.OpRelease) != key {
		if err := s.ledger.Release(dbc, *job.BillingReservationID, reason, key); err != nil {
			return err
		}
		keys = keys.With(jobs.OpRelease, key)
	}
	return s.jobs.UpdateFields(dbc, job.ID, clearedBillingError(map[string]interface{}{
		"billing_state":            jobs.BillingReleased,
		"billing_idempotency_keys": datatypes.NewJSONType(keys),
	}))
}

// actualTokensSoFar prefers a computed actual and falls back to converting
// the raw LLM usage the executor reported.
func (s *quizGenerationService) actualTokensSoFar(job *types.GenerationJob) int64 {
	if job.ActualTokens != nil {
		return *job.ActualTokens
	}
	return s.estimator.BillingTokensForLLM(job.LLMTokensSoFar)
}

func terminalJobError(op, status string) error {
	return domainagg.NewError(domainagg.CodeValidation, op, fmt.Sprintf("job is already %s", status), ErrJobTerminal)
}

func clampTokens(v, lo, hi int64) int64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func maxInt64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
