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

type CommitOutcomeKind string

const (
	CommitCommitted        CommitOutcomeKind = "committed"
	CommitNoReservation    CommitOutcomeKind = "no_reservation"
	CommitAlreadyCommitted CommitOutcomeKind = "already_committed"
	CommitExpired          CommitOutcomeKind = "reservation_expired"
	CommitReleased         CommitOutcomeKind = "reservation_released"
	CommitInvalidState     CommitOutcomeKind = "invalid_billing_state"
	CommitFailed           CommitOutcomeKind = "failed"
)

// CommitOutcome says what CommitTokens did. Only CommitCommitted moved money.
type CommitOutcome struct {
	Kind            CommitOutcomeKind
	ActualTokens    int64
	CommittedTokens int64
	ReleasedTokens  int64
	WasCapped       bool
}

// CommitTokens charges a completed job for what it actually produced, never
// more than was reserved. The job row stays locked for the whole
// read-check-write so a concurrent cancel cannot settle it twice.
func (s *quizGenerationService) CommitTokens(ctx context.Context, jobID uuid.UUID) (out CommitOutcome, err error) {
	const op = "quizgen.commit"
	ctx, span := observability.StartSpan(ctx, op, attribute.String("job_id", jobID.String()))
	defer func() { observability.EndSpan(span, err) }()

	err = aggregates.ExecuteWrite(ctx, s.deps, op, func(dbc dbctx.Context) error {
		job, err := s.jobs.LockByID(dbc, jobID)
		if err != nil {
			return err
		}
		if job == nil {
			return domainagg.NotFound(op, fmt.Sprintf("generation job %s not found", jobID))
		}
		if job.BillingReservationID == nil {
			out.Kind = CommitNoReservation
			return nil
		}
		switch job.BillingState {
		case jobs.BillingCommitted:
			out.Kind = CommitAlreadyCommitted
			out.CommittedTokens = job.BillingCommittedTokens
			return nil
		case jobs.BillingReserved:
		default:
			out.Kind = CommitInvalidState
			return domainagg.InvalidBillingState(op, fmt.Sprintf("billing state is %q", job.BillingState))
		}

		keys := job.IdempotencyKeys.Data()
		key := jobs.IdempotencyKey(job.ID, jobs.OpCommit)
		if keys.Get(jobs.OpCommit) == key {
			out.Kind = CommitAlreadyCommitted
			out.CommittedTokens = job.BillingCommittedTokens
			return nil
		}
		if job.Status != jobs.StatusCompleted {
			out.Kind = CommitInvalidState
			return domainagg.InvalidBillingState(op, fmt.Sprintf("job status is %q", job.Status))
		}
		// The sweeper may have returned an expired reservation already; the
		// job then settles as released with nothing charged.
		resv, err := s.reserved.GetByID(dbc, *job.BillingReservationID)
		if err != nil {
			return err
		}
		if resv != nil && resv.State == ledger.StateReleased {
			out.Kind = CommitReleased
			s.log.Warn("Reservation released before commit, nothing charged", "job_id", job.ID, "reservation_id", resv.ID, "reason", resv.Reason)
			return s.releaseLocked(dbc, job, "released before commit")
		}
		if job.ReservationExpiresAt != nil && !s.now().Before(*job.ReservationExpiresAt) {
			out.Kind = CommitExpired
			s.log.Warn("Reservation expired before commit, leaving it to the sweeper", "job_id", job.ID, "reservation_id", *job.BillingReservationID)
			return nil
		}

		actual, err := s.actualBillingTokens(dbc, job)
		if err != nil {
			return err
		}
		reserved := job.BillingEstimatedTokens
		toCommit := actual
		wasCapped := actual > reserved
		if wasCapped {
			toCommit = reserved
			s.metrics.IncCappedCommit()
			s.log.Warn("Actual usage exceeded the estimate, charge capped at reservation",
				"job_id", job.ID,
				"actual_tokens", actual,
				"reserved_tokens", reserved,
				"estimation_version", job.EstimationVersion,
			)
		}

		res, err := s.ledger.Commit(dbc, *job.BillingReservationID, toCommit, ledger.CommitContext{
			JobID:             job.ID,
			ActualTokens:      actual,
			WasCapped:         wasCapped,
			EstimationVersion: job.EstimationVersion,
			CorrelationID:     job.ID.String(),
		}, key)
		if errors.Is(err, ledger.ErrReservationExpired) {
			out.Kind = CommitExpired
			s.log.Warn("Ledger reports reservation expired", "job_id", job.ID)
			return nil
		}
		if err != nil {
			return err
		}
		keys = keys.With(jobs.OpCommit, key)

		released := res.ReleasedTokens
		if remainder := reserved - res.CommittedTokens; remainder > 0 && res.ReleasedTokens == 0 {
			releaseKey := jobs.IdempotencyKey(job.ID, jobs.OpRelease)
			if err := s.ledger.Release(dbc, *job.BillingReservationID, "unused remainder", releaseKey); err != nil {
				return err
			}
			keys = keys.With(jobs.OpRelease, releaseKey)
			released = remainder
		}

		if err := s.jobs.UpdateFields(dbc, job.ID, clearedBillingError(map[string]interface{}{
			"billing_state":            jobs.BillingCommitted,
			"billing_committed_tokens": res.CommittedTokens,
			"actual_tokens":            actual,
			"was_capped_at_reserved":   wasCapped,
			"billing_idempotency_keys": datatypes.NewJSONType(keys),
		})); err != nil {
			return err
		}
		out = CommitOutcome{
			Kind:            CommitCommitted,
			ActualTokens:    actual,
			CommittedTokens: res.CommittedTokens,
			ReleasedTokens:  released,
			WasCapped:       wasCapped,
		}
		return nil
	})
	if err != nil {
		kind := jobs.BillingErrorLedger
		if domainagg.IsCode(err, domainagg.CodeInvalidBillingState) {
			kind = jobs.BillingErrorInvalidState
			out.Kind = CommitInvalidState
		} else {
			out.Kind = CommitFailed
		}
		s.log.Error("Token commit failed", "job_id", jobID, "kind", kind, "error", err)
		s.recordBillingError(ctx, jobID, kind, err)
		return out, err
	}
	s.log.Info("Token commit finished",
		"job_id", jobID,
		"outcome", out.Kind,
		"committed_tokens", out.CommittedTokens,
		"released_tokens", out.ReleasedTokens,
	)
	return out, nil
}

// actualBillingTokens prices the questions on the job's consolidated quiz.
func (s *quizGenerationService) actualBillingTokens(dbc dbctx.Context, job *types.GenerationJob) (int64, error) {
	if job.GeneratedQuizID == nil {
		return 0, domainagg.InvalidBillingState("quizgen.commit", "completed job has no generated quiz")
	}
	questions, err := s.quizzes.ListQuestions(dbc, *job.GeneratedQuizID)
	if err != nil {
		return 0, err
	}
	generated := make([]jobs.GeneratedQuestion, 0, len(questions))
	for _, q := range questions {
		generated = append(generated, jobs.GeneratedQuestion{Type: q.Type, Difficulty: q.Difficulty})
	}
	return s.estimator.ComputeActualBillingTokens(generated, job.Request.Data().Difficulty, job.InputPromptTokens)
}
