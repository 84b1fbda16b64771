package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/yungbote/quizgen-backend/internal/data/aggregates"
	"github.com/yungbote/quizgen-backend/internal/data/repos"
	types "github.com/yungbote/quizgen-backend/internal/domain"
	domainagg "github.com/yungbote/quizgen-backend/internal/domain/aggregates"
	"github.com/yungbote/quizgen-backend/internal/domain/jobs"
	"github.com/yungbote/quizgen-backend/internal/observability"
	"github.com/yungbote/quizgen-backend/internal/platform/dbctx"
	"github.com/yungbote/quizgen-backend/internal/platform/envutil"
	"github.com/yungbote/quizgen-backend/internal/platform/logger"
)

var (
	// ErrActiveJobExists is the cause of the validation error returned when a
	// user already has a live generation job.
	ErrActiveJobExists = errors.New("user already has an active generation job")
	// ErrJobTerminal is the cause of the validation error returned when a
	// caller tries to change a finished job.
	ErrJobTerminal = errors.New("generation job is already finished")
)

const reservationPurpose = "quiz_generation"

// GenerationExecutor runs the AI work for a job out of process and
// eventually publishes exactly one completion event for it.
type GenerationExecutor interface {
	Dispatch(ctx context.Context, job *types.GenerationJob) error
	// Cancel is best effort; a late completion event is still possible.
	Cancel(ctx context.Context, jobID uuid.UUID) error
}

type QuizGenerationConfig struct {
	StaleAfter        time.Duration
	CommitOnCancel    bool
	MinStartFeeTokens int64
	ReservationTTL    time.Duration
	MaxTitleLength    int
}

func LoadQuizGenerationConfig() QuizGenerationConfig {
	return QuizGenerationConfig{
		StaleAfter:        envutil.Seconds("QUIZGEN_STALE_AFTER_SECONDS", 10*time.Minute),
		CommitOnCancel:    envutil.Bool("QUIZGEN_COMMIT_ON_CANCEL", true),
		MinStartFeeTokens: envutil.Int64("QUIZGEN_MIN_START_FEE_TOKENS", 100),
		ReservationTTL:    envutil.Seconds("QUIZGEN_RESERVATION_TTL_SECONDS", 2*time.Hour),
		MaxTitleLength:    envutil.Int("QUIZGEN_MAX_TITLE_LENGTH", DefaultMaxTitleLength),
	}
}

type QuizGenerationService interface {
	StartGeneration(ctx context.Context, userID uuid.UUID, req jobs.GenerationRequest) (*types.GenerationJob, error)
	GetJob(ctx context.Context, userID, jobID uuid.UUID) (*types.GenerationJob, error)
	ListJobs(ctx context.Context, userID uuid.UUID, limit int) ([]*types.GenerationJob, error)
	CancelJob(ctx context.Context, userID, jobID uuid.UUID) (*types.GenerationJob, error)

	// MarkProcessing moves a pending job to processing. It reports false when
	// the job is already finished and the executor should stop.
	MarkProcessing(ctx context.Context, jobID uuid.UUID) (bool, error)
	RecordProgress(ctx context.Context, jobID uuid.UUID, p jobs.ProgressUpdate) error
	HandleCompletion(ctx context.Context, ev jobs.CompletionEvent) error
	CommitTokens(ctx context.Context, jobID uuid.UUID) (CommitOutcome, error)

	// SetExecutor attaches the executor after construction, for executors
	// that call back into the service.
	SetExecutor(exec GenerationExecutor)
}

type QuizGenerationDeps struct {
	DB        *gorm.DB
	Log       *logger.Logger
	Repos     repos.Set
	Ledger    TokenLedger
	Estimator Estimator
	Documents DocumentService
	Assembler QuizAssembler
	Executor  GenerationExecutor
	Metrics   *observability.Metrics
	Config    QuizGenerationConfig
}

type quizGenerationService struct {
	db        *gorm.DB
	log       *logger.Logger
	deps      aggregates.BaseDeps
	jobs      repos.GenerationJobRepo
	quizzes   repos.QuizRepo
	reserved  repos.TokenReservationRepo
	ledger    TokenLedger
	estimator Estimator
	documents DocumentService
	assembler QuizAssembler
	executor  GenerationExecutor
	metrics   *observability.Metrics
	cfg       QuizGenerationConfig
	now       func() time.Time
}

func NewQuizGenerationService(d QuizGenerationDeps) QuizGenerationService {
	return &quizGenerationService{
		db:        d.DB,
		log:       d.Log.With("service", "QuizGenerationService"),
		deps:      aggregates.BaseDeps{DB: d.DB, Hooks: aggregates.NewObservabilityHooks(d.Metrics)},
		jobs:      d.Repos.Jobs,
		quizzes:   d.Repos.Quizzes,
		reserved:  d.Repos.Reservations,
		ledger:    d.Ledger,
		estimator: d.Estimator,
		documents: d.Documents,
		assembler: d.Assembler,
		executor:  d.Executor,
		metrics:   d.Metrics,
		cfg:       d.Config,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (s *quizGenerationService) SetExecutor(exec GenerationExecutor) {
	s.executor = exec
}

func (s *quizGenerationService) StartGeneration(ctx context.Context, userID uuid.UUID, req jobs.GenerationRequest) (job *types.GenerationJob, err error) {
	const op = "quizgen.start"
	ctx, span := observability.StartSpan(ctx, op,
		attribute.String("user_id", userID.String()),
		attribute.String("document_id", req.DocumentID.String()),
	)
	defer func() { observability.EndSpan(span, err) }()

	if userID == uuid.Nil {
		return nil, domainagg.Validation(op, "user_id is required")
	}
	req = req.Normalized()
	if err := s.estimator.ValidateRequest(req); err != nil {
		return nil, err
	}
	if _, err := s.documents.GetForUser(ctx, userID, req.DocumentID); err != nil {
		return nil, err
	}

	// Cheap pre-check; the unique index is what actually enforces one live job.
	active, err := s.jobs.GetActiveForUser(dbctx.Background(ctx), userID)
	if err != nil {
		return nil, aggregates.MapError(op, err)
	}
	if active != nil && !active.IsStale(s.now(), s.cfg.StaleAfter) {
		return nil, activeJobError(op)
	}

	chunks, err := s.documents.ChunkCount(ctx, req.DocumentID, req)
	if err != nil {
		return nil, err
	}
	est, err := s.estimator.Estimate(ctx, req.DocumentID, chunks, req)
	if err != nil {
		return nil, err
	}

	jobID := uuid.New()
	reserveKey := jobs.IdempotencyKey(jobID, jobs.OpReserve)
	res, err := s.ledger.Reserve(dbctx.Background(ctx), ReserveInput{
		UserID:          userID,
		EstimatedTokens: est.EstimatedBillingTokens,
		Purpose:         reservationPurpose,
		TTL:             s.cfg.ReservationTTL,
		IdempotencyKey:  reserveKey,
	})
	if err != nil {
		return nil, err
	}

	now := s.now()
	expiresAt := res.ExpiresAt
	reservationID := res.ID
	candidate := &types.GenerationJob{
		ID:                       jobID,
		UserID:                   userID,
		DocumentID:               req.DocumentID,
		Status:                   jobs.StatusPending,
		Title:                    req.Title,
		Request:                  datatypes.NewJSONType(req),
		TotalChunks:              chunks,
		EstimationVersion:        est.EstimationVersion,
		EstimationID:             est.EstimationID,
		EstimatedDurationSeconds: est.EstimatedDurationSeconds,
		BillingState:             jobs.BillingReserved,
		BillingReservationID:     &reservationID,
		BillingEstimatedTokens:   res.EstimatedTokens,
		ReservationExpiresAt:     &expiresAt,
		IdempotencyKeys:          datatypes.NewJSONType(jobs.BillingIdempotency{}.With(jobs.OpReserve, reserveKey)),
		CreatedAt:                now,
		UpdatedAt:                now,
	}

	job, err = s.createWithSelfHeal(ctx, candidate)
	if err != nil {
		// The reservation is not attached to any job yet, so nothing else
		// will ever return it.
		if relErr := s.ledger.Release(dbctx.Background(ctx), reservationID, "job creation failed", jobs.IdempotencyKey(jobID, jobs.OpRelease)); relErr != nil {
			s.log.Error("Release of unattached reservation failed", "job_id", jobID, "reservation_id", reservationID, "error", relErr)
		}
		return nil, err
	}
	s.metrics.IncJobTransition(jobs.StatusPending)
	s.log.Info("Generation job created",
		"job_id", job.ID,
		"user_id", userID,
		"chunks", chunks,
		"estimated_tokens", res.EstimatedTokens,
		"estimation_version", est.EstimationVersion,
	)

	if err := s.dispatch(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

// createWithSelfHeal inserts job. When the one-live-job index blocks it and
// the blocking job is stale, that job is cancelled and creation is retried
// exactly once.
func (s *quizGenerationService) createWithSelfHeal(ctx context.Context, job *types.GenerationJob) (*types.GenerationJob, error) {
	const op = "quizgen.create_job"
	for attempt := 0; attempt < 2; attempt++ {
		result, err := s.jobs.Create(dbctx.Background(ctx), job)
		if err != nil {
			return nil, aggregates.MapError(op, err)
		}
		if !result.IsConflict() {
			return result.Created, nil
		}
		if attempt > 0 {
			break
		}

		existingID := result.Conflict.ExistingJobID
		existing, err := s.jobs.GetByID(dbctx.Background(ctx), existingID)
		if err != nil {
			return nil, aggregates.MapError(op, err)
		}
		if existing != nil && !existing.IsStale(s.now(), s.cfg.StaleAfter) {
			break
		}
		if existing != nil {
			s.log.Warn("Cancelling stale generation job", "job_id", existing.ID, "user_id", existing.UserID, "last_activity_at", existing.LastActivityAt())
			_, err := s.cancel(ctx, existing.ID, "Cancelled: superseded after inactivity")
			if err != nil && !errors.Is(err, ErrJobTerminal) {
				s.log.Warn("Stale job cancel failed", "job_id", existing.ID, "error", err)
				break
			}
			if err == nil {
				s.stopExecution(ctx, existing.ID)
			}
		}
	}
	return nil, activeJobError(op)
}

func (s *quizGenerationService) dispatch(ctx context.Context, job *types.GenerationJob) error {
	const op = "quizgen.dispatch"
	if s.executor == nil {
		err := domainagg.NewError(domainagg.CodeInternal, op, "no generation executor configured", nil)
		s.failJob(ctx, job.ID, err.Error())
		return err
	}
	if err := s.executor.Dispatch(ctx, job); err != nil {
		s.log.Error("Dispatch failed", "job_id", job.ID, "error", err)
		s.failJob(ctx, job.ID, "dispatch failed: "+err.Error())
		return domainagg.Wrap(domainagg.CodeRetryable, op, err)
	}
	return nil
}

func (s *quizGenerationService) GetJob(ctx context.Context, userID, jobID uuid.UUID) (*types.GenerationJob, error) {
	const op = "quizgen.get"
	job, err := s.jobs.GetForUser(dbctx.Background(ctx), userID, jobID)
	if err != nil {
		return nil, aggregates.MapError(op, err)
	}
	if job == nil {
		return nil, domainagg.NotFound(op, fmt.Sprintf("generation job %s not found", jobID))
	}
	return job, nil
}

func (s *quizGenerationService) ListJobs(ctx context.Context, userID uuid.UUID, limit int) ([]*types.GenerationJob, error) {
	out, err := s.jobs.ListForUser(dbctx.Background(ctx), userID, limit)
	if err != nil {
		return nil, aggregates.MapError("quizgen.list", err)
	}
	return out, nil
}

func (s *quizGenerationService) MarkProcessing(ctx context.Context, jobID uuid.UUID) (bool, error) {
	const op = "quizgen.mark_processing"
	now := s.now()
	ok, err := s.jobs.UpdateFieldsIfStatus(dbctx.Background(ctx), jobID, []string{jobs.StatusPending}, map[string]interface{}{
		"status":       jobs.StatusProcessing,
		"started_at":   now,
		"heartbeat_at": now,
		"updated_at":   now,
	})
	if err != nil {
		return false, aggregates.MapError(op, err)
	}
	if ok {
		s.metrics.IncJobTransition(jobs.StatusProcessing)
		return true, nil
	}
	job, err := s.jobs.GetByID(dbctx.Background(ctx), jobID)
	if err != nil {
		return false, aggregates.MapError(op, err)
	}
	if job == nil {
		return false, domainagg.NotFound(op, fmt.Sprintf("generation job %s not found", jobID))
	}
	// A retried start activity finds the job already processing.
	return job.Status == jobs.StatusProcessing, nil
}

func (s *quizGenerationService) RecordProgress(ctx context.Context, jobID uuid.UUID, p jobs.ProgressUpdate) error {
	now := s.now()
	updates := map[string]interface{}{
		"heartbeat_at":        now,
		"updated_at":          now,
		"processed_chunks":    p.ProcessedChunks,
		"llm_tokens_so_far":   p.LLMTokensSoFar,
		"input_prompt_tokens": p.InputPromptTokens,
	}
	if p.StartedAICalls {
		updates["has_started_ai_calls"] = true
	}
	ok, err := s.jobs.UpdateFieldsIfStatus(dbctx.Background(ctx), jobID, jobs.ActiveStatuses, updates)
	if err != nil {
		return aggregates.MapError("quizgen.progress", err)
	}
	if !ok {
		s.log.Debug("Progress ignored for finished job", "job_id", jobID)
	}
	return nil
}

func activeJobError(op string) error {
	return domainagg.NewError(domainagg.CodeValidation, op, ErrActiveJobExists.Error(), ErrActiveJobExists)
}
