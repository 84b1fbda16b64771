package jobs

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/yungbote/quizgen-backend/internal/data/aggregates"
	types "github.com/yungbote/quizgen-backend/internal/domain"
	"github.com/yungbote/quizgen-backend/internal/domain/jobs"
	"github.com/yungbote/quizgen-backend/internal/platform/dbctx"
	"github.com/yungbote/quizgen-backend/internal/platform/logger"
)

// Conflict identifies the active job that blocked a Create.
type Conflict struct {
	ExistingJobID uuid.UUID
}

// CreateResult is either Created or Conflict, never both.
type CreateResult struct {
	Created  *types.GenerationJob
	Conflict *Conflict
}

func (r CreateResult) IsConflict() bool { return r.Conflict != nil }

type GenerationJobRepo interface {
	Create(dbc dbctx.Context, job *types.GenerationJob) (CreateResult, error)
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.GenerationJob, error)
	GetForUser(dbc dbctx.Context, userID, id uuid.UUID) (*types.GenerationJob, error)
	ListForUser(dbc dbctx.Context, userID uuid.UUID, limit int) ([]*types.GenerationJob, error)
	GetActiveForUser(dbc dbctx.Context, userID uuid.UUID) (*types.GenerationJob, error)
	LockByID(dbc dbctx.Context, id uuid.UUID) (*types.GenerationJob, error)
	UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error
	UpdateFieldsIfStatus(dbc dbctx.Context, id uuid.UUID, allowedStatuses []string, updates map[string]interface{}) (bool, error)
}

type generationJobRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewGenerationJobRepo(db *gorm.DB, baseLog *logger.Logger) GenerationJobRepo {
	return &generationJobRepo{
		db:  db,
		log: baseLog.With("repo", "GenerationJobRepo"),
	}
}

// Create inserts job inside a savepoint. A violation of the one-active-job
// index is reported as a Conflict, not an error, so the caller's transaction
// stays usable.
func (r *generationJobRepo) Create(dbc dbctx.Context, job *types.GenerationJob) (CreateResult, error) {
	if job == nil {
		return CreateResult{}, aggregates.ValidationError("job is required")
	}
	err := aggregates.Within(dbc, r.db, func(inner dbctx.Context) error {
		return inner.Tx.Create(job).Error
	})
	if err == nil {
		return CreateResult{Created: job}, nil
	}
	if !aggregates.IsUniqueViolation(err) {
		return CreateResult{}, err
	}

	existing, lookupErr := r.GetActiveForUser(dbc, job.UserID)
	if lookupErr != nil {
		return CreateResult{}, lookupErr
	}
	conflict := &Conflict{}
	if existing != nil {
		conflict.ExistingJobID = existing.ID
	}
	r.log.Debug("Active job conflict", "user_id", job.UserID, "existing_job_id", conflict.ExistingJobID)
	return CreateResult{Conflict: conflict}, nil
}

func (r *generationJobRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.GenerationJob, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil, nil
	}
	var job types.GenerationJob
	err := transaction.WithContext(dbc.Ctx).Where("id = ?", id).Limit(1).Find(&job).Error
	if err != nil {
		return nil, err
	}
	if job.ID == uuid.Nil {
		return nil, nil
	}
	return &job, nil
}

func (r *generationJobRepo) GetForUser(dbc dbctx.Context, userID, id uuid.UUID) (*types.GenerationJob, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if userID == uuid.Nil || id == uuid.Nil {
		return nil, nil
	}
	var job types.GenerationJob
	err := transaction.WithContext(dbc.Ctx).
		Where("id = ? AND user_id = ?", id, userID).
		Limit(1).
		Find(&job).Error
	if err != nil {
		return nil, err
	}
	if job.ID == uuid.Nil {
		return nil, nil
	}
	return &job, nil
}

func (r *generationJobRepo) ListForUser(dbc dbctx.Context, userID uuid.UUID, limit int) ([]*types.GenerationJob, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	out := []*types.GenerationJob{}
	if userID == uuid.Nil {
		return out, nil
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if err := transaction.WithContext(dbc.Ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *generationJobRepo) GetActiveForUser(dbc dbctx.Context, userID uuid.UUID) (*types.GenerationJob, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if userID == uuid.Nil {
		return nil, nil
	}
	var job types.GenerationJob
	err := transaction.WithContext(dbc.Ctx).
		Where("user_id = ? AND status IN ?", userID, jobs.ActiveStatuses).
		Order("created_at DESC").
		Limit(1).
		Find(&job).Error
	if err != nil {
		return nil, err
	}
	if job.ID == uuid.Nil {
		return nil, nil
	}
	return &job, nil
}

// LockByID loads the job with SELECT ... FOR UPDATE. It must run inside a
// transaction for the lock to mean anything.
func (r *generationJobRepo) LockByID(dbc dbctx.Context, id uuid.UUID) (*types.GenerationJob, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil, nil
	}
	var job types.GenerationJob
	err := transaction.WithContext(dbc.Ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

func (r *generationJobRepo) UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now().UTC()
	}
	return transaction.WithContext(dbc.Ctx).
		Model(&types.GenerationJob{}).
		Where("id = ?", id).
		Updates(updates).Error
}

// UpdateFieldsIfStatus applies updates only while the job's status is one of
// allowedStatuses. The boolean reports whether a row changed.
func (r *generationJobRepo) UpdateFieldsIfStatus(dbc dbctx.Context, id uuid.UUID, allowedStatuses []string, updates map[string]interface{}) (bool, error) {
	if updates == nil {
		updates = map[string]interface{}{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now().UTC()
	}
	return aggregates.UpdateIfStatus(dbc, r.db, types.GenerationJob{}.TableName(), id, allowedStatuses, updates)
}
