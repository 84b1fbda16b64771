package quiz

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/yungbote/quizgen-backend/internal/domain"
	"github.com/yungbote/quizgen-backend/internal/platform/dbctx"
	"github.com/yungbote/quizgen-backend/internal/platform/logger"
)

type QuizRepo interface {
	// Create inserts the quiz and its questions. A title collision surfaces
	// as a unique violation from ux_quiz_creator_title.
	Create(dbc dbctx.Context, quiz *types.Quiz, questions []*types.Question) error
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Quiz, error)
	TitleExists(dbc dbctx.Context, creatorID uuid.UUID, title string) (bool, error)
	ListByJob(dbc dbctx.Context, jobID uuid.UUID) ([]*types.Quiz, error)
	ListQuestions(dbc dbctx.Context, quizID uuid.UUID) ([]*types.Question, error)
}

type quizRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewQuizRepo(db *gorm.DB, baseLog *logger.Logger) QuizRepo {
	return &quizRepo{
		db:  db,
		log: baseLog.With("repo", "QuizRepo"),
	}
}

func (r *quizRepo) Create(dbc dbctx.Context, quiz *types.Quiz, questions []*types.Question) error {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	now := time.Now().UTC()
	if quiz.ID == uuid.Nil {
		quiz.ID = uuid.New()
	}
	if quiz.CreatedAt.IsZero() {
		quiz.CreatedAt = now
	}
	if quiz.UpdatedAt.IsZero() {
		quiz.UpdatedAt = now
	}
	quiz.QuestionCount = len(questions)
	if err := transaction.WithContext(dbc.Ctx).Create(quiz).Error; err != nil {
		return err
	}
	if len(questions) == 0 {
		return nil
	}
	for i, q := range questions {
		if q.ID == uuid.Nil {
			q.ID = uuid.New()
		}
		q.QuizID = quiz.ID
		q.Position = i
		if q.CreatedAt.IsZero() {
			q.CreatedAt = now
		}
	}
	return transaction.WithContext(dbc.Ctx).CreateInBatches(questions, 200).Error
}

func (r *quizRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Quiz, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil, nil
	}
	var q types.Quiz
	if err := transaction.WithContext(dbc.Ctx).Where("id = ?", id).Limit(1).Find(&q).Error; err != nil {
		return nil, err
	}
	if q.ID == uuid.Nil {
		return nil, nil
	}
	return &q, nil
}

func (r *quizRepo) TitleExists(dbc dbctx.Context, creatorID uuid.UUID, title string) (bool, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var n int64
	if err := transaction.WithContext(dbc.Ctx).
		Model(&types.Quiz{}).
		Where("creator_id = ? AND title = ?", creatorID, title).
		Count(&n).Error; err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *quizRepo) ListByJob(dbc dbctx.Context, jobID uuid.UUID) ([]*types.Quiz, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	out := []*types.Quiz{}
	if err := transaction.WithContext(dbc.Ctx).
		Where("generation_job_id = ?", jobID).
		Order("created_at ASC, title ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *quizRepo) ListQuestions(dbc dbctx.Context, quizID uuid.UUID) ([]*types.Question, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	out := []*types.Question{}
	if err := transaction.WithContext(dbc.Ctx).
		Where("quiz_id = ?", quizID).
		Order("position ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
