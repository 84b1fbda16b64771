package services

import (
	"fmt"
	"sort"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/yungbote/quizgen-backend/internal/data/aggregates"
	"github.com/yungbote/quizgen-backend/internal/data/repos"
	types "github.com/yungbote/quizgen-backend/internal/domain"
	domainagg "github.com/yungbote/quizgen-backend/internal/domain/aggregates"
	"github.com/yungbote/quizgen-backend/internal/domain/jobs"
	"github.com/yungbote/quizgen-backend/internal/domain/quiz"
	"github.com/yungbote/quizgen-backend/internal/observability"
	"github.com/yungbote/quizgen-backend/internal/platform/dbctx"
	"github.com/yungbote/quizgen-backend/internal/platform/logger"
)

const maxTitleInsertAttempts = 3

type AssembleInput struct {
	CreatorID      uuid.UUID
	DocumentID     uuid.UUID
	JobID          uuid.UUID
	RequestedTitle string
	DocumentTitle  string
	Difficulty     string
	ChunkQuestions map[int][]jobs.GeneratedQuestion
}

type AssembleResult struct {
	Consolidated   *types.Quiz
	ChunkQuizzes   []*types.Quiz
	TotalQuestions int
}

// QuizAssembler persists generated questions as quizzes: one per non-empty
// chunk when there is more than one, plus exactly one consolidated quiz.
type QuizAssembler interface {
	Assemble(dbc dbctx.Context, in AssembleInput) (AssembleResult, error)
	// ResolveUniqueTitle returns requested, or requested with the lowest free
	// -N suffix, so that no other quiz of creatorID has the same title.
	ResolveUniqueTitle(dbc dbctx.Context, creatorID uuid.UUID, requested string) (string, error)
}

type quizAssembler struct {
	db        *gorm.DB
	log       *logger.Logger
	quizzes   repos.QuizRepo
	metrics   *observability.Metrics
	maxLength int
}

func NewQuizAssembler(db *gorm.DB, baseLog *logger.Logger, quizzes repos.QuizRepo, metrics *observability.Metrics, maxTitleLength int) QuizAssembler {
	if maxTitleLength <= 0 {
		maxTitleLength = DefaultMaxTitleLength
	}
	return &quizAssembler{
		db:        db,
		log:       baseLog.With("service", "QuizAssembler"),
		quizzes:   quizzes,
		metrics:   metrics,
		maxLength: maxTitleLength,
	}
}

func (a *quizAssembler) Assemble(dbc dbctx.Context, in AssembleInput) (AssembleResult, error) {
	const op = "quiz.assemble"
	indices := make([]int, 0, len(in.ChunkQuestions))
	for idx, qs := range in.ChunkQuestions {
		if len(qs) > 0 {
			indices = append(indices, idx)
		}
	}
	sort.Ints(indices)
	if len(indices) == 0 {
		return AssembleResult{}, domainagg.Validation(op, "no questions were generated")
	}

	title := baseTitle(in.RequestedTitle, in.DocumentTitle, a.maxLength)
	out := AssembleResult{}

	var all []*types.Question
	for _, idx := range indices {
		all = append(all, a.toQuestions(idx, in.ChunkQuestions[idx], in.Difficulty)...)
	}
	consolidated := a.newQuiz(in, quiz.KindConsolidated, nil)
	if err := a.insert(dbc, consolidated, all, title); err != nil {
		return AssembleResult{}, err
	}
	out.Consolidated = consolidated
	out.TotalQuestions = len(all)

	if len(indices) > 1 {
		for part, idx := range indices {
			chunkIdx := idx
			q := a.newQuiz(in, quiz.KindChunk, &chunkIdx)
			want := partTitle(consolidated.Title, part+1, a.maxLength)
			if err := a.insert(dbc, q, a.toQuestions(idx, in.ChunkQuestions[idx], in.Difficulty), want); err != nil {
				return AssembleResult{}, err
			}
			out.ChunkQuizzes = append(out.ChunkQuizzes, q)
		}
	}

	a.log.Info("Assembled quizzes",
		"job_id", in.JobID,
		"consolidated_quiz_id", consolidated.ID,
		"chunk_quizzes", len(out.ChunkQuizzes),
		"questions", out.TotalQuestions,
	)
	return out, nil
}

func (a *quizAssembler) ResolveUniqueTitle(dbc dbctx.Context, creatorID uuid.UUID, requested string) (string, error) {
	title := truncateRunes(requested, a.maxLength)
	taken, err := a.quizzes.TitleExists(dbc, creatorID, title)
	if err != nil {
		return "", err
	}
	if !taken {
		return title, nil
	}
	base := suffixBase(title)
	for n := 2; ; n++ {
		candidate := suffixed(base, n, a.maxLength)
		taken, err := a.quizzes.TitleExists(dbc, creatorID, candidate)
		if err != nil {
			return "", err
		}
		if !taken {
			return candidate, nil
		}
	}
}

// insert resolves a free title and creates the quiz in a savepoint. A
// concurrent insert can still take the title first; the unique index
// catches that and the title is resolved again.
func (a *quizAssembler) insert(dbc dbctx.Context, q *types.Quiz, questions []*types.Question, requested string) error {
	var lastErr error
	for attempt := 1; attempt <= maxTitleInsertAttempts; attempt++ {
		title, err := a.ResolveUniqueTitle(dbc, q.CreatorID, requested)
		if err != nil {
			return err
		}
		q.Title = title
		err = aggregates.Within(dbc, a.db, func(inner dbctx.Context) error {
			return a.quizzes.Create(inner, q, questions)
		})
		if err == nil {
			return nil
		}
		if !aggregates.IsUniqueViolation(err) {
			return err
		}
		lastErr = err
		a.metrics.IncTitleCollision()
		a.log.Warn("Quiz title taken concurrently, retrying", "title", title, "attempt", attempt)
	}
	return aggregates.ConflictError(fmt.Sprintf("could not claim a unique quiz title after %d attempts: %v", maxTitleInsertAttempts, lastErr))
}

func (a *quizAssembler) newQuiz(in AssembleInput, kind string, chunkIndex *int) *types.Quiz {
	return &types.Quiz{
		ID:              uuid.New(),
		CreatorID:       in.CreatorID,
		DocumentID:      in.DocumentID,
		GenerationJobID: in.JobID,
		Kind:            kind,
		ChunkIndex:      chunkIndex,
		Difficulty:      in.Difficulty,
		Status:          quiz.StatusDraft,
	}
}

func (a *quizAssembler) toQuestions(chunkIndex int, generated []jobs.GeneratedQuestion, difficulty string) []*types.Question {
	out := make([]*types.Question, 0, len(generated))
	for _, g := range generated {
		d := g.Difficulty
		if d == "" {
			d = difficulty
		}
		q := &types.Question{
			ChunkIndex:  chunkIndex,
			Type:        g.Type,
			Difficulty:  d,
			Prompt:      g.Prompt,
			Hint:        g.Hint,
			Explanation: g.Explanation,
		}
		if len(g.Content) > 0 {
			q.Content = datatypes.JSON(g.Content)
		}
		out = append(out, q)
	}
	return out
}
