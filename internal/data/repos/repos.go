package repos

import (
	"gorm.io/gorm"

	"github.com/yungbote/quizgen-backend/internal/data/repos/jobs"
	"github.com/yungbote/quizgen-backend/internal/data/repos/ledger"
	"github.com/yungbote/quizgen-backend/internal/data/repos/materials"
	"github.com/yungbote/quizgen-backend/internal/data/repos/quiz"
	"github.com/yungbote/quizgen-backend/internal/platform/logger"
)

type GenerationJobRepo = jobs.GenerationJobRepo
type CreateResult = jobs.CreateResult
type Conflict = jobs.Conflict

type TokenAccountRepo = ledger.TokenAccountRepo
type TokenReservationRepo = ledger.TokenReservationRepo
type LedgerIdempotencyRepo = ledger.LedgerIdempotencyRepo
type LedgerEntryRepo = ledger.LedgerEntryRepo

type DocumentRepo = materials.DocumentRepo
type DocumentChunkRepo = materials.DocumentChunkRepo

type QuizRepo = quiz.QuizRepo

// Set bundles every repo the service wires at startup.
type Set struct {
	Jobs           GenerationJobRepo
	Accounts       TokenAccountRepo
	Reservations   TokenReservationRepo
	LedgerKeys     LedgerIdempotencyRepo
	LedgerEntries  LedgerEntryRepo
	Documents      DocumentRepo
	DocumentChunks DocumentChunkRepo
	Quizzes        QuizRepo
}

func NewSet(db *gorm.DB, baseLog *logger.Logger) Set {
	return Set{
		Jobs:           jobs.NewGenerationJobRepo(db, baseLog),
		Accounts:       ledger.NewTokenAccountRepo(db, baseLog),
		Reservations:   ledger.NewTokenReservationRepo(db, baseLog),
		LedgerKeys:     ledger.NewLedgerIdempotencyRepo(db, baseLog),
		LedgerEntries:  ledger.NewLedgerEntryRepo(db, baseLog),
		Documents:      materials.NewDocumentRepo(db, baseLog),
		DocumentChunks: materials.NewDocumentChunkRepo(db, baseLog),
		Quizzes:        quiz.NewQuizRepo(db, baseLog),
	}
}
