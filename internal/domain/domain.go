// Package domain re-exports the persisted models so callers can import one
// package instead of every sub-domain.
package domain

import (
	"github.com/yungbote/quizgen-backend/internal/domain/jobs"
	"github.com/yungbote/quizgen-backend/internal/domain/ledger"
	"github.com/yungbote/quizgen-backend/internal/domain/materials"
	"github.com/yungbote/quizgen-backend/internal/domain/quiz"
)

type GenerationJob = jobs.GenerationJob
type GenerationRequest = jobs.GenerationRequest
type CompletionEvent = jobs.CompletionEvent
type GeneratedQuestion = jobs.GeneratedQuestion

type TokenAccount = ledger.TokenAccount
type Reservation = ledger.Reservation
type LedgerEntry = ledger.Entry
type LedgerIdempotencyRecord = ledger.IdempotencyRecord

type Document = materials.Document
type DocumentChunk = materials.DocumentChunk

type Quiz = quiz.Quiz
type Question = quiz.Question

// Models lists every table owned by this service, in migration order.
func Models() []interface{} {
	return []interface{}{
		&TokenAccount{},
		&Reservation{},
		&LedgerEntry{},
		&LedgerIdempotencyRecord{},
		&Document{},
		&DocumentChunk{},
		&Quiz{},
		&Question{},
		&GenerationJob{},
	}
}
