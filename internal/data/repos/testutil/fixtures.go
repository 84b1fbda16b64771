package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/yungbote/quizgen-backend/internal/domain"
	"github.com/yungbote/quizgen-backend/internal/domain/jobs"
	"github.com/yungbote/quizgen-backend/internal/domain/materials"
)

// SeedDocument creates a ready document with one chunk per text. Empty texts
// still produce a chunk row.
func SeedDocument(tb testing.TB, ctx context.Context, tx *gorm.DB, ownerID uuid.UUID, title string, chunkTexts ...string) *types.Document {
	tb.Helper()
	now := time.Now().UTC()
	doc := &types.Document{
		ID:          uuid.New(),
		OwnerUserID: ownerID,
		Title:       title,
		Status:      materials.DocumentStatusReady,
		ChunkCount:  len(chunkTexts),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := tx.WithContext(ctx).Create(doc).Error; err != nil {
		tb.Fatalf("seed document: %v", err)
	}
	for i, text := range chunkTexts {
		chunk := &types.DocumentChunk{
			ID:         uuid.New(),
			DocumentID: doc.ID,
			ChunkIndex: i,
			Text:       text,
			TokenCount: len(text) / 4,
			CreatedAt:  now,
		}
		if err := tx.WithContext(ctx).Create(chunk).Error; err != nil {
			tb.Fatalf("seed chunk %d: %v", i, err)
		}
	}
	return doc
}

// SeedAccount creates a token account with the given balance and nothing reserved.
func SeedAccount(tb testing.TB, ctx context.Context, tx *gorm.DB, userID uuid.UUID, balance int64) *types.TokenAccount {
	tb.Helper()
	now := time.Now().UTC()
	acct := &types.TokenAccount{
		UserID:    userID,
		Balance:   balance,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := tx.WithContext(ctx).Create(acct).Error; err != nil {
		tb.Fatalf("seed account: %v", err)
	}
	return acct
}

// SeedJob inserts a generation job in status for userID. lastActivity sets
// created_at and updated_at so staleness can be controlled.
func SeedJob(tb testing.TB, ctx context.Context, tx *gorm.DB, userID, documentID uuid.UUID, status string, lastActivity time.Time) *types.GenerationJob {
	tb.Helper()
	job := &types.GenerationJob{
		ID:           uuid.New(),
		UserID:       userID,
		DocumentID:   documentID,
		Status:       status,
		BillingState: jobs.BillingReserved,
		CreatedAt:    lastActivity,
		UpdatedAt:    lastActivity,
	}
	if err := tx.WithContext(ctx).Create(job).Error; err != nil {
		tb.Fatalf("seed job: %v", err)
	}
	return job
}
