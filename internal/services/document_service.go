package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/quizgen-backend/internal/data/aggregates"
	"github.com/yungbote/quizgen-backend/internal/data/repos"
	types "github.com/yungbote/quizgen-backend/internal/domain"
	domainagg "github.com/yungbote/quizgen-backend/internal/domain/aggregates"
	"github.com/yungbote/quizgen-backend/internal/domain/jobs"
	"github.com/yungbote/quizgen-backend/internal/domain/materials"
	"github.com/yungbote/quizgen-backend/internal/platform/dbctx"
	"github.com/yungbote/quizgen-backend/internal/platform/logger"
)

// DocumentService reads already-chunked documents. Ingestion lives elsewhere.
type DocumentService interface {
	// GetForUser returns the document when userID owns it, ResourceNotFound otherwise.
	GetForUser(ctx context.Context, userID, documentID uuid.UUID) (*types.Document, error)
	// ChunkCount is the number of chunks a request will cover. It is always
	// > 0 on success.
	ChunkCount(ctx context.Context, documentID uuid.UUID, req jobs.GenerationRequest) (int, error)
	LoadChunks(ctx context.Context, documentID uuid.UUID, limit int) ([]*types.DocumentChunk, error)
	GetChunk(ctx context.Context, documentID uuid.UUID, chunkIndex int) (*types.DocumentChunk, error)
}

type documentService struct {
	db     *gorm.DB
	log    *logger.Logger
	docs   repos.DocumentRepo
	chunks repos.DocumentChunkRepo
}

func NewDocumentService(db *gorm.DB, baseLog *logger.Logger, docs repos.DocumentRepo, chunks repos.DocumentChunkRepo) DocumentService {
	return &documentService{
		db:     db,
		log:    baseLog.With("service", "DocumentService"),
		docs:   docs,
		chunks: chunks,
	}
}

func (s *documentService) GetForUser(ctx context.Context, userID, documentID uuid.UUID) (*types.Document, error) {
	const op = "documents.get"
	doc, err := s.docs.GetByID(dbctx.Background(ctx), documentID)
	if err != nil {
		return nil, aggregates.MapError(op, err)
	}
	if doc == nil || doc.OwnerUserID != userID {
		return nil, domainagg.NotFound(op, fmt.Sprintf("document %s not found", documentID))
	}
	return doc, nil
}

func (s *documentService) ChunkCount(ctx context.Context, documentID uuid.UUID, req jobs.GenerationRequest) (int, error) {
	const op = "documents.chunk_count"
	dbc := dbctx.Background(ctx)
	doc, err := s.docs.GetByID(dbc, documentID)
	if err != nil {
		return 0, aggregates.MapError(op, err)
	}
	if doc == nil {
		return 0, domainagg.NotFound(op, fmt.Sprintf("document %s not found", documentID))
	}
	if doc.Status != materials.DocumentStatusReady {
		return 0, domainagg.Validation(op, fmt.Sprintf("document is %s, not ready", doc.Status))
	}
	n, err := s.chunks.CountByDocument(dbc, documentID)
	if err != nil {
		return 0, aggregates.MapError(op, err)
	}
	if req.MaxChunks > 0 && n > req.MaxChunks {
		n = req.MaxChunks
	}
	if n <= 0 {
		return 0, domainagg.Validation(op, "document has no chunks")
	}
	return n, nil
}

func (s *documentService) LoadChunks(ctx context.Context, documentID uuid.UUID, limit int) ([]*types.DocumentChunk, error) {
	out, err := s.chunks.ListByDocument(dbctx.Background(ctx), documentID, limit)
	if err != nil {
		return nil, aggregates.MapError("documents.load_chunks", err)
	}
	return out, nil
}

func (s *documentService) GetChunk(ctx context.Context, documentID uuid.UUID, chunkIndex int) (*types.DocumentChunk, error) {
	const op = "documents.get_chunk"
	c, err := s.chunks.GetByIndex(dbctx.Background(ctx), documentID, chunkIndex)
	if err != nil {
		return nil, aggregates.MapError(op, err)
	}
	if c == nil {
		return nil, domainagg.NotFound(op, fmt.Sprintf("chunk %d of document %s not found", chunkIndex, documentID))
	}
	return c, nil
}
