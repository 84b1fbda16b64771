package materials

import (
	"time"

	"github.com/google/uuid"
)

const (
	DocumentStatusPending = "pending"
	DocumentStatusReady   = "ready"
	DocumentStatusFailed  = "failed"
)

// Document is an uploaded source whose chunks feed quiz generation. Ingestion
// and chunking happen elsewhere; this service only reads the result.
type Document struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	OwnerUserID uuid.UUID `gorm:"type:uuid;not null;index" json:"owner_user_id"`
	Title       string    `gorm:"column:title" json:"title"`
	Status      string    `gorm:"column:status;not null;index" json:"status"`
	ChunkCount  int       `gorm:"column:chunk_count;not null;default:0" json:"chunk_count"`
	CreatedAt   time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt   time.Time `gorm:"not null" json:"updated_at"`
}

func (Document) TableName() string { return "document" }

type DocumentChunk struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	DocumentID uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:ux_document_chunk_position,priority:1" json:"document_id"`
	ChunkIndex int       `gorm:"column:chunk_index;not null;uniqueIndex:ux_document_chunk_position,priority:2" json:"chunk_index"`
	Text       string    `gorm:"column:text;type:text;not null" json:"text"`
	TokenCount int       `gorm:"column:token_count;not null;default:0" json:"token_count"`
	CreatedAt  time.Time `gorm:"not null" json:"created_at"`
}

func (DocumentChunk) TableName() string { return "document_chunk" }
