package quiz

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	KindChunk        = "chunk"
	KindConsolidated = "consolidated"
)

const (
	StatusDraft = "draft"
)

// Quiz is created only by the assembler from generated content. Generation
// jobs point at their consolidated quiz, never the other way round.
type Quiz struct {
	ID              uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	CreatorID       uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:ux_quiz_creator_title,priority:1" json:"creator_id"`
	Title           string    `gorm:"column:title;not null;uniqueIndex:ux_quiz_creator_title,priority:2" json:"title"`
	Description     string    `gorm:"column:description" json:"description,omitempty"`
	DocumentID      uuid.UUID `gorm:"type:uuid;not null;index" json:"document_id"`
	GenerationJobID uuid.UUID `gorm:"type:uuid;not null;index" json:"generation_job_id"`
	Kind            string    `gorm:"column:kind;not null" json:"kind"`
	ChunkIndex      *int      `gorm:"column:chunk_index" json:"chunk_index,omitempty"`
	Difficulty      string    `gorm:"column:difficulty" json:"difficulty,omitempty"`
	Status          string    `gorm:"column:status;not null" json:"status"`
	QuestionCount   int       `gorm:"column:question_count;not null;default:0" json:"question_count"`
	CreatedAt       time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt       time.Time `gorm:"not null" json:"updated_at"`
}

func (Quiz) TableName() string { return "quiz" }

type Question struct {
	ID          uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	QuizID      uuid.UUID      `gorm:"type:uuid;not null;index" json:"quiz_id"`
	Position    int            `gorm:"column:position;not null" json:"position"`
	ChunkIndex  int            `gorm:"column:chunk_index;not null" json:"chunk_index"`
	Type        string         `gorm:"column:type;not null" json:"type"`
	Difficulty  string         `gorm:"column:difficulty" json:"difficulty,omitempty"`
	Prompt      string         `gorm:"column:prompt;type:text;not null" json:"prompt"`
	Content     datatypes.JSON `gorm:"column:content;type:jsonb" json:"content,omitempty"`
	Hint        string         `gorm:"column:hint" json:"hint,omitempty"`
	Explanation string         `gorm:"column:explanation" json:"explanation,omitempty"`
	CreatedAt   time.Time      `gorm:"not null" json:"created_at"`
}

func (Question) TableName() string { return "quiz_question" }
