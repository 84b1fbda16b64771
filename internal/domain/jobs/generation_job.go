package jobs

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
	StatusCancelled  = "cancelled"
)

// ActiveStatuses are the statuses covered by the one-active-job-per-user index.
var ActiveStatuses = []string{StatusPending, StatusProcessing}

// TerminalStatuses never transition again.
var TerminalStatuses = []string{StatusCompleted, StatusFailed, StatusCancelled}

const (
	BillingReserved  = "reserved"
	BillingCommitted = "committed"
	BillingReleased  = "released"
)

// IsTerminalStatus reports whether status is completed, failed or cancelled.
func IsTerminalStatus(status string) bool {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// GenerationJob is one quiz-generation attempt and its billing sub-state.
type GenerationJob struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	UserID     uuid.UUID `gorm:"type:uuid;not null;index" json:"user_id"`
	DocumentID uuid.UUID `gorm:"type:uuid;not null;index" json:"document_id"`
	Status     string    `gorm:"column:status;not null;index" json:"status"`
	Title      string    `gorm:"column:title" json:"title,omitempty"`

	Request datatypes.JSONType[GenerationRequest] `gorm:"column:request;type:jsonb" json:"request"`

	TotalChunks              int    `gorm:"column:total_chunks;not null;default:0" json:"total_chunks"`
	ProcessedChunks          int    `gorm:"column:processed_chunks;not null;default:0" json:"processed_chunks"`
	EstimationVersion        string `gorm:"column:estimation_version" json:"estimation_version,omitempty"`
	EstimationID             string `gorm:"column:estimation_id" json:"estimation_id,omitempty"`
	EstimatedDurationSeconds int64  `gorm:"column:estimated_duration_seconds;not null;default:0" json:"estimated_duration_seconds"`

	BillingState           string                                 `gorm:"column:billing_state;index" json:"billing_state,omitempty"`
	BillingReservationID   *uuid.UUID                             `gorm:"type:uuid;column:billing_reservation_id;index" json:"billing_reservation_id,omitempty"`
	BillingEstimatedTokens int64                                  `gorm:"column:billing_estimated_tokens;not null;default:0" json:"billing_estimated_tokens"`
	BillingCommittedTokens int64                                  `gorm:"column:billing_committed_tokens;not null;default:0" json:"billing_committed_tokens"`
	ActualTokens           *int64                                 `gorm:"column:actual_tokens" json:"actual_tokens,omitempty"`
	WasCappedAtReserved    bool                                   `gorm:"column:was_capped_at_reserved;not null;default:false" json:"was_capped_at_reserved"`
	ReservationExpiresAt   *time.Time                             `gorm:"column:reservation_expires_at" json:"reservation_expires_at,omitempty"`
	HasStartedAICalls      bool                                   `gorm:"column:has_started_ai_calls;not null;default:false" json:"has_started_ai_calls"`
	InputPromptTokens      int64                                  `gorm:"column:input_prompt_tokens;not null;default:0" json:"input_prompt_tokens"`
	LLMTokensSoFar         int64                                  `gorm:"column:llm_tokens_so_far;not null;default:0" json:"llm_tokens_so_far"`
	IdempotencyKeys        datatypes.JSONType[BillingIdempotency] `gorm:"column:billing_idempotency_keys;type:jsonb" json:"billing_idempotency_keys"`

	GeneratedQuizID         *uuid.UUID   `gorm:"type:uuid;column:generated_quiz_id" json:"generated_quiz_id,omitempty"`
	TotalQuestionsGenerated int          `gorm:"column:total_questions_generated;not null;default:0" json:"total_questions_generated"`
	ErrorMessage            string       `gorm:"column:error_message" json:"error_message,omitempty"`
	LastBillingError        BillingError `gorm:"embedded;embeddedPrefix:last_billing_error_" json:"last_billing_error"`

	StartedAt   *time.Time `gorm:"column:started_at" json:"started_at,omitempty"`
	HeartbeatAt *time.Time `gorm:"column:heartbeat_at;index" json:"heartbeat_at,omitempty"`
	CompletedAt *time.Time `gorm:"column:completed_at" json:"completed_at,omitempty"`
	CreatedAt   time.Time  `gorm:"not null;index" json:"created_at"`
	UpdatedAt   time.Time  `gorm:"not null;index" json:"updated_at"`
}

func (GenerationJob) TableName() string { return "generation_job" }

func (j *GenerationJob) BeforeCreate(tx *gorm.DB) error {
	if j.ID == uuid.Nil {
		j.ID = uuid.New()
	}
	now := time.Now().UTC()
	if j.CreatedAt.IsZero() {
		j.CreatedAt = now
	}
	if j.UpdatedAt.IsZero() {
		j.UpdatedAt = j.CreatedAt
	}
	return nil
}

func (j *GenerationJob) IsTerminal() bool {
	return j != nil && IsTerminalStatus(j.Status)
}

// LastActivityAt is the most recent sign of life: heartbeat, then update, then creation.
func (j *GenerationJob) LastActivityAt() time.Time {
	if j == nil {
		return time.Time{}
	}
	if j.HeartbeatAt != nil && !j.HeartbeatAt.IsZero() {
		return *j.HeartbeatAt
	}
	if !j.UpdatedAt.IsZero() {
		return j.UpdatedAt
	}
	return j.CreatedAt
}

// IsStale reports whether a non-terminal job has shown no activity for longer than window.
func (j *GenerationJob) IsStale(now time.Time, window time.Duration) bool {
	if j == nil || j.IsTerminal() || window <= 0 {
		return false
	}
	return now.Sub(j.LastActivityAt()) > window
}

// BillingIdempotency records the idempotency key used for each ledger
// operation performed on behalf of a job.
type BillingIdempotency struct {
	Reserve      string `json:"reserve,omitempty"`
	Commit       string `json:"commit,omitempty"`
	Release      string `json:"release,omitempty"`
	CommitCancel string `json:"commit-cancel,omitempty"`
}

const (
	OpReserve      = "reserve"
	OpCommit       = "commit"
	OpRelease      = "release"
	OpCommitCancel = "commit-cancel"
)

// IdempotencyKey derives the ledger key for op on job id.
func IdempotencyKey(jobID uuid.UUID, op string) string {
	return jobID.String() + ":" + op
}

// Get returns the stored key for op, or "".
func (b BillingIdempotency) Get(op string) string {
	switch op {
	case OpReserve:
		return b.Reserve
	case OpCommit:
		return b.Commit
	case OpRelease:
		return b.Release
	case OpCommitCancel:
		return b.CommitCancel
	default:
		return ""
	}
}

// With returns a copy with op's key set.
func (b BillingIdempotency) With(op, key string) BillingIdempotency {
	switch op {
	case OpReserve:
		b.Reserve = key
	case OpCommit:
		b.Commit = key
	case OpRelease:
		b.Release = key
	case OpCommitCancel:
		b.CommitCancel = key
	}
	return b
}

const (
	BillingErrorInvalidState = "invalid_billing_state"
	BillingErrorLedger       = "ledger_error"
	BillingErrorExpired      = "reservation_expired"
	BillingErrorRelease      = "release_failed"
)

// BillingError is the structured record of the last failed billing step.
type BillingError struct {
	Message       string     `gorm:"column:message" json:"message,omitempty"`
	Kind          string     `gorm:"column:kind" json:"kind,omitempty"`
	At            *time.Time `gorm:"column:at" json:"at,omitempty"`
	CorrelationID string     `gorm:"column:correlation_id" json:"correlation_id,omitempty"`
}

func (b BillingError) IsZero() bool {
	return b.Message == "" && b.Kind == ""
}
