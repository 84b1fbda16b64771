package ledger

import (
	"time"

	"github.com/google/uuid"
)

const (
	StateActive    = "active"
	StateCommitted = "committed"
	StateReleased  = "released"
)

// Reservation holds tokens against an account. It moves once from active to
// committed or released; a committed reservation may still carry an
// unreleased remainder until it is released.
type Reservation struct {
	ID              uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	UserID          uuid.UUID `gorm:"type:uuid;not null;index" json:"user_id"`
	State           string    `gorm:"column:state;not null;index" json:"state"`
	EstimatedTokens int64     `gorm:"column:estimated_tokens;not null" json:"estimated_tokens"`
	CommittedTokens int64     `gorm:"column:committed_tokens;not null;default:0" json:"committed_tokens"`
	ReleasedTokens  int64     `gorm:"column:released_tokens;not null;default:0" json:"released_tokens"`
	Purpose         string    `gorm:"column:purpose;not null" json:"purpose"`
	Reason          string    `gorm:"column:reason" json:"reason,omitempty"`
	ExpiresAt       time.Time `gorm:"column:expires_at;not null;index" json:"expires_at"`
	CreatedAt       time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt       time.Time `gorm:"not null" json:"updated_at"`
}

func (Reservation) TableName() string { return "token_reservation" }

// Outstanding is the part of the hold neither charged nor returned.
func (r *Reservation) Outstanding() int64 {
	if r == nil || r.State == StateReleased {
		return 0
	}
	out := r.EstimatedTokens - r.CommittedTokens - r.ReleasedTokens
	if out < 0 {
		return 0
	}
	return out
}

func (r *Reservation) IsExpired(now time.Time) bool {
	return r != nil && r.State == StateActive && !r.ExpiresAt.IsZero() && !now.Before(r.ExpiresAt)
}

// CommitResult reports what a commit charged and what it returned.
type CommitResult struct {
	ReservationID   uuid.UUID `json:"reservation_id"`
	CommittedTokens int64     `json:"committed_tokens"`
	ReleasedTokens  int64     `json:"released_tokens"`
}

// CommitContext is audit context stored alongside a commit.
type CommitContext struct {
	JobID             uuid.UUID
	ActualTokens      int64
	WasCapped         bool
	EstimationVersion string
	CorrelationID     string
}

const (
	OperationCredit  = "credit"
	OperationReserve = "reserve"
	OperationCommit  = "commit"
	OperationRelease = "release"
)

// IdempotencyRecord remembers the outcome of a keyed ledger call.
type IdempotencyRecord struct {
	Key             string     `gorm:"column:idempotency_key;primaryKey" json:"key"`
	Operation       string     `gorm:"column:operation;not null" json:"operation"`
	UserID          uuid.UUID  `gorm:"type:uuid;not null;index" json:"user_id"`
	ReservationID   *uuid.UUID `gorm:"type:uuid;index" json:"reservation_id,omitempty"`
	CommittedTokens int64      `gorm:"column:committed_tokens;not null;default:0" json:"committed_tokens"`
	ReleasedTokens  int64      `gorm:"column:released_tokens;not null;default:0" json:"released_tokens"`
	CreatedAt       time.Time  `gorm:"not null" json:"created_at"`
}

func (IdempotencyRecord) TableName() string { return "token_ledger_idempotency" }
