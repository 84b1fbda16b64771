package ledger

import (
	"time"

	"github.com/google/uuid"
)

// TokenAccount is a user's token balance. Reserved tokens are held against
// the balance until a reservation is committed or released.
type TokenAccount struct {
	UserID    uuid.UUID `gorm:"type:uuid;primaryKey" json:"user_id"`
	Balance   int64     `gorm:"column:balance;not null;default:0" json:"balance"`
	Reserved  int64     `gorm:"column:reserved;not null;default:0" json:"reserved"`
	CreatedAt time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

func (TokenAccount) TableName() string { return "token_account" }

func (a *TokenAccount) Available() int64 {
	if a == nil {
		return 0
	}
	return a.Balance - a.Reserved
}

// Balance is the read model returned to callers.
type Balance struct {
	UserID    uuid.UUID `json:"user_id"`
	Balance   int64     `json:"balance"`
	Reserved  int64     `json:"reserved"`
	Available int64     `json:"available"`
}

const (
	EntryCredit  = "credit"
	EntryReserve = "reserve"
	EntryCommit  = "commit"
	EntryRelease = "release"
)

// Entry is one append-only movement on an account.
type Entry struct {
	ID            uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	UserID        uuid.UUID  `gorm:"type:uuid;not null;index" json:"user_id"`
	ReservationID *uuid.UUID `gorm:"type:uuid;index" json:"reservation_id,omitempty"`
	Kind          string     `gorm:"column:kind;not null" json:"kind"`
	Amount        int64      `gorm:"column:amount;not null" json:"amount"`
	Note          string     `gorm:"column:note" json:"note,omitempty"`
	CreatedAt     time.Time  `gorm:"not null;index" json:"created_at"`
}

func (Entry) TableName() string { return "token_ledger_entry" }
