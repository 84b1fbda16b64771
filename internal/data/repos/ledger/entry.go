package ledger

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/yungbote/quizgen-backend/internal/domain"
	"github.com/yungbote/quizgen-backend/internal/platform/dbctx"
	"github.com/yungbote/quizgen-backend/internal/platform/logger"
)

type LedgerEntryRepo interface {
	Append(dbc dbctx.Context, entries ...*types.LedgerEntry) error
	ListForUser(dbc dbctx.Context, userID uuid.UUID, limit int) ([]*types.LedgerEntry, error)
	ListForReservation(dbc dbctx.Context, reservationID uuid.UUID) ([]*types.LedgerEntry, error)
}

type ledgerEntryRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewLedgerEntryRepo(db *gorm.DB, baseLog *logger.Logger) LedgerEntryRepo {
	return &ledgerEntryRepo{
		db:  db,
		log: baseLog.With("repo", "LedgerEntryRepo"),
	}
}

func (r *ledgerEntryRepo) Append(dbc dbctx.Context, entries ...*types.LedgerEntry) error {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	rows := make([]*types.LedgerEntry, 0, len(entries))
	now := time.Now().UTC()
	for _, e := range entries {
		if e == nil || e.Amount == 0 {
			continue
		}
		if e.ID == uuid.Nil {
			e.ID = uuid.New()
		}
		if e.CreatedAt.IsZero() {
			e.CreatedAt = now
		}
		rows = append(rows, e)
	}
	if len(rows) == 0 {
		return nil
	}
	return transaction.WithContext(dbc.Ctx).Create(&rows).Error
}

func (r *ledgerEntryRepo) ListForUser(dbc dbctx.Context, userID uuid.UUID, limit int) ([]*types.LedgerEntry, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if limit <= 0 {
		limit = 100
	}
	out := []*types.LedgerEntry{}
	if err := transaction.WithContext(dbc.Ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *ledgerEntryRepo) ListForReservation(dbc dbctx.Context, reservationID uuid.UUID) ([]*types.LedgerEntry, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	out := []*types.LedgerEntry{}
	if err := transaction.WithContext(dbc.Ctx).
		Where("reservation_id = ?", reservationID).
		Order("created_at ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
