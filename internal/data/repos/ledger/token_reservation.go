package ledger

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/yungbote/quizgen-backend/internal/domain"
	"github.com/yungbote/quizgen-backend/internal/domain/ledger"
	"github.com/yungbote/quizgen-backend/internal/platform/dbctx"
	"github.com/yungbote/quizgen-backend/internal/platform/logger"
)

type TokenReservationRepo interface {
	Create(dbc dbctx.Context, res *types.Reservation) error
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Reservation, error)
	LockByID(dbc dbctx.Context, id uuid.UUID) (*types.Reservation, error)
	UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error
	ListExpiredActive(dbc dbctx.Context, now time.Time, limit int) ([]*types.Reservation, error)
}

type tokenReservationRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewTokenReservationRepo(db *gorm.DB, baseLog *logger.Logger) TokenReservationRepo {
	return &tokenReservationRepo{
		db:  db,
		log: baseLog.With("repo", "TokenReservationRepo"),
	}
}

func (r *tokenReservationRepo) Create(dbc dbctx.Context, res *types.Reservation) error {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if res.ID == uuid.Nil {
		res.ID = uuid.New()
	}
	now := time.Now().UTC()
	if res.CreatedAt.IsZero() {
		res.CreatedAt = now
	}
	if res.UpdatedAt.IsZero() {
		res.UpdatedAt = now
	}
	return transaction.WithContext(dbc.Ctx).Create(res).Error
}

func (r *tokenReservationRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Reservation, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil, nil
	}
	var res types.Reservation
	if err := transaction.WithContext(dbc.Ctx).Where("id = ?", id).Limit(1).Find(&res).Error; err != nil {
		return nil, err
	}
	if res.ID == uuid.Nil {
		return nil, nil
	}
	return &res, nil
}

func (r *tokenReservationRepo) LockByID(dbc dbctx.Context, id uuid.UUID) (*types.Reservation, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var res types.Reservation
	err := transaction.WithContext(dbc.Ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&res).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &res, nil
}

func (r *tokenReservationRepo) UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now().UTC()
	}
	return transaction.WithContext(dbc.Ctx).
		Model(&types.Reservation{}).
		Where("id = ?", id).
		Updates(updates).Error
}

// ListExpiredActive returns up to limit active reservations whose TTL has
// passed, oldest expiry first.
func (r *tokenReservationRepo) ListExpiredActive(dbc dbctx.Context, now time.Time, limit int) ([]*types.Reservation, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if limit <= 0 {
		limit = 100
	}
	out := []*types.Reservation{}
	if err := transaction.WithContext(dbc.Ctx).
		Where("state = ? AND expires_at <= ?", ledger.StateActive, now.UTC()).
		Order("expires_at ASC").
		Limit(limit).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
