package ledger

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/yungbote/quizgen-backend/internal/domain"
	"github.com/yungbote/quizgen-backend/internal/platform/dbctx"
	"github.com/yungbote/quizgen-backend/internal/platform/logger"
)

type TokenAccountRepo interface {
	Get(dbc dbctx.Context, userID uuid.UUID) (*types.TokenAccount, error)
	LockOrCreate(dbc dbctx.Context, userID uuid.UUID) (*types.TokenAccount, error)
	Adjust(dbc dbctx.Context, userID uuid.UUID, balanceDelta, reservedDelta int64) error
}

type tokenAccountRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewTokenAccountRepo(db *gorm.DB, baseLog *logger.Logger) TokenAccountRepo {
	return &tokenAccountRepo{
		db:  db,
		log: baseLog.With("repo", "TokenAccountRepo"),
	}
}

func (r *tokenAccountRepo) Get(dbc dbctx.Context, userID uuid.UUID) (*types.TokenAccount, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if userID == uuid.Nil {
		return nil, nil
	}
	var acct types.TokenAccount
	err := transaction.WithContext(dbc.Ctx).Where("user_id = ?", userID).Limit(1).Find(&acct).Error
	if err != nil {
		return nil, err
	}
	if acct.UserID == uuid.Nil {
		return nil, nil
	}
	return &acct, nil
}

// LockOrCreate ensures the account row exists and returns it under FOR UPDATE.
func (r *tokenAccountRepo) LockOrCreate(dbc dbctx.Context, userID uuid.UUID) (*types.TokenAccount, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	now := time.Now().UTC()
	seed := &types.TokenAccount{UserID: userID, CreatedAt: now, UpdatedAt: now}
	if err := transaction.WithContext(dbc.Ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "user_id"}}, DoNothing: true}).
		Create(seed).Error; err != nil {
		return nil, err
	}
	var acct types.TokenAccount
	err := transaction.WithContext(dbc.Ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id = ?", userID).
		First(&acct).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &acct, nil
}

func (r *tokenAccountRepo) Adjust(dbc dbctx.Context, userID uuid.UUID, balanceDelta, reservedDelta int64) error {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(dbc.Ctx).
		Model(&types.TokenAccount{}).
		Where("user_id = ?", userID).
		Updates(map[string]interface{}{
			"balance":    gorm.Expr("balance + ?", balanceDelta),
			"reserved":   gorm.Expr("reserved + ?", reservedDelta),
			"updated_at": time.Now().UTC(),
		}).Error
}
