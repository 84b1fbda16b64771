package ledger

import (
	"strings"
	"time"

	"gorm.io/gorm"

	types "github.com/yungbote/quizgen-backend/internal/domain"
	"github.com/yungbote/quizgen-backend/internal/platform/dbctx"
	"github.com/yungbote/quizgen-backend/internal/platform/logger"
)

type LedgerIdempotencyRepo interface {
	Get(dbc dbctx.Context, key string) (*types.LedgerIdempotencyRecord, error)
	Create(dbc dbctx.Context, rec *types.LedgerIdempotencyRecord) error
}

type ledgerIdempotencyRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewLedgerIdempotencyRepo(db *gorm.DB, baseLog *logger.Logger) LedgerIdempotencyRepo {
	return &ledgerIdempotencyRepo{
		db:  db,
		log: baseLog.With("repo", "LedgerIdempotencyRepo"),
	}
}

func (r *ledgerIdempotencyRepo) Get(dbc dbctx.Context, key string) (*types.LedgerIdempotencyRecord, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, nil
	}
	var rec types.LedgerIdempotencyRecord
	if err := transaction.WithContext(dbc.Ctx).Where("idempotency_key = ?", key).Limit(1).Find(&rec).Error; err != nil {
		return nil, err
	}
	if rec.Key == "" {
		return nil, nil
	}
	return &rec, nil
}

// Create stores rec. A duplicate key surfaces as a unique violation, which
// callers treat as a lost race and re-read.
func (r *ledgerIdempotencyRepo) Create(dbc dbctx.Context, rec *types.LedgerIdempotencyRecord) error {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	return transaction.WithContext(dbc.Ctx).Create(rec).Error
}
