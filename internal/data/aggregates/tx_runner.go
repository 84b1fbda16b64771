package aggregates

import (
	"context"

	domainagg "github.com/yungbote/quizgen-backend/internal/domain/aggregates"
	"github.com/yungbote/quizgen-backend/internal/platform/dbctx"
	"gorm.io/gorm"
)

// TxRunner opens the transaction an ExecuteWrite body runs in.
type TxRunner interface {
	InTx(ctx context.Context, fn func(dbc dbctx.Context) error) error
}

// GormTxRunner starts a top-level gorm transaction on DB.
type GormTxRunner struct {
	DB *gorm.DB
}

func NewGormTxRunner(db *gorm.DB) TxRunner {
	return GormTxRunner{DB: db}
}

func (r GormTxRunner) InTx(ctx context.Context, fn func(dbc dbctx.Context) error) error {
	return Within(dbctx.Background(ctx), r.DB, fn)
}

// Within runs fn in a nested transaction on dbc.Tx when present, which gorm
// issues as a SAVEPOINT, so a failure unwinds only fn's writes. Without
// dbc.Tx it opens a new transaction on db.
func Within(dbc dbctx.Context, db *gorm.DB, fn func(dbc dbctx.Context) error) error {
	if fn == nil {
		return nil
	}
	if dbc.Ctx == nil {
		dbc.Ctx = context.Background()
	}
	handle := dbc.Handle(db)
	if handle == nil {
		return domainagg.NewError(domainagg.CodeInternal, "aggregate.tx", "no database handle", nil)
	}
	return handle.Transaction(func(tx *gorm.DB) error {
		return fn(dbc.WithTx(tx))
	})
}
