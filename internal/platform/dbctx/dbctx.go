// Package dbctx threads an optional transaction through repo calls.
package dbctx

import (
	"context"

	"gorm.io/gorm"
)

// Context pairs the caller's context with the transaction it holds, if any.
// The zero Tx means "no transaction": repos fall back to their own handle.
type Context struct {
	Ctx context.Context
	Tx  *gorm.DB
}

// Background wraps ctx without a transaction. A nil ctx becomes
// context.Background().
func Background(ctx context.Context) Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return Context{Ctx: ctx}
}

// WithTx returns a copy of c bound to tx.
func (c Context) WithTx(tx *gorm.DB) Context {
	c.Tx = tx
	return c
}

// Handle returns Tx, or fallback when c holds no transaction, scoped to
// c.Ctx. It is nil only when both are nil.
func (c Context) Handle(fallback *gorm.DB) *gorm.DB {
	db := c.Tx
	if db == nil {
		db = fallback
	}
	if db == nil {
		return nil
	}
	if c.Ctx == nil {
		return db
	}
	return db.WithContext(c.Ctx)
}
