package testutil

import (
	"context"
	"errors"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/yungbote/quizgen-backend/internal/platform/dbctx"
)

func TestInjectedTxRunnerCounters(t *testing.T) {
	r := &InjectedTxRunner{}
	if err := r.InTx(context.Background(), func(dbctx.Context) error { return nil }); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	bodyErr := errors.New("boom")
	if err := r.InTx(context.Background(), func(dbctx.Context) error { return bodyErr }); !errors.Is(err, bodyErr) {
		t.Fatalf("expected body err, got %v", err)
	}
	if r.BeginCalls != 2 || r.CommitCalls != 1 || r.RollbackCalls != 1 {
		t.Fatalf("unexpected counters begin=%d commit=%d rollback=%d", r.BeginCalls, r.CommitCalls, r.RollbackCalls)
	}
}

func TestInjectedTxRunnerFailCommitOnCall(t *testing.T) {
	commitErr := errors.New("commit failed")
	r := &InjectedTxRunner{FailCommit: commitErr, FailCommitOnCall: 2}
	body := func(dbctx.Context) error { return nil }

	if err := r.InTx(context.Background(), body); err != nil {
		t.Fatalf("first call should commit: %v", err)
	}
	if err := r.InTx(context.Background(), body); !errors.Is(err, commitErr) {
		t.Fatalf("second call should fail commit, got %v", err)
	}
	if err := r.InTx(context.Background(), body); err != nil {
		t.Fatalf("third call should commit: %v", err)
	}
	if r.CommitCalls != 2 || r.RollbackCalls != 1 {
		t.Fatalf("unexpected counters commit=%d rollback=%d", r.CommitCalls, r.RollbackCalls)
	}
}

func TestInjectedTxRunnerFailBegin(t *testing.T) {
	beginErr := errors.New("no connection")
	r := &InjectedTxRunner{FailBegin: beginErr}
	called := false
	err := r.InTx(context.Background(), func(dbctx.Context) error {
		called = true
		return nil
	})
	if !errors.Is(err, beginErr) || called {
		t.Fatalf("expected begin failure without running body, err=%v called=%v", err, called)
	}
}

type counterRow struct {
	ID int `gorm:"primaryKey"`
}

func TestInjectedTxRunnerRollsBackRealWrites(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&counterRow{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	commitErr := errors.New("commit failed")
	r := &InjectedTxRunner{DB: db, FailCommit: commitErr, FailCommitOnCall: 1}
	insert := func(id int) func(dbctx.Context) error {
		return func(dbc dbctx.Context) error {
			if dbc.Tx == nil {
				return errors.New("body ran outside a transaction")
			}
			return dbc.Tx.Create(&counterRow{ID: id}).Error
		}
	}

	if err := r.InTx(context.Background(), insert(1)); !errors.Is(err, commitErr) {
		t.Fatalf("expected injected commit failure, got %v", err)
	}
	if err := r.InTx(context.Background(), insert(2)); err != nil {
		t.Fatalf("second call should commit: %v", err)
	}

	var ids []int
	if err := db.Model(&counterRow{}).Order("id").Pluck("id", &ids).Error; err != nil {
		t.Fatalf("pluck: %v", err)
	}
	if len(ids) != 1 || ids[0] != 2 {
		t.Fatalf("rolled back write survived: %v", ids)
	}
}
