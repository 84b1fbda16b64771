package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/quizgen-backend/internal/data/repos"
	"github.com/yungbote/quizgen-backend/internal/data/repos/testutil"
	domainagg "github.com/yungbote/quizgen-backend/internal/domain/aggregates"
	"github.com/yungbote/quizgen-backend/internal/domain/ledger"
	"github.com/yungbote/quizgen-backend/internal/platform/dbctx"
)

func newTestLedger(t *testing.T, db *gorm.DB, autoRelease bool) *tokenLedger {
	t.Helper()
	l := NewTokenLedger(db, testutil.Logger(t), repos.NewSet(db, testutil.Logger(t)), nil, TokenLedgerOptions{
		AutoReleaseOnCommit: autoRelease,
		DefaultTTL:          time.Hour,
	})
	return l.(*tokenLedger)
}

func fundedUser(t *testing.T, l TokenLedger, amount int64) uuid.UUID {
	t.Helper()
	userID := uuid.New()
	if _, err := l.Credit(dbctx.Background(context.Background()), userID, amount, "topup:"+userID.String()); err != nil {
		t.Fatalf("Credit: %v", err)
	}
	return userID
}

func TestTokenLedgerReserveInsufficient(t *testing.T) {
	db := testutil.DB(t)
	l := newTestLedger(t, db, true)
	ctx := context.Background()
	userID := fundedUser(t, l, 300)

	_, err := l.Reserve(dbctx.Background(ctx), ReserveInput{UserID: userID, EstimatedTokens: 500, Purpose: "quiz", IdempotencyKey: "k1"})
	var insufficient *ledger.InsufficientTokensError
	if !errors.As(err, &insufficient) {
		t.Fatalf("expected InsufficientTokensError, got %v", err)
	}
	if insufficient.Estimated != 500 || insufficient.Available != 300 || insufficient.Shortfall != 200 || insufficient.TTL != time.Hour {
		t.Fatalf("unexpected error fields %+v", insufficient)
	}
	bal, _ := l.GetBalance(ctx, userID)
	if bal.Reserved != 0 || bal.Available != 300 {
		t.Fatalf("failed reserve must not hold tokens: %+v", bal)
	}
}

func TestTokenLedgerReserveIsIdempotent(t *testing.T) {
	db := testutil.DB(t)
	l := newTestLedger(t, db, true)
	ctx := context.Background()
	userID := fundedUser(t, l, 2000)

	in := ReserveInput{UserID: userID, EstimatedTokens: 1000, Purpose: "quiz", IdempotencyKey: "job-1:reserve"}
	first, err := l.Reserve(dbctx.Background(ctx), in)
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	second, err := l.Reserve(dbctx.Background(ctx), in)
	if err != nil {
		t.Fatalf("Reserve replay: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("replay returned a different reservation")
	}
	bal, _ := l.GetBalance(ctx, userID)
	if bal.Reserved != 1000 || bal.Available != 1000 {
		t.Fatalf("replay must not double-reserve: %+v", bal)
	}
}

func TestTokenLedgerCommitCapsAtEstimate(t *testing.T) {
	db := testutil.DB(t)
	l := newTestLedger(t, db, false)
	ctx := context.Background()
	userID := fundedUser(t, l, 5000)

	res, err := l.Reserve(dbctx.Background(ctx), ReserveInput{UserID: userID, EstimatedTokens: 1000, Purpose: "quiz"})
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	out, err := l.Commit(dbctx.Background(ctx), res.ID, 1400, ledger.CommitContext{ActualTokens: 1400, WasCapped: true}, "c1")
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if out.CommittedTokens != 1000 || out.ReleasedTokens != 0 {
		t.Fatalf("commit result %+v", out)
	}
	bal, _ := l.GetBalance(ctx, userID)
	if bal.Balance != 4000 || bal.Reserved != 0 {
		t.Fatalf("balance after capped commit %+v", bal)
	}
}

func TestTokenLedgerCommitAutoRelease(t *testing.T) {
	db := testutil.DB(t)
	l := newTestLedger(t, db, true)
	ctx := context.Background()
	userID := fundedUser(t, l, 5000)

	res, _ := l.Reserve(dbctx.Background(ctx), ReserveInput{UserID: userID, EstimatedTokens: 1000, Purpose: "quiz"})
	out, err := l.Commit(dbctx.Background(ctx), res.ID, 400, ledger.CommitContext{}, "c1")
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if out.CommittedTokens != 400 || out.ReleasedTokens != 600 {
		t.Fatalf("commit result %+v", out)
	}
	bal, _ := l.GetBalance(ctx, userID)
	if bal.Balance != 4600 || bal.Reserved != 0 {
		t.Fatalf("balance after auto-release %+v", bal)
	}
}

func TestTokenLedgerCommitAndReleaseAreIdempotent(t *testing.T) {
	db := testutil.DB(t)
	l := newTestLedger(t, db, false)
	ctx := context.Background()
	userID := fundedUser(t, l, 5000)

	res, _ := l.Reserve(dbctx.Background(ctx), ReserveInput{UserID: userID, EstimatedTokens: 1000, Purpose: "quiz"})
	for i := 0; i < 2; i++ {
		out, err := l.Commit(dbctx.Background(ctx), res.ID, 400, ledger.CommitContext{}, "job:commit")
		if err != nil {
			t.Fatalf("Commit #%d: %v", i, err)
		}
		if out.CommittedTokens != 400 || out.ReleasedTokens != 0 {
			t.Fatalf("Commit #%d result %+v", i, out)
		}
	}
	for i := 0; i < 2; i++ {
		if err := l.Release(dbctx.Background(ctx), res.ID, "remainder", "job:release"); err != nil {
			t.Fatalf("Release #%d: %v", i, err)
		}
	}
	// A release under a fresh key finds nothing outstanding.
	if err := l.Release(dbctx.Background(ctx), res.ID, "again", "other"); err != nil {
		t.Fatalf("Release with nothing outstanding: %v", err)
	}

	bal, _ := l.GetBalance(ctx, userID)
	if bal.Balance != 4600 || bal.Reserved != 0 {
		t.Fatalf("balance %+v", bal)
	}
	entries, err := l.entries.ListForReservation(dbctx.Background(ctx), res.ID)
	if err != nil {
		t.Fatalf("entries: %v", err)
	}
	kinds := map[string]int{}
	for _, e := range entries {
		kinds[e.Kind]++
	}
	if kinds[ledger.EntryCommit] != 1 || kinds[ledger.EntryRelease] != 1 {
		t.Fatalf("expected one commit and one release entry, got %v", kinds)
	}

	// Committing again under a new key is a billing state error.
	_, err = l.Commit(dbctx.Background(ctx), res.ID, 10, ledger.CommitContext{}, "fresh")
	if !domainagg.IsCode(err, domainagg.CodeInvalidBillingState) {
		t.Fatalf("expected invalid billing state, got %v", err)
	}
}

func TestTokenLedgerExpiredReservation(t *testing.T) {
	db := testutil.DB(t)
	l := newTestLedger(t, db, true)
	ctx := context.Background()
	userID := fundedUser(t, l, 1000)

	res, _ := l.Reserve(dbctx.Background(ctx), ReserveInput{UserID: userID, EstimatedTokens: 500, Purpose: "quiz", TTL: time.Minute})
	later := time.Now().UTC().Add(2 * time.Minute)
	l.now = func() time.Time { return later }

	if _, err := l.Commit(dbctx.Background(ctx), res.ID, 100, ledger.CommitContext{}, "c"); !errors.Is(err, ledger.ErrReservationExpired) {
		t.Fatalf("expected ErrReservationExpired, got %v", err)
	}

	swept, err := l.SweepExpired(ctx, later, 10)
	if err != nil || swept != 1 {
		t.Fatalf("SweepExpired: swept=%d err=%v", swept, err)
	}
	got, _ := l.GetReservation(ctx, res.ID)
	if got.State != ledger.StateReleased || got.ReleasedTokens != 500 {
		t.Fatalf("reservation after sweep %+v", got)
	}
	bal, _ := l.GetBalance(ctx, userID)
	if bal.Reserved != 0 || bal.Available != 1000 {
		t.Fatalf("balance after sweep %+v", bal)
	}
	if swept, _ := l.SweepExpired(ctx, later, 10); swept != 0 {
		t.Fatalf("second sweep released %d", swept)
	}
}

func TestTokenLedgerJoinsCallerTransaction(t *testing.T) {
	db := testutil.DB(t)
	l := newTestLedger(t, db, true)
	ctx := context.Background()
	userID := fundedUser(t, l, 1000)

	boom := errors.New("boom")
	err := db.Transaction(func(tx *gorm.DB) error {
		if _, err := l.Reserve(dbctx.Context{Ctx: ctx, Tx: tx}, ReserveInput{UserID: userID, EstimatedTokens: 400, Purpose: "quiz", IdempotencyKey: "tx:reserve"}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	bal, _ := l.GetBalance(ctx, userID)
	if bal.Reserved != 0 {
		t.Fatalf("rolled back caller tx must undo the reservation: %+v", bal)
	}
}
