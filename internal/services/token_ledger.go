package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/quizgen-backend/internal/data/aggregates"
	"github.com/yungbote/quizgen-backend/internal/data/repos"
	types "github.com/yungbote/quizgen-backend/internal/domain"
	domainagg "github.com/yungbote/quizgen-backend/internal/domain/aggregates"
	"github.com/yungbote/quizgen-backend/internal/domain/ledger"
	"github.com/yungbote/quizgen-backend/internal/observability"
	"github.com/yungbote/quizgen-backend/internal/platform/dbctx"
	"github.com/yungbote/quizgen-backend/internal/platform/logger"
)

type ReserveInput struct {
	UserID          uuid.UUID
	EstimatedTokens int64
	Purpose         string
	TTL             time.Duration
	IdempotencyKey  string
}

// TokenLedger holds, charges and returns user tokens. Every mutation accepts
// an idempotency key; replaying a key returns the first outcome unchanged.
// Mutations join dbc.Tx as a savepoint when one is present.
type TokenLedger interface {
	Credit(dbc dbctx.Context, userID uuid.UUID, amount int64, key string) (ledger.Balance, error)
	Reserve(dbc dbctx.Context, in ReserveInput) (*types.Reservation, error)
	Commit(dbc dbctx.Context, reservationID uuid.UUID, amount int64, cc ledger.CommitContext, key string) (ledger.CommitResult, error)
	Release(dbc dbctx.Context, reservationID uuid.UUID, reason string, key string) error
	SweepExpired(ctx context.Context, now time.Time, limit int) (int, error)
	GetBalance(ctx context.Context, userID uuid.UUID) (ledger.Balance, error)
	GetReservation(ctx context.Context, id uuid.UUID) (*types.Reservation, error)
}

type TokenLedgerOptions struct {
	// AutoReleaseOnCommit returns the unused part of a reservation in the
	// same call as the commit.
	AutoReleaseOnCommit bool
	DefaultTTL          time.Duration
}

type tokenLedger struct {
	db      *gorm.DB
	log     *logger.Logger
	deps    aggregates.BaseDeps
	metrics *observability.Metrics
	opts    TokenLedgerOptions

	accounts     repos.TokenAccountRepo
	reservations repos.TokenReservationRepo
	keys         repos.LedgerIdempotencyRepo
	entries      repos.LedgerEntryRepo
	now          func() time.Time
}

func NewTokenLedger(
	db *gorm.DB,
	baseLog *logger.Logger,
	rs repos.Set,
	metrics *observability.Metrics,
	opts TokenLedgerOptions,
) TokenLedger {
	if opts.DefaultTTL <= 0 {
		opts.DefaultTTL = 2 * time.Hour
	}
	return &tokenLedger{
		db:           db,
		log:          baseLog.With("service", "TokenLedger"),
		deps:         aggregates.BaseDeps{DB: db, Hooks: aggregates.NewObservabilityHooks(metrics)},
		metrics:      metrics,
		opts:         opts,
		accounts:     rs.Accounts,
		reservations: rs.Reservations,
		keys:         rs.LedgerKeys,
		entries:      rs.LedgerEntries,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

func (l *tokenLedger) Credit(dbc dbctx.Context, userID uuid.UUID, amount int64, key string) (ledger.Balance, error) {
	start := time.Now()
	if userID == uuid.Nil {
		return ledger.Balance{}, domainagg.Validation("ledger.credit", "user_id is required")
	}
	if amount <= 0 {
		return ledger.Balance{}, domainagg.Wrap(domainagg.CodeValidation, "ledger.credit", ledger.ErrInvalidAmount)
	}
	key = strings.TrimSpace(key)
	replayed := false
	err := aggregates.ExecuteWriteIn(dbc, l.deps, "ledger.credit", func(inner dbctx.Context) error {
		if rec, err := l.keys.Get(inner, key); err != nil {
			return err
		} else if rec != nil {
			replayed = true
			return checkOperation(rec, ledger.OperationCredit)
		}
		if _, err := l.accounts.LockOrCreate(inner, userID); err != nil {
			return err
		}
		if err := l.accounts.Adjust(inner, userID, amount, 0); err != nil {
			return err
		}
		if err := l.entries.Append(inner, &types.LedgerEntry{UserID: userID, Kind: ledger.EntryCredit, Amount: amount, Note: key}); err != nil {
			return err
		}
		return l.remember(inner, key, ledger.OperationCredit, userID, nil, amount, 0)
	})
	if err != nil && key != "" && aggregates.IsUniqueViolation(err) {
		replayed, err = true, nil
	}
	l.observe("credit", replayed, err, amount, start)
	if err != nil {
		return ledger.Balance{}, err
	}
	return l.GetBalance(dbc.Ctx, userID)
}

func (l *tokenLedger) Reserve(dbc dbctx.Context, in ReserveInput) (*types.Reservation, error) {
	start := time.Now()
	const op = "ledger.reserve"
	if in.UserID == uuid.Nil {
		return nil, domainagg.Validation(op, "user_id is required")
	}
	if in.EstimatedTokens <= 0 {
		return nil, domainagg.Wrap(domainagg.CodeValidation, op, ledger.ErrInvalidAmount)
	}
	ttl := in.TTL
	if ttl <= 0 {
		ttl = l.opts.DefaultTTL
	}
	key := strings.TrimSpace(in.IdempotencyKey)

	var out *types.Reservation
	replayed := false
	err := aggregates.ExecuteWriteIn(dbc, l.deps, op, func(inner dbctx.Context) error {
		rec, err := l.keys.Get(inner, key)
		if err != nil {
			return err
		}
		if rec != nil {
			replayed = true
			if err := checkOperation(rec, ledger.OperationReserve); err != nil {
				return err
			}
			out, err = l.reservationFor(inner, rec)
			return err
		}

		acct, err := l.accounts.LockOrCreate(inner, in.UserID)
		if err != nil {
			return err
		}
		if available := acct.Available(); available < in.EstimatedTokens {
			return &ledger.InsufficientTokensError{
				Estimated: in.EstimatedTokens,
				Available: available,
				Shortfall: in.EstimatedTokens - available,
				TTL:       ttl,
			}
		}

		now := l.now()
		res := &types.Reservation{
			ID:              uuid.New(),
			UserID:          in.UserID,
			State:           ledger.StateActive,
			EstimatedTokens: in.EstimatedTokens,
			Purpose:         strings.TrimSpace(in.Purpose),
			ExpiresAt:       now.Add(ttl),
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		if err := l.reservations.Create(inner, res); err != nil {
			return err
		}
		if err := l.accounts.Adjust(inner, in.UserID, 0, in.EstimatedTokens); err != nil {
			return err
		}
		if err := l.entries.Append(inner, &types.LedgerEntry{UserID: in.UserID, ReservationID: &res.ID, Kind: ledger.EntryReserve, Amount: in.EstimatedTokens, Note: res.Purpose}); err != nil {
			return err
		}
		if err := l.remember(inner, key, ledger.OperationReserve, in.UserID, &res.ID, 0, 0); err != nil {
			return err
		}
		out = res
		return nil
	})
	if err != nil && key != "" && aggregates.IsUniqueViolation(err) {
		// Lost a race against the same key; return the winner's reservation.
		replayed = true
		out, err = l.replayReservation(dbc, key)
	}
	l.observe("reserve", replayed, err, in.EstimatedTokens, start)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (l *tokenLedger) Commit(dbc dbctx.Context, reservationID uuid.UUID, amount int64, cc ledger.CommitContext, key string) (ledger.CommitResult, error) {
	start := time.Now()
	const op = "ledger.commit"
	if amount < 0 {
		return ledger.CommitResult{}, domainagg.Wrap(domainagg.CodeValidation, op, ledger.ErrInvalidAmount)
	}
	key = strings.TrimSpace(key)

	var out ledger.CommitResult
	replayed := false
	err := aggregates.ExecuteWriteIn(dbc, l.deps, op, func(inner dbctx.Context) error {
		rec, err := l.keys.Get(inner, key)
		if err != nil {
			return err
		}
		if rec != nil {
			replayed = true
			if err := checkOperation(rec, ledger.OperationCommit); err != nil {
				return err
			}
			out = ledger.CommitResult{ReservationID: reservationID, CommittedTokens: rec.CommittedTokens, ReleasedTokens: rec.ReleasedTokens}
			return nil
		}

		res, err := l.reservations.LockByID(inner, reservationID)
		if err != nil {
			return err
		}
		if res == nil {
			return ledger.ErrReservationNotFound
		}
		if res.IsExpired(l.now()) {
			return ledger.ErrReservationExpired
		}
		if res.State != ledger.StateActive {
			return domainagg.InvalidBillingState(op, fmt.Sprintf("reservation %s is %s", res.ID, res.State))
		}

		committed := amount
		if committed > res.EstimatedTokens {
			committed = res.EstimatedTokens
		}
		var released int64
		if remainder := res.EstimatedTokens - committed; remainder > 0 && l.opts.AutoReleaseOnCommit {
			released = remainder
		}

		reason := "committed"
		if cc.JobID != uuid.Nil {
			reason = "job " + cc.JobID.String()
		}
		if err := l.reservations.UpdateFields(inner, res.ID, map[string]interface{}{
			"state":            ledger.StateCommitted,
			"committed_tokens": committed,
			"released_tokens":  released,
			"reason":           reason,
		}); err != nil {
			return err
		}
		if err := l.accounts.Adjust(inner, res.UserID, -committed, -(committed + released)); err != nil {
			return err
		}
		if err := l.entries.Append(inner,
			&types.LedgerEntry{UserID: res.UserID, ReservationID: &res.ID, Kind: ledger.EntryCommit, Amount: committed, Note: commitNote(cc)},
			&types.LedgerEntry{UserID: res.UserID, ReservationID: &res.ID, Kind: ledger.EntryRelease, Amount: released, Note: "auto-release on commit"},
		); err != nil {
			return err
		}
		if err := l.remember(inner, key, ledger.OperationCommit, res.UserID, &res.ID, committed, released); err != nil {
			return err
		}
		out = ledger.CommitResult{ReservationID: res.ID, CommittedTokens: committed, ReleasedTokens: released}
		return nil
	})
	if err != nil && key != "" && aggregates.IsUniqueViolation(err) {
		replayed = true
		var rec *types.LedgerIdempotencyRecord
		rec, err = l.keys.Get(dbc, key)
		if err == nil && rec != nil {
			out = ledger.CommitResult{ReservationID: reservationID, CommittedTokens: rec.CommittedTokens, ReleasedTokens: rec.ReleasedTokens}
		}
	}
	l.observe("commit", replayed, err, out.CommittedTokens, start)
	if err != nil {
		return ledger.CommitResult{}, err
	}
	return out, nil
}

// Release returns whatever is still held. Releasing a released reservation,
// or a committed one with nothing outstanding, is a no-op.
func (l *tokenLedger) Release(dbc dbctx.Context, reservationID uuid.UUID, reason string, key string) error {
	start := time.Now()
	const op = "ledger.release"
	key = strings.TrimSpace(key)

	var released int64
	replayed := false
	err := aggregates.ExecuteWriteIn(dbc, l.deps, op, func(inner dbctx.Context) error {
		rec, err := l.keys.Get(inner, key)
		if err != nil {
			return err
		}
		if rec != nil {
			replayed = true
			return checkOperation(rec, ledger.OperationRelease)
		}

		res, err := l.reservations.LockByID(inner, reservationID)
		if err != nil {
			return err
		}
		if res == nil {
			return ledger.ErrReservationNotFound
		}
		outstanding := res.Outstanding()
		if outstanding > 0 {
			updates := map[string]interface{}{
				"released_tokens": res.ReleasedTokens + outstanding,
				"reason":          strings.TrimSpace(reason),
			}
			if res.State == ledger.StateActive {
				updates["state"] = ledger.StateReleased
			}
			if err := l.reservations.UpdateFields(inner, res.ID, updates); err != nil {
				return err
			}
			if err := l.accounts.Adjust(inner, res.UserID, 0, -outstanding); err != nil {
				return err
			}
			if err := l.entries.Append(inner, &types.LedgerEntry{UserID: res.UserID, ReservationID: &res.ID, Kind: ledger.EntryRelease, Amount: outstanding, Note: strings.TrimSpace(reason)}); err != nil {
				return err
			}
			released = outstanding
		}
		return l.remember(inner, key, ledger.OperationRelease, res.UserID, &res.ID, 0, outstanding)
	})
	if err != nil && key != "" && aggregates.IsUniqueViolation(err) {
		replayed, err = true, nil
	}
	l.observe("release", replayed, err, released, start)
	return err
}

// SweepExpired releases active reservations whose TTL has passed. Each
// reservation is released in its own transaction.
func (l *tokenLedger) SweepExpired(ctx context.Context, now time.Time, limit int) (int, error) {
	expired, err := l.reservations.ListExpiredActive(dbctx.Background(ctx), now, limit)
	if err != nil {
		return 0, aggregates.MapError("ledger.sweep", err)
	}
	swept := 0
	var errs []error
	for _, res := range expired {
		if !res.IsExpired(now) {
			continue
		}
		if err := l.Release(dbctx.Background(ctx), res.ID, "expired", res.ID.String()+":expire"); err != nil {
			errs = append(errs, fmt.Errorf("release %s: %w", res.ID, err))
			continue
		}
		swept++
	}
	if swept > 0 {
		l.log.Info("Released expired reservations", "count", swept)
		l.metrics.AddSweptReservations(swept)
	}
	return swept, errors.Join(errs...)
}

func (l *tokenLedger) GetBalance(ctx context.Context, userID uuid.UUID) (ledger.Balance, error) {
	acct, err := l.accounts.Get(dbctx.Background(ctx), userID)
	if err != nil {
		return ledger.Balance{}, aggregates.MapError("ledger.balance", err)
	}
	out := ledger.Balance{UserID: userID}
	if acct != nil {
		out.Balance = acct.Balance
		out.Reserved = acct.Reserved
		out.Available = acct.Available()
	}
	return out, nil
}

func (l *tokenLedger) GetReservation(ctx context.Context, id uuid.UUID) (*types.Reservation, error) {
	res, err := l.reservations.GetByID(dbctx.Background(ctx), id)
	if err != nil {
		return nil, aggregates.MapError("ledger.reservation", err)
	}
	if res == nil {
		return nil, domainagg.Wrap(domainagg.CodeNotFound, "ledger.reservation", ledger.ErrReservationNotFound)
	}
	return res, nil
}

func (l *tokenLedger) remember(dbc dbctx.Context, key, operation string, userID uuid.UUID, reservationID *uuid.UUID, committed, released int64) error {
	if key == "" {
		return nil
	}
	return l.keys.Create(dbc, &types.LedgerIdempotencyRecord{
		Key:             key,
		Operation:       operation,
		UserID:          userID,
		ReservationID:   reservationID,
		CommittedTokens: committed,
		ReleasedTokens:  released,
	})
}

func (l *tokenLedger) reservationFor(dbc dbctx.Context, rec *types.LedgerIdempotencyRecord) (*types.Reservation, error) {
	if rec.ReservationID == nil {
		return nil, ledger.ErrReservationNotFound
	}
	res, err := l.reservations.GetByID(dbc, *rec.ReservationID)
	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, ledger.ErrReservationNotFound
	}
	return res, nil
}

func (l *tokenLedger) replayReservation(dbc dbctx.Context, key string) (*types.Reservation, error) {
	rec, err := l.keys.Get(dbc, key)
	if err != nil {
		return nil, aggregates.MapError("ledger.reserve", err)
	}
	if rec == nil {
		return nil, domainagg.NewError(domainagg.CodeRetryable, "ledger.reserve", "idempotency record vanished", nil)
	}
	res, err := l.reservationFor(dbc, rec)
	return res, aggregates.MapError("ledger.reserve", err)
}

func (l *tokenLedger) observe(op string, replayed bool, err error, tokens int64, start time.Time) {
	result := "ok"
	switch {
	case err != nil:
		result = string(domainagg.CodeOf(err))
		if result == "" {
			result = "error"
		}
		tokens = 0
	case replayed:
		result = "replay"
		tokens = 0
	}
	l.metrics.ObserveLedgerOp(op, result, tokens, time.Since(start))
}

func checkOperation(rec *types.LedgerIdempotencyRecord, want string) error {
	if rec.Operation == want {
		return nil
	}
	return domainagg.InvalidBillingState("ledger.idempotency", fmt.Sprintf("key %s already used for %s", rec.Key, rec.Operation))
}

func commitNote(cc ledger.CommitContext) string {
	parts := []string{}
	if cc.JobID != uuid.Nil {
		parts = append(parts, "job="+cc.JobID.String())
	}
	parts = append(parts, fmt.Sprintf("actual=%d", cc.ActualTokens))
	if cc.WasCapped {
		parts = append(parts, "capped")
	}
	if cc.EstimationVersion != "" {
		parts = append(parts, "estimation="+cc.EstimationVersion)
	}
	if cc.CorrelationID != "" {
		parts = append(parts, "correlation="+cc.CorrelationID)
	}
	return strings.Join(parts, " ")
}
