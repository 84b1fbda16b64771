package aggregates

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	domainagg "github.com/yungbote/quizgen-backend/internal/domain/aggregates"
	"github.com/yungbote/quizgen-backend/internal/domain/ledger"
	"gorm.io/gorm"
)

var (
	errValidation = errors.New("invalid input")
	errConflict   = errors.New("concurrent update")
)

// ValidationError marks msg as bad caller input for MapError.
func ValidationError(msg string) error {
	return fmt.Errorf("%w: %s", errValidation, strings.TrimSpace(msg))
}

// ConflictError marks msg as a lost race for MapError.
func ConflictError(msg string) error {
	return fmt.Errorf("%w: %s", errConflict, strings.TrimSpace(msg))
}

type classifier struct {
	code  domainagg.ErrorCode
	match func(error) bool
}

// Order matters: typed ledger and sentinel errors win over driver codes, and
// message sniffing comes last.
var classifiers = []classifier{
	{domainagg.CodeInsufficientTokens, func(err error) bool {
		var target *ledger.InsufficientTokensError
		return errors.As(err, &target)
	}},
	{domainagg.CodeNotFound, isAny(ledger.ErrReservationNotFound, gorm.ErrRecordNotFound)},
	{domainagg.CodePreconditionFailed, isAny(ledger.ErrReservationExpired)},
	{domainagg.CodeValidation, isAny(errValidation)},
	{domainagg.CodeConflict, isAny(errConflict)},
	{domainagg.CodeRetryable, isAny(context.Canceled, context.DeadlineExceeded)},
	{domainagg.CodeConflict, IsUniqueViolation},
	// foreign_key_violation
	{domainagg.CodePreconditionFailed, pgState("23503")},
	// serialization_failure, deadlock_detected, lock_not_available
	{domainagg.CodeRetryable, pgState("40001", "40P01", "55P03")},
	{domainagg.CodeRetryable, mentions("deadlock", "serialization", "database is locked", "timeout")},
}

// MapError gives err an aggregate code. Errors that already carry one pass
// through untouched.
func MapError(op string, err error) error {
	if err == nil || domainagg.CodeOf(err) != "" {
		return err
	}
	for _, c := range classifiers {
		if c.match(err) {
			return domainagg.Wrap(c.code, op, err)
		}
	}
	return domainagg.Wrap(domainagg.CodeInternal, op, err)
}

// IsUniqueViolation reports a unique-constraint failure from postgres
// (23505) or sqlite, with or without gorm's error translation.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) || pgState("23505")(err) {
		return true
	}
	return mentions("duplicate key", "unique constraint failed")(err)
}

func isAny(targets ...error) func(error) bool {
	return func(err error) bool {
		for _, t := range targets {
			if errors.Is(err, t) {
				return true
			}
		}
		return false
	}
}

func pgState(codes ...string) func(error) bool {
	return func(err error) bool {
		var pgErr *pgconn.PgError
		if !errors.As(err, &pgErr) {
			return false
		}
		for _, c := range codes {
			if pgErr.Code == c {
				return true
			}
		}
		return false
	}
}

func mentions(fragments ...string) func(error) bool {
	return func(err error) bool {
		msg := strings.ToLower(err.Error())
		for _, f := range fragments {
			if strings.Contains(msg, f) {
				return true
			}
		}
		return false
	}
}
