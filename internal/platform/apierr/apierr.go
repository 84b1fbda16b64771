package apierr

import (
	"errors"
	"fmt"
	"net/http"

	domainagg "github.com/yungbote/quizgen-backend/internal/domain/aggregates"
	"github.com/yungbote/quizgen-backend/internal/domain/ledger"
)

type Error struct {
	Status int
	Code   string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	if e.Code != "" {
		return e.Code
	}
	if e.Status != 0 {
		return fmt.Sprintf("api error (%d)", e.Status)
	}
	return "api error"
}

func (e *Error) Unwrap() error { return e.Err }

func New(status int, code string, err error) *Error {
	return &Error{Status: status, Code: code, Err: err}
}

// FromError maps a service error onto an HTTP status and stable code.
// Unrecognised errors become 500 internal.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var api *Error
	if errors.As(err, &api) {
		return api
	}
	var insufficient *ledger.InsufficientTokensError
	if errors.As(err, &insufficient) {
		return New(http.StatusPaymentRequired, string(domainagg.CodeInsufficientTokens), err)
	}
	switch code := domainagg.CodeOf(err); code {
	case domainagg.CodeValidation:
		return New(http.StatusBadRequest, string(code), err)
	case domainagg.CodeNotFound:
		return New(http.StatusNotFound, string(code), err)
	case domainagg.CodeConflict, domainagg.CodeInvalidBillingState, domainagg.CodePreconditionFailed:
		return New(http.StatusConflict, string(code), err)
	case domainagg.CodeInsufficientTokens:
		return New(http.StatusPaymentRequired, string(code), err)
	case domainagg.CodeRetryable:
		return New(http.StatusServiceUnavailable, string(code), err)
	default:
		return New(http.StatusInternalServerError, string(domainagg.CodeInternal), err)
	}
}
