package apierr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	domainagg "github.com/yungbote/quizgen-backend/internal/domain/aggregates"
	"github.com/yungbote/quizgen-backend/internal/domain/ledger"
)

func TestFromError(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"validation", domainagg.Validation("op", "bad"), http.StatusBadRequest, "validation"},
		{"not found", domainagg.NotFound("op", "missing"), http.StatusNotFound, "not_found"},
		{"billing state", domainagg.InvalidBillingState("op", "odd"), http.StatusConflict, "invalid_billing_state"},
		{"retryable", domainagg.NewError(domainagg.CodeRetryable, "op", "later", nil), http.StatusServiceUnavailable, "retryable"},
		{"insufficient", fmt.Errorf("reserve: %w", &ledger.InsufficientTokensError{Estimated: 10}), http.StatusPaymentRequired, "insufficient_tokens"},
		{"explicit", New(http.StatusConflict, "active_job_exists", errors.New("busy")), http.StatusConflict, "active_job_exists"},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, "internal"},
	}
	for _, tc := range cases {
		got := FromError(tc.err)
		if got.Status != tc.status || got.Code != tc.code {
			t.Fatalf("%s: got %d/%s want %d/%s", tc.name, got.Status, got.Code, tc.status, tc.code)
		}
	}
	if FromError(nil) != nil {
		t.Fatalf("nil error must map to nil")
	}
}
