package aggregates

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorFormatting(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{NewError(CodeConflict, "ledger.commit", "already released", nil), "ledger.commit: already released [conflict]"},
		{NewError(CodeNotFound, "jobs.get", "", nil), "jobs.get [not_found]"},
		{NewError(CodeInternal, "", "", nil), "internal"},
	}
	for _, tc := range cases {
		if got := tc.err.Error(); got != tc.want {
			t.Fatalf("want %q got %q", tc.want, got)
		}
	}
}

func TestCodeOfWalksChain(t *testing.T) {
	cause := errors.New("row gone")
	err := fmt.Errorf("handler: %w", Wrap(CodeNotFound, "jobs.get", cause))
	if CodeOf(err) != CodeNotFound || !IsCode(err, CodeNotFound) {
		t.Fatalf("code lost through wrapping: %v", err)
	}
	if !errors.Is(err, cause) {
		t.Fatalf("cause not reachable")
	}
	if IsCode(nil, "") {
		t.Fatalf("nil error must not match")
	}
	if Wrap(CodeInternal, "op", nil) != nil {
		t.Fatalf("wrapping nil should stay nil")
	}
}
