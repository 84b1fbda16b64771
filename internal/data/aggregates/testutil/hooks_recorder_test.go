package testutil

import (
	"testing"

	"github.com/yungbote/quizgen-backend/internal/data/aggregates"
	domainagg "github.com/yungbote/quizgen-backend/internal/domain/aggregates"
)

func TestHooksRecorderStatuses(t *testing.T) {
	h := &HooksRecorder{}
	h.OnWrite(aggregates.Outcome{Op: "quizgen.cancel"})
	h.OnWrite(aggregates.Outcome{Op: "quizgen.commit", Code: domainagg.CodeConflict})
	h.OnWrite(aggregates.Outcome{Op: "quizgen.cancel", Code: domainagg.CodeValidation})

	got := h.Statuses("quizgen.cancel")
	if len(got) != 2 || got[0] != "success" || got[1] != "validation" {
		t.Fatalf("unexpected statuses: %v", got)
	}
	if n := h.Count(domainagg.CodeConflict); n != 1 {
		t.Fatalf("conflicts=%d want 1", n)
	}
	if n := len(h.Outcomes()); n != 3 {
		t.Fatalf("outcomes=%d want 3", n)
	}
}
