package testutil

import (
	"sync"

	"github.com/yungbote/quizgen-backend/internal/data/aggregates"
	domainagg "github.com/yungbote/quizgen-backend/internal/domain/aggregates"
)

// HooksRecorder keeps every write outcome for later assertions.
type HooksRecorder struct {
	mu       sync.Mutex
	outcomes []aggregates.Outcome
}

var _ aggregates.Hooks = (*HooksRecorder)(nil)

func (h *HooksRecorder) OnWrite(o aggregates.Outcome) {
	h.mu.Lock()
	h.outcomes = append(h.outcomes, o)
	h.mu.Unlock()
}

// Outcomes returns a copy of what has been recorded so far.
func (h *HooksRecorder) Outcomes() []aggregates.Outcome {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]aggregates.Outcome(nil), h.outcomes...)
}

// Statuses lists the statuses recorded for op, oldest first.
func (h *HooksRecorder) Statuses(op string) []string {
	var out []string
	for _, o := range h.Outcomes() {
		if o.Op == op {
			out = append(out, o.Status())
		}
	}
	return out
}

// Count returns how many outcomes carried code.
func (h *HooksRecorder) Count(code domainagg.ErrorCode) int {
	n := 0
	for _, o := range h.Outcomes() {
		if o.Code == code {
			n++
		}
	}
	return n
}
