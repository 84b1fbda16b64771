package jobs

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

const (
	CompletionSucceeded = "succeeded"
	CompletionFailed    = "failed"
)

// GeneratedQuestion is one question produced by the executor for a chunk.
type GeneratedQuestion struct {
	Type        string          `json:"type"`
	Difficulty  string          `json:"difficulty,omitempty"`
	Prompt      string          `json:"prompt"`
	Content     json.RawMessage `json:"content,omitempty"`
	Hint        string          `json:"hint,omitempty"`
	Explanation string          `json:"explanation,omitempty"`
}

// CompletionEvent is the single terminal message the executor emits per job.
// Delivery is at least once.
type CompletionEvent struct {
	EventID         uuid.UUID                   `json:"event_id"`
	JobID           uuid.UUID                   `json:"job_id"`
	Outcome         string                      `json:"outcome"`
	ChunkQuestions  map[int][]GeneratedQuestion `json:"chunk_questions,omitempty"`
	OriginalRequest GenerationRequest           `json:"original_request"`
	Reason          string                      `json:"reason,omitempty"`
	EmittedAt       time.Time                   `json:"emitted_at"`
}

func (e CompletionEvent) Succeeded() bool { return e.Outcome == CompletionSucceeded }

// TotalQuestions counts questions across all chunks.
func (e CompletionEvent) TotalQuestions() int {
	n := 0
	for _, qs := range e.ChunkQuestions {
		n += len(qs)
	}
	return n
}

// ProgressUpdate is reported by the executor while it works through chunks.
type ProgressUpdate struct {
	ProcessedChunks   int
	StartedAICalls    bool
	LLMTokensSoFar    int64
	InputPromptTokens int64
}
