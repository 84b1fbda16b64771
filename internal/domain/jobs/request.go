package jobs

import (
	"sort"
	"strings"

	"github.com/google/uuid"
)

const (
	QuestionMCQSingle = "mcq_single"
	QuestionMCQMulti  = "mcq_multi"
	QuestionTrueFalse = "true_false"
	QuestionOpen      = "open"
	QuestionFillGap   = "fill_gap"
)

const (
	DifficultyEasy   = "easy"
	DifficultyMedium = "medium"
	DifficultyHard   = "hard"
)

// GenerationRequest is what the caller asked for. Question counts apply to
// every chunk of the document.
type GenerationRequest struct {
	DocumentID       uuid.UUID      `json:"document_id"`
	Title            string         `json:"title,omitempty"`
	QuestionsPerType map[string]int `json:"questions_per_type"`
	Difficulty       string         `json:"difficulty"`
	MaxChunks        int            `json:"max_chunks,omitempty"`
}

// Normalized lowercases and trims keys, drops zero counts and defaults difficulty.
func (r GenerationRequest) Normalized() GenerationRequest {
	out := GenerationRequest{
		DocumentID:       r.DocumentID,
		Title:            strings.TrimSpace(r.Title),
		Difficulty:       strings.ToLower(strings.TrimSpace(r.Difficulty)),
		MaxChunks:        r.MaxChunks,
		QuestionsPerType: map[string]int{},
	}
	if out.Difficulty == "" {
		out.Difficulty = DifficultyMedium
	}
	for k, v := range r.QuestionsPerType {
		key := strings.ToLower(strings.TrimSpace(k))
		if key == "" || v == 0 {
			continue
		}
		out.QuestionsPerType[key] += v
	}
	return out
}

// QuestionsPerChunk sums the requested counts across types.
func (r GenerationRequest) QuestionsPerChunk() int {
	total := 0
	for _, v := range r.QuestionsPerType {
		total += v
	}
	return total
}

// SortedTypes returns the requested question types in a stable order.
func (r GenerationRequest) SortedTypes() []string {
	out := make([]string, 0, len(r.QuestionsPerType))
	for k := range r.QuestionsPerType {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
