package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/yungbote/quizgen-backend/internal/clients/openai"
	types "github.com/yungbote/quizgen-backend/internal/domain"
	"github.com/yungbote/quizgen-backend/internal/domain/jobs"
	"github.com/yungbote/quizgen-backend/internal/platform/logger"
)

// ChunkGeneration is the output of one model call over one chunk.
type ChunkGeneration struct {
	Questions    []jobs.GeneratedQuestion
	InputTokens  int64
	OutputTokens int64
}

// QuestionGenerator turns a chunk into questions of the requested mix. The
// prompt strategy behind it is not part of the orchestration contract.
type QuestionGenerator interface {
	GenerateForChunk(ctx context.Context, chunk *types.DocumentChunk, req jobs.GenerationRequest) (ChunkGeneration, error)
}

type llmQuestionGenerator struct {
	log    *logger.Logger
	client openai.Client
}

func NewLLMQuestionGenerator(baseLog *logger.Logger, client openai.Client) QuestionGenerator {
	return &llmQuestionGenerator{
		log:    baseLog.With("service", "LLMQuestionGenerator"),
		client: client,
	}
}

const questionSystemPrompt = `You write quiz questions strictly grounded in the provided text.
Return exactly the number of questions requested for each type.
For mcq types, content holds "options" and "answer"; for true_false, "answer";
for open and fill_gap, "answer". Never invent facts absent from the text.`

var questionSchema = map[string]any{
	"type":                 "object",
	"additionalProperties": false,
	"required":             []string{"questions"},
	"properties": map[string]any{
		"questions": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type":                 "object",
				"additionalProperties": false,
				"required":             []string{"type", "prompt", "content_json", "hint", "explanation"},
				"properties": map[string]any{
					"type":         map[string]any{"type": "string"},
					"prompt":       map[string]any{"type": "string"},
					"content_json": map[string]any{"type": "string"},
					"hint":         map[string]any{"type": "string"},
					"explanation":  map[string]any{"type": "string"},
				},
			},
		},
	},
}

type modelQuestion struct {
	Type        string `json:"type"`
	Prompt      string `json:"prompt"`
	ContentJSON string `json:"content_json"`
	Hint        string `json:"hint"`
	Explanation string `json:"explanation"`
}

func (g *llmQuestionGenerator) GenerateForChunk(ctx context.Context, chunk *types.DocumentChunk, req jobs.GenerationRequest) (ChunkGeneration, error) {
	req = req.Normalized()
	var ask strings.Builder
	fmt.Fprintf(&ask, "Difficulty: %s\nQuestions:\n", req.Difficulty)
	for _, qt := range req.SortedTypes() {
		fmt.Fprintf(&ask, "- %s: %d\n", qt, req.QuestionsPerType[qt])
	}
	fmt.Fprintf(&ask, "\nText:\n%s", chunk.Text)

	res, err := g.client.GenerateJSON(ctx, questionSystemPrompt, ask.String(), "quiz_questions", questionSchema)
	if err != nil {
		return ChunkGeneration{}, fmt.Errorf("generate chunk %d: %w", chunk.ChunkIndex, err)
	}
	raw, err := json.Marshal(res.Object)
	if err != nil {
		return ChunkGeneration{}, err
	}
	var parsed struct {
		Questions []modelQuestion `json:"questions"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return ChunkGeneration{}, fmt.Errorf("decode chunk %d questions: %w", chunk.ChunkIndex, err)
	}

	out := ChunkGeneration{
		InputTokens:  int64(res.Usage.InputTokens),
		OutputTokens: int64(res.Usage.OutputTokens),
	}
	for _, q := range parsed.Questions {
		qt := strings.ToLower(strings.TrimSpace(q.Type))
		if _, wanted := req.QuestionsPerType[qt]; !wanted || strings.TrimSpace(q.Prompt) == "" {
			continue
		}
		gq := jobs.GeneratedQuestion{
			Type:        qt,
			Difficulty:  req.Difficulty,
			Prompt:      strings.TrimSpace(q.Prompt),
			Hint:        q.Hint,
			Explanation: q.Explanation,
		}
		if content := strings.TrimSpace(q.ContentJSON); content != "" && json.Valid([]byte(content)) {
			gq.Content = json.RawMessage(content)
		}
		out.Questions = append(out.Questions, gq)
	}
	g.log.Debug("Generated chunk questions",
		"chunk_index", chunk.ChunkIndex,
		"questions", len(out.Questions),
		"input_tokens", out.InputTokens,
		"output_tokens", out.OutputTokens,
	)
	return out, nil
}

// extractiveQuestionGenerator builds fill-in-the-gap style questions from the
// chunk's own sentences. It needs no model and is used when no API key is
// configured.
type extractiveQuestionGenerator struct {
	log *logger.Logger
}

func NewExtractiveQuestionGenerator(baseLog *logger.Logger) QuestionGenerator {
	return &extractiveQuestionGenerator{log: baseLog.With("service", "ExtractiveQuestionGenerator")}
}

func (g *extractiveQuestionGenerator) GenerateForChunk(ctx context.Context, chunk *types.DocumentChunk, req jobs.GenerationRequest) (ChunkGeneration, error) {
	req = req.Normalized()
	sentences := splitSentences(chunk.Text)
	if len(sentences) == 0 {
		return ChunkGeneration{}, nil
	}
	out := ChunkGeneration{InputTokens: int64(len(chunk.Text)/4 + 1)}
	i := 0
	for _, qt := range req.SortedTypes() {
		for n := 0; n < req.QuestionsPerType[qt]; n++ {
			s := sentences[i%len(sentences)]
			i++
			answer := longestWord(s)
			content, _ := json.Marshal(map[string]any{"answer": answer})
			out.Questions = append(out.Questions, jobs.GeneratedQuestion{
				Type:       qt,
				Difficulty: req.Difficulty,
				Prompt:     strings.Replace(s, answer, "_____", 1),
				Content:    content,
			})
			out.OutputTokens += int64(len(s)/4 + 1)
		}
	}
	return out, nil
}

func splitSentences(text string) []string {
	fields := strings.FieldsFunc(text, func(r rune) bool { return r == '.' || r == '?' || r == '!' || r == '\n' })
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}

func longestWord(s string) string {
	best := ""
	for _, w := range strings.Fields(s) {
		w = strings.Trim(w, ",;:()\"'")
		if len(w) > len(best) {
			best = w
		}
	}
	return best
}
