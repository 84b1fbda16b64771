package services

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/yungbote/quizgen-backend/internal/clients/openai"
	types "github.com/yungbote/quizgen-backend/internal/domain"
	"github.com/yungbote/quizgen-backend/internal/domain/jobs"
	"github.com/yungbote/quizgen-backend/internal/platform/logger"
)

type fakeLLM struct {
	obj   map[string]any
	usage openai.Usage
}

func (f fakeLLM) GenerateJSON(ctx context.Context, system, user, schemaName string, schema map[string]any) (openai.JSONResult, error) {
	return openai.JSONResult{Object: f.obj, Usage: f.usage}, nil
}

func (fakeLLM) Model() string { return "fake" }

func TestLLMQuestionGeneratorFiltersUnrequestedTypes(t *testing.T) {
	var obj map[string]any
	_ = json.Unmarshal([]byte(`{"questions":[
		{"type":"MCQ_SINGLE","prompt":"Which organelle makes ATP?","content_json":"{\"options\":[\"a\",\"b\"],\"answer\":0}","hint":"","explanation":""},
		{"type":"open","prompt":"Describe osmosis.","content_json":"not json","hint":"","explanation":""},
		{"type":"essay","prompt":"Unwanted","content_json":"","hint":"","explanation":""}
	]}`), &obj)
	gen := NewLLMQuestionGenerator(logger.NewNop(), fakeLLM{obj: obj, usage: openai.Usage{InputTokens: 900, OutputTokens: 300}})

	out, err := gen.GenerateForChunk(context.Background(), &types.DocumentChunk{Text: "Mitochondria make ATP."}, jobs.GenerationRequest{
		QuestionsPerType: map[string]int{"mcq_single": 1, "open": 1},
	})
	if err != nil {
		t.Fatalf("GenerateForChunk: %v", err)
	}
	if len(out.Questions) != 2 || out.InputTokens != 900 || out.OutputTokens != 300 {
		t.Fatalf("out %+v", out)
	}
	if out.Questions[0].Type != "mcq_single" || len(out.Questions[0].Content) == 0 {
		t.Fatalf("first question %+v", out.Questions[0])
	}
	if len(out.Questions[1].Content) != 0 {
		t.Fatalf("invalid content JSON must be dropped")
	}
}

func TestExtractiveQuestionGenerator(t *testing.T) {
	gen := NewExtractiveQuestionGenerator(logger.NewNop())
	out, err := gen.GenerateForChunk(context.Background(), &types.DocumentChunk{Text: "Cells divide by mitosis. Plants photosynthesize sunlight."}, jobs.GenerationRequest{
		QuestionsPerType: map[string]int{"fill_gap": 3},
	})
	if err != nil || len(out.Questions) != 3 {
		t.Fatalf("out %+v err=%v", out, err)
	}
	if out.Questions[0].Prompt != "Cells divide by _____" {
		t.Fatalf("prompt %q", out.Questions[0].Prompt)
	}
}
