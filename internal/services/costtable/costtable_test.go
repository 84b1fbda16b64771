package costtable

import "testing"

func TestDefaultTableLoads(t *testing.T) {
	tbl, err := Default()
	if err != nil {
		t.Fatalf("Default: %v", err)
	}
	if tbl.Version == "" || tbl.LLMTokensPerBillingToken <= 0 {
		t.Fatalf("unexpected table %+v", tbl)
	}
	if !tbl.KnowsType("mcq_single") {
		t.Fatalf("default table should price mcq_single")
	}
	if pct, ok := tbl.DifficultyPct("MEDIUM"); !ok || pct != 100 {
		t.Fatalf("medium pct: %d %v", pct, ok)
	}
}

func TestParseRejectsInvalidTable(t *testing.T) {
	_, err := Parse([]byte("version: \"\"\nllm_tokens_per_billing_token: 0\n"))
	if err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestTokensForFallsBackToDefault(t *testing.T) {
	tbl, err := Parse([]byte(`
version: v1
question_tokens: {open: 10}
default_question_tokens: 7
difficulty_percent: {medium: 100}
llm_tokens_per_billing_token: 1
`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got := tbl.TokensFor("open"); got != 10 {
		t.Fatalf("open: got %d", got)
	}
	if got := tbl.TokensFor("essay"); got != 7 {
		t.Fatalf("unknown type: got %d", got)
	}
}

func TestMaxQuestionsPerChunk(t *testing.T) {
	tbl, err := Default()
	if err != nil {
		t.Fatalf("Default: %v", err)
	}
	if tbl.MaxQuestionsPerChunk != 40 {
		t.Fatalf("default table cap: got %d", tbl.MaxQuestionsPerChunk)
	}

	tbl, err = Parse([]byte("version: v1\nquestion_tokens: {open: 1}\ndifficulty_percent: {medium: 100}\nllm_tokens_per_billing_token: 1\n"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if tbl.MaxQuestionsPerChunk != defaultMaxQuestionsPerChunk {
		t.Fatalf("unset cap should default, got %d", tbl.MaxQuestionsPerChunk)
	}

	if _, err := Parse([]byte("version: v1\nquestion_tokens: {open: 1}\ndifficulty_percent: {medium: 100}\nllm_tokens_per_billing_token: 1\nmax_questions_per_chunk: -1\n")); err == nil {
		t.Fatalf("negative cap must be rejected")
	}
}
