// Package costtable loads the versioned token cost table shared by estimation
// and actual billing.
package costtable

import (
	"embed"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var defaultFS embed.FS

type Table struct {
	Version                  string           `yaml:"version"`
	SystemPromptTokens       int64            `yaml:"system_prompt_tokens"`
	PromptTokensPerChunk     int64            `yaml:"prompt_tokens_per_chunk"`
	QuestionTokens           map[string]int64 `yaml:"question_tokens"`
	DefaultQuestionTokens    int64            `yaml:"default_question_tokens"`
	DifficultyPercent        map[string]int64 `yaml:"difficulty_percent"`
	LLMTokensPerBillingToken int64            `yaml:"llm_tokens_per_billing_token"`
	BaseSeconds              int64            `yaml:"base_seconds"`
	SecondsPerChunk          int64            `yaml:"seconds_per_chunk"`
	SecondsPerQuestion       int64            `yaml:"seconds_per_question"`

	// MaxQuestionsPerChunk caps the questions requested per chunk, summed
	// over all types.
	MaxQuestionsPerChunk int64 `yaml:"max_questions_per_chunk"`
}

const defaultMaxQuestionsPerChunk = 50

// Default returns the table compiled into the binary.
func Default() (*Table, error) {
	data, err := defaultFS.ReadFile("default.yaml")
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Load reads path, or returns Default when path is empty.
func Load(path string) (*Table, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read cost table %s: %w", path, err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Table, error) {
	var t Table
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("parse cost table: %w", err)
	}
	t.normalize()
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return &t, nil
}

func (t *Table) normalize() {
	t.Version = strings.TrimSpace(t.Version)
	t.QuestionTokens = lowerKeys(t.QuestionTokens)
	t.DifficultyPercent = lowerKeys(t.DifficultyPercent)
	if t.MaxQuestionsPerChunk == 0 {
		t.MaxQuestionsPerChunk = defaultMaxQuestionsPerChunk
	}
}

func (t *Table) Validate() error {
	var errs []error
	if t.Version == "" {
		errs = append(errs, errors.New("version is required"))
	}
	if t.LLMTokensPerBillingToken <= 0 {
		errs = append(errs, errors.New("llm_tokens_per_billing_token must be > 0"))
	}
	if len(t.QuestionTokens) == 0 {
		errs = append(errs, errors.New("question_tokens must not be empty"))
	}
	if len(t.DifficultyPercent) == 0 {
		errs = append(errs, errors.New("difficulty_percent must not be empty"))
	}
	for k, v := range t.QuestionTokens {
		if v < 0 {
			errs = append(errs, fmt.Errorf("question_tokens.%s must be >= 0", k))
		}
	}
	for k, v := range t.DifficultyPercent {
		if v <= 0 {
			errs = append(errs, fmt.Errorf("difficulty_percent.%s must be > 0", k))
		}
	}
	if t.MaxQuestionsPerChunk < 0 {
		errs = append(errs, errors.New("max_questions_per_chunk must be > 0"))
	}
	if t.SystemPromptTokens < 0 || t.PromptTokensPerChunk < 0 || t.DefaultQuestionTokens < 0 {
		errs = append(errs, errors.New("token counts must be >= 0"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid cost table: %w", errors.Join(errs...))
	}
	return nil
}

// TokensFor returns output tokens for one question of type qt.
func (t *Table) TokensFor(qt string) int64 {
	if v, ok := t.QuestionTokens[strings.ToLower(strings.TrimSpace(qt))]; ok {
		return v
	}
	return t.DefaultQuestionTokens
}

func (t *Table) KnowsType(qt string) bool {
	_, ok := t.QuestionTokens[qt]
	return ok
}

func (t *Table) DifficultyPct(d string) (int64, bool) {
	v, ok := t.DifficultyPercent[strings.ToLower(strings.TrimSpace(d))]
	return v, ok
}

func (t *Table) QuestionTypes() []string {
	out := make([]string, 0, len(t.QuestionTokens))
	for k := range t.QuestionTokens {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func lowerKeys(in map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(in))
	for k, v := range in {
		out[strings.ToLower(strings.TrimSpace(k))] = v
	}
	return out
}
