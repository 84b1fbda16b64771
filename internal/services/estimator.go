package services

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/google/uuid"

	domainagg "github.com/yungbote/quizgen-backend/internal/domain/aggregates"
	"github.com/yungbote/quizgen-backend/internal/domain/jobs"
	"github.com/yungbote/quizgen-backend/internal/platform/logger"
	"github.com/yungbote/quizgen-backend/internal/services/costtable"
)

// Estimate is the pre-flight cost of a generation request.
type Estimate struct {
	EstimationID             string
	EstimationVersion        string
	Chunks                   int
	EstimatedLLMTokens       int64
	EstimatedBillingTokens   int64
	EstimatedDurationSeconds int64
}

type Estimator interface {
	Version() string
	ValidateRequest(req jobs.GenerationRequest) error
	Estimate(ctx context.Context, documentID uuid.UUID, chunkCount int, req jobs.GenerationRequest) (Estimate, error)
	// ComputeActualBillingTokens prices real output with the same table used
	// for the estimate. Rounding is always up.
	ComputeActualBillingTokens(questions []jobs.GeneratedQuestion, difficulty string, inputPromptTokens int64) (int64, error)
	BillingTokensForLLM(llmTokens int64) int64
}

var estimationNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://quizgen.yungbote.dev/estimation"))

type estimator struct {
	log   *logger.Logger
	table *costtable.Table
}

func NewEstimator(baseLog *logger.Logger, table *costtable.Table) Estimator {
	return &estimator{
		log:   baseLog.With("service", "Estimator"),
		table: table,
	}
}

func (e *estimator) Version() string { return e.table.Version }

func (e *estimator) ValidateRequest(req jobs.GenerationRequest) error {
	const op = "estimator.validate"
	req = req.Normalized()
	if req.DocumentID == uuid.Nil {
		return domainagg.Validation(op, "document_id is required")
	}
	if req.MaxChunks < 0 {
		return domainagg.Validation(op, "max_chunks must be >= 0")
	}
	if _, ok := e.table.DifficultyPct(req.Difficulty); !ok {
		return domainagg.Validation(op, fmt.Sprintf("unknown difficulty %q", req.Difficulty))
	}
	limit := e.table.MaxQuestionsPerChunk
	var total int64
	for _, qt := range req.SortedTypes() {
		n := int64(req.QuestionsPerType[qt])
		if n < 0 {
			return domainagg.Validation(op, fmt.Sprintf("question count for %q must be >= 0", qt))
		}
		if !e.table.KnowsType(qt) {
			return domainagg.Validation(op, fmt.Sprintf("unknown question type %q", qt))
		}
		if n > limit {
			return domainagg.Validation(op, fmt.Sprintf("question count for %q must be <= %d", qt, limit))
		}
		total += n
		if total > limit {
			return domainagg.Validation(op, fmt.Sprintf("at most %d questions per chunk", limit))
		}
	}
	if total <= 0 {
		return domainagg.Validation(op, "at least one question is required")
	}
	return nil
}

func (e *estimator) Estimate(ctx context.Context, documentID uuid.UUID, chunkCount int, req jobs.GenerationRequest) (Estimate, error) {
	if err := e.ValidateRequest(req); err != nil {
		return Estimate{}, err
	}
	if chunkCount <= 0 {
		return Estimate{}, domainagg.Validation("estimator.estimate", "document has no chunks")
	}
	req = req.Normalized()
	pct, _ := e.table.DifficultyPct(req.Difficulty)
	chunks := int64(chunkCount)

	var c checkedMath
	var perChunkOutput int64
	for _, qt := range req.SortedTypes() {
		perChunkOutput = c.add(perChunkOutput, c.mul(int64(req.QuestionsPerType[qt]), e.table.TokensFor(qt)))
	}
	output := ceilDiv(c.mul(c.mul(chunks, perChunkOutput), pct), 100)
	input := c.mul(chunks, c.add(e.table.SystemPromptTokens, e.table.PromptTokensPerChunk))
	llm := c.add(input, output)

	questions := c.mul(chunks, int64(req.QuestionsPerChunk()))
	duration := c.add(e.table.BaseSeconds, c.add(c.mul(chunks, e.table.SecondsPerChunk), c.mul(questions, e.table.SecondsPerQuestion)))
	if c.overflow {
		return Estimate{}, domainagg.Validation("estimator.estimate", "request is too large to estimate")
	}

	est := Estimate{
		EstimationID:             e.estimationID(documentID, chunkCount, req),
		EstimationVersion:        e.table.Version,
		Chunks:                   chunkCount,
		EstimatedLLMTokens:       llm,
		EstimatedBillingTokens:   e.BillingTokensForLLM(llm),
		EstimatedDurationSeconds: duration,
	}
	e.log.Debug("Estimated generation cost",
		"document_id", documentID,
		"chunks", chunkCount,
		"estimated_llm_tokens", est.EstimatedLLMTokens,
		"estimated_billing_tokens", est.EstimatedBillingTokens,
		"estimation_version", est.EstimationVersion,
	)
	return est, nil
}

func (e *estimator) ComputeActualBillingTokens(questions []jobs.GeneratedQuestion, difficulty string, inputPromptTokens int64) (int64, error) {
	pct, ok := e.table.DifficultyPct(difficulty)
	if !ok {
		if strings.TrimSpace(difficulty) != "" {
			return 0, domainagg.Validation("estimator.actual", fmt.Sprintf("unknown difficulty %q", difficulty))
		}
		pct, _ = e.table.DifficultyPct(jobs.DifficultyMedium)
	}
	if inputPromptTokens < 0 {
		inputPromptTokens = 0
	}
	var raw int64
	for _, q := range questions {
		raw += e.table.TokensFor(q.Type)
	}
	output := ceilDiv(raw*pct, 100)
	return e.BillingTokensForLLM(inputPromptTokens + output), nil
}

func (e *estimator) BillingTokensForLLM(llmTokens int64) int64 {
	if llmTokens <= 0 {
		return 0
	}
	return ceilDiv(llmTokens, e.table.LLMTokensPerBillingToken)
}

func (e *estimator) estimationID(documentID uuid.UUID, chunkCount int, req jobs.GenerationRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s|%s|%d|%s", e.table.Version, documentID, chunkCount, req.Difficulty)
	for _, qt := range req.SortedTypes() {
		fmt.Fprintf(&b, "|%s=%d", qt, req.QuestionsPerType[qt])
	}
	return uuid.NewSHA1(estimationNamespace, []byte(b.String())).String()
}

// checkedMath does non-negative int64 arithmetic and latches overflow
// instead of wrapping.
type checkedMath struct{ overflow bool }

func (c *checkedMath) mul(a, b int64) int64 {
	if a < 0 || b < 0 {
		c.overflow = true
		return 0
	}
	if a != 0 && b > math.MaxInt64/a {
		c.overflow = true
		return 0
	}
	return a * b
}

func (c *checkedMath) add(a, b int64) int64 {
	if a < 0 || b < 0 || a > math.MaxInt64-b {
		c.overflow = true
		return 0
	}
	return a + b
}

// ceilDiv rounds toward +inf for non-negative a and positive b.
func ceilDiv(a, b int64) int64 {
	if b <= 0 {
		return a
	}
	if a <= 0 {
		return 0
	}
	q := a / b
	if a%b != 0 {
		q++
	}
	return q
}
