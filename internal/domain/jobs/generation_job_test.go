package jobs

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestGenerationJobIsStale(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	hb := now.Add(-11 * time.Minute)
	job := &GenerationJob{
		Status:      StatusProcessing,
		CreatedAt:   now.Add(-time.Hour),
		UpdatedAt:   now.Add(-time.Minute),
		HeartbeatAt: &hb,
	}
	if !job.IsStale(now, 10*time.Minute) {
		t.Fatalf("heartbeat 11m old should be stale")
	}

	job.HeartbeatAt = nil
	if job.IsStale(now, 10*time.Minute) {
		t.Fatalf("recent update should not be stale")
	}

	job.Status = StatusCancelled
	job.UpdatedAt = now.Add(-time.Hour)
	if job.IsStale(now, 10*time.Minute) {
		t.Fatalf("terminal jobs are never stale")
	}
}

func TestBillingIdempotencyRoundTrip(t *testing.T) {
	jobID := uuid.MustParse("00000000-0000-0000-0000-000000000042")
	keys := BillingIdempotency{}.
		With(OpReserve, IdempotencyKey(jobID, OpReserve)).
		With(OpCommitCancel, IdempotencyKey(jobID, OpCommitCancel))

	if got := keys.Get(OpReserve); got != "00000000-0000-0000-0000-000000000042:reserve" {
		t.Fatalf("reserve key: %q", got)
	}
	if got := keys.Get(OpCommitCancel); got != "00000000-0000-0000-0000-000000000042:commit-cancel" {
		t.Fatalf("commit-cancel key: %q", got)
	}
	if keys.Get(OpCommit) != "" || keys.Get(OpRelease) != "" {
		t.Fatalf("unset keys should be empty: %+v", keys)
	}
}

func TestGenerationRequestNormalized(t *testing.T) {
	req := GenerationRequest{
		Title:            "  Biology  ",
		QuestionsPerType: map[string]int{" MCQ_Single ": 2, "true_false": 0, "open": 1},
	}.Normalized()

	if req.Title != "Biology" || req.Difficulty != DifficultyMedium {
		t.Fatalf("unexpected normalization: %+v", req)
	}
	if len(req.QuestionsPerType) != 2 || req.QuestionsPerType[QuestionMCQSingle] != 2 {
		t.Fatalf("unexpected counts: %+v", req.QuestionsPerType)
	}
	if req.QuestionsPerChunk() != 3 {
		t.Fatalf("per chunk: got %d", req.QuestionsPerChunk())
	}
	if types := req.SortedTypes(); types[0] != QuestionMCQSingle || types[1] != QuestionOpen {
		t.Fatalf("sorted types: %v", types)
	}
}
