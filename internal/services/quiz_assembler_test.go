package services

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/yungbote/quizgen-backend/internal/data/repos"
	"github.com/yungbote/quizgen-backend/internal/data/repos/testutil"
	"github.com/yungbote/quizgen-backend/internal/domain/jobs"
	"github.com/yungbote/quizgen-backend/internal/platform/dbctx"
)

func TestAssemblerTitleUniquenessRoundTrip(t *testing.T) {
	db := testutil.DB(t)
	log := testutil.Logger(t)
	rs := repos.NewSet(db, log)
	asm := NewQuizAssembler(db, log, rs.Quizzes, nil, DefaultMaxTitleLength)
	ctx := context.Background()
	creator := uuid.New()
	doc := testutil.SeedDocument(t, ctx, db, creator, "Biology", "text")

	assemble := func(title string) string {
		t.Helper()
		out, err := asm.Assemble(dbctx.Background(ctx), AssembleInput{
			CreatorID:      creator,
			DocumentID:     doc.ID,
			JobID:          uuid.New(),
			RequestedTitle: title,
			Difficulty:     jobs.DifficultyMedium,
			ChunkQuestions: map[int][]jobs.GeneratedQuestion{0: questions(1)},
		})
		if err != nil {
			t.Fatalf("Assemble(%q): %v", title, err)
		}
		return out.Consolidated.Title
	}

	for _, want := range []string{"Demo", "Demo-2", "Demo-3"} {
		if got := assemble("Demo"); got != want {
			t.Fatalf("got %q, want %q", got, want)
		}
	}
	if got := assemble("Demo-2"); got != "Demo-4" {
		t.Fatalf("suffixed request must reuse the base, got %q", got)
	}
	if got := assemble("  "); got != "Quiz: Biology" {
		t.Fatalf("fallback title %q", got)
	}

	// Titles are unique per creator only.
	other, err := asm.ResolveUniqueTitle(dbctx.Background(ctx), uuid.New(), "Demo")
	if err != nil || other != "Demo" {
		t.Fatalf("other creator: %q %v", other, err)
	}
}

func TestAssemblerRejectsEmptyResult(t *testing.T) {
	db := testutil.DB(t)
	log := testutil.Logger(t)
	asm := NewQuizAssembler(db, log, repos.NewSet(db, log).Quizzes, nil, 0)
	_, err := asm.Assemble(dbctx.Background(context.Background()), AssembleInput{
		CreatorID:      uuid.New(),
		ChunkQuestions: map[int][]jobs.GeneratedQuestion{0: nil, 1: {}},
	})
	if err == nil {
		t.Fatalf("expected an error when no chunk has questions")
	}
}
