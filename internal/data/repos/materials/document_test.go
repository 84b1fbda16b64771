package materials

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/yungbote/quizgen-backend/internal/data/repos/testutil"
	"github.com/yungbote/quizgen-backend/internal/platform/dbctx"
)

func TestDocumentRepos(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)

	ctx := context.Background()
	dbc := dbctx.Context{Ctx: ctx, Tx: tx}
	docs := NewDocumentRepo(db, testutil.Logger(t))
	chunks := NewDocumentChunkRepo(db, testutil.Logger(t))

	doc := testutil.SeedDocument(t, ctx, tx, uuid.New(), "Biology", "cells", "", "mitosis")

	got, err := docs.GetByID(dbc, doc.ID)
	if err != nil || got == nil || got.Title != "Biology" {
		t.Fatalf("GetByID: err=%v doc=%+v", err, got)
	}
	if missing, err := docs.GetByID(dbc, uuid.New()); err != nil || missing != nil {
		t.Fatalf("GetByID missing: err=%v doc=%v", err, missing)
	}

	n, err := chunks.CountByDocument(dbc, doc.ID)
	if err != nil || n != 3 {
		t.Fatalf("CountByDocument: err=%v n=%d", err, n)
	}
	rows, err := chunks.ListByDocument(dbc, doc.ID, 2)
	if err != nil || len(rows) != 2 {
		t.Fatalf("ListByDocument: err=%v len=%d", err, len(rows))
	}
	if rows[0].ChunkIndex != 0 || rows[1].ChunkIndex != 1 {
		t.Fatalf("ListByDocument: expected index order, got %d,%d", rows[0].ChunkIndex, rows[1].ChunkIndex)
	}

	c, err := chunks.GetByIndex(dbc, doc.ID, 2)
	if err != nil || c == nil || c.Text != "mitosis" {
		t.Fatalf("GetByIndex: err=%v chunk=%+v", err, c)
	}
	if c, err := chunks.GetByIndex(dbc, doc.ID, 9); err != nil || c != nil {
		t.Fatalf("GetByIndex missing: err=%v chunk=%v", err, c)
	}
}
