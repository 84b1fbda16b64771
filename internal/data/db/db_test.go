package db_test

import (
	"testing"

	"github.com/yungbote/quizgen-backend/internal/data/db"
	"github.com/yungbote/quizgen-backend/internal/platform/logger"
)

func TestOpenSQLiteAndMigrate(t *testing.T) {
	t.Setenv("DB_DRIVER", "sqlite")
	t.Setenv("SQLITE_PATH", ":memory:")

	svc, err := db.Open(logger.NewNop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := svc.AutoMigrateAll(); err != nil {
		t.Fatalf("AutoMigrateAll: %v", err)
	}
	// Running it again must be harmless.
	if err := db.AutoMigrateAll(svc.DB()); err != nil {
		t.Fatalf("second AutoMigrateAll: %v", err)
	}

	var n int64
	if err := svc.DB().Raw(`SELECT count(*) FROM sqlite_master WHERE type = 'index' AND name = 'ux_generation_job_user_active'`).Scan(&n).Error; err != nil {
		t.Fatalf("query index: %v", err)
	}
	if n != 1 {
		t.Fatalf("active job index missing")
	}
	for _, table := range []string{"generation_job", "quiz", "quiz_question"} {
		if !svc.DB().Migrator().HasTable(table) {
			t.Fatalf("table %s missing", table)
		}
	}
}
