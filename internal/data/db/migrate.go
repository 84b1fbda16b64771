package db

import (
	"fmt"

	"gorm.io/gorm"

	types "github.com/yungbote/quizgen-backend/internal/domain"
)

// Partial unique index enforcing at most one pending/processing job per user.
// The same statement is valid on postgres and sqlite.
const activeJobIndexSQL = `CREATE UNIQUE INDEX IF NOT EXISTS ux_generation_job_user_active
  ON generation_job (user_id)
  WHERE status IN ('pending', 'processing')`

func AutoMigrateAll(db *gorm.DB) error {
	if err := db.AutoMigrate(types.Models()...); err != nil {
		return fmt.Errorf("automigrate: %w", err)
	}
	if err := db.Exec(activeJobIndexSQL).Error; err != nil {
		return fmt.Errorf("create active job index: %w", err)
	}
	return nil
}
