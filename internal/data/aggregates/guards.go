package aggregates

import (
	"github.com/google/uuid"
	"github.com/yungbote/quizgen-backend/internal/platform/dbctx"
	"gorm.io/gorm"
)

// UpdateIfStatus applies updates to row id of table only while its status is
// one of allowed. The boolean is false when the row was missing or had
// already moved to another status.
func UpdateIfStatus(dbc dbctx.Context, db *gorm.DB, table string, id uuid.UUID, allowed []string, updates map[string]any) (bool, error) {
	switch {
	case table == "" || id == uuid.Nil:
		return false, ValidationError("status guard needs a table and id")
	case len(allowed) == 0:
		return false, ValidationError("status guard needs at least one allowed status")
	}
	handle := dbc.Handle(db)
	if handle == nil {
		return false, ValidationError("status guard has no database handle")
	}
	res := handle.Table(table).Where("id = ?", id).Where("status IN ?", allowed).Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
