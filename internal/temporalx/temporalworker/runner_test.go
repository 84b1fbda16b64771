package temporalworker

import (
	"testing"

	"github.com/yungbote/quizgen-backend/internal/platform/logger"
	"github.com/yungbote/quizgen-backend/internal/temporalx"
)

func TestNewRunnerRequiresClientAndPipeline(t *testing.T) {
	if _, err := NewRunner(logger.NewNop(), temporalx.Config{}, nil, nil); err == nil {
		t.Fatalf("expected error without a temporal client")
	}
}
