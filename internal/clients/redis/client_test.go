package redis

import (
	"testing"
	"time"

	"github.com/yungbote/quizgen-backend/internal/platform/logger"
)

func TestLoadConfig(t *testing.T) {
	t.Setenv("REDIS_ADDR", " localhost:6379 ")
	t.Setenv("REDIS_DB", "2")
	t.Setenv("REDIS_COMPLETION_CLAIM_IDLE_SECONDS", "")

	cfg := LoadConfig()
	if !cfg.Enabled() || cfg.Addr != "localhost:6379" || cfg.DB != 2 {
		t.Fatalf("cfg %+v", cfg)
	}
	if cfg.ClaimIdle != time.Minute {
		t.Fatalf("claim idle %s", cfg.ClaimIdle)
	}
}

func TestNewClientRequiresAddr(t *testing.T) {
	if _, err := NewClient(logger.NewNop(), Config{}); err == nil {
		t.Fatalf("expected error without REDIS_ADDR")
	}
	if _, err := NewClient(nil, Config{Addr: "localhost:6379"}); err == nil {
		t.Fatalf("expected error without logger")
	}
}
