package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/yungbote/quizgen-backend/internal/platform/envutil"
	"github.com/yungbote/quizgen-backend/internal/platform/logger"
)

type Config struct {
	Addr     string
	Password string
	DB       int
	// Stream carries completion events between executors and the orchestrator.
	Stream    string
	Group     string
	ClaimIdle time.Duration
}

func (c Config) Enabled() bool { return strings.TrimSpace(c.Addr) != "" }

func LoadConfig() Config {
	return Config{
		Addr:      envutil.String("REDIS_ADDR", ""),
		Password:  envutil.String("REDIS_PASSWORD", ""),
		DB:        envutil.Int("REDIS_DB", 0),
		Stream:    envutil.String("REDIS_COMPLETION_STREAM", ""),
		Group:     envutil.String("REDIS_COMPLETION_GROUP", ""),
		ClaimIdle: envutil.Seconds("REDIS_COMPLETION_CLAIM_IDLE_SECONDS", time.Minute),
	}
}

// NewClient dials Redis and pings it once. The caller owns Close.
func NewClient(log *logger.Logger, cfg Config) (goredis.UniversalClient, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if !cfg.Enabled() {
		return nil, fmt.Errorf("missing REDIS_ADDR")
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	log.Info("Redis connected", "addr", cfg.Addr, "db", cfg.DB)
	return rdb, nil
}
