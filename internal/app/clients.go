package app

import (
	"context"
	"fmt"

	goredis "github.com/redis/go-redis/v9"
	temporalsdkclient "go.temporal.io/sdk/client"

	"github.com/yungbote/quizgen-backend/internal/clients/openai"
	"github.com/yungbote/quizgen-backend/internal/clients/redis"
	"github.com/yungbote/quizgen-backend/internal/observability"
	"github.com/yungbote/quizgen-backend/internal/platform/logger"
	"github.com/yungbote/quizgen-backend/internal/temporalx"
)

// Clients holds the optional external connections. Each field is nil when
// its backend is not configured.
type Clients struct {
	Redis    goredis.UniversalClient
	OpenAI   openai.Client
	Temporal temporalsdkclient.Client
}

func wireClients(ctx context.Context, log *logger.Logger, cfg Config, metrics *observability.Metrics) (Clients, error) {
	log.Info("Wiring clients...")
	var out Clients

	if cfg.Redis.Enabled() {
		rdb, err := redis.NewClient(log, cfg.Redis)
		if err != nil {
			return Clients{}, fmt.Errorf("init redis: %w", err)
		}
		out.Redis = rdb
	}

	if cfg.OpenAI.APIKey != "" {
		oc, err := openai.NewClient(log, cfg.OpenAI, metrics)
		if err != nil {
			out.Close()
			return Clients{}, fmt.Errorf("init openai client: %w", err)
		}
		out.OpenAI = oc
	}

	tc, err := temporalx.NewClient(ctx, log, cfg.Temporal)
	if err != nil {
		out.Close()
		return Clients{}, fmt.Errorf("init temporal client: %w", err)
	}
	out.Temporal = tc

	return out, nil
}

func (c *Clients) Close() {
	if c == nil {
		return
	}
	if c.Temporal != nil {
		c.Temporal.Close()
	}
	if c.Redis != nil {
		_ = c.Redis.Close()
	}
}
