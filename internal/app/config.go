package app

import (
	"strings"
	"time"

	"github.com/yungbote/quizgen-backend/internal/clients/openai"
	"github.com/yungbote/quizgen-backend/internal/clients/redis"
	"github.com/yungbote/quizgen-backend/internal/platform/envutil"
	"github.com/yungbote/quizgen-backend/internal/platform/logger"
	"github.com/yungbote/quizgen-backend/internal/services"
	"github.com/yungbote/quizgen-backend/internal/temporalx"
)

type Config struct {
	Port        string
	ServiceName string
	Environment string
	Version     string

	JWTSecretKey   string
	JWTIssuer      string
	AllowedOrigins []string
	MetricsAddr    string

	CostTablePath       string
	LedgerAutoRelease   bool
	SweepInterval       time.Duration
	SweepBatch          int
	CompletionBuffer    int
	CompletionRetryWait time.Duration

	QuizGeneration services.QuizGenerationConfig
	Redis          redis.Config
	Temporal       temporalx.Config
	OpenAI         openai.Config
}

func LoadConfig(log *logger.Logger) Config {
	cfg := Config{
		Port:        envutil.String("PORT", "8080"),
		ServiceName: envutil.String("SERVICE_NAME", "quizgen-api"),
		Environment: envutil.String("APP_ENV", "development"),
		Version:     envutil.String("APP_VERSION", ""),

		JWTSecretKey:   envutil.String("JWT_SECRET_KEY", ""),
		JWTIssuer:      envutil.String("JWT_ISSUER", ""),
		AllowedOrigins: splitList(envutil.String("CORS_ALLOWED_ORIGINS", "")),
		MetricsAddr:    envutil.String("METRICS_ADDR", ":9090"),

		CostTablePath:       envutil.String("COST_TABLE_PATH", ""),
		LedgerAutoRelease:   envutil.Bool("LEDGER_AUTO_RELEASE_ON_COMMIT", true),
		SweepInterval:       envutil.Seconds("RESERVATION_SWEEP_INTERVAL_SECONDS", time.Minute),
		SweepBatch:          envutil.Int("RESERVATION_SWEEP_BATCH", 200),
		CompletionBuffer:    envutil.Int("COMPLETION_QUEUE_BUFFER", 256),
		CompletionRetryWait: envutil.Millis("COMPLETION_RETRY_DELAY_MS", time.Second),

		QuizGeneration: services.LoadQuizGenerationConfig(),
		Redis:          redis.LoadConfig(),
		Temporal:       temporalx.LoadConfig(),
		OpenAI:         openai.LoadConfig(),
	}
	if cfg.JWTSecretKey == "" && log != nil {
		log.Warn("JWT_SECRET_KEY is empty; every authenticated request will be rejected")
	}
	return cfg
}

func splitList(raw string) []string {
	out := []string{}
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
