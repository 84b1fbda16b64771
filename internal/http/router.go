package http

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	httpH "github.com/yungbote/quizgen-backend/internal/http/handlers"
	httpMW "github.com/yungbote/quizgen-backend/internal/http/middleware"
	"github.com/yungbote/quizgen-backend/internal/observability"
	"github.com/yungbote/quizgen-backend/internal/platform/logger"
)

type RouterConfig struct {
	Log            *logger.Logger
	Metrics        *observability.Metrics
	ServiceName    string
	AllowedOrigins []string

	AuthMiddleware        *httpMW.AuthMiddleware
	QuizGenerationHandler *httpH.QuizGenerationHandler
	TokenHandler          *httpH.TokenHandler
	HealthHandler         *httpH.HealthHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	if cfg.ServiceName != "" {
		r.Use(otelgin.Middleware(cfg.ServiceName))
	}
	r.Use(httpMW.AttachTraceContext())
	r.Use(httpMW.Observe(cfg.Log, cfg.Metrics))
	r.Use(httpMW.CORS(cfg.AllowedOrigins))

	// Health
	if cfg.HealthHandler != nil {
		r.GET("/healthcheck", cfg.HealthHandler.HealthCheck)
	}

	protected := r.Group("/api")
	{
		if cfg.AuthMiddleware != nil {
			protected.Use(cfg.AuthMiddleware.RequireAuth())
		}

		// Quiz generation
		if cfg.QuizGenerationHandler != nil {
			protected.POST("/quiz-generations", cfg.QuizGenerationHandler.Start)
			protected.GET("/quiz-generations", cfg.QuizGenerationHandler.List)
			protected.GET("/quiz-generations/:id", cfg.QuizGenerationHandler.Get)
			protected.POST("/quiz-generations/:id/cancel", cfg.QuizGenerationHandler.Cancel)
		}

		// Tokens
		if cfg.TokenHandler != nil {
			protected.GET("/tokens/balance", cfg.TokenHandler.Balance)
		}
	}

	return r
}
