package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/yungbote/quizgen-backend/internal/data/db"
	"github.com/yungbote/quizgen-backend/internal/data/repos"
	"github.com/yungbote/quizgen-backend/internal/domain/jobs"
	"github.com/yungbote/quizgen-backend/internal/http"
	httpH "github.com/yungbote/quizgen-backend/internal/http/handlers"
	httpMW "github.com/yungbote/quizgen-backend/internal/http/middleware"
	"github.com/yungbote/quizgen-backend/internal/observability"
	"github.com/yungbote/quizgen-backend/internal/platform/logger"
	"github.com/yungbote/quizgen-backend/internal/temporalx/temporalworker"
)

const shutdownTimeout = 10 * time.Second

type Mode string

const (
	// ModeAPI serves HTTP and consumes completion events.
	ModeAPI Mode = "api"
	// ModeWorker only hosts the Temporal workflow and activities.
	ModeWorker Mode = "worker"
)

type App struct {
	Log      *logger.Logger
	DB       *gorm.DB
	Router   *gin.Engine
	Cfg      Config
	Metrics  *observability.Metrics
	Clients  Clients
	Repos    repos.Set
	Services Services

	mode         Mode
	otelShutdown func(context.Context) error
}

// New wires the process for mode. ctx bounds background work started during
// wiring, such as inline job execution.
func New(ctx context.Context, mode Mode) (*App, error) {
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	log = log.With("mode", string(mode))

	log.Info("Loading environment variables...")
	cfg := LoadConfig(log)
	if err := validateMode(mode, cfg); err != nil {
		log.Sync()
		return nil, err
	}

	shutdown := observability.InitOTel(ctx, log, observability.OtelConfig{
		ServiceName: cfg.ServiceName,
		Environment: cfg.Environment,
		Version:     cfg.Version,
	})
	metrics := observability.Init(log)

	dbs, err := db.Open(log)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init database: %w", err)
	}
	if mode == ModeAPI {
		if err := dbs.AutoMigrateAll(); err != nil {
			log.Sync()
			return nil, fmt.Errorf("automigrate: %w", err)
		}
	}
	theDB := dbs.DB()

	clients, err := wireClients(ctx, log, cfg, metrics)
	if err != nil {
		log.Sync()
		return nil, err
	}

	reposet := repos.NewSet(theDB, log)
	serviceset, err := wireServices(ctx, theDB, log, cfg, reposet, clients, metrics)
	if err != nil {
		clients.Close()
		log.Sync()
		return nil, err
	}

	a := &App{
		Log:          log,
		DB:           theDB,
		Cfg:          cfg,
		Metrics:      metrics,
		Clients:      clients,
		Repos:        reposet,
		Services:     serviceset,
		mode:         mode,
		otelShutdown: shutdown,
	}
	if mode == ModeAPI {
		a.Router = http.NewRouter(http.RouterConfig{
			Log:                   log,
			Metrics:               metrics,
			ServiceName:           cfg.ServiceName,
			AllowedOrigins:        cfg.AllowedOrigins,
			AuthMiddleware:        httpMW.NewAuthMiddleware(log, cfg.JWTSecretKey, cfg.JWTIssuer),
			QuizGenerationHandler: httpH.NewQuizGenerationHandler(serviceset.Generation),
			TokenHandler:          httpH.NewTokenHandler(serviceset.Ledger),
			HealthHandler:         httpH.NewHealthHandler(theDB),
		})
	}
	return a, nil
}

func validateMode(mode Mode, cfg Config) error {
	switch mode {
	case ModeAPI:
		if cfg.Temporal.Enabled() && !cfg.Temporal.EmbeddedWorker && !cfg.Redis.Enabled() {
			return errors.New("TEMPORAL_ADDRESS without REDIS_ADDR requires TEMPORAL_EMBEDDED_WORKER=true; remote workers need the redis completion stream")
		}
	case ModeWorker:
		if !cfg.Temporal.Enabled() {
			return errors.New("worker mode requires TEMPORAL_ADDRESS")
		}
		if !cfg.Redis.Enabled() {
			return errors.New("worker mode requires REDIS_ADDR for completion events")
		}
	default:
		return fmt.Errorf("unknown mode %q", mode)
	}
	return nil
}

// Run blocks until ctx is done or a component fails.
func (a *App) Run(ctx context.Context) error {
	if a == nil {
		return fmt.Errorf("app not initialized")
	}
	g, gctx := errgroup.WithContext(ctx)

	a.Metrics.StartServer(gctx, a.Log, a.Cfg.MetricsAddr)
	a.Metrics.StartDBCollector(gctx, a.Log, a.DB)
	if a.Clients.Redis != nil {
		a.Metrics.StartRedisCollector(gctx, a.Log, a.Clients.Redis)
	}

	hostWorker := a.mode == ModeWorker || (a.Clients.Temporal != nil && a.Cfg.Temporal.EmbeddedWorker)
	if hostWorker {
		w, err := temporalworker.NewRunner(a.Log, a.Cfg.Temporal, a.Clients.Temporal, a.Services.Pipeline)
		if err != nil {
			return err
		}
		g.Go(func() error {
			if err := w.Start(gctx); err != nil {
				return fmt.Errorf("temporal worker: %w", err)
			}
			<-gctx.Done()
			return nil
		})
	}

	if a.mode == ModeAPI {
		a.Metrics.StartJobStatusCollector(gctx, a.Log, a.DB)
		a.Metrics.StartSLOEvaluator(gctx, a.Log)

		srv := &http.Server{Engine: a.Router}
		addr := ":" + a.Cfg.Port
		g.Go(func() error {
			a.Log.Info("Server listening", "addr", addr)
			return srv.Run(gctx, addr)
		})
		g.Go(func() error {
			return a.Services.Completions.Run(gctx, func(ctx context.Context, ev jobs.CompletionEvent) error {
				return a.Services.Generation.HandleCompletion(ctx, ev)
			})
		})
		g.Go(func() error {
			return a.Services.Sweeper.Run(gctx)
		})
	}

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	return err
}

func (a *App) Close() {
	if a == nil {
		return
	}
	if a.Services.Inline != nil {
		a.Services.Inline.Wait()
	}
	if a.Services.Completions != nil {
		_ = a.Services.Completions.Close()
	}
	a.Clients.Close()
	if a.otelShutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		_ = a.otelShutdown(ctx)
		cancel()
	}
	if a.Log != nil {
		a.Log.Sync()
	}
}
