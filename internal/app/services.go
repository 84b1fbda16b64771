package app

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/yungbote/quizgen-backend/internal/data/repos"
	"github.com/yungbote/quizgen-backend/internal/jobs/completion"
	"github.com/yungbote/quizgen-backend/internal/jobs/pipeline"
	"github.com/yungbote/quizgen-backend/internal/observability"
	"github.com/yungbote/quizgen-backend/internal/platform/logger"
	"github.com/yungbote/quizgen-backend/internal/services"
	"github.com/yungbote/quizgen-backend/internal/services/costtable"
	"github.com/yungbote/quizgen-backend/internal/temporalx/quizgen"
)

type Services struct {
	Ledger     services.TokenLedger
	Estimator  services.Estimator
	Documents  services.DocumentService
	Assembler  services.QuizAssembler
	Generation services.QuizGenerationService
	Generator  services.QuestionGenerator
	Sweeper    *services.ReservationSweeper

	Completions completion.Queue
	Pipeline    *pipeline.Runner
	// Inline is set when jobs run inside this process instead of on Temporal.
	Inline *pipeline.InlineExecutor
}

func wireServices(ctx context.Context, db *gorm.DB, log *logger.Logger, cfg Config, rs repos.Set, clients Clients, metrics *observability.Metrics) (Services, error) {
	log.Info("Wiring services...")

	table, err := loadCostTable(cfg.CostTablePath)
	if err != nil {
		return Services{}, err
	}
	log.Info("Cost table loaded", "version", table.Version, "path", cfg.CostTablePath)

	ledger := services.NewTokenLedger(db, log, rs, metrics, services.TokenLedgerOptions{
		AutoReleaseOnCommit: cfg.LedgerAutoRelease,
		DefaultTTL:          cfg.QuizGeneration.ReservationTTL,
	})
	estimator := services.NewEstimator(log, table)
	documents := services.NewDocumentService(db, log, rs.Documents, rs.DocumentChunks)
	assembler := services.NewQuizAssembler(db, log, rs.Quizzes, metrics, cfg.QuizGeneration.MaxTitleLength)

	generation := services.NewQuizGenerationService(services.QuizGenerationDeps{
		DB:        db,
		Log:       log,
		Repos:     rs,
		Ledger:    ledger,
		Estimator: estimator,
		Documents: documents,
		Assembler: assembler,
		Metrics:   metrics,
		Config:    cfg.QuizGeneration,
	})

	var generator services.QuestionGenerator
	if clients.OpenAI != nil {
		generator = services.NewLLMQuestionGenerator(log, clients.OpenAI)
	} else {
		log.Warn("OPENAI_API_KEY not set; using the extractive question generator")
		generator = services.NewExtractiveQuestionGenerator(log)
	}

	var queue completion.Queue
	if clients.Redis != nil {
		q := completion.NewRedisStreamQueue(log, clients.Redis,
			completion.WithStream(cfg.Redis.Stream),
			completion.WithGroup(cfg.Redis.Group),
			completion.WithClaimIdle(cfg.Redis.ClaimIdle),
		)
		if err := q.EnsureGroup(ctx); err != nil {
			return Services{}, fmt.Errorf("ensure completion consumer group: %w", err)
		}
		queue = q
	} else {
		q := completion.NewMemoryQueue(log, cfg.CompletionBuffer)
		if cfg.CompletionRetryWait > 0 {
			q.RetryDelay = cfg.CompletionRetryWait
		}
		queue = q
	}

	runner := pipeline.NewRunner(log, rs.Jobs, documents, generator, generation, queue)

	out := Services{
		Ledger:      ledger,
		Estimator:   estimator,
		Documents:   documents,
		Assembler:   assembler,
		Generation:  generation,
		Generator:   generator,
		Sweeper:     services.NewReservationSweeper(log, ledger, cfg.SweepInterval, cfg.SweepBatch),
		Completions: queue,
		Pipeline:    runner,
	}
	if clients.Temporal != nil {
		generation.SetExecutor(quizgen.NewExecutor(log, clients.Temporal, cfg.Temporal.TaskQueue))
	} else {
		out.Inline = pipeline.NewInlineExecutor(ctx, log, runner)
		generation.SetExecutor(out.Inline)
	}
	return out, nil
}

func loadCostTable(path string) (*costtable.Table, error) {
	if path == "" {
		return costtable.Default()
	}
	table, err := costtable.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load cost table %s: %w", path, err)
	}
	return table, nil
}
