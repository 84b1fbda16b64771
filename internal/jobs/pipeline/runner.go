// Package pipeline holds the generation steps shared by the Temporal
// activities and the in-process executor.
package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/quizgen-backend/internal/data/repos"
	"github.com/yungbote/quizgen-backend/internal/domain/jobs"
	"github.com/yungbote/quizgen-backend/internal/jobs/completion"
	"github.com/yungbote/quizgen-backend/internal/platform/dbctx"
	"github.com/yungbote/quizgen-backend/internal/platform/logger"
	"github.com/yungbote/quizgen-backend/internal/services"
)

// StartResult tells the caller which chunks to generate. Proceed is false
// when the job already finished (for example it was cancelled). Processing
// is set once the job moved to PROCESSING, even if a later step failed.
type StartResult struct {
	JobID      uuid.UUID              `json:"job_id"`
	Proceed    bool                   `json:"proceed"`
	Processing bool                   `json:"processing"`
	Chunks     []int                  `json:"chunks,omitempty"`
	Request    jobs.GenerationRequest `json:"request"`
}

// Progress is the running total carried from chunk to chunk.
type Progress struct {
	ProcessedChunks   int   `json:"processed_chunks"`
	LLMTokensSoFar    int64 `json:"llm_tokens_so_far"`
	InputPromptTokens int64 `json:"input_prompt_tokens"`
}

type ChunkInput struct {
	JobID      uuid.UUID              `json:"job_id"`
	ChunkIndex int                    `json:"chunk_index"`
	Request    jobs.GenerationRequest `json:"request"`
	Progress   Progress               `json:"progress"`
}

type ChunkResult struct {
	ChunkIndex int                      `json:"chunk_index"`
	Questions  []jobs.GeneratedQuestion `json:"questions,omitempty"`
	Progress   Progress                 `json:"progress"`
	// Stopped is set when the job finished while this chunk was pending.
	Stopped bool `json:"stopped,omitempty"`
}

type PublishInput struct {
	JobID          uuid.UUID                        `json:"job_id"`
	Request        jobs.GenerationRequest           `json:"request"`
	ChunkQuestions map[int][]jobs.GeneratedQuestion `json:"chunk_questions,omitempty"`
	Failed         bool                             `json:"failed,omitempty"`
	Reason         string                           `json:"reason,omitempty"`
}

type Runner struct {
	log          *logger.Logger
	jobs         repos.GenerationJobRepo
	documents    services.DocumentService
	generator    services.QuestionGenerator
	orchestrator services.QuizGenerationService
	publisher    completion.Publisher
}

func NewRunner(
	baseLog *logger.Logger,
	jobRepo repos.GenerationJobRepo,
	documents services.DocumentService,
	generator services.QuestionGenerator,
	orchestrator services.QuizGenerationService,
	publisher completion.Publisher,
) *Runner {
	return &Runner{
		log:          baseLog.With("component", "GenerationPipeline"),
		jobs:         jobRepo,
		documents:    documents,
		generator:    generator,
		orchestrator: orchestrator,
		publisher:    publisher,
	}
}

// Start marks the job processing and lists the chunk indexes to generate.
func (r *Runner) Start(ctx context.Context, jobID uuid.UUID) (StartResult, error) {
	res := StartResult{JobID: jobID}
	ok, err := r.orchestrator.MarkProcessing(ctx, jobID)
	if err != nil {
		return res, err
	}
	if !ok {
		r.log.Info("Job already finished; skipping generation", "job_id", jobID)
		return res, nil
	}
	res.Processing = true
	job, err := r.jobs.GetByID(dbctx.Background(ctx), jobID)
	if err != nil {
		return res, err
	}
	if job == nil {
		return res, fmt.Errorf("generation job %s not found", jobID)
	}
	chunks, err := r.documents.LoadChunks(ctx, job.DocumentID, job.TotalChunks)
	if err != nil {
		return res, err
	}
	res.Proceed = true
	res.Request = job.Request.Data()
	for _, c := range chunks {
		res.Chunks = append(res.Chunks, c.ChunkIndex)
	}
	return res, nil
}

// GenerateChunk runs the model over one chunk and records progress.
func (r *Runner) GenerateChunk(ctx context.Context, in ChunkInput) (ChunkResult, error) {
	res := ChunkResult{ChunkIndex: in.ChunkIndex, Progress: in.Progress}
	job, err := r.jobs.GetByID(dbctx.Background(ctx), in.JobID)
	if err != nil {
		return res, err
	}
	if job == nil || job.IsTerminal() {
		res.Stopped = true
		return res, nil
	}
	chunk, err := r.documents.GetChunk(ctx, job.DocumentID, in.ChunkIndex)
	if err != nil {
		return res, err
	}

	// Billing on cancel depends on knowing a model call may have been made.
	if err := r.orchestrator.RecordProgress(ctx, in.JobID, jobs.ProgressUpdate{
		ProcessedChunks:   in.Progress.ProcessedChunks,
		StartedAICalls:    true,
		LLMTokensSoFar:    in.Progress.LLMTokensSoFar,
		InputPromptTokens: in.Progress.InputPromptTokens,
	}); err != nil {
		return res, err
	}

	if strings.TrimSpace(chunk.Text) != "" {
		gen, err := r.generator.GenerateForChunk(ctx, chunk, in.Request)
		if err != nil {
			return res, err
		}
		res.Questions = gen.Questions
		res.Progress.LLMTokensSoFar += gen.InputTokens + gen.OutputTokens
		res.Progress.InputPromptTokens += gen.InputTokens
	}
	res.Progress.ProcessedChunks++

	if err := r.orchestrator.RecordProgress(ctx, in.JobID, jobs.ProgressUpdate{
		ProcessedChunks:   res.Progress.ProcessedChunks,
		StartedAICalls:    true,
		LLMTokensSoFar:    res.Progress.LLMTokensSoFar,
		InputPromptTokens: res.Progress.InputPromptTokens,
	}); err != nil {
		return res, err
	}
	return res, nil
}

// Publish emits the job's single completion event. The event id is derived
// from the job and outcome so a retried publish is recognisable downstream.
// A failure for a job that already finished is dropped.
func (r *Runner) Publish(ctx context.Context, in PublishInput) error {
	outcome := jobs.CompletionSucceeded
	if in.Failed {
		outcome = jobs.CompletionFailed
		job, err := r.jobs.GetByID(dbctx.Background(ctx), in.JobID)
		if err == nil && job != nil && job.IsTerminal() {
			r.log.Info("Job already finished; failure event dropped", "job_id", in.JobID, "status", job.Status)
			return nil
		}
	}
	ev := jobs.CompletionEvent{
		EventID:         uuid.NewSHA1(in.JobID, []byte(outcome)),
		JobID:           in.JobID,
		Outcome:         outcome,
		ChunkQuestions:  in.ChunkQuestions,
		OriginalRequest: in.Request,
		Reason:          in.Reason,
		EmittedAt:       time.Now().UTC(),
	}
	if err := r.publisher.Publish(ctx, ev); err != nil {
		return fmt.Errorf("publish completion for job %s: %w", in.JobID, err)
	}
	r.log.Info("Published completion event", "job_id", in.JobID, "outcome", outcome, "questions", ev.TotalQuestions())
	return nil
}

// Run executes every step in process. Once the job is PROCESSING every
// error exit becomes a failure event rather than an error.
func (r *Runner) Run(ctx context.Context, jobID uuid.UUID) error {
	start, err := r.Start(ctx, jobID)
	if err != nil {
		if start.Processing {
			return r.abort(ctx, jobID, start.Request, fmt.Errorf("start: %w", err))
		}
		return err
	}
	if !start.Proceed {
		return nil
	}
	out := PublishInput{
		JobID:          jobID,
		Request:        start.Request,
		ChunkQuestions: map[int][]jobs.GeneratedQuestion{},
	}
	progress := Progress{}
	for _, idx := range start.Chunks {
		if err := ctx.Err(); err != nil {
			return r.abort(ctx, jobID, start.Request, err)
		}
		res, err := r.GenerateChunk(ctx, ChunkInput{JobID: jobID, ChunkIndex: idx, Request: start.Request, Progress: progress})
		if err != nil {
			return r.abort(ctx, jobID, start.Request, fmt.Errorf("chunk %d: %w", idx, err))
		}
		if res.Stopped {
			return nil
		}
		progress = res.Progress
		out.ChunkQuestions[idx] = res.Questions
	}
	return r.Publish(context.WithoutCancel(ctx), out)
}

func (r *Runner) abort(ctx context.Context, jobID uuid.UUID, req jobs.GenerationRequest, cause error) error {
	r.log.Warn("Generation aborted", "job_id", jobID, "error", cause)
	return r.Publish(context.WithoutCancel(ctx), PublishInput{
		JobID:   jobID,
		Request: req,
		Failed:  true,
		Reason:  cause.Error(),
	})
}
