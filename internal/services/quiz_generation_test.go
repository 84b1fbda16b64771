package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/quizgen-backend/internal/data/repos"
	"github.com/yungbote/quizgen-backend/internal/data/repos/testutil"
	types "github.com/yungbote/quizgen-backend/internal/domain"
	domainagg "github.com/yungbote/quizgen-backend/internal/domain/aggregates"
	"github.com/yungbote/quizgen-backend/internal/domain/jobs"
	"github.com/yungbote/quizgen-backend/internal/domain/ledger"
	"github.com/yungbote/quizgen-backend/internal/platform/dbctx"
)

type fakeExecutor struct {
	mu         sync.Mutex
	dispatched []uuid.UUID
	cancelled  []uuid.UUID
	err        error
}

func (f *fakeExecutor) Dispatch(ctx context.Context, job *types.GenerationJob) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.dispatched = append(f.dispatched, job.ID)
	return nil
}

func (f *fakeExecutor) Cancel(ctx context.Context, jobID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, jobID)
	return nil
}

// stubEstimator prices every request at a fixed estimate and every result at
// a fixed actual.
type stubEstimator struct {
	estimate int64
	actual   int64
}

func (stubEstimator) Version() string { return "stub-1" }

func (stubEstimator) ValidateRequest(req jobs.GenerationRequest) error {
	if req.Normalized().QuestionsPerChunk() <= 0 {
		return domainagg.Validation("stub.validate", "at least one question is required")
	}
	return nil
}

func (e stubEstimator) Estimate(ctx context.Context, documentID uuid.UUID, chunkCount int, req jobs.GenerationRequest) (Estimate, error) {
	return Estimate{
		EstimationID:           "stub-estimate",
		EstimationVersion:      "stub-1",
		Chunks:                 chunkCount,
		EstimatedLLMTokens:     e.estimate * 10,
		EstimatedBillingTokens: e.estimate,
	}, nil
}

func (e stubEstimator) ComputeActualBillingTokens([]jobs.GeneratedQuestion, string, int64) (int64, error) {
	return e.actual, nil
}

func (stubEstimator) BillingTokensForLLM(llmTokens int64) int64 { return ceilDiv(llmTokens, 10) }

// hiddenActiveJobs makes the pre-check miss live jobs so creation reaches
// the unique index, as it would under a concurrent start.
type hiddenActiveJobs struct {
	repos.GenerationJobRepo
}

func (hiddenActiveJobs) GetActiveForUser(dbctx.Context, uuid.UUID) (*types.GenerationJob, error) {
	return nil, nil
}

type harness struct {
	t      *testing.T
	ctx    context.Context
	db     *gorm.DB
	rs     repos.Set
	ledger TokenLedger
	exec   *fakeExecutor
	svc    *quizGenerationService
}

type harnessOptions struct {
	estimator   Estimator
	autoRelease bool
	hideActive  bool
}

func newHarness(t *testing.T, opts harnessOptions) *harness {
	t.Helper()
	db := testutil.DB(t)
	log := testutil.Logger(t)
	rs := repos.NewSet(db, log)
	if opts.estimator == nil {
		opts.estimator = stubEstimator{estimate: 1000, actual: 400}
	}
	led := NewTokenLedger(db, log, rs, nil, TokenLedgerOptions{AutoReleaseOnCommit: opts.autoRelease, DefaultTTL: time.Hour})
	svcRepos := rs
	if opts.hideActive {
		svcRepos.Jobs = hiddenActiveJobs{rs.Jobs}
	}
	exec := &fakeExecutor{}
	svc := NewQuizGenerationService(QuizGenerationDeps{
		DB:        db,
		Log:       log,
		Repos:     svcRepos,
		Ledger:    led,
		Estimator: opts.estimator,
		Documents: NewDocumentService(db, log, rs.Documents, rs.DocumentChunks),
		Assembler: NewQuizAssembler(db, log, rs.Quizzes, nil, DefaultMaxTitleLength),
		Executor:  exec,
		Config: QuizGenerationConfig{
			StaleAfter:        10 * time.Minute,
			CommitOnCancel:    true,
			MinStartFeeTokens: 100,
			ReservationTTL:    time.Hour,
			MaxTitleLength:    DefaultMaxTitleLength,
		},
	})
	return &harness{t: t, ctx: context.Background(), db: db, rs: rs, ledger: led, exec: exec, svc: svc.(*quizGenerationService)}
}

func (h *harness) user(balance int64) uuid.UUID {
	h.t.Helper()
	userID := uuid.New()
	if _, err := h.ledger.Credit(dbctx.Background(h.ctx), userID, balance, "seed:"+userID.String()); err != nil {
		h.t.Fatalf("Credit: %v", err)
	}
	return userID
}

func (h *harness) document(owner uuid.UUID, chunks int) *types.Document {
	h.t.Helper()
	texts := make([]string, chunks)
	for i := range texts {
		texts[i] = "chunk text"
	}
	return testutil.SeedDocument(h.t, h.ctx, h.db, owner, "Cell Biology", texts...)
}

func (h *harness) start(userID uuid.UUID, doc *types.Document, title string) *types.GenerationJob {
	h.t.Helper()
	job, err := h.svc.StartGeneration(h.ctx, userID, request(doc.ID, title))
	if err != nil {
		h.t.Fatalf("StartGeneration: %v", err)
	}
	return job
}

func (h *harness) job(id uuid.UUID) *types.GenerationJob {
	h.t.Helper()
	job, err := h.rs.Jobs.GetByID(dbctx.Background(h.ctx), id)
	if err != nil || job == nil {
		h.t.Fatalf("load job %s: %v", id, err)
	}
	return job
}

func (h *harness) balance(userID uuid.UUID) ledger.Balance {
	h.t.Helper()
	bal, err := h.ledger.GetBalance(h.ctx, userID)
	if err != nil {
		h.t.Fatalf("GetBalance: %v", err)
	}
	return bal
}

func request(docID uuid.UUID, title string) jobs.GenerationRequest {
	return jobs.GenerationRequest{
		DocumentID:       docID,
		Title:            title,
		QuestionsPerType: map[string]int{jobs.QuestionMCQSingle: 2, jobs.QuestionOpen: 1},
		Difficulty:       jobs.DifficultyMedium,
	}
}

func questions(n int) []jobs.GeneratedQuestion {
	out := make([]jobs.GeneratedQuestion, n)
	for i := range out {
		out[i] = jobs.GeneratedQuestion{Type: jobs.QuestionMCQSingle, Prompt: "What is a cell?"}
	}
	return out
}

func success(job *types.GenerationJob, chunkQuestions map[int][]jobs.GeneratedQuestion) jobs.CompletionEvent {
	return jobs.CompletionEvent{
		EventID:         uuid.New(),
		JobID:           job.ID,
		Outcome:         jobs.CompletionSucceeded,
		ChunkQuestions:  chunkQuestions,
		OriginalRequest: job.Request.Data(),
		EmittedAt:       time.Now().UTC(),
	}
}

func TestStartGenerationReservesAndDispatches(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	userID := h.user(5000)
	doc := h.document(userID, 2)

	job := h.start(userID, doc, "Cells")
	if job.Status != jobs.StatusPending || job.BillingState != jobs.BillingReserved {
		t.Fatalf("job status=%s billing=%s", job.Status, job.BillingState)
	}
	if job.BillingReservationID == nil || job.BillingEstimatedTokens != 1000 || job.TotalChunks != 2 {
		t.Fatalf("billing fields %+v", job)
	}
	if got := job.IdempotencyKeys.Data().Reserve; got != job.ID.String()+":reserve" {
		t.Fatalf("reserve key %q", got)
	}
	if len(h.exec.dispatched) != 1 || h.exec.dispatched[0] != job.ID {
		t.Fatalf("dispatched %v", h.exec.dispatched)
	}
	if bal := h.balance(userID); bal.Reserved != 1000 || bal.Available != 4000 {
		t.Fatalf("balance %+v", bal)
	}
}

func TestStartGenerationInsufficientTokens(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	userID := h.user(600)
	doc := h.document(userID, 1)

	_, err := h.svc.StartGeneration(h.ctx, userID, request(doc.ID, ""))
	var insufficient *ledger.InsufficientTokensError
	if !errors.As(err, &insufficient) || insufficient.Shortfall != 400 {
		t.Fatalf("expected shortfall of 400, got %v", err)
	}
	list, _ := h.svc.ListJobs(h.ctx, userID, 10)
	if len(list) != 0 {
		t.Fatalf("no job should exist, got %d", len(list))
	}
}

func TestStartGenerationValidation(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	userID := h.user(5000)
	doc := h.document(userID, 1)
	empty := h.document(userID, 0)

	req := request(doc.ID, "")
	req.QuestionsPerType = map[string]int{}
	if _, err := h.svc.StartGeneration(h.ctx, userID, req); !domainagg.IsCode(err, domainagg.CodeValidation) {
		t.Fatalf("expected validation error for zero questions, got %v", err)
	}
	if _, err := h.svc.StartGeneration(h.ctx, userID, request(empty.ID, "")); !domainagg.IsCode(err, domainagg.CodeValidation) {
		t.Fatalf("expected validation error for a document without chunks, got %v", err)
	}
	if _, err := h.svc.StartGeneration(h.ctx, uuid.New(), request(doc.ID, "")); !domainagg.IsCode(err, domainagg.CodeNotFound) {
		t.Fatalf("expected not found for someone else's document, got %v", err)
	}
	if bal := h.balance(userID); bal.Reserved != 0 {
		t.Fatalf("rejected requests must not reserve: %+v", bal)
	}
}

func TestStartGenerationRejectsSecondActiveJob(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	userID := h.user(5000)
	doc := h.document(userID, 1)
	h.start(userID, doc, "")

	_, err := h.svc.StartGeneration(h.ctx, userID, request(doc.ID, ""))
	if !errors.Is(err, ErrActiveJobExists) || !domainagg.IsCode(err, domainagg.CodeValidation) {
		t.Fatalf("expected active job validation error, got %v", err)
	}
	if bal := h.balance(userID); bal.Reserved != 1000 {
		t.Fatalf("only the first job may hold tokens: %+v", bal)
	}
}

func TestStartGenerationReleasesReservationOnConflict(t *testing.T) {
	h := newHarness(t, harnessOptions{hideActive: true})
	userID := h.user(5000)
	doc := h.document(userID, 1)
	first := h.start(userID, doc, "")

	_, err := h.svc.StartGeneration(h.ctx, userID, request(doc.ID, ""))
	if !errors.Is(err, ErrActiveJobExists) {
		t.Fatalf("expected active job error, got %v", err)
	}
	if bal := h.balance(userID); bal.Reserved != 1000 || bal.Balance != 5000 {
		t.Fatalf("the losing attempt's reservation must be released: %+v", bal)
	}
	active, _ := h.rs.Jobs.GetActiveForUser(dbctx.Background(h.ctx), userID)
	if active == nil || active.ID != first.ID {
		t.Fatalf("first job must remain the only active job")
	}
}

func TestStartGenerationCancelsStaleJob(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	userID := h.user(5000)
	doc := h.document(userID, 1)
	stale := testutil.SeedJob(t, h.ctx, h.db, userID, doc.ID, jobs.StatusProcessing, time.Now().UTC().Add(-time.Hour))

	job := h.start(userID, doc, "")
	if job.ID == stale.ID || job.Status != jobs.StatusPending {
		t.Fatalf("new job %+v", job)
	}
	old := h.job(stale.ID)
	if old.Status != jobs.StatusCancelled {
		t.Fatalf("stale job status %s", old.Status)
	}
	h.exec.mu.Lock()
	defer h.exec.mu.Unlock()
	if len(h.exec.cancelled) != 1 || h.exec.cancelled[0] != stale.ID {
		t.Fatalf("stale job execution not stopped: cancelled=%v", h.exec.cancelled)
	}
}

func TestStartGenerationFailsJobWhenDispatchFails(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	h.exec.err = errors.New("executor unavailable")
	userID := h.user(5000)
	doc := h.document(userID, 1)

	if _, err := h.svc.StartGeneration(h.ctx, userID, request(doc.ID, "")); err == nil {
		t.Fatalf("expected dispatch error")
	}
	list, _ := h.svc.ListJobs(h.ctx, userID, 10)
	if len(list) != 1 || list[0].Status != jobs.StatusFailed || list[0].BillingState != jobs.BillingReleased {
		t.Fatalf("job after failed dispatch %+v", list)
	}
	if bal := h.balance(userID); bal.Reserved != 0 || bal.Available != 5000 {
		t.Fatalf("balance %+v", bal)
	}
}

func TestGetJobScopedToOwner(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	userID := h.user(5000)
	doc := h.document(userID, 1)
	job := h.start(userID, doc, "")

	if _, err := h.svc.GetJob(h.ctx, uuid.New(), job.ID); !domainagg.IsCode(err, domainagg.CodeNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	got, err := h.svc.GetJob(h.ctx, userID, job.ID)
	if err != nil || got.ID != job.ID {
		t.Fatalf("GetJob: %v", err)
	}
}

func TestMarkProcessingAndProgress(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	userID := h.user(5000)
	doc := h.document(userID, 2)
	job := h.start(userID, doc, "")

	ok, err := h.svc.MarkProcessing(h.ctx, job.ID)
	if err != nil || !ok {
		t.Fatalf("MarkProcessing: ok=%v err=%v", ok, err)
	}
	if ok, _ := h.svc.MarkProcessing(h.ctx, job.ID); !ok {
		t.Fatalf("MarkProcessing must be repeatable while processing")
	}
	if err := h.svc.RecordProgress(h.ctx, job.ID, jobs.ProgressUpdate{ProcessedChunks: 1, StartedAICalls: true, LLMTokensSoFar: 800, InputPromptTokens: 300}); err != nil {
		t.Fatalf("RecordProgress: %v", err)
	}
	got := h.job(job.ID)
	if got.Status != jobs.StatusProcessing || got.ProcessedChunks != 1 || !got.HasStartedAICalls || got.LLMTokensSoFar != 800 || got.HeartbeatAt == nil {
		t.Fatalf("job after progress %+v", got)
	}

	if _, err := h.svc.CancelJob(h.ctx, userID, job.ID); err != nil {
		t.Fatalf("CancelJob: %v", err)
	}
	if ok, err := h.svc.MarkProcessing(h.ctx, job.ID); err != nil || ok {
		t.Fatalf("MarkProcessing on a cancelled job: ok=%v err=%v", ok, err)
	}
	if err := h.svc.RecordProgress(h.ctx, job.ID, jobs.ProgressUpdate{ProcessedChunks: 2}); err != nil {
		t.Fatalf("RecordProgress on a cancelled job: %v", err)
	}
	if got := h.job(job.ID); got.ProcessedChunks != 1 {
		t.Fatalf("progress must be ignored once finished, processed=%d", got.ProcessedChunks)
	}
}
