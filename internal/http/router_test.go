package http

import (
	"bytes"
	"context"
	"encoding/json"
	nethttp "net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/quizgen-backend/internal/data/repos"
	"github.com/yungbote/quizgen-backend/internal/data/repos/testutil"
	types "github.com/yungbote/quizgen-backend/internal/domain"
	httpH "github.com/yungbote/quizgen-backend/internal/http/handlers"
	httpMW "github.com/yungbote/quizgen-backend/internal/http/middleware"
	"github.com/yungbote/quizgen-backend/internal/platform/dbctx"
	"github.com/yungbote/quizgen-backend/internal/services"
	"github.com/yungbote/quizgen-backend/internal/services/costtable"
)

const routerSecret = "router-test-secret"

type nopExecutor struct{}

func (nopExecutor) Dispatch(context.Context, *types.GenerationJob) error { return nil }
func (nopExecutor) Cancel(context.Context, uuid.UUID) error            { return nil }

type api struct {
	t      *testing.T
	db     *gorm.DB
	engine *gin.Engine
	ledger services.TokenLedger
}

func newAPI(t *testing.T) *api {
	t.Helper()
	gin.SetMode(gin.TestMode)
	db := testutil.DB(t)
	log := testutil.Logger(t)
	rs := repos.NewSet(db, log)
	table, err := costtable.Default()
	if err != nil {
		t.Fatalf("cost table: %v", err)
	}
	led := services.NewTokenLedger(db, log, rs, nil, services.TokenLedgerOptions{DefaultTTL: time.Hour})
	svc := services.NewQuizGenerationService(services.QuizGenerationDeps{
		DB:        db,
		Log:       log,
		Repos:     rs,
		Ledger:    led,
		Estimator: services.NewEstimator(log, table),
		Documents: services.NewDocumentService(db, log, rs.Documents, rs.DocumentChunks),
		Assembler: services.NewQuizAssembler(db, log, rs.Quizzes, nil, services.DefaultMaxTitleLength),
		Executor:  nopExecutor{},
		Config: services.QuizGenerationConfig{
			StaleAfter:        10 * time.Minute,
			CommitOnCancel:    true,
			MinStartFeeTokens: 100,
			ReservationTTL:    time.Hour,
			MaxTitleLength:    services.DefaultMaxTitleLength,
		},
	})
	engine := NewRouter(RouterConfig{
		Log:                   log,
		AuthMiddleware:        httpMW.NewAuthMiddleware(log, routerSecret, ""),
		QuizGenerationHandler: httpH.NewQuizGenerationHandler(svc),
		TokenHandler:          httpH.NewTokenHandler(led),
		HealthHandler:         httpH.NewHealthHandler(db),
	})
	return &api{t: t, db: db, engine: engine, ledger: led}
}

func (a *api) user(balance int64) uuid.UUID {
	a.t.Helper()
	id := uuid.New()
	if balance > 0 {
		if _, err := a.ledger.Credit(dbctx.Background(context.Background()), id, balance, "seed:"+id.String()); err != nil {
			a.t.Fatalf("Credit: %v", err)
		}
	}
	return id
}

func (a *api) token(userID uuid.UUID) string {
	a.t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   userID.String(),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString([]byte(routerSecret))
	if err != nil {
		a.t.Fatalf("sign: %v", err)
	}
	return s
}

func (a *api) do(method, path string, userID uuid.UUID, body any) (*httptest.ResponseRecorder, map[string]any) {
	a.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			a.t.Fatalf("encode: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if userID != uuid.Nil {
		req.Header.Set("Authorization", "Bearer "+a.token(userID))
	}
	rec := httptest.NewRecorder()
	a.engine.ServeHTTP(rec, req)
	out := map[string]any{}
	_ = json.Unmarshal(rec.Body.Bytes(), &out)
	return rec, out
}

func startBody(docID uuid.UUID) map[string]any {
	return map[string]any{
		"document_id":        docID.String(),
		"title":              "Cells",
		"questions_per_type": map[string]int{"mcq_single": 2, "open": 1},
		"difficulty":         "medium",
	}
}

func errorCode(out map[string]any) string {
	e, _ := out["error"].(map[string]any)
	code, _ := e["code"].(string)
	return code
}

func jobID(t *testing.T, out map[string]any) string {
	t.Helper()
	job, _ := out["job"].(map[string]any)
	id, _ := job["id"].(string)
	if id == "" {
		t.Fatalf("response has no job id: %v", out)
	}
	return id
}

func TestQuizGenerationRoutes(t *testing.T) {
	a := newAPI(t)
	userID := a.user(10000)
	doc := testutil.SeedDocument(t, context.Background(), a.db, userID, "Cell Biology", "Cells divide by mitosis.")

	rec, out := a.do(nethttp.MethodPost, "/api/quiz-generations", userID, startBody(doc.ID))
	if rec.Code != nethttp.StatusAccepted {
		t.Fatalf("start: status=%d body=%s", rec.Code, rec.Body.String())
	}
	id := jobID(t, out)

	rec, out = a.do(nethttp.MethodPost, "/api/quiz-generations", userID, startBody(doc.ID))
	if rec.Code != nethttp.StatusConflict || errorCode(out) != "active_job_exists" {
		t.Fatalf("second start: status=%d body=%s", rec.Code, rec.Body.String())
	}

	rec, _ = a.do(nethttp.MethodGet, "/api/quiz-generations/"+id, userID, nil)
	if rec.Code != nethttp.StatusOK {
		t.Fatalf("get: status=%d", rec.Code)
	}
	rec, out = a.do(nethttp.MethodGet, "/api/quiz-generations/"+id, a.user(0), nil)
	if rec.Code != nethttp.StatusNotFound || errorCode(out) != "not_found" {
		t.Fatalf("get as stranger: status=%d body=%s", rec.Code, rec.Body.String())
	}

	rec, out = a.do(nethttp.MethodGet, "/api/quiz-generations", userID, nil)
	if jobsOut, _ := out["jobs"].([]any); rec.Code != nethttp.StatusOK || len(jobsOut) != 1 {
		t.Fatalf("list: status=%d body=%s", rec.Code, rec.Body.String())
	}

	rec, out = a.do(nethttp.MethodGet, "/api/tokens/balance", userID, nil)
	bal, _ := out["balance"].(map[string]any)
	if rec.Code != nethttp.StatusOK || bal["reserved"].(float64) <= 0 {
		t.Fatalf("balance: status=%d body=%s", rec.Code, rec.Body.String())
	}

	rec, _ = a.do(nethttp.MethodPost, "/api/quiz-generations/"+id+"/cancel", userID, nil)
	if rec.Code != nethttp.StatusOK {
		t.Fatalf("cancel: status=%d body=%s", rec.Code, rec.Body.String())
	}
	rec, out = a.do(nethttp.MethodPost, "/api/quiz-generations/"+id+"/cancel", userID, nil)
	if rec.Code != nethttp.StatusConflict || errorCode(out) != "job_terminal" {
		t.Fatalf("second cancel: status=%d body=%s", rec.Code, rec.Body.String())
	}
}

func TestStartWithoutEnoughTokens(t *testing.T) {
	a := newAPI(t)
	userID := a.user(10)
	doc := testutil.SeedDocument(t, context.Background(), a.db, userID, "Cell Biology", "Cells divide by mitosis.")

	rec, out := a.do(nethttp.MethodPost, "/api/quiz-generations", userID, startBody(doc.ID))
	if rec.Code != nethttp.StatusPaymentRequired || errorCode(out) != "insufficient_tokens" {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
	}
	details, _ := out["error"].(map[string]any)["details"].(map[string]any)
	if details["available"].(float64) != 10 || details["shortfall"].(float64) <= 0 {
		t.Fatalf("details %v", details)
	}
}

func TestStartRejectsBadInput(t *testing.T) {
	a := newAPI(t)
	userID := a.user(10000)
	doc := testutil.SeedDocument(t, context.Background(), a.db, userID, "Cell Biology", "Cells divide by mitosis.")

	body := startBody(doc.ID)
	body["questions_per_type"] = map[string]int{"essay": 3}
	rec, out := a.do(nethttp.MethodPost, "/api/quiz-generations", userID, body)
	if rec.Code != nethttp.StatusBadRequest || errorCode(out) != "validation" {
		t.Fatalf("unknown type: status=%d body=%s", rec.Code, rec.Body.String())
	}

	rec, _ = a.do(nethttp.MethodPost, "/api/quiz-generations", userID, map[string]any{"document_id": "nope"})
	if rec.Code != nethttp.StatusBadRequest {
		t.Fatalf("bad uuid: status=%d", rec.Code)
	}
	rec, _ = a.do(nethttp.MethodGet, "/api/quiz-generations/not-a-uuid", userID, nil)
	if rec.Code != nethttp.StatusBadRequest {
		t.Fatalf("bad path id: status=%d", rec.Code)
	}
}

func TestAuthAndHealth(t *testing.T) {
	a := newAPI(t)
	rec, out := a.do(nethttp.MethodGet, "/api/tokens/balance", uuid.Nil, nil)
	if rec.Code != nethttp.StatusUnauthorized || errorCode(out) != "unauthorized" {
		t.Fatalf("unauthenticated: status=%d body=%s", rec.Code, rec.Body.String())
	}
	rec, _ = a.do(nethttp.MethodGet, "/healthcheck", uuid.Nil, nil)
	if rec.Code != nethttp.StatusOK || rec.Body.String() != "ok" {
		t.Fatalf("health: status=%d body=%s", rec.Code, rec.Body.String())
	}
}
