package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/yungbote/quizgen-backend/internal/platform/logger"
)

func TestGenerateJSONRetriesAndParses(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/responses" || r.Header.Get("Authorization") != "Bearer test-key" {
			t.Errorf("unexpected request %s %s", r.URL.Path, r.Header.Get("Authorization"))
		}
		if atomic.AddInt32(&calls, 1) == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		var req responsesRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode: %v", err)
		}
		if req.Text.Format["name"] != "quiz_questions" {
			t.Errorf("schema name %v", req.Text.Format["name"])
		}
		_, _ = w.Write([]byte(`{
			"output":[{"type":"message","role":"assistant","content":[{"type":"output_text","text":"{\"questions\":[]}"}]}],
			"usage":{"input_tokens":120,"output_tokens":30,"total_tokens":150}
		}`))
	}))
	defer srv.Close()

	c, err := NewClient(logger.NewNop(), Config{APIKey: "test-key", BaseURL: srv.URL, Model: "m", Timeout: 5 * time.Second, MaxRetries: 2}, nil)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	res, err := c.GenerateJSON(context.Background(), "sys", "user", "quiz_questions", map[string]any{"type": "object"})
	if err != nil {
		t.Fatalf("GenerateJSON: %v", err)
	}
	if atomic.LoadInt32(&calls) != 2 {
		t.Fatalf("expected one retry, got %d calls", calls)
	}
	if _, ok := res.Object["questions"]; !ok || res.Usage.InputTokens != 120 || res.Usage.OutputTokens != 30 {
		t.Fatalf("result %+v", res)
	}
}

func TestGenerateJSONDoesNotRetryClientErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c, _ := NewClient(logger.NewNop(), Config{APIKey: "k", BaseURL: srv.URL, MaxRetries: 3}, nil)
	if _, err := c.GenerateJSON(context.Background(), "s", "u", "n", map[string]any{}); err == nil {
		t.Fatalf("expected error")
	}
	if calls != 1 {
		t.Fatalf("400 must not be retried, got %d calls", calls)
	}
}
