package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/skillbridge/skillbridge/internal/nlp"
	"github.com/skillbridge/skillbridge/internal/queue"
)

type stubNLP struct {
	models   []string
	entities map[string][]nlp.Entity
	err      error
}

func (s *stubNLP) ListModels(context.Context) ([]string, error) {
	return s.models, s.err
}

func (s *stubNLP) ExtractEntities(_ context.Context, text, _ string) ([]nlp.Entity, error) {
	return s.entities[text], s.err
}

func (s *stubNLP) ExtractDistinctEntities(_ context.Context, text string) ([]nlp.Entity, error) {
	return s.entities[text], s.err
}

func newTestServer(t *testing.T, handler queue.Handler, capacity int) (*Server, *queue.Queue) {
	t.Helper()

	handlers := map[queue.Type]queue.Handler{}
	if handler != nil {
		handlers[queue.TypeCourseRecommendation] = handler
	}

	q := queue.New(queue.Config{
		Capacity:   capacity,
		JobTimeout: 5 * time.Second,
	}, handlers, zap.NewNop())

	nlpStub := &stubNLP{
		models: []string{"en_core_web_sm"},
		entities: map[string][]nlp.Entity{
			"resume": {{Text: "Go", Label: "SKILL"}},
			"job":    {{Text: "Go", Label: "SKILL"}, {Text: "Kubernetes", Label: "SKILL"}},
		},
	}

	return New(Config{Host: "127.0.0.1", Port: 0}, q, nlpStub, zap.NewNop()), q
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()

	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("response is not json: %v (%s)", err, rec.Body.String())
	}
	return out
}

func TestSubmitAndStatusRoundTrip(t *testing.T) {
	handler := func(context.Context, map[string]any) (map[string]any, error) {
		return map[string]any{"recommendations_text": "done"}, nil
	}

	s, q := newTestServer(t, handler, 10)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)
	defer q.Stop()

	rec := doJSON(t, s.Handler(), http.MethodPost, "/api/v1/jobs/submit", map[string]any{
		"type": "course_recommendation",
		"payload": map[string]any{
			"resume_text":          "resume",
			"job_description_text": "job",
		},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	body := decodeBody(t, rec)
	jobID, _ := body["job_id"].(string)
	if jobID == "" {
		t.Fatalf("response carries no job_id: %v", body)
	}
	if msg, _ := body["message"].(string); !strings.Contains(msg, "Position in queue: 1") {
		t.Fatalf("unexpected submission message: %q", msg)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		rec = doJSON(t, s.Handler(), http.MethodGet, "/api/v1/jobs/status/"+jobID, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
		}
		body = decodeBody(t, rec)
		if body["status"] == string(queue.StatusCompleted) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("job never completed: %v", body)
		}
		time.Sleep(5 * time.Millisecond)
	}

	result, _ := body["result"].(map[string]any)
	if result["recommendations_text"] != "done" {
		t.Fatalf("unexpected result: %v", body)
	}
}

func TestSubmitRejectsInvalidRequests(t *testing.T) {
	s, _ := newTestServer(t, nil, 10)

	cases := []struct {
		name string
		body map[string]any
	}{
		{"unknown type", map[string]any{"type": "mystery", "payload": map[string]any{"resume_text": "r", "job_description_text": "j"}}},
		{"missing payload", map[string]any{"type": "course_recommendation"}},
		{"missing resume_text", map[string]any{"type": "course_recommendation", "payload": map[string]any{"job_description_text": "j"}}},
		{"blank job_description_text", map[string]any{"type": "course_recommendation", "payload": map[string]any{"resume_text": "r", "job_description_text": "  "}}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := doJSON(t, s.Handler(), http.MethodPost, "/api/v1/jobs/submit", tc.body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
			}
		})
	}
}

func TestSubmitReportsQueueFull(t *testing.T) {
	// Worker never started, so one slot fills the queue for good.
	s, _ := newTestServer(t, nil, 1)

	body := map[string]any{
		"type": "course_recommendation",
		"payload": map[string]any{
			"resume_text":          "resume",
			"job_description_text": "job",
		},
	}

	if rec := doJSON(t, s.Handler(), http.MethodPost, "/api/v1/jobs/submit", body); rec.Code != http.StatusOK {
		t.Fatalf("first submission must succeed, got %d", rec.Code)
	}

	rec := doJSON(t, s.Handler(), http.MethodPost, "/api/v1/jobs/submit", body)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d: %s", rec.Code, rec.Body.String())
	}
	if resp := decodeBody(t, rec); !strings.Contains(fmt.Sprint(resp["error"]), "queue is full") {
		t.Fatalf("unexpected error body: %v", resp)
	}
}

func TestJobStatusNotFound(t *testing.T) {
	s, _ := newTestServer(t, nil, 10)

	rec := doJSON(t, s.Handler(), http.MethodGet, "/api/v1/jobs/status/no-such-job", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestQueueStatusEndpoint(t *testing.T) {
	s, _ := newTestServer(t, nil, 10)

	rec := doJSON(t, s.Handler(), http.MethodGet, "/api/v1/jobs/queue/status", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	body := decodeBody(t, rec)
	if _, ok := body["jobs_by_status"]; !ok {
		t.Fatalf("expected status buckets, got %v", body)
	}
	if body["worker_running"] != false {
		t.Fatalf("worker must be reported as stopped, got %v", body)
	}
}

func TestAnalyzeEndpoints(t *testing.T) {
	s, _ := newTestServer(t, nil, 10)

	rec := doJSON(t, s.Handler(), http.MethodPost, "/api/v1/analyze", map[string]any{"text": "resume"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if entities, _ := body["entities"].([]any); len(entities) != 1 {
		t.Fatalf("expected one entity, got %v", body)
	}

	rec = doJSON(t, s.Handler(), http.MethodPost, "/api/v1/analyze", map[string]any{"model": "en_core_web_sm"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing text must be a 400, got %d", rec.Code)
	}

	rec = doJSON(t, s.Handler(), http.MethodPost, "/api/v1/analyze/all", map[string]any{"text": "job"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	body = decodeBody(t, rec)
	if entities, _ := body["entities"].([]any); len(entities) != 2 {
		t.Fatalf("expected two entities, got %v", body)
	}
}

func TestListModels(t *testing.T) {
	s, _ := newTestServer(t, nil, 10)

	rec := doJSON(t, s.Handler(), http.MethodGet, "/api/v1/models", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if models, _ := body["available_models"].([]any); len(models) != 1 {
		t.Fatalf("expected one model, got %v", body)
	}
}

func TestCompareSkillsEndpoint(t *testing.T) {
	s, _ := newTestServer(t, nil, 10)

	rec := doJSON(t, s.Handler(), http.MethodPost, "/api/v1/compare-skills", map[string]any{
		"resume_text":          "resume",
		"job_description_text": "job",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	body := decodeBody(t, rec)
	missing, _ := body["missing_skills"].([]any)
	if len(missing) != 1 {
		t.Fatalf("expected one missing skill, got %v", body)
	}
	entity, _ := missing[0].(map[string]any)
	if entity["text"] != "Kubernetes" {
		t.Fatalf("expected Kubernetes to be missing, got %v", missing)
	}
}

func TestHealthAndReadiness(t *testing.T) {
	s, q := newTestServer(t, nil, 10)

	if rec := doJSON(t, s.Handler(), http.MethodGet, "/healthz", nil); rec.Code != http.StatusOK {
		t.Fatalf("healthz must always be 200, got %d", rec.Code)
	}

	if rec := doJSON(t, s.Handler(), http.MethodGet, "/readyz", nil); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("readyz must be 503 before the worker starts, got %d", rec.Code)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)
	defer q.Stop()

	if rec := doJSON(t, s.Handler(), http.MethodGet, "/readyz", nil); rec.Code != http.StatusOK {
		t.Fatalf("readyz must be 200 once the worker runs, got %d", rec.Code)
	}
}
