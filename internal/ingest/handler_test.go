package ingest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/radgate/radgate/internal/platform/middleware"
)

func newTestIngestHandler(runner Runner) (*Handler, *Queue, *ResultCache, *echo.Echo) {
	results := NewResultCache(time.Hour)
	queue := NewQueue(runner, results, Options{PollInterval: 5 * time.Millisecond}, zerolog.Nop())
	return NewHandler(queue, results), queue, results, echo.New()
}

func TestNormalizePayload(t *testing.T) {
	cases := []struct {
		name string
		body string
		want string
		ok   bool
	}{
		{"json string", `"abc123"`, "abc123", true},
		{"json string padded", `"  abc123  "`, "abc123", true},
		{"object with studyId", `{"studyId": "abc123"}`, "abc123", true},
		{"object with ID", `{"ID": "abc123"}`, "abc123", true},
		{"single key object", `{"abc123": ""}`, "abc123", true},
		{"empty studyId falls back to the key", `{"studyId": ""}`, "studyId", true},
		{"plain text", "abc123", "abc123", true},
		{"plain text padded", "  abc123\n", "abc123", true},
		{"empty body", "", "", false},
		{"whitespace body", "   ", "", false},
		{"empty json string", `""`, "", false},
		{"number", `42`, "", false},
		{"bool", `true`, "", false},
		{"null", `null`, "", false},
		{"array", `["abc123"]`, "", false},
		{"empty object", `{}`, "", false},
		{"multi key object without id field", `{"a": "1", "b": "2"}`, "", false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := NormalizePayload([]byte(tc.body))
			if ok != tc.ok {
				t.Fatalf("expected ok=%v, got %v", tc.ok, ok)
			}
			if ok && got != tc.want {
				t.Errorf("expected %q, got %q", tc.want, got)
			}
		})
	}
}

func TestReceiveNotification(t *testing.T) {
	h, queue, _, e := newTestIngestHandler(&fakeRunner{})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/ingest/notifications", strings.NewReader(`{"abc123": ""}`))
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.ReceiveNotification(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rec.Code)
	}

	var resp enqueueResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.JobID != 1 || resp.Status != JobStatusWaiting {
		t.Errorf("unexpected response: %+v", resp)
	}
	if resp.RequestID == "" {
		t.Error("a request id must be minted when the caller sends none")
	}
	if resp.StatusURL != statusPath+resp.RequestID {
		t.Errorf("unexpected status url %s", resp.StatusURL)
	}

	job, ok := queue.GetJobByRequestID(resp.RequestID)
	if !ok {
		t.Fatal("the job must be registered")
	}
	if job.Payload.ExternalStudyID != "abc123" {
		t.Errorf("expected external id abc123, got %s", job.Payload.ExternalStudyID)
	}
	if job.Payload.RawNotification != `{"abc123": ""}` {
		t.Errorf("the raw body must be preserved, got %q", job.Payload.RawNotification)
	}
}

func TestReceiveNotification_BadPayload(t *testing.T) {
	h, queue, _, e := newTestIngestHandler(&fakeRunner{})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/ingest/notifications", strings.NewReader(`{"a": "1", "b": "2"}`))
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	err := h.ReceiveNotification(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusBadRequest {
		t.Fatalf("expected a 400, got %v", err)
	}
	msg, _ := he.Message.(string)
	if !strings.Contains(msg, "cannot determine study id") || !strings.Contains(msg, `{\"a\"`) {
		t.Errorf("the diagnostic must quote the payload, got %q", msg)
	}
	if s := queue.Stats(); s.Waiting+s.Active+s.Completed+s.Failed != 0 {
		t.Error("a rejected payload must not enqueue a job")
	}
}

func TestReceiveNotification_PreservesRequestID(t *testing.T) {
	h, _, _, e := newTestIngestHandler(&fakeRunner{})
	e.Use(middleware.RequestID())
	h.RegisterRoutes(e.Group("/api/v1"))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/ingest/notifications", strings.NewReader(`"abc123"`))
	req.Header.Set(middleware.RequestIDHeader, "req-42")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp enqueueResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.RequestID != "req-42" {
		t.Errorf("expected the caller's request id, got %s", resp.RequestID)
	}
}

func TestJobStatus(t *testing.T) {
	release := make(chan struct{})
	runner := &fakeRunner{fn: func(_ context.Context, _ Payload, progress func(int)) (*Outcome, error) {
		progress(50)
		<-release
		return &Outcome{StudyUID: "1.2.3", Status: "new-study-received"}, nil
	}}
	h, queue, results, e := newTestIngestHandler(runner)

	queue.Enqueue(Payload{RequestID: "r1", ExternalStudyID: "abc"})
	waitFor(t, time.Second, func() bool {
		j, ok := queue.GetJobByRequestID("r1")
		return ok && j.Status == JobStatusActive && j.Progress == 50
	}, "job never became active")

	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)
	c.SetParamNames("requestId")
	c.SetParamValues("r1")
	if err := h.JobStatus(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var live jobStatusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &live); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if live.Status != JobStatusActive || live.Progress != 50 || live.Outcome != nil {
		t.Errorf("unexpected live status: %+v", live)
	}

	close(release)
	waitFor(t, time.Second, func() bool {
		_, ok := results.Get("r1")
		return ok
	}, "result never cached")

	rec = httptest.NewRecorder()
	c = e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)
	c.SetParamNames("requestId")
	c.SetParamValues("r1")
	if err := h.JobStatus(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var done jobStatusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &done); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if done.Status != JobStatusCompleted || done.Progress != 100 {
		t.Errorf("unexpected terminal status: %+v", done)
	}
	if done.Outcome == nil || done.Outcome.StudyUID != "1.2.3" {
		t.Errorf("expected the outcome, got %+v", done.Outcome)
	}
	if done.CompletedAt == nil {
		t.Error("a terminal status must carry its completion time")
	}
}

func TestJobStatus_ServedFromCacheAfterEviction(t *testing.T) {
	h, _, results, e := newTestIngestHandler(&fakeRunner{})
	results.Put(JobResult{
		JobID:       7,
		RequestID:   "gone",
		Status:      JobStatusCompleted,
		Progress:    100,
		Outcome:     &Outcome{StudyUID: "1.2.3"},
		CompletedAt: time.Now(),
	})

	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)
	c.SetParamNames("requestId")
	c.SetParamValues("gone")
	if err := h.JobStatus(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var resp jobStatusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.JobID != 7 || resp.Status != JobStatusCompleted {
		t.Errorf("unexpected response: %+v", resp)
	}
}

func TestJobStatus_Unknown(t *testing.T) {
	h, _, _, e := newTestIngestHandler(&fakeRunner{})

	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)
	c.SetParamNames("requestId")
	c.SetParamValues("never-seen")

	err := h.JobStatus(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusNotFound {
		t.Errorf("expected a 404, got %v", err)
	}
}
