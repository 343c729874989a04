package ingest

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/radgate/radgate/internal/platform/middleware"
)

// statusPath is where enqueued callers poll for their job's state.
const statusPath = "/api/v1/ingest/jobs/"

// Payload excerpts in error responses are capped so a garbage body cannot
// balloon the response.
const maxEchoedPayload = 200

// Handler exposes notification intake and job polling. These endpoints sit
// outside the authenticated API surface; the archive's notification hook
// cannot carry user tokens.
type Handler struct {
	queue   *Queue
	results *ResultCache
}

func NewHandler(queue *Queue, results *ResultCache) *Handler {
	return &Handler{queue: queue, results: results}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/ingest")
	g.POST("/notifications", h.ReceiveNotification)
	g.GET("/jobs/:requestId", h.JobStatus)
}

type enqueueResponse struct {
	JobID     int64  `json:"jobId"`
	RequestID string `json:"requestId"`
	Status    string `json:"status"`
	StatusURL string `json:"statusUrl"`
}

type jobStatusResponse struct {
	JobID       int64      `json:"jobId"`
	RequestID   string     `json:"requestId"`
	Status      string     `json:"status"`
	Progress    int        `json:"progress"`
	Error       string     `json:"error,omitempty"`
	Outcome     *Outcome   `json:"outcome,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// ReceiveNotification accepts a "study complete" notification, derives the
// external study id from whichever payload shape the archive sent, and
// enqueues a processing job. It replies 202 immediately; callers poll the
// status URL for the outcome.
func (h *Handler) ReceiveNotification(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "reading request body failed")
	}

	externalID, ok := NormalizePayload(body)
	if !ok {
		return echo.NewHTTPError(http.StatusBadRequest,
			fmt.Sprintf("cannot determine study id from payload %q", truncatePayload(string(body))))
	}

	rid := requestID(c)
	job := h.queue.Enqueue(Payload{
		ExternalStudyID: externalID,
		RequestID:       rid,
		SubmittedAt:     time.Now(),
		RawNotification: string(body),
	})

	return c.JSON(http.StatusAccepted, enqueueResponse{
		JobID:     job.ID,
		RequestID: rid,
		Status:    job.Status,
		StatusURL: statusPath + rid,
	})
}

// JobStatus reports a job's state by request id. The result cache answers
// first so terminal outcomes stay queryable after the job itself is evicted;
// the live queue covers jobs still waiting or active.
func (h *Handler) JobStatus(c echo.Context) error {
	rid := c.Param("requestId")

	if res, ok := h.results.Get(rid); ok {
		completed := res.CompletedAt
		return c.JSON(http.StatusOK, jobStatusResponse{
			JobID:       res.JobID,
			RequestID:   res.RequestID,
			Status:      res.Status,
			Progress:    res.Progress,
			Error:       res.Error,
			Outcome:     res.Outcome,
			CompletedAt: &completed,
		})
	}

	if job, ok := h.queue.GetJobByRequestID(rid); ok {
		return c.JSON(http.StatusOK, jobStatusResponse{
			JobID:     job.ID,
			RequestID: rid,
			Status:    job.Status,
			Progress:  job.Progress,
			Error:     job.Error,
		})
	}

	return echo.NewHTTPError(http.StatusNotFound, "unknown request id")
}

// NormalizePayload extracts the external study id from a notification body.
// Archive deployments send several shapes: a bare JSON string, an object with
// a studyId or ID field, an object whose single key is the id itself, or a
// plain-text body.
func NormalizePayload(body []byte) (string, bool) {
	raw := strings.TrimSpace(string(body))
	if raw == "" {
		return "", false
	}

	var v interface{}
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		// Plain-text hook scripts post the bare id.
		return raw, true
	}

	switch t := v.(type) {
	case string:
		t = strings.TrimSpace(t)
		return t, t != ""
	case map[string]interface{}:
		for _, field := range []string{"studyId", "ID"} {
			if s, ok := t[field].(string); ok {
				if s = strings.TrimSpace(s); s != "" {
					return s, true
				}
			}
		}
		if len(t) == 1 {
			for k := range t {
				k = strings.TrimSpace(k)
				return k, k != ""
			}
		}
	}
	return "", false
}

// requestID prefers the id stamped by the request-id middleware, then the
// caller's own header, then mints one.
func requestID(c echo.Context) string {
	if rid, ok := c.Get("request_id").(string); ok && rid != "" {
		return rid
	}
	if rid := c.Request().Header.Get(middleware.RequestIDHeader); rid != "" {
		return rid
	}
	return uuid.New().String()
}

func truncatePayload(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > maxEchoedPayload {
		return s[:maxEchoedPayload] + "..."
	}
	return s
}
