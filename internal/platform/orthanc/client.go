package orthanc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// ErrNotFound is returned when the archive does not know the requested
// resource. Callers distinguish it from transient failures because a missing
// resource will not appear on retry.
var ErrNotFound = errors.New("orthanc: not found")

// Per-call timeouts. Calls whose failure aborts ingestion get more headroom
// than calls the extractor can route around.
const (
	studyTimeout          = 15 * time.Second
	studyInstancesTimeout = 10 * time.Second
	seriesTimeout         = 5 * time.Second
	instanceTagsTimeout   = 3 * time.Second
	pingTimeout           = 5 * time.Second
)

// Client talks to the Orthanc REST API.
type Client struct {
	baseURL    string
	username   string
	password   string
	httpClient *http.Client
	logger     zerolog.Logger
}

func NewClient(baseURL, username, password string, logger zerolog.Logger) *Client {
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		username: username,
		password: password,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logger,
	}
}

// Study fetches the study summary. This is the entry point of every
// extraction; without it nothing downstream can run.
func (c *Client) Study(ctx context.Context, id string) (*StudyDetails, error) {
	var details StudyDetails
	if err := c.get(ctx, fmt.Sprintf("/studies/%s", id), studyTimeout, &details); err != nil {
		return nil, fmt.Errorf("study %s: %w", id, err)
	}
	return &details, nil
}

// StudyInstances fetches every instance of a study in one call.
func (c *Client) StudyInstances(ctx context.Context, id string) ([]Instance, error) {
	var instances []Instance
	if err := c.get(ctx, fmt.Sprintf("/studies/%s/instances", id), studyInstancesTimeout, &instances); err != nil {
		return nil, fmt.Errorf("study %s instances: %w", id, err)
	}
	return instances, nil
}

// Series fetches one series summary.
func (c *Client) Series(ctx context.Context, id string) (*SeriesDetails, error) {
	var details SeriesDetails
	if err := c.get(ctx, fmt.Sprintf("/series/%s", id), seriesTimeout, &details); err != nil {
		return nil, fmt.Errorf("series %s: %w", id, err)
	}
	return &details, nil
}

// InstanceTags fetches the simplified DICOM tags of one instance. Keys are
// tag keywords (PatientName, Modality, ...), values are their string form.
func (c *Client) InstanceTags(ctx context.Context, id string) (map[string]string, error) {
	var tags map[string]string
	if err := c.get(ctx, fmt.Sprintf("/instances/%s/simplified-tags", id), instanceTagsTimeout, &tags); err != nil {
		return nil, fmt.Errorf("instance %s tags: %w", id, err)
	}
	return tags, nil
}

// Ping checks that the archive answers at all. Used by the health endpoint.
func (c *Client) Ping(ctx context.Context) (*SystemInfo, error) {
	var info SystemInfo
	if err := c.get(ctx, "/system", pingTimeout, &info); err != nil {
		return nil, fmt.Errorf("system: %w", err)
	}
	return &info, nil
}

func (c *Client) get(ctx context.Context, path string, timeout time.Duration, out interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.username != "" {
		req.SetBasicAuth(c.username, c.password)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		c.logger.Warn().
			Str("path", path).
			Int("status", resp.StatusCode).
			Str("body", string(body)).
			Msg("archive returned non-OK status")
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
