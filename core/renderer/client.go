// Package renderer is the HTTP client for the external video-rendering
// service. The service is an opaque collaborator: it assigns job ids,
// owns all job state, and is only ever read through its status endpoint.
package renderer

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"video-orchestrator/core/models"
)

// requestTimeout bounds one status or submission request, independent of
// the whole-job wall-clock bound enforced by the poller.
const requestTimeout = 30 * time.Second

// Client calls the rendering service with bearer-token auth
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewClient creates a rendering-service client
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		// No client-level timeout: video downloads stream past 30s.
		// Submit and Status bound themselves via context.
		httpClient: &http.Client{},
	}
}

type submitResponse struct {
	JobID string `json:"jobId"`
}

// Submit sends a validated generation request and returns the assigned
// job id. Any non-2xx response or transport failure reports
// ErrSubmissionFailed; the caller must not have deducted credits yet.
func (c *Client) Submit(ctx context.Context, input models.SubmitInput) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	body, err := json.Marshal(input)
	if err != nil {
		return "", fmt.Errorf("%w: encode request: %v", models.ErrSubmissionFailed, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/generate-video", strings.NewReader(string(body)))
	if err != nil {
		return "", fmt.Errorf("%w: %v", models.ErrSubmissionFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", models.ErrSubmissionFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("%w: rendering service returned %d", models.ErrSubmissionFailed, resp.StatusCode)
	}

	var out submitResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("%w: decode response: %v", models.ErrSubmissionFailed, err)
	}
	if out.JobID == "" {
		return "", fmt.Errorf("%w: empty job id", models.ErrSubmissionFailed)
	}
	return out.JobID, nil
}

// Status fetches the current job snapshot. Failures come back as
// *models.PollError classified for the poller's retry decision.
func (c *Client) Status(ctx context.Context, jobID string) (*models.Job, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/status/"+jobID, nil)
	if err != nil {
		return nil, &models.PollError{Transient: false, Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Network, DNS, abort, request timeout: all retryable.
		return nil, &models.PollError{Transient: true, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, classifyStatusCode(resp.StatusCode)
	}

	var job models.Job
	if err := json.NewDecoder(resp.Body).Decode(&job); err != nil {
		return nil, &models.PollError{Transient: true, Err: fmt.Errorf("malformed status body: %w", err)}
	}
	if job.JobID == "" {
		job.JobID = jobID
	}
	return &job, nil
}

// Video opens the finished video stream. Only valid after the job
// completed. The caller owns the returned body.
func (c *Client) Video(ctx context.Context, jobID string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/video/"+jobID, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		if resp.StatusCode == http.StatusNotFound {
			return nil, models.ErrJobNotFound
		}
		return nil, fmt.Errorf("video download returned %d", resp.StatusCode)
	}
	return resp.Body, nil
}

// classifyStatusCode sorts HTTP failures into transient and permanent.
// Client errors are permanent, except 429 which signals rate limiting and
// is retried with a steeper backoff. Server errors are transient.
func classifyStatusCode(code int) *models.PollError {
	switch {
	case code == http.StatusTooManyRequests:
		return &models.PollError{Transient: true, RateLimited: true, StatusCode: code,
			Err: fmt.Errorf("rate limited")}
	case code >= 400 && code < 500:
		return &models.PollError{Transient: false, StatusCode: code,
			Err: fmt.Errorf("rendering service rejected the request")}
	default:
		return &models.PollError{Transient: true, StatusCode: code,
			Err: fmt.Errorf("rendering service unavailable")}
	}
}
