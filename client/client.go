// Package client is a small Go client for the workq HTTP API. It
// mirrors the producer surface: enqueue, job status, queue stats,
// health, and dead-letter replay.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Client talks to a workqd HTTP API.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithAPIKey sets the X-API-Key header sent with every request.
func WithAPIKey(key string) Option {
	return func(c *Client) { c.apiKey = key }
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// New creates a Client for the API at baseURL, e.g. "http://localhost:8080".
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Message    string
	body       []byte
}

func (e *APIError) Error() string {
	return fmt.Sprintf("workq/client: server returned %d: %s", e.StatusCode, e.Message)
}

// Ack is the server's response to a successful enqueue.
type Ack struct {
	JobID         string        `json:"job_id"`
	Status        string        `json:"status"`
	EstimatedWait time.Duration `json:"estimated_wait"`
}

// JobView is the status projection of one job.
type JobView struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	Queue         string     `json:"queue"`
	State         string     `json:"state"`
	Priority      int        `json:"priority"`
	Attempts      int        `json:"attempts"`
	MaxAttempts   int        `json:"max_attempts"`
	FailureReason string     `json:"failure_reason,omitempty"`
	Result        []byte     `json:"result,omitempty"`
	EnqueuedAt    time.Time  `json:"enqueued_at"`
	RunAt         *time.Time `json:"run_at,omitempty"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	FinishedAt    *time.Time `json:"finished_at,omitempty"`
}

// QueueStats is one queue's health snapshot.
type QueueStats struct {
	Queue         string        `json:"queue"`
	Waiting       int64         `json:"waiting"`
	Active        int64         `json:"active"`
	Completed     int64         `json:"completed"`
	Failed        int64         `json:"failed"`
	Delayed       int64         `json:"delayed"`
	EstimatedWait time.Duration `json:"estimated_wait"`
}

// HealthReport is the overall health verdict.
type HealthReport struct {
	Status string       `json:"status"`
	Queues []QueueStats `json:"queues,omitempty"`
	Error  string       `json:"error,omitempty"`
}

// EnqueueRequest is the payload for Enqueue.
type EnqueueRequest struct {
	Name        string          `json:"name"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Queue       string          `json:"queue,omitempty"`
	Priority    *int            `json:"priority,omitempty"`
	MaxAttempts int             `json:"max_attempts,omitempty"`
	DelayMs     int64           `json:"delay_ms,omitempty"`
}

// Enqueue submits a job and returns the server's acknowledgement.
func (c *Client) Enqueue(ctx context.Context, req EnqueueRequest) (*Ack, error) {
	var ack Ack
	if err := c.do(ctx, http.MethodPost, "/v1/jobs", req, &ack); err != nil {
		return nil, err
	}
	return &ack, nil
}

// GetJob returns the status view for one job.
func (c *Client) GetJob(ctx context.Context, jobID string) (*JobView, error) {
	var view JobView
	if err := c.do(ctx, http.MethodGet, "/v1/jobs/"+url.PathEscape(jobID), nil, &view); err != nil {
		return nil, err
	}
	return &view, nil
}

// ListJobs returns jobs in the given state, optionally filtered by queue.
func (c *Client) ListJobs(ctx context.Context, state, queue string, limit, offset int) ([]*JobView, error) {
	q := url.Values{}
	q.Set("state", state)
	if queue != "" {
		q.Set("queue", queue)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if offset > 0 {
		q.Set("offset", strconv.Itoa(offset))
	}

	var resp struct {
		Jobs []*JobView `json:"jobs"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/jobs?"+q.Encode(), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Jobs, nil
}

// Stats returns per-queue statistics.
func (c *Client) Stats(ctx context.Context) ([]QueueStats, error) {
	var resp struct {
		Queues []QueueStats `json:"queues"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/stats", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Queues, nil
}

// Health returns the broker health report. Degraded and unhealthy
// verdicts are reports, not errors.
func (c *Client) Health(ctx context.Context) (*HealthReport, error) {
	var report HealthReport
	err := c.do(ctx, http.MethodGet, "/v1/health", nil, &report)
	if err != nil {
		// An unhealthy broker answers 503 with a valid report body.
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusServiceUnavailable {
			if jsonErr := json.Unmarshal(apiErr.body, &report); jsonErr == nil && report.Status != "" {
				return &report, nil
			}
		}
		return nil, err
	}
	return &report, nil
}

// ReplayDLQ re-enqueues a failed job and returns the new job's ID.
func (c *Client) ReplayDLQ(ctx context.Context, jobID string) (string, error) {
	var resp struct {
		JobID string `json:"job_id"`
	}
	path := "/v1/dlq/" + url.PathEscape(jobID) + "/replay"
	if err := c.do(ctx, http.MethodPost, path, nil, &resp); err != nil {
		return "", err
	}
	return resp.JobID, nil
}

// do executes one request and decodes the JSON response into out.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("workq/client: marshal request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("workq/client: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("workq/client: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("workq/client: read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: string(raw)}
		var errResp struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(raw, &errResp) == nil && errResp.Error != "" {
			apiErr.Message = errResp.Error
		}
		apiErr.body = raw
		return apiErr
	}

	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("workq/client: decode response: %w", err)
		}
	}
	return nil
}
