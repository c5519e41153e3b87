// Package notify posts export outcomes to an HTTP webhook.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/halworsen/footgas/internal/jobs"
	"github.com/halworsen/footgas/internal/logging"
)

// WebhookError is a non-2xx answer from the webhook endpoint.
type WebhookError struct {
	StatusCode int
	Body       string
}

func (e *WebhookError) Error() string {
	return fmt.Sprintf("webhook delivery failed: HTTP %d: %s", e.StatusCode, e.Body)
}

// IsRetryable returns true for server errors (5xx) and 429.
// Other client errors are considered permanent.
func (e *WebhookError) IsRetryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// Payload is the JSON body posted for a finished export.
type Payload struct {
	Event       string  `json:"event"`
	JobID       string  `json:"job_id"`
	Status      string  `json:"status"`
	Source      string  `json:"source"`
	Output      string  `json:"output"`
	StartMs     int64   `json:"start_ms"`
	EndMs       int64   `json:"end_ms"`
	MaxSizeMB   float64 `json:"max_size_mb"`
	OutputBytes int64   `json:"output_bytes,omitempty"`
	FinalKbps   int     `json:"final_kbps,omitempty"`
	Passes      int     `json:"passes"`
	ErrorCode   string  `json:"error_code,omitempty"`
	Error       string  `json:"error,omitempty"`
	FinishedAt  string  `json:"finished_at,omitempty"`
}

// PayloadFor converts a finished job into its webhook payload.
func PayloadFor(job *jobs.Job) Payload {
	p := Payload{
		Event:       "export." + job.Status,
		JobID:       job.ID,
		Status:      job.Status,
		Source:      job.Request.Source,
		Output:      job.Request.Output,
		StartMs:     job.Request.StartMs,
		EndMs:       job.Request.EndMs,
		MaxSizeMB:   job.Request.MaxSizeMB,
		OutputBytes: job.OutputBytes,
		FinalKbps:   job.FinalKbps,
		Passes:      job.Pass,
		ErrorCode:   job.ErrorCode,
		Error:       job.Error,
	}
	if job.FinishedAt != nil {
		p.FinishedAt = job.FinishedAt.UTC().Format(time.RFC3339)
	}
	return p
}

// WebhookClient delivers payloads with a bounded number of attempts.
type WebhookClient struct {
	url         string
	token       string
	httpClient  *http.Client
	logger      *slog.Logger
	maxAttempts int
	backoff     time.Duration
}

func NewWebhookClient(url, token string, timeout time.Duration, logger *slog.Logger) *WebhookClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &WebhookClient{
		url:   url,
		token: token,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger:      logger,
		maxAttempts: 3,
		backoff:     time.Second,
	}
}

// NotifyJob posts the outcome of a finished job.
func (c *WebhookClient) NotifyJob(ctx context.Context, job *jobs.Job) error {
	return c.Send(ctx, PayloadFor(job))
}

// Send posts payload, retrying transient failures.
func (c *WebhookClient) Send(ctx context.Context, payload Payload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		lastErr = c.post(ctx, payload.Event, body)
		if lastErr == nil {
			c.logger.Info("webhook delivered", "job_id", payload.JobID, "event", payload.Event, "attempt", attempt)
			return nil
		}

		var whErr *WebhookError
		if errors.As(lastErr, &whErr) && !whErr.IsRetryable() {
			return lastErr
		}
		if attempt == c.maxAttempts {
			break
		}

		c.logger.Warn("webhook attempt failed, retrying", "job_id", payload.JobID, "attempt", attempt, "error", lastErr)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.backoff * time.Duration(attempt)):
		}
	}
	return lastErr
}

func (c *WebhookClient) post(ctx context.Context, event string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Footgas-Event", event)
	req.Header.Set("X-Footgas-Request-Id", uuid.NewString())
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	return &WebhookError{StatusCode: resp.StatusCode, Body: string(respBody)}
}
