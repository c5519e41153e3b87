package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/halworsen/footgas/internal/export"
	"github.com/halworsen/footgas/internal/jobs"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testJob() *jobs.Job {
	finished := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return &jobs.Job{
		ID:     "job-1",
		Status: jobs.StatusCompleted,
		Request: export.Request{
			Source: "/videos/match.mkv", Output: "/videos/goal.mp4",
			StartMs: 62000, EndMs: 92000, MaxSizeMB: 8,
		},
		OutputBytes: 7 << 20,
		FinalKbps:   1645,
		Pass:        1,
		FinishedAt:  &finished,
	}
}

func newTestClient(url string) *WebhookClient {
	c := NewWebhookClient(url, "secret-token", time.Second, testLogger())
	c.backoff = time.Millisecond
	return c
}

func TestWebhookClient_NotifyJob(t *testing.T) {
	var received Payload
	var auth, event string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("unexpected method: %s", r.Method)
		}
		auth = r.Header.Get("Authorization")
		event = r.Header.Get("X-Footgas-Event")
		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &received)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	if err := newTestClient(server.URL).NotifyJob(context.Background(), testJob()); err != nil {
		t.Fatalf("NotifyJob() error = %v", err)
	}

	if auth != "Bearer secret-token" {
		t.Errorf("auth = %q", auth)
	}
	if event != "export.completed" || received.Event != "export.completed" {
		t.Errorf("event = %q / %q", event, received.Event)
	}
	if received.JobID != "job-1" || received.FinalKbps != 1645 || received.FinishedAt != "2026-03-01T12:00:00Z" {
		t.Errorf("payload = %+v", received)
	}
}

func TestWebhookClient_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	if err := newTestClient(server.URL).NotifyJob(context.Background(), testJob()); err != nil {
		t.Fatalf("NotifyJob() error = %v", err)
	}
	if calls.Load() != 3 {
		t.Fatalf("calls = %d, want 3", calls.Load())
	}
}

func TestWebhookClient_ClientErrorIsPermanent(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"bad"}`))
	}))
	defer server.Close()

	err := newTestClient(server.URL).NotifyJob(context.Background(), testJob())
	var whErr *WebhookError
	if !errors.As(err, &whErr) {
		t.Fatalf("error = %v, want *WebhookError", err)
	}
	if whErr.StatusCode != http.StatusBadRequest || whErr.IsRetryable() {
		t.Fatalf("WebhookError = %+v", whErr)
	}
	if calls.Load() != 1 {
		t.Fatalf("calls = %d, want 1", calls.Load())
	}
}

func TestWebhookClient_NilLoggerDiscards(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	c := NewWebhookClient(server.URL, "", time.Second, nil)
	c.backoff = time.Millisecond
	err := c.NotifyJob(context.Background(), testJob())

	var webhookErr *WebhookError
	if !errors.As(err, &webhookErr) || webhookErr.StatusCode != http.StatusBadGateway {
		t.Fatalf("NotifyJob() error = %v, want a 502 WebhookError", err)
	}
	if calls.Load() < 2 {
		t.Errorf("calls = %d, want retries", calls.Load())
	}
}

func TestWebhookError_IsRetryable(t *testing.T) {
	tests := []struct {
		code int
		want bool
	}{
		{400, false},
		{404, false},
		{429, true},
		{500, true},
		{503, true},
	}
	for _, tt := range tests {
		if got := (&WebhookError{StatusCode: tt.code}).IsRetryable(); got != tt.want {
			t.Errorf("IsRetryable(%d) = %v, want %v", tt.code, got, tt.want)
		}
	}
}

func TestPayloadFor_Failed(t *testing.T) {
	job := testJob()
	job.Status = jobs.StatusFailed
	job.ErrorCode = "CONVERGENCE_FAILED"
	job.Error = "size did not converge"
	job.FinishedAt = nil

	p := PayloadFor(job)
	if p.Event != "export.failed" || p.ErrorCode != "CONVERGENCE_FAILED" || p.FinishedAt != "" {
		t.Fatalf("payload = %+v", p)
	}
}
