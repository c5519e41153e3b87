package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/halworsen/footgas/internal/config"
	"github.com/halworsen/footgas/internal/export"
	"github.com/halworsen/footgas/internal/ffmpeg"
	"github.com/halworsen/footgas/internal/jobs"
	"github.com/halworsen/footgas/internal/logging"
)

const testToken = "test-token"

func testLogger() *slog.Logger {
	return logging.Discard()
}

func decodeJSONBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode body %q: %v", rr.Body.String(), err)
	}
	return body
}

type fakeService struct {
	mu        sync.Mutex
	jobs      map[string]*jobs.Job
	order     []string
	submitted []export.Request
	submitErr error
	cancelErr error
}

func newFakeService(list ...*jobs.Job) *fakeService {
	f := &fakeService{jobs: make(map[string]*jobs.Job)}
	for _, j := range list {
		f.put(j)
	}
	return f
}

func (f *fakeService) put(j *jobs.Job) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.jobs[j.ID]; !ok {
		f.order = append(f.order, j.ID)
	}
	cp := *j
	f.jobs[j.ID] = &cp
}

func (f *fakeService) Submit(ctx context.Context, req export.Request) (*jobs.Job, error) {
	if f.submitErr != nil {
		return nil, f.submitErr
	}
	f.mu.Lock()
	f.submitted = append(f.submitted, req)
	id := fmt.Sprintf("job-%d", len(f.submitted))
	f.mu.Unlock()

	job := &jobs.Job{ID: id, Request: req, Status: jobs.StatusPending, CreatedAt: time.Now(), UpdatedAt: time.Now()}
	f.put(job)
	return job, nil
}

func (f *fakeService) Get(ctx context.Context, id string) (*jobs.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[id]
	if !ok {
		return nil, jobs.ErrNotFound
	}
	cp := *j
	return &cp, nil
}

func (f *fakeService) List(ctx context.Context, limit int) ([]*jobs.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*jobs.Job
	for i := len(f.order) - 1; i >= 0 && len(out) < limit; i-- {
		cp := *f.jobs[f.order[i]]
		out = append(out, &cp)
	}
	return out, nil
}

func (f *fakeService) Cancel(ctx context.Context, id string) (*jobs.Job, error) {
	if f.cancelErr != nil {
		return nil, f.cancelErr
	}
	job, err := f.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	switch {
	case job.Finished():
		return job, jobs.ErrNotCancelable
	case job.Status == jobs.StatusPending:
		job.Status = jobs.StatusCanceled
		f.put(job)
	}
	return job, nil
}

type fakeRunner struct {
	paused  bool
	current string
}

func (f *fakeRunner) IsPaused() bool     { return f.paused }
func (f *fakeRunner) CurrentJob() string { return f.current }

type fakeDoctor struct {
	report *ffmpeg.Report
}

func (f *fakeDoctor) Get(ctx context.Context) *ffmpeg.Report { return f.report }

type fakePlayback struct {
	mu     sync.Mutex
	served []string
	err    error
}

func (f *fakePlayback) ServeClip(w http.ResponseWriter, r *http.Request, path string) error {
	f.mu.Lock()
	f.served = append(f.served, path)
	f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	w.Header().Set("Accept-Ranges", "bytes")
	w.WriteHeader(http.StatusOK)
	if r.Method != http.MethodHead {
		io.WriteString(w, "clip")
	}
	return nil
}

func testServerConfig(svc *fakeService) ServerConfig {
	return ServerConfig{
		Service: svc,
		Config:  staticConfig{token: testToken},
		Defaults: config.ExportDefaults{
			MaxSizeMB:  8,
			Resolution: export.Resolution{Width: 1280, Height: 720},
			FPS:        30,
			AudioKbps:  128,
		},
		Logger:    testLogger(),
		StartTime: time.Now(),
		Version:   "test",
	}
}

func testJob(id, status string) *jobs.Job {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return &jobs.Job{
		ID: id,
		Request: export.Request{
			Source:     "/videos/match.mp4",
			Output:     "/videos/match-clip.mp4",
			StartMs:    10_000,
			EndMs:      40_000,
			MaxSizeMB:  8,
			Resolution: export.Resolution{Width: 1280, Height: 720},
			FPS:        30,
			AudioKbps:  128,
		},
		Status:    status,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// serve runs one authenticated loopback request through the full router.
func serve(t *testing.T, cfg ServerConfig, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, ok := body.(string)
		if !ok {
			b, err := json.Marshal(body)
			if err != nil {
				t.Fatalf("json.Marshal error: %v", err)
			}
			raw = string(b)
		}
		reader = bytes.NewReader([]byte(raw))
	}

	req := httptest.NewRequest(method, path, reader)
	req.RemoteAddr = "127.0.0.1:40000"
	req.Header.Set("Authorization", "Bearer "+testToken)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	NewRouter(cfg).ServeHTTP(rr, req)
	return rr
}
