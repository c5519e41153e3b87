package jobs

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/halworsen/footgas/internal/db"
	"github.com/halworsen/footgas/internal/export"
)

func setupTestDB(t *testing.T) Repository {
	t.Helper()
	database, err := db.New(filepath.Join(t.TempDir(), "test.db"), nil)
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return NewRepository(database.Conn())
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// testRequest returns a valid request whose source exists on disk.
func testRequest(t *testing.T) export.Request {
	t.Helper()
	dir := t.TempDir()
	src := filepath.Join(dir, "match.mkv")
	if err := os.WriteFile(src, []byte("not really a video"), 0o644); err != nil {
		t.Fatal(err)
	}
	return export.Request{
		Source:     src,
		Output:     filepath.Join(dir, "clip.mp4"),
		StartMs:    5000,
		EndMs:      35000,
		MaxSizeMB:  8,
		Resolution: export.Resolution{Width: 1280, Height: 720},
		FPS:        30,
		AudioKbps:  128,
	}
}

type fakeExporter struct {
	mu    sync.Mutex
	calls int
	runFn func(ctx context.Context, req export.Request, sink func(export.Event)) (*export.Result, error)
}

func (f *fakeExporter) Run(ctx context.Context, req export.Request, sink func(export.Event)) (*export.Result, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.runFn != nil {
		return f.runFn(ctx, req, sink)
	}
	sink(export.Event{Phase: export.PhaseTrimming, Percent: 10})
	sink(export.Event{Phase: export.PhaseInitialEncoding, Percent: 75})
	res := &export.Result{Output: req.Output, SizeBytes: 7 << 20, InitialKbps: 2056, FinalKbps: 2056}
	sink(export.Event{Phase: export.PhaseDone, Percent: 100, SizeBytes: res.SizeBytes})
	return res, nil
}

func (f *fakeExporter) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeNotifier struct {
	mu   sync.Mutex
	jobs []*Job
}

func (f *fakeNotifier) NotifyJob(_ context.Context, job *Job) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs = append(f.jobs, job)
	return nil
}
