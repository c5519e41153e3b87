package export

import (
	"context"
	"os"
	"slices"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/halworsen/footgas/internal/ffmpeg"
)

const mb = 1024 * 1024

// fakeRunner answers tool invocations without spawning processes. Trim and
// encode calls create sparse files of the scripted size at the destination.
type fakeRunner struct {
	mu    sync.Mutex
	calls [][]string

	trim   func(dest string) ffmpeg.RunResult
	encode func(ctx context.Context, pass, kbps int, dest string) ffmpeg.RunResult
	probe  func(path string) ffmpeg.RunResult

	encodes int
}

func (f *fakeRunner) Run(ctx context.Context, binary string, args ...string) ffmpeg.RunResult {
	f.mu.Lock()
	f.calls = append(f.calls, append([]string{binary}, args...))
	f.mu.Unlock()

	dest := args[len(args)-1]
	switch {
	case binary == "ffprobe":
		if f.probe == nil {
			return ffmpeg.RunResult{ExitCode: 1, StderrTail: "no probe scripted"}
		}
		return f.probe(dest)
	case slices.Contains(args, "copy"):
		if f.trim == nil {
			return writeSized(dest, 4096)
		}
		return f.trim(dest)
	default:
		f.mu.Lock()
		pass := f.encodes
		f.encodes++
		f.mu.Unlock()
		if f.encode == nil {
			return writeSized(dest, mb)
		}
		return f.encode(ctx, pass, videoKbpsArg(args), dest)
	}
}

func (f *fakeRunner) encodeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.encodes
}

func (f *fakeRunner) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func writeSized(path string, size int64) ffmpeg.RunResult {
	file, err := os.Create(path)
	if err != nil {
		return ffmpeg.RunResult{ExitCode: 1, StderrTail: err.Error()}
	}
	defer file.Close()
	if err := file.Truncate(size); err != nil {
		return ffmpeg.RunResult{ExitCode: 1, StderrTail: err.Error()}
	}
	return ffmpeg.RunResult{}
}

func videoKbpsArg(args []string) int {
	i := slices.Index(args, "-b:v")
	if i < 0 || i+1 >= len(args) {
		return -1
	}
	v, err := strconv.Atoi(strings.TrimSuffix(args[i+1], "k"))
	if err != nil {
		return -1
	}
	return v
}

func newTestExporter(t *testing.T, r ffmpeg.Runner, mutate func(*Config)) (*Exporter, string) {
	t.Helper()
	workDir := t.TempDir()
	cfg := Config{
		Tools:   ffmpeg.Tools{FFmpeg: "ffmpeg", FFprobe: "ffprobe"},
		Runner:  r,
		WorkDir: workDir,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	e, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return e, workDir
}

func testRequest(t *testing.T) Request {
	t.Helper()
	dir := t.TempDir()
	return Request{
		Source:     dir + "/match.mkv",
		Output:     dir + "/clip.mp4",
		StartMs:    0,
		EndMs:      30000,
		MaxSizeMB:  8,
		Resolution: Resolution{Width: 1280, Height: 720},
		FPS:        30,
		AudioKbps:  128,
	}
}

// checkProgress asserts the progress invariants on a recorded event stream.
func checkProgress(t *testing.T, events []Event) {
	t.Helper()
	if len(events) == 0 {
		t.Fatal("no progress events")
	}
	last := 0
	for i, ev := range events {
		if ev.Percent < last {
			t.Fatalf("event %d percent %d decreased from %d", i, ev.Percent, last)
		}
		if ev.Percent == 100 && i != len(events)-1 {
			t.Fatalf("event %d reported 100%% before the end", i)
		}
		if ev.Phase.Terminal() && i != len(events)-1 {
			t.Fatalf("event %d is terminal (%s) but more events followed", i, ev.Phase)
		}
		last = ev.Percent
	}
	if !events[len(events)-1].Phase.Terminal() {
		t.Fatalf("last event phase = %s, want terminal", events[len(events)-1].Phase)
	}
}

func dirEntries(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir(%s): %v", dir, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}
