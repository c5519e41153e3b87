package ffmpeg

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/halworsen/footgas/internal/logging"
)

const defaultCacheTTL = 5 * time.Minute

// Doctor probes the configured tools with `-version` and caches the report
// for a TTL so status requests do not spawn a subprocess each time.
type Doctor struct {
	runner   Runner
	ffmpeg   string
	ffprobe  string
	ttl      time.Duration
	timeout  time.Duration
	logger   *slog.Logger
	lookPath func(preferred, fallback string) (string, error)

	mu     sync.RWMutex
	cached *Report
}

// NewDoctor creates a caching tool checker. ffmpegPreferred and
// ffprobePreferred follow the same rules as ResolveTools.
func NewDoctor(runner Runner, ffmpegPreferred, ffprobePreferred string, logger *slog.Logger) *Doctor {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Doctor{
		runner:   runner,
		ffmpeg:   ffmpegPreferred,
		ffprobe:  ffprobePreferred,
		ttl:      defaultCacheTTL,
		timeout:  10 * time.Second,
		logger:   logger,
		lookPath: resolveBinary,
	}
}

// Get returns the cached report if fresh, otherwise re-probes.
func (d *Doctor) Get(ctx context.Context) *Report {
	d.mu.RLock()
	if d.cached != nil && time.Since(d.cached.ProbedAt) < d.ttl {
		rep := d.cached
		d.mu.RUnlock()
		return rep
	}
	d.mu.RUnlock()

	return d.Refresh(ctx)
}

// Peek returns the last report without probing. It may be nil.
func (d *Doctor) Peek() *Report {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.cached
}

// Refresh forces a new probe regardless of cache freshness.
func (d *Doctor) Refresh(ctx context.Context) *Report {
	d.mu.Lock()
	defer d.mu.Unlock()

	rep := &Report{
		FFmpeg:   d.probe(ctx, "ffmpeg", d.ffmpeg),
		FFprobe:  d.probe(ctx, "ffprobe", d.ffprobe),
		ProbedAt: time.Now(),
	}

	d.logger.Info("tool probe complete",
		"ffmpeg", rep.FFmpeg.Available,
		"ffmpeg_version", rep.FFmpeg.Version,
		"ffprobe", rep.FFprobe.Available,
		"ffprobe_version", rep.FFprobe.Version,
	)

	d.cached = rep
	return rep
}

// Invalidate clears the cached report.
func (d *Doctor) Invalidate() {
	d.mu.Lock()
	d.cached = nil
	d.mu.Unlock()
}

func (d *Doctor) probe(ctx context.Context, name, preferred string) ToolInfo {
	info := ToolInfo{Name: name}

	path, err := d.lookPath(preferred, name)
	if err != nil {
		info.Error = err.Error()
		return info
	}
	info.Path = path

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	result := d.runner.Run(ctx, path, "-hide_banner", "-version")
	if !result.IsSuccess() {
		info.Error = Tail(result.StderrTail, 256)
		return info
	}

	info.Available = true
	info.Version = parseVersion(result.Stdout, name)
	return info
}

// parseVersion extracts "6.1.1" from "ffmpeg version 6.1.1 Copyright ...".
func parseVersion(output, name string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(output), "\n")
	fields := strings.Fields(line)
	if len(fields) >= 3 && fields[0] == name && fields[1] == "version" {
		return fields[2]
	}
	return ""
}
