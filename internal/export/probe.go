package export

import (
	"context"
	"math"
	"strconv"
	"strings"

	"github.com/halworsen/footgas/internal/ffmpeg"
)

// DurationSource selects how the clip duration used for budgeting is found.
type DurationSource string

const (
	DurationArithmetic DurationSource = "arithmetic"
	DurationProbe      DurationSource = "probe"
)

// ParseDurationSource validates a configured duration source. The empty
// string selects DurationArithmetic.
func ParseDurationSource(s string) (DurationSource, bool) {
	switch DurationSource(strings.ToLower(strings.TrimSpace(s))) {
	case "", DurationArithmetic:
		return DurationArithmetic, true
	case DurationProbe:
		return DurationProbe, true
	default:
		return "", false
	}
}

// Prober reports the playable duration of a media file.
type Prober interface {
	Duration(ctx context.Context, path string) (int64, error)
}

// FFprobe reads the container duration with ffprobe.
type FFprobe struct {
	Binary string
	Runner ffmpeg.Runner
}

// Duration returns the container duration of path in milliseconds.
func (p *FFprobe) Duration(ctx context.Context, path string) (int64, error) {
	res := p.Runner.Run(ctx, p.Binary,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)
	if !res.IsSuccess() {
		return 0, newError(ErrProbe, PhaseProbing, "ffprobe exited with code %d: %s",
			res.ExitCode, ffmpeg.Tail(res.StderrTail, 512))
	}
	return parseProbeSeconds(res.Stdout)
}

// parseProbeSeconds converts ffprobe's "12.345000" answer into milliseconds.
func parseProbeSeconds(out string) (int64, error) {
	line, _, _ := strings.Cut(strings.TrimSpace(out), "\n")
	line = strings.TrimSpace(line)
	secs, err := strconv.ParseFloat(line, 64)
	if err != nil || math.IsNaN(secs) || math.IsInf(secs, 0) {
		return 0, newError(ErrProbe, PhaseProbing, "ffprobe reported a non-numeric duration %q", line)
	}
	ms := int64(math.Round(secs * 1000))
	if ms <= 0 {
		return 0, newError(ErrProbe, PhaseProbing, "ffprobe reported a non-positive duration %q", line)
	}
	return ms, nil
}

// arithmeticProber derives the duration from the requested range without
// inspecting any file.
type arithmeticProber struct {
	durationMs int64
}

func (p arithmeticProber) Duration(context.Context, string) (int64, error) {
	if p.durationMs <= 0 {
		return 0, newError(ErrInvalidRange, PhaseProbing, "clip duration %d ms is not positive", p.durationMs)
	}
	return p.durationMs, nil
}
