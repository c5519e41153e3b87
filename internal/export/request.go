package export

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
)

// Resolution is a target frame size in pixels.
type Resolution struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

func (r Resolution) String() string {
	return fmt.Sprintf("%dx%d", r.Width, r.Height)
}

// ParseResolution parses "WIDTHxHEIGHT", e.g. "1280x720".
func ParseResolution(s string) (Resolution, error) {
	w, h, ok := strings.Cut(strings.ToLower(strings.TrimSpace(s)), "x")
	if !ok {
		return Resolution{}, fmt.Errorf("resolution %q must look like 1280x720", s)
	}
	width, err := strconv.Atoi(w)
	if err != nil || width <= 0 {
		return Resolution{}, fmt.Errorf("resolution %q has an invalid width", s)
	}
	height, err := strconv.Atoi(h)
	if err != nil || height <= 0 {
		return Resolution{}, fmt.Errorf("resolution %q has an invalid height", s)
	}
	return Resolution{Width: width, Height: height}, nil
}

// Request describes one export. It is built once and passed by value.
type Request struct {
	Source     string     `json:"source"`
	Output     string     `json:"output"`
	StartMs    int64      `json:"start_ms"`
	EndMs      int64      `json:"end_ms"`
	MaxSizeMB  float64    `json:"max_size_mb"`
	Resolution Resolution `json:"resolution"`
	FPS        int        `json:"fps"`
	AudioKbps  int        `json:"audio_kbps"`
}

// DurationMs is the length of the requested range.
func (r Request) DurationMs() int64 {
	return r.EndMs - r.StartMs
}

// Validate checks every precondition that can be decided without running a
// tool.
func (r Request) Validate() error {
	if strings.TrimSpace(r.Source) == "" {
		return &Error{Kind: ErrInvalidRequest, Phase: PhaseIdle, Err: fmt.Errorf("source is required")}
	}
	if strings.TrimSpace(r.Output) == "" {
		return &Error{Kind: ErrInvalidRequest, Phase: PhaseIdle, Err: fmt.Errorf("output is required")}
	}
	if filepath.Clean(r.Source) == filepath.Clean(r.Output) {
		return &Error{Kind: ErrInvalidRequest, Phase: PhaseIdle, Err: fmt.Errorf("output must differ from source")}
	}
	if r.StartMs < 0 {
		return newError(ErrInvalidRange, PhaseIdle, "start %d ms is negative", r.StartMs)
	}
	if r.EndMs < 0 {
		return newError(ErrInvalidRange, PhaseIdle, "end %d ms is negative", r.EndMs)
	}
	if r.EndMs <= r.StartMs {
		return newError(ErrInvalidRange, PhaseIdle, "end %s must be after start %s",
			FormatTimecode(r.EndMs, true), FormatTimecode(r.StartMs, true))
	}
	if r.MaxSizeMB <= 0 {
		return newError(ErrInvalidRequest, PhaseIdle, "max size must be positive, got %g MB", r.MaxSizeMB)
	}
	if r.Resolution.Width <= 0 || r.Resolution.Height <= 0 {
		return newError(ErrInvalidRequest, PhaseIdle, "resolution %s is invalid", r.Resolution)
	}
	if r.FPS <= 0 {
		return newError(ErrInvalidRequest, PhaseIdle, "fps must be positive, got %d", r.FPS)
	}
	if r.AudioKbps < 0 {
		return newError(ErrInvalidRequest, PhaseIdle, "audio bitrate must not be negative, got %d", r.AudioKbps)
	}
	return nil
}
