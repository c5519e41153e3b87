// Package ffmpeg resolves and executes the external ffmpeg and ffprobe tools
// as subprocesses and reports their availability.
package ffmpeg

import "time"

// Tools holds the resolved absolute paths of the external binaries.
type Tools struct {
	FFmpeg  string `json:"ffmpeg"`
	FFprobe string `json:"ffprobe"`
}

// RunResult is the structured outcome of executing a tool subprocess.
type RunResult struct {
	ExitCode   int           `json:"exit_code"`
	Stdout     string        `json:"stdout,omitempty"`
	StderrTail string        `json:"stderr_tail,omitempty"` // last N bytes of stderr
	Duration   time.Duration `json:"duration"`
}

// IsSuccess returns true when the subprocess exited cleanly.
func (r RunResult) IsSuccess() bool { return r.ExitCode == 0 }

// ToolInfo reports the availability of a single binary.
type ToolInfo struct {
	Name      string `json:"name"`
	Path      string `json:"path,omitempty"`
	Version   string `json:"version,omitempty"`
	Available bool   `json:"available"`
	Error     string `json:"error,omitempty"`
}

// Report is the outcome of a doctor probe over both tools.
type Report struct {
	FFmpeg   ToolInfo  `json:"ffmpeg"`
	FFprobe  ToolInfo  `json:"ffprobe"`
	ProbedAt time.Time `json:"probed_at"`
}

// AllOK reports whether every required tool is usable.
func (r Report) AllOK() bool { return r.FFmpeg.Available && r.FFprobe.Available }
