package ffmpeg

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/halworsen/footgas/internal/logging"
)

const (
	maxStderrBytes = 8 * 1024  // 8 KB tail of stderr kept for diagnostics
	maxStdoutBytes = 64 * 1024 // ffprobe answers are tiny; cap anything unexpected
)

// Runner executes one tool invocation and waits for the process to exit.
// Implementations must not return before the process has been reaped, so
// that callers may stat output files immediately afterwards.
type Runner interface {
	Run(ctx context.Context, binary string, args ...string) RunResult
}

// SubprocessRunner is the production implementation of Runner.
type SubprocessRunner struct {
	logger *slog.Logger
}

// NewRunner creates a SubprocessRunner.
func NewRunner(logger *slog.Logger) *SubprocessRunner {
	if logger == nil {
		logger = logging.Discard()
	}
	return &SubprocessRunner{logger: logger}
}

// Run starts binary with args and blocks until it exits. A context
// cancellation kills the process; the result then carries a non-zero exit code.
func (r *SubprocessRunner) Run(ctx context.Context, binary string, args ...string) RunResult {
	start := time.Now()

	cmd := exec.CommandContext(ctx, binary, args...)

	var stdoutBuf, stderrBuf bytes.Buffer
	cmd.Stdout = &limitedWriter{w: &stdoutBuf, limit: maxStdoutBytes}
	cmd.Stderr = &limitedWriter{w: &stderrBuf, limit: maxStderrBytes}

	r.logger.Debug("executing tool command", "binary", binary, "args", args)

	err := cmd.Run()
	elapsed := time.Since(start)

	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		}
		// A killed process reports -1 from ExitCode as well; anything else
		// (binary missing, fork failure) never produced an exit status.
		if exitCode == 0 {
			exitCode = -1
		}
	}

	stderrTail := stderrBuf.String()
	if err != nil && stderrTail == "" {
		stderrTail = err.Error()
	}

	if exitCode != 0 {
		r.logger.Warn("tool command failed",
			"binary", binary,
			"exit_code", exitCode,
			"duration_ms", elapsed.Milliseconds(),
			"stderr_tail", truncate(stderrTail, 512),
		)
	} else {
		r.logger.Debug("tool command succeeded",
			"binary", binary,
			"duration_ms", elapsed.Milliseconds(),
		)
	}

	return RunResult{
		ExitCode:   exitCode,
		Stdout:     stdoutBuf.String(),
		StderrTail: stderrTail,
		Duration:   elapsed,
	}
}

// ResolveTools locates ffmpeg and ffprobe. Preferred values may be a bare
// command name or a path; empty means the default names on PATH.
func ResolveTools(ffmpegPreferred, ffprobePreferred string) (Tools, error) {
	ffmpegPath, err := resolveBinary(ffmpegPreferred, "ffmpeg")
	if err != nil {
		return Tools{}, err
	}
	ffprobePath, err := resolveBinary(ffprobePreferred, "ffprobe")
	if err != nil {
		return Tools{}, err
	}
	return Tools{FFmpeg: ffmpegPath, FFprobe: ffprobePath}, nil
}

// ResolveOptionalProbe locates ffmpeg and, when available, ffprobe. Only
// ffmpeg is mandatory unless needProbe is set.
func ResolveOptionalProbe(ffmpegPreferred, ffprobePreferred string, needProbe bool) (Tools, error) {
	if needProbe {
		return ResolveTools(ffmpegPreferred, ffprobePreferred)
	}
	ffmpegPath, err := resolveBinary(ffmpegPreferred, "ffmpeg")
	if err != nil {
		return Tools{}, err
	}
	ffprobePath, _ := resolveBinary(ffprobePreferred, "ffprobe")
	return Tools{FFmpeg: ffmpegPath, FFprobe: ffprobePath}, nil
}

func resolveBinary(preferred, fallback string) (string, error) {
	name := strings.TrimSpace(preferred)
	if name == "" {
		name = fallback
	}
	p, err := exec.LookPath(name)
	if err != nil {
		if name != fallback {
			return "", fmt.Errorf("configured %s %q not found", fallback, name)
		}
		return "", fmt.Errorf("%s not found on PATH; install it and try again", fallback)
	}
	return p, nil
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return "..." + s[len(s)-maxLen:]
}

// Tail returns at most maxLen trailing bytes of s, trimmed of whitespace.
func Tail(s string, maxLen int) string {
	return strings.TrimSpace(truncate(s, maxLen))
}

// limitedWriter is an io.Writer that keeps only the last `limit` bytes.
type limitedWriter struct {
	w     *bytes.Buffer
	limit int
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	n := len(p)
	lw.w.Write(p)
	if lw.w.Len() > lw.limit {
		// Keep only the tail
		b := lw.w.Bytes()
		tail := append([]byte(nil), b[len(b)-lw.limit:]...)
		lw.w.Reset()
		lw.w.Write(tail)
	}
	return n, nil
}
