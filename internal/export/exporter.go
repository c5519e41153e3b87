// Package export produces video clips that cover a requested time range and
// fit under a file size ceiling. It drives ffmpeg through a stream-copy trim,
// an initial bitrate-budgeted encode and as many shrinking re-encodes as it
// takes for the output to fit.
package export

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"github.com/halworsen/footgas/internal/ffmpeg"
	"github.com/halworsen/footgas/internal/logging"
)

// Config wires an Exporter to its tools.
type Config struct {
	Tools          ffmpeg.Tools
	Runner         ffmpeg.Runner
	WorkDir        string
	MaxPasses      int
	DurationSource DurationSource
	Logger         *slog.Logger
}

// Result summarizes a finished export.
type Result struct {
	Output      string        `json:"output"`
	SizeBytes   int64         `json:"size_bytes"`
	DurationMs  int64         `json:"duration_ms"`
	InitialKbps int           `json:"initial_kbps"`
	FinalKbps   int           `json:"final_kbps"`
	Passes      int           `json:"passes"`
	Elapsed     time.Duration `json:"elapsed"`
}

// Exporter runs export pipelines. It holds no per-export state and may run
// several exports concurrently.
type Exporter struct {
	trimmer   *Trimmer
	prober    Prober
	encoder   *Encoder
	maxPasses int
	logger    *slog.Logger
}

// New validates cfg and builds an Exporter.
func New(cfg Config) (*Exporter, error) {
	if cfg.Runner == nil {
		return nil, fmt.Errorf("export: runner is required")
	}
	if cfg.Tools.FFmpeg == "" {
		return nil, fmt.Errorf("export: ffmpeg path is required")
	}
	source, ok := ParseDurationSource(string(cfg.DurationSource))
	if !ok {
		return nil, fmt.Errorf("export: unknown duration source %q", cfg.DurationSource)
	}
	if source == DurationProbe && cfg.Tools.FFprobe == "" {
		return nil, fmt.Errorf("export: ffprobe path is required to probe durations")
	}
	if cfg.MaxPasses < 0 {
		return nil, fmt.Errorf("export: max passes must not be negative, got %d", cfg.MaxPasses)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Discard()
	}

	e := &Exporter{
		trimmer:   &Trimmer{Binary: cfg.Tools.FFmpeg, Runner: cfg.Runner, WorkDir: cfg.WorkDir},
		encoder:   &Encoder{Binary: cfg.Tools.FFmpeg, Runner: cfg.Runner},
		maxPasses: cfg.MaxPasses,
		logger:    logging.WithComponent(logger, "export"),
	}
	if e.maxPasses == 0 {
		e.maxPasses = DefaultMaxPasses
	}
	if source == DurationProbe {
		e.prober = &FFprobe{Binary: cfg.Tools.FFprobe, Runner: cfg.Runner}
	}
	return e, nil
}

// MaxPasses returns the convergence pass cap in effect.
func (e *Exporter) MaxPasses() int { return e.maxPasses }

// Run executes one export synchronously. sink receives every progress event
// in order, ending with exactly one done or failed event.
func (e *Exporter) Run(ctx context.Context, req Request, sink func(Event)) (*Result, error) {
	started := time.Now()
	rep := NewReporter(sink)
	logger := e.logger.With(
		"source", logging.SanitizePath(req.Source),
		"output", logging.SanitizePath(req.Output),
	)

	if err := req.Validate(); err != nil {
		rep.Fail(err)
		return nil, err
	}

	logger.Info("export started",
		"start", FormatTimecode(req.StartMs, true),
		"end", FormatTimecode(req.EndMs, true),
		"max_size_mb", req.MaxSizeMB,
		"resolution", req.Resolution.String(),
		"fps", req.FPS,
		"audio_kbps", req.AudioKbps,
	)

	res, err := e.run(ctx, req, rep, logger)
	if err != nil {
		logger.Error("export failed", "error", err, "code", ErrorCode(err))
		rep.Fail(err)
		return nil, err
	}

	res.Elapsed = time.Since(started)
	logger.Info("export completed",
		"size_bytes", res.SizeBytes,
		"final_kbps", res.FinalKbps,
		"passes", res.Passes,
		"elapsed_ms", res.Elapsed.Milliseconds(),
	)
	rep.Complete(Event{Pass: res.Passes, VideoKbps: res.FinalKbps, SizeBytes: res.SizeBytes})
	return res, nil
}

func (e *Exporter) run(ctx context.Context, req Request, rep *Reporter, logger *slog.Logger) (res *Result, err error) {
	rep.Report(Event{Phase: PhaseTrimming, Percent: progressTrimStarted})
	art, err := e.trimmer.Trim(ctx, req.Source, req.StartMs, req.EndMs)
	if err != nil {
		return nil, err
	}
	logger.Debug("trimmed source", "artifact", art.Path)

	wroteOutput := false
	defer func() {
		if err == nil {
			return
		}
		if rmErr := art.Remove(); rmErr != nil {
			logger.Warn("failed to remove trimmed artifact", "artifact", art.Path, "error", rmErr)
		}
		if wroteOutput {
			if rmErr := os.Remove(req.Output); rmErr != nil && !errors.Is(rmErr, fs.ErrNotExist) {
				logger.Warn("failed to remove rejected output", "error", rmErr)
			}
		}
	}()

	if err := canceled(ctx, PhaseProbing); err != nil {
		return nil, err
	}
	rep.Report(Event{Phase: PhaseProbing, Percent: progressTrimmed})

	prober := e.prober
	if prober == nil {
		prober = arithmeticProber{durationMs: req.DurationMs()}
	}
	durationMs, err := prober.Duration(ctx, art.Path)
	if err != nil {
		if ctx.Err() != nil {
			return nil, &Error{Kind: ErrCanceled, Phase: PhaseProbing, Err: ctx.Err()}
		}
		return nil, err
	}
	rep.Report(Event{Phase: PhaseProbing, Percent: progressProbed})

	initialKbps, err := TargetVideoKbps(req.MaxSizeMB, req.AudioKbps, durationMs)
	if err != nil {
		return nil, err
	}
	rep.Report(Event{Phase: PhaseInitialEncoding, Percent: progressBudgeted, VideoKbps: initialKbps})
	logger.Debug("computed bitrate budget", "duration_ms", durationMs, "video_kbps", initialKbps)

	if err := canceled(ctx, PhaseInitialEncoding); err != nil {
		return nil, err
	}

	ceiling := ceilingBytes(req.MaxSizeMB)
	var firstSize int64
	onPass := func(p PassResult) {
		logger.Info("encode pass finished", "pass", p.Pass, "video_kbps", p.VideoKbps, "size_bytes", p.SizeBytes)
		if p.Pass == 0 {
			firstSize = p.SizeBytes
			rep.Report(Event{Phase: PhaseInitialEncoding, Percent: progressInitialDone, VideoKbps: p.VideoKbps, SizeBytes: p.SizeBytes})
			return
		}
		rep.Report(Event{
			Phase:     PhaseConverging,
			Percent:   convergencePercent(firstSize, p.SizeBytes, ceiling),
			Pass:      p.Pass,
			VideoKbps: p.VideoKbps,
			SizeBytes: p.SizeBytes,
		})
	}

	ctrl := &Controller{Encoder: e.encoder, MaxPasses: e.maxPasses}
	wroteOutput = true
	outcome, err := ctrl.Run(ctx, art.Path, req.Output, ceiling, EncodeParams{
		VideoKbps:  float64(initialKbps),
		Resolution: req.Resolution,
		FPS:        req.FPS,
		AudioKbps:  req.AudioKbps,
	}, onPass)
	if err != nil {
		return nil, err
	}

	rep.Report(Event{Phase: PhaseCleanup, Percent: rep.Last(), Pass: outcome.Passes})
	if rmErr := art.Remove(); rmErr != nil {
		// The output is valid; only the temporary copy leaked.
		wroteOutput = false
		return nil, &Error{Kind: ErrCleanup, Phase: PhaseCleanup, Err: rmErr}
	}

	return &Result{
		Output:      req.Output,
		SizeBytes:   outcome.SizeBytes,
		DurationMs:  durationMs,
		InitialKbps: initialKbps,
		FinalKbps:   outcome.FinalKbps,
		Passes:      outcome.Passes,
	}, nil
}

func canceled(ctx context.Context, phase Phase) error {
	if ctx.Err() != nil {
		return &Error{Kind: ErrCanceled, Phase: phase, Err: ctx.Err()}
	}
	return nil
}

// Handle tracks an export running in the background.
type Handle struct {
	events chan Event
	done   chan struct{}
	cancel context.CancelFunc
	result *Result
	err    error
}

// Start runs the export on its own goroutine.
func (e *Exporter) Start(ctx context.Context, req Request) *Handle {
	ctx, cancel := context.WithCancel(ctx)
	h := &Handle{
		// Room for every checkpoint, every pass and the terminal event, so
		// the pipeline never blocks on a slow reader.
		events: make(chan Event, e.maxPasses+8),
		done:   make(chan struct{}),
		cancel: cancel,
	}
	go func() {
		defer cancel()
		defer close(h.done)
		defer close(h.events)
		h.result, h.err = e.Run(ctx, req, func(ev Event) { h.events <- ev })
	}()
	return h
}

// Events yields progress in order and is closed after the terminal event.
func (h *Handle) Events() <-chan Event { return h.events }

// Wait blocks until the export finishes.
func (h *Handle) Wait() (*Result, error) {
	<-h.done
	return h.result, h.err
}

// Cancel stops the export. Wait then reports ErrCanceled unless the export
// had already finished.
func (h *Handle) Cancel() { h.cancel() }
