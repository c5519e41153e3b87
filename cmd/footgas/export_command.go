package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/halworsen/footgas/internal/config"
	"github.com/halworsen/footgas/internal/export"
	"github.com/halworsen/footgas/internal/ffmpeg"
	"github.com/halworsen/footgas/internal/logging"
)

type exportOptions struct {
	start      string
	end        string
	maxSizeMB  float64
	resolution string
	fps        int
	audioKbps  int
	maxPasses  int
	probe      bool
	jsonOutput bool
}

func newExportCommand(ctx *commandContext) *cobra.Command {
	var opts exportOptions

	cmd := &cobra.Command{
		Use:   "export <source> <output>",
		Short: "Cut a clip and encode it under a size limit",
		Long: "Cut the range --start..--end out of <source>, then encode it with a video\n" +
			"bitrate tuned so the result at <output> stays under --max-size megabytes.",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			return runExport(cmd, cfg, args[0], args[1], opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.start, "start", "", "Clip start as M:S or M:S.ms (required)")
	flags.StringVar(&opts.end, "end", "", "Clip end as M:S or M:S.ms (required)")
	flags.Float64Var(&opts.maxSizeMB, "max-size", 0, "Size ceiling in MB (default from config)")
	flags.StringVar(&opts.resolution, "resolution", "", "Output frame size WxH (default from config)")
	flags.IntVar(&opts.fps, "fps", 0, "Maximum output frame rate (default from config)")
	flags.IntVar(&opts.audioKbps, "audio-bitrate", 0, "Audio bitrate in kbps, 0 drops audio (default from config)")
	flags.IntVar(&opts.maxPasses, "max-passes", 0, "Convergence pass limit (default from config)")
	flags.BoolVar(&opts.probe, "probe", false, "Measure the trimmed clip with ffprobe instead of trusting the range")
	flags.BoolVar(&opts.jsonOutput, "json", false, "Emit progress and the result as JSON lines")
	_ = cmd.MarkFlagRequired("start")
	_ = cmd.MarkFlagRequired("end")

	return cmd
}

func runExport(cmd *cobra.Command, cfg *config.EnvConfig, source, output string, opts exportOptions) error {
	req, err := buildExportRequest(source, output, opts, cfg.ExportDefaults(), cmd.Flags().Changed)
	if err != nil {
		return err
	}
	if err := req.Validate(); err != nil {
		return err
	}
	if err := export.ValidateOutputPath(req.Output, req.Source); err != nil {
		return err
	}
	if info, err := os.Stat(req.Source); err != nil {
		return fmt.Errorf("source: %w", err)
	} else if info.IsDir() {
		return fmt.Errorf("source %s is a directory", req.Source)
	}

	durationSource := cfg.DurationSource()
	if opts.probe {
		durationSource = export.DurationProbe
	}
	maxPasses := cfg.MaxPasses()
	if cmd.Flags().Changed("max-passes") {
		maxPasses = opts.maxPasses
	}

	out := cmd.OutOrStdout()
	interactive := !opts.jsonOutput && isTerminal(os.Stderr)

	logger := logging.NewLoggerTo(os.Stderr, cfg.LogLevel())
	if interactive && cfg.LogLevel() != "debug" {
		// Log lines would tear the progress bar apart.
		logger = logging.Discard()
	}

	tools, err := ffmpeg.ResolveOptionalProbe(cfg.FFmpegPath(), cfg.FFprobePath(), durationSource == export.DurationProbe)
	if err != nil {
		return err
	}
	exporter, err := export.New(export.Config{
		Tools:          tools,
		Runner:         ffmpeg.NewRunner(logger),
		WorkDir:        cfg.WorkDir(),
		MaxPasses:      maxPasses,
		DurationSource: durationSource,
		Logger:         logger,
	})
	if err != nil {
		return err
	}

	ctx, stop := signalContext(cmd.Context())
	defer stop()

	handle := exporter.Start(ctx, req)
	if interactive {
		renderProgressBar(os.Stderr, handle.Events())
	} else {
		renderJSONEvents(out, handle.Events(), logger)
	}

	res, err := handle.Wait()
	if err != nil {
		return err
	}

	if opts.jsonOutput || !interactive {
		return json.NewEncoder(out).Encode(res)
	}
	fmt.Fprintln(out, summarizeResult(res, req.MaxSizeMB))
	return nil
}

// buildExportRequest resolves paths and timecodes and fills every flag the
// user did not set from defaults.
func buildExportRequest(source, output string, opts exportOptions, d config.ExportDefaults, changed func(string) bool) (export.Request, error) {
	startMs, ok := export.ParseTimecode(opts.start)
	if !ok {
		return export.Request{}, &export.Error{Kind: export.ErrInvalidRange, Err: fmt.Errorf("--start %q is not a timecode", opts.start)}
	}
	endMs, ok := export.ParseTimecode(opts.end)
	if !ok {
		return export.Request{}, &export.Error{Kind: export.ErrInvalidRange, Err: fmt.Errorf("--end %q is not a timecode", opts.end)}
	}

	src, err := filepath.Abs(source)
	if err != nil {
		return export.Request{}, fmt.Errorf("resolve source: %w", err)
	}
	dst, err := filepath.Abs(output)
	if err != nil {
		return export.Request{}, fmt.Errorf("resolve output: %w", err)
	}

	req := export.Request{
		Source:     src,
		Output:     dst,
		StartMs:    startMs,
		EndMs:      endMs,
		MaxSizeMB:  d.MaxSizeMB,
		Resolution: d.Resolution,
		FPS:        d.FPS,
		AudioKbps:  d.AudioKbps,
	}
	if changed("max-size") {
		req.MaxSizeMB = opts.maxSizeMB
	}
	if changed("resolution") {
		res, err := export.ParseResolution(opts.resolution)
		if err != nil {
			return export.Request{}, &export.Error{Kind: export.ErrInvalidRequest, Err: err}
		}
		req.Resolution = res
	}
	if changed("fps") {
		req.FPS = opts.fps
	}
	if changed("audio-bitrate") {
		req.AudioKbps = opts.audioKbps
	}
	return req, nil
}

func renderProgressBar(w io.Writer, events <-chan export.Event) {
	bar := progressbar.NewOptions(100,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription("starting"),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "█",
			SaucerHead:    "█",
			SaucerPadding: "░",
			BarStart:      "▐",
			BarEnd:        "▌",
		}),
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetPredictTime(false),
		progressbar.OptionSetRenderBlankState(true),
		progressbar.OptionClearOnFinish(),
	)
	for ev := range events {
		bar.Describe(describeEvent(ev))
		_ = bar.Set(ev.Percent)
		if ev.Phase == export.PhaseDone {
			_ = bar.Finish()
		}
	}
	// A failed export leaves the bar where it stopped.
	fmt.Fprintln(w)
}

func renderJSONEvents(w io.Writer, events <-chan export.Event, logger *slog.Logger) {
	enc := json.NewEncoder(w)
	for ev := range events {
		if err := enc.Encode(ev); err != nil {
			logger.Warn("failed to write progress", "error", err)
		}
	}
}

func describeEvent(ev export.Event) string {
	switch ev.Phase {
	case export.PhaseInitialEncoding:
		if ev.VideoKbps > 0 {
			return fmt.Sprintf("encoding @ %d kbps", ev.VideoKbps)
		}
		return "encoding"
	case export.PhaseConverging:
		return fmt.Sprintf("pass %d @ %d kbps", ev.Pass, ev.VideoKbps)
	case export.PhaseCleanup:
		return "cleaning up"
	default:
		return ev.Phase.String()
	}
}

func summarizeResult(res *export.Result, maxSizeMB float64) string {
	passes := "fit on first encode"
	switch {
	case res.Passes == 1:
		passes = "1 extra pass"
	case res.Passes > 1:
		passes = fmt.Sprintf("%d extra passes", res.Passes)
	}
	return fmt.Sprintf("Wrote %s: %s of %s allowed, %d kbps video, %s, %s",
		res.Output,
		humanize.IBytes(uint64(res.SizeBytes)),
		humanize.IBytes(uint64(maxSizeMB*1024*1024)),
		res.FinalKbps,
		passes,
		res.Elapsed.Round(100*time.Millisecond),
	)
}

func isTerminal(f *os.File) bool {
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
