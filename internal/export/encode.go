package export

import (
	"context"
	"math"
	"strconv"

	"github.com/halworsen/footgas/internal/ffmpeg"
)

// EncodeParams are the fully resolved settings of one encode pass.
type EncodeParams struct {
	VideoKbps  float64
	Resolution Resolution
	FPS        int
	AudioKbps  int
}

// RoundedVideoKbps is the integer bitrate handed to the encoder.
func (p EncodeParams) RoundedVideoKbps() int {
	return int(math.Round(p.VideoKbps))
}

// Encoder runs a single libx264/aac encode.
type Encoder struct {
	Binary string
	Runner ffmpeg.Runner
}

// Encode transcodes input into output, replacing any existing output. It
// returns once the encoder process has exited.
func (e *Encoder) Encode(ctx context.Context, input, output string, p EncodeParams) error {
	if p.RoundedVideoKbps() <= 0 {
		return newError(ErrUnachievableBudget, PhaseConverging, "video bitrate %.2f kbps rounds to zero", p.VideoKbps)
	}
	res := e.Runner.Run(ctx, e.Binary, encodeArgs(input, output, p)...)
	if res.IsSuccess() {
		return nil
	}
	if ctx.Err() != nil {
		return &Error{Kind: ErrCanceled, Phase: PhaseConverging, Err: ctx.Err()}
	}
	return newError(ErrEncode, PhaseConverging, "ffmpeg exited with code %d at %d kbps: %s",
		res.ExitCode, p.RoundedVideoKbps(), ffmpeg.Tail(res.StderrTail, 512))
}

func encodeArgs(input, output string, p EncodeParams) []string {
	v := strconv.Itoa(p.RoundedVideoKbps()) + "k"
	args := []string{
		"-y", "-hide_banner", "-loglevel", "error",
		"-i", input,
		"-c:v", "libx264",
		"-fpsmax", strconv.Itoa(p.FPS),
		"-s", p.Resolution.String(),
		"-b:v", v,
		"-maxrate:v", v,
		"-bufsize:v", v,
	}
	if p.AudioKbps > 0 {
		a := strconv.Itoa(p.AudioKbps) + "k"
		args = append(args, "-c:a", "aac", "-b:a", a, "-maxrate:a", a)
	} else {
		args = append(args, "-an")
	}
	return append(args, "-f", "mp4", output)
}
