package export

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
)

// DefaultMaxPasses bounds the number of convergence passes after the
// initial encode.
const DefaultMaxPasses = 8

// PassResult describes one finished encode. Pass 0 is the initial encode.
type PassResult struct {
	Pass      int
	VideoKbps int
	SizeBytes int64
}

// Outcome is the state of a successful convergence.
type Outcome struct {
	FinalKbps int
	SizeBytes int64
	Passes    int
}

// Controller re-encodes at shrinking bitrates until the output fits.
type Controller struct {
	Encoder   *Encoder
	MaxPasses int
}

// Run encodes input at initial.VideoKbps and, while the output exceeds
// ceiling bytes, scales the bitrate by the accumulated ratio of ceiling to
// measured size. onPass is called after every encode, including the first.
func (c *Controller) Run(ctx context.Context, input, output string, ceiling int64, initial EncodeParams, onPass func(PassResult)) (Outcome, error) {
	if onPass == nil {
		onPass = func(PassResult) {}
	}
	maxPasses := c.MaxPasses
	if maxPasses < 1 {
		maxPasses = DefaultMaxPasses
	}

	base := initial.VideoKbps
	params := initial
	scale := 1.0

	for pass := 0; ; pass++ {
		phase := PhaseConverging
		if pass == 0 {
			phase = PhaseInitialEncoding
		}
		if ctx.Err() != nil {
			return Outcome{}, &Error{Kind: ErrCanceled, Phase: phase, Err: ctx.Err()}
		}
		if pass > maxPasses {
			return Outcome{}, newError(ErrConvergence, PhaseConverging,
				"output still exceeds %d bytes after %d passes", ceiling, maxPasses)
		}

		if err := c.Encoder.Encode(ctx, input, output, params); err != nil {
			return Outcome{}, stampPhase(err, phase)
		}

		size, err := outputSize(output)
		if err != nil {
			return Outcome{}, &Error{Kind: ErrEncode, Phase: phase, Err: err}
		}
		onPass(PassResult{Pass: pass, VideoKbps: params.RoundedVideoKbps(), SizeBytes: size})

		if size <= ceiling {
			return Outcome{FinalKbps: params.RoundedVideoKbps(), SizeBytes: size, Passes: pass}, nil
		}

		scale *= float64(ceiling) / float64(size)
		params.VideoKbps = base * scale
	}
}

func outputSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, fmt.Errorf("encoder exited cleanly but wrote no output")
		}
		return 0, fmt.Errorf("stat output: %w", err)
	}
	return info.Size(), nil
}

// stampPhase records the pipeline phase on an export error that was raised
// by a phase-agnostic helper.
func stampPhase(err error, phase Phase) error {
	var e *Error
	if errors.As(err, &e) {
		e.Phase = phase
	}
	return err
}
