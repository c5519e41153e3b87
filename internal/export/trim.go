package export

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"github.com/halworsen/footgas/internal/ffmpeg"
)

// Artifact is the temporary stream-copied sub-range of the source.
type Artifact struct {
	Path string

	once sync.Once
	err  error
}

// Remove deletes the artifact. Only the first call touches the filesystem;
// an already missing file is not an error.
func (a *Artifact) Remove() error {
	if a == nil {
		return nil
	}
	a.once.Do(func() {
		if err := os.Remove(a.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			a.err = fmt.Errorf("remove trimmed artifact: %w", err)
		}
	})
	return a.err
}

// Trimmer copies a time range of a source into a temporary file without
// re-encoding.
type Trimmer struct {
	Binary  string
	Runner  ffmpeg.Runner
	WorkDir string
}

// artifactPath returns a name unique to this invocation.
func (t *Trimmer) artifactPath(source string) string {
	dir := t.WorkDir
	if dir == "" {
		dir = os.TempDir()
	}
	return filepath.Join(dir, fmt.Sprintf("%s.%s.trimmed.tmp", filepath.Base(source), uuid.NewString()))
}

// Trim stream-copies [startMs, endMs] of source. On failure no file is left
// behind.
func (t *Trimmer) Trim(ctx context.Context, source string, startMs, endMs int64) (*Artifact, error) {
	art := &Artifact{Path: t.artifactPath(source)}

	res := t.Runner.Run(ctx, t.Binary, trimArgs(source, art.Path, startMs, endMs)...)
	if !res.IsSuccess() {
		_ = art.Remove()
		if ctx.Err() != nil {
			return nil, &Error{Kind: ErrCanceled, Phase: PhaseTrimming, Err: ctx.Err()}
		}
		return nil, newError(ErrTrim, PhaseTrimming, "ffmpeg exited with code %d: %s",
			res.ExitCode, ffmpeg.Tail(res.StderrTail, 512))
	}

	info, err := os.Stat(art.Path)
	if err != nil {
		_ = art.Remove()
		return nil, &Error{Kind: ErrTrim, Phase: PhaseTrimming, Err: fmt.Errorf("trimmed artifact missing: %w", err)}
	}
	if info.Size() == 0 {
		_ = art.Remove()
		return nil, newError(ErrTrim, PhaseTrimming, "trimmed artifact is empty")
	}
	return art, nil
}

func trimArgs(source, dest string, startMs, endMs int64) []string {
	return []string{
		"-y", "-hide_banner", "-loglevel", "error",
		"-i", source,
		"-c", "copy",
		"-ss", FormatTimecode(startMs, true),
		"-to", FormatTimecode(endMs, true),
		"-f", "mp4",
		dest,
	}
}
