package export

import "math"

// kbitPerMB converts megabytes to kilobits with 1024-based prefixes.
const kbitPerMB = 8192

// bytesPerMB is the byte size of one megabyte as used for size ceilings.
const bytesPerMB = 1024 * 1024

// TargetVideoKbps returns the video bitrate that, together with the audio
// stream, spends exactly sizeMB over durationMs. The result is truncated.
func TargetVideoKbps(sizeMB float64, audioKbps int, durationMs int64) (int, error) {
	if durationMs <= 0 {
		return 0, newError(ErrInvalidRange, PhaseProbing, "clip duration %d ms is not positive", durationMs)
	}
	seconds := float64(durationMs) / 1000
	total := sizeMB * kbitPerMB / seconds
	video := math.Trunc(total - float64(audioKbps))
	if video <= 0 {
		return 0, newError(ErrUnachievableBudget, PhaseProbing,
			"audio needs %d kbps but only %.0f kbps fit in %g MB over %.3fs",
			audioKbps, total, sizeMB, seconds)
	}
	return int(video), nil
}

// ceilingBytes converts a megabyte ceiling into bytes.
func ceilingBytes(sizeMB float64) int64 {
	return int64(sizeMB * bytesPerMB)
}
