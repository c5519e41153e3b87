package export

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// FormatTimecode renders milliseconds as MM:SS or MM:SS.mmm. Minutes are not
// wrapped into hours, so 90 minutes renders as "90:00".
func FormatTimecode(ms int64, withFraction bool) string {
	if ms < 0 {
		ms = 0
	}
	minutes := ms / 60000
	seconds := (ms / 1000) % 60
	if !withFraction {
		return fmt.Sprintf("%02d:%02d", minutes, seconds)
	}
	return fmt.Sprintf("%02d:%02d.%03d", minutes, seconds, ms%1000)
}

// ParseTimecode accepts "M:S" and "M:S.ms". The minute segment is required;
// an empty seconds or fraction segment counts as zero. The fraction is a
// millisecond count, not a decimal fraction of a second. It reports false
// for anything malformed or for totals that do not fit in an int64.
func ParseTimecode(text string) (int64, bool) {
	text = strings.TrimSpace(text)
	minPart, rest, ok := strings.Cut(text, ":")
	if !ok || minPart == "" || strings.Contains(rest, ":") {
		return 0, false
	}
	secPart, fracPart, hasFrac := strings.Cut(rest, ".")
	if hasFrac && strings.Contains(fracPart, ".") {
		return 0, false
	}

	minutes, ok := parseSegment(minPart)
	if !ok {
		return 0, false
	}
	seconds, ok := parseSegment(secPart)
	if !ok {
		return 0, false
	}
	millis, ok := parseSegment(fracPart)
	if !ok {
		return 0, false
	}

	if minutes > math.MaxInt64/60000 {
		return 0, false
	}
	total := minutes * 60000
	if seconds > (math.MaxInt64-total)/1000 {
		return 0, false
	}
	total += seconds * 1000
	if millis > math.MaxInt64-total {
		return 0, false
	}
	return total + millis, true
}

// parseSegment parses a run of ASCII digits. The empty string is zero.
func parseSegment(s string) (int64, bool) {
	if s == "" {
		return 0, true
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
