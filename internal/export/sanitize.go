package export

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode"
)

// SanitizeName strips control characters and replaces anything outside a
// conservative set with '_', so the result is safe as a download file name.
func SanitizeName(s string, maxLen int) string {
	var b strings.Builder
	for _, r := range s {
		if unicode.IsControl(r) {
			continue
		}
		if isAllowedNameRune(r) {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}

	cleaned := strings.TrimSpace(b.String())
	if maxLen > 0 {
		runes := []rune(cleaned)
		if len(runes) > maxLen {
			cleaned = string(runes[:maxLen])
		}
	}
	return cleaned
}

func isAllowedNameRune(r rune) bool {
	if unicode.IsLetter(r) || unicode.IsDigit(r) {
		return true
	}
	switch r {
	case ' ', '-', '_', '.', ',', '(', ')':
		return true
	default:
		return false
	}
}

// ValidateOutputPath checks a caller-supplied output path before any tool is
// run: it must be absolute and clean, must not traverse upwards, must not be
// the source, and its parent directory must exist.
func ValidateOutputPath(output, source string) error {
	if strings.TrimSpace(output) == "" {
		return newError(ErrInvalidRequest, PhaseIdle, "output is required")
	}

	for _, part := range strings.Split(filepath.ToSlash(output), "/") {
		if part == ".." {
			return newError(ErrInvalidRequest, PhaseIdle, "output cannot contain path traversal")
		}
	}

	if !filepath.IsAbs(output) {
		return newError(ErrInvalidRequest, PhaseIdle, "output must be an absolute path")
	}
	if filepath.Clean(output) != output {
		return newError(ErrInvalidRequest, PhaseIdle, "output must be a clean path")
	}
	if source != "" && filepath.Clean(source) == output {
		return newError(ErrInvalidRequest, PhaseIdle, "output must differ from source")
	}

	dir := filepath.Dir(output)
	info, err := os.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return newError(ErrInvalidRequest, PhaseIdle, "output directory %s does not exist", dir)
		}
		return &Error{Kind: ErrInvalidRequest, Phase: PhaseIdle, Err: fmt.Errorf("invalid output directory: %w", err)}
	}
	if !info.IsDir() {
		return newError(ErrInvalidRequest, PhaseIdle, "%s is not a directory", dir)
	}
	if info, err := os.Stat(output); err == nil && info.IsDir() {
		return newError(ErrInvalidRequest, PhaseIdle, "output %s is a directory", output)
	}

	return nil
}
