package video

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode"
)

// SanitizeClipName reduces a clip name to a filesystem-safe form:
// letters, digits, '-', '_' and '.' survive, everything else becomes
// an underscore. Control characters are dropped.
func SanitizeClipName(s string, maxLen int) string {
	var b strings.Builder
	for _, r := range s {
		if unicode.IsControl(r) {
			continue
		}
		if isAllowedFileRune(r) {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}

	cleaned := strings.Trim(b.String(), "_ ")
	if cleaned == "" {
		cleaned = "clip"
	}
	if maxLen > 0 {
		runes := []rune(cleaned)
		if len(runes) > maxLen {
			cleaned = string(runes[:maxLen])
		}
	}
	return cleaned
}

func isAllowedFileRune(r rune) bool {
	if unicode.IsLetter(r) || unicode.IsDigit(r) {
		return true
	}
	switch r {
	case '-', '_', '.':
		return true
	default:
		return false
	}
}

// UniquePath returns a destination path that does not collide with an
// existing file, appending _v2, _v3, ... before the extension as
// needed. Two same-named clips relocated back-to-back never overwrite
// each other.
func UniquePath(dir, base, ext string) string {
	candidate := filepath.Join(dir, base+ext)
	if _, err := os.Stat(candidate); os.IsNotExist(err) {
		return candidate
	}
	for v := 2; ; v++ {
		candidate = filepath.Join(dir, fmt.Sprintf("%s_v%d%s", base, v, ext))
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate
		}
	}
}
