package engine

import (
	"strings"

	"github.com/anatolykoptev/go-kit/strutil"
)

// TruncateRunes caps s at limit runes, appending suffix if truncated.
// Pass suffix="" for no suffix. Safe for UTF-8 (CJK, emoji).
func TruncateRunes(s string, limit int, suffix string) string {
	if limit <= 0 {
		return s
	}
	return strutil.TruncateWith(s, limit, suffix)
}

// Snippet returns a short single-line preview of s for log fields.
func Snippet(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	return strutil.TruncateWith(s, n, "…")
}
