package helpers

import (
	"strings"
	"unicode/utf8"
)

// SanitizeUTF8 replaces invalid UTF-8 sequences with the replacement
// character and drops NULL bytes. Message bodies arrive in whatever
// encoding the sender's client produced; the store only accepts valid
// UTF-8 text.
func SanitizeUTF8(s string) string {
	// Quick check: if string is valid UTF-8 and has no NULL bytes, return as-is
	if utf8.ValidString(s) && !strings.ContainsRune(s, '\x00') {
		return s
	}

	s = strings.ToValidUTF8(s, string(utf8.RuneError))
	if strings.ContainsRune(s, '\x00') {
		s = strings.ReplaceAll(s, "\x00", "")
	}
	return s
}

// TruncateRunes cuts s to at most n runes, appending the ellipsis marker
// when a cut happened.
func TruncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "…"
}
