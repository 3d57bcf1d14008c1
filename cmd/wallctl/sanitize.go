package main

import (
	"strings"
	"unicode"
)

// sanitize drops runes that let message text drive the terminal: control
// characters (escape sequences start with ESC) and bidi overrides that can
// reorder what is displayed. Newlines and tabs become spaces so each message
// stays on one line.
func sanitize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r == '\n' || r == '\t' || r == '\r':
			b.WriteByte(' ')
		case unicode.IsControl(r), isBidiControl(r):
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

func isBidiControl(r rune) bool {
	switch {
	// Embeddings and overrides.
	case r >= 0x202A && r <= 0x202E:
		return true
	// Isolates.
	case r >= 0x2066 && r <= 0x2069:
		return true
	case r == 0x200E || r == 0x200F || r == 0x061C:
		return true
	default:
		return false
	}
}
