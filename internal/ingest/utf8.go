package ingest

import (
	"strings"
	"unicode/utf8"
)

// SanitizeUTF8 replaces every invalid byte of s with U+FFFD and reports
// whether it had to. Valid input is returned as is without allocating.
//
// Line protocol puts no encoding constraint on keys and string values, so
// batches from syslog relays or Latin-1 producers can carry raw bytes that
// downstream consumers reject.
func SanitizeUTF8(s string) (string, bool) {
	if utf8.ValidString(s) {
		return s, false
	}

	var sb strings.Builder
	sb.Grow(len(s) + len(s)/8)
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		if r == utf8.RuneError && size == 1 {
			sb.WriteRune(utf8.RuneError)
		} else {
			sb.WriteString(s[i : i+size])
		}
		i += size
	}
	return sb.String(), true
}
