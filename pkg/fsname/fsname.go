// Package fsname turns arbitrary titles into portable file and folder names.
package fsname

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// MaxBytes is the longest path component accepted by common filesystems.
const MaxBytes = 255

const illegal = `/\?%*:|"<>`

// Windows device names, matched against the part before the first dot.
var reserved = map[string]struct{}{
	"CON": {}, "PRN": {}, "AUX": {}, "NUL": {},
	"COM1": {}, "COM2": {}, "COM3": {}, "COM4": {}, "COM5": {}, "COM6": {}, "COM7": {}, "COM8": {}, "COM9": {},
	"LPT1": {}, "LPT2": {}, "LPT3": {}, "LPT4": {}, "LPT5": {}, "LPT6": {}, "LPT7": {}, "LPT8": {}, "LPT9": {},
}

// Sanitize returns name with path separators, shell-hostile punctuation,
// control characters and invalid UTF-8 removed. Trailing dots and spaces are
// dropped, reserved device names are prefixed with "_" and the result is
// capped at MaxBytes. It never returns an empty string.
//
// Sanitize(Sanitize(s)) == Sanitize(s) for every s.
func Sanitize(name string) string {
	return finish(truncate(clean(name), MaxBytes))
}

// SanitizeTail sanitizes head+tail like Sanitize, but only head is shortened
// to fit MaxBytes, so an identifier or extension in tail survives. A tail that
// cannot fit on its own is cut like any other name.
func SanitizeTail(head, tail string) string {
	t := clean(tail)
	if len(t) >= MaxBytes {
		return Sanitize(head + tail)
	}

	return finish(truncate(clean(head), MaxBytes-len(t)) + t)
}

func clean(name string) string {
	var b strings.Builder

	b.Grow(len(name))

	for i := 0; i < len(name); {
		r, size := utf8.DecodeRuneInString(name[i:])
		i += size

		if r == utf8.RuneError && size <= 1 {
			continue
		}

		if unicode.IsControl(r) || strings.ContainsRune(illegal, r) {
			continue
		}

		b.WriteRune(r)
	}

	return b.String()
}

func finish(s string) string {
	out := trimTail(s)

	if isReserved(out) {
		out = trimTail(truncate("_"+out, MaxBytes))
	}

	if out == "" {
		return "_"
	}

	return out
}

func trimTail(s string) string {
	return strings.TrimRight(s, ". ")
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}

	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}

	return s[:n]
}

func isReserved(s string) bool {
	stem, _, _ := strings.Cut(s, ".")
	stem = strings.ToUpper(strings.TrimRight(stem, " "))

	_, ok := reserved[stem]

	return ok
}
