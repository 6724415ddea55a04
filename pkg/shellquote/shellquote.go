// Package shellquote renders argv slices as pasteable POSIX shell command lines.
package shellquote

import (
	"strings"
)

// characters that never need quoting in sh/bash/zsh
const safe = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789_@%+=:,./-"

// Quote returns s unchanged when it is shell-safe, otherwise wrapped in single quotes.
// An embedded single quote is emitted escaped, between two quoted runs.
func Quote(s string) string {
	if s == "" {
		return "''"
	}

	if strings.Trim(s, safe) == "" {
		return s
	}

	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// Join constructs a shell-pasteable command line from bin and args.
func Join(bin string, args []string) string {
	var b strings.Builder

	b.WriteString(Quote(bin))

	for _, arg := range args {
		b.WriteByte(' ')
		b.WriteString(Quote(arg))
	}

	return b.String()
}
