// Package normalize canonicalizes extracted page text.
package normalize

import (
	"regexp"
	"strings"
)

var (
	horizontalSpace = regexp.MustCompile(`[ \t\f\v\x{00a0}\x{2000}-\x{200a}\x{202f}\x{205f}\x{3000}]+`)
	spaceAroundLF   = regexp.MustCompile(` ?\n ?`)
	blankLines      = regexp.MustCompile(`\n{3,}`)
)

// Text collapses horizontal whitespace runs to one space, removes spaces
// adjacent to line breaks, collapses three or more consecutive newlines to
// exactly two and trims the result. Text(Text(s)) == Text(s).
func Text(s string) string {
	if s == "" {
		return ""
	}
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = strings.ReplaceAll(s, "\x00", "")
	s = horizontalSpace.ReplaceAllString(s, " ")
	s = spaceAroundLF.ReplaceAllString(s, "\n")
	s = blankLines.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

// Len is the rune length of the normalized text.
func Len(s string) int {
	return len([]rune(Text(s)))
}
