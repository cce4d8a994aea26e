package textutil

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

var htmlTag = regexp.MustCompile(`<[^>]+>`)

// Clean strips HTML tags and collapses whitespace.
func Clean(s string) string {
	s = htmlTag.ReplaceAllString(s, "")
	return strings.Join(strings.Fields(s), " ")
}

// Truncate cuts s to at most limit runes and appends "..." when it had to cut.
func Truncate(s string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(s) <= limit {
		return s
	}
	return string([]rune(s)[:limit]) + "..."
}

// Prefix returns the first limit runes of s.
func Prefix(s string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(s) <= limit {
		return s
	}
	return string([]rune(s)[:limit])
}
