package util

import (
	"regexp"
	"strings"
)

var (
	angleBrackets   = regexp.MustCompile(`[<>]`)
	javascriptProto = regexp.MustCompile(`(?i)javascript:`)
	inlineHandler   = regexp.MustCompile(`(?i)on\w+\s*=`)
)

// SanitizeInput trims s and strips markup brackets, javascript: URIs and
// inline event handler attributes. It is a cleanup step for stored text, not
// an escaping function for HTML output.
func SanitizeInput(s string) string {
	s = strings.TrimSpace(s)
	s = angleBrackets.ReplaceAllString(s, "")
	s = javascriptProto.ReplaceAllString(s, "")
	s = inlineHandler.ReplaceAllString(s, "")
	return s
}

// Truncate cuts s to at most n runes.
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
