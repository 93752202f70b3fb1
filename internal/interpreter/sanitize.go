// Package interpreter turns raw language-model replies into structured,
// validated negotiation decisions. The model is untrusted input: every reply
// is sanitized before any pattern matching runs over it.
package interpreter

import (
	"regexp"
	"strings"

	"github.com/haggleworks/dealgent/internal/models"
)

// redaction pairs a detection pattern with the marker category substituted
// for every match.
type redaction struct {
	pattern  *regexp.Regexp
	category string
}

// Order matters: markup is stripped before PII so script payloads cannot
// smuggle digits past the later patterns.
var redactions = []redaction{
	{regexp.MustCompile(`(?is)<script.*?>.*?</script>`), "SCRIPT"},
	{regexp.MustCompile(`(?i)<[a-z][^>]*>`), "MARKUP"},
	{regexp.MustCompile(`(?i)javascript:\S+`), "SCRIPT"},
	{regexp.MustCompile(`\b(?:\+?1[-.\s]?)?\(?\d{3}\)?[-.\s]?\d{3}[-.\s]?\d{4}\b`), "PHONE"},
	{regexp.MustCompile(`\b[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}\b`), "EMAIL"},
	{regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`), "NATIONAL_ID"},
	{regexp.MustCompile(`\b(?:\d[ -]?){13,16}\b`), "CARD"},
	{regexp.MustCompile(`(?i)\b(?:viagra|crypto\s+giveaway|wire\s+transfer\s+fee|click\s+here\s+to\s+claim)\b`), "SPAM"},
	{regexp.MustCompile(`(?i)\b(?:damn|hell|bastard|screw\s+you)\b`), "PROFANITY"},
}

var whitespacePattern = regexp.MustCompile(`\s+`)

// Sanitize strips executable-looking markup, redacts PII and spam phrasing
// with [<CATEGORY>_FILTERED] markers, collapses whitespace, and hard-caps the
// length. The result is what every later pipeline stage operates on.
func Sanitize(text string) string {
	out := text
	for _, r := range redactions {
		out = r.pattern.ReplaceAllString(out, "["+r.category+"_FILTERED]")
	}
	out = whitespacePattern.ReplaceAllString(out, " ")
	out = strings.TrimSpace(out)
	if runes := []rune(out); len(runes) > models.MaxSanitizedTextLength {
		out = string(runes[:models.MaxSanitizedTextLength]) + "..."
	}
	return out
}
