package interpreter

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/haggleworks/dealgent/internal/models"
)

// leakedKeywords strips bare action labels the model sometimes prefixes to
// its reply ("COUNTER: how about...").
var leakedKeywords = regexp.MustCompile(`(?i)^\s*(?:action\s*:\s*)?(?:accept|reject|counter|continue)\s*[:\-]\s*`)

// cannedMessages substitute for an empty reply after cleanup.
var cannedMessages = map[models.Action]string{
	models.ActionAccept:   "That works for me. You have a deal!",
	models.ActionReject:   "I'm sorry, but I can't go that low. Thank you for your interest.",
	models.ActionCounter:  "I appreciate the offer, but let me propose a different number.",
	models.ActionContinue: "Let me think about that for a moment.",
}

// cleanDisplay normalizes the sanitized text for presentation: leaked action
// keywords removed, sentence case restored, terminal punctuation ensured. An
// empty result falls back to a canned per-action message.
func cleanDisplay(text string, action models.Action) string {
	out := leakedKeywords.ReplaceAllString(text, "")
	out = strings.TrimSpace(out)
	if out == "" {
		return cannedMessages[action]
	}
	runes := []rune(out)
	runes[0] = unicode.ToUpper(runes[0])
	out = string(runes)
	if !strings.ContainsAny(string(runes[len(runes)-1]), ".!?") {
		out += "."
	}
	return out
}
