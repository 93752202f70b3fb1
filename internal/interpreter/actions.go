package interpreter

import (
	"fmt"
	"regexp"

	"github.com/haggleworks/dealgent/internal/models"
)

// Confidence weights, ordered by evidence strength: explicit lexical cue >
// context inference > calculated fallback > default continue.
const (
	ConfidenceLexicalAccept  = 0.9
	ConfidenceLexicalReject  = 0.85
	ConfidenceLexicalCounter = 0.75
	ConfidenceInferredStrong = 0.7
	ConfidenceInferredWeak   = 0.55
	ConfidenceCalculated     = 0.5
	ConfidenceDefault        = 0.3
)

// Context-inference price thresholds
const (
	acceptFraction  = 0.95 // offer vs base price
	counterFraction = 0.8  // offer vs base price
	lowballFraction = 0.8  // offer vs min price
)

// actionCue is an explicit lexical signal for a decision action.
type actionCue struct {
	pattern    *regexp.Regexp
	action     models.Action
	confidence float64
}

// Cues are scanned in priority order accept > reject > counter; the first
// match wins.
var actionCues = []actionCue{
	{regexp.MustCompile(`(?i)\b(?:i\s+accept|accept\s+your|deal!?\b|sold!?\b|it'?s\s+a\s+deal|we\s+have\s+a\s+deal|agreed)\b`), models.ActionAccept, ConfidenceLexicalAccept},
	{regexp.MustCompile(`(?i)\b(?:i\s+(?:must\s+)?(?:reject|decline|refuse)|can'?t\s+accept|cannot\s+accept|no\s+deal|too\s+low\s+to\s+consider)\b`), models.ActionReject, ConfidenceLexicalReject},
	{regexp.MustCompile(`(?i)\b(?:counter(?:-?offer)?|how\s+about|i\s+(?:can|could)\s+(?:do|offer|go)|meet\s+(?:you\s+)?(?:in\s+the\s+middle|halfway)|best\s+i\s+can\s+do|would\s+you\s+consider)\b`), models.ActionCounter, ConfidenceLexicalCounter},
}

// detection is the outcome of action detection with its evidence trail.
type detection struct {
	action     models.Action
	confidence float64
	reason     string
	lexical    bool
}

// detectAction scans sanitized text for explicit cues and falls back to
// context-based inference when none match.
func detectAction(text string, ctx models.NegotiationContext) detection {
	for _, cue := range actionCues {
		if loc := cue.pattern.FindString(text); loc != "" {
			return detection{
				action:     cue.action,
				confidence: cue.confidence,
				reason:     fmt.Sprintf("explicit %s cue in reply: %q", cue.action, loc),
				lexical:    true,
			}
		}
	}
	return inferAction(ctx)
}

// inferAction decides from numeric context alone when the reply carries no
// explicit cue.
func inferAction(ctx models.NegotiationContext) detection {
	offer := ctx.CurrentOffer
	switch {
	case ctx.FinalRound() && offer >= ctx.MinPrice:
		return detection{models.ActionAccept, ConfidenceInferredStrong,
			fmt.Sprintf("final round and offer %.2f meets the %.2f floor", offer, ctx.MinPrice), false}
	case ctx.FinalRound():
		return detection{models.ActionReject, ConfidenceInferredStrong,
			fmt.Sprintf("final round and offer %.2f is below the %.2f floor", offer, ctx.MinPrice), false}
	case offer >= acceptFraction*ctx.BasePrice:
		return detection{models.ActionAccept, ConfidenceInferredStrong,
			fmt.Sprintf("offer %.2f is within 5%% of the %.2f asking price", offer, ctx.BasePrice), false}
	case offer >= counterFraction*ctx.BasePrice:
		return detection{models.ActionCounter, ConfidenceInferredWeak,
			fmt.Sprintf("offer %.2f is close enough to %.2f to counter", offer, ctx.BasePrice), false}
	case offer > 0 && offer < lowballFraction*ctx.MinPrice:
		return detection{models.ActionReject, ConfidenceInferredWeak,
			fmt.Sprintf("offer %.2f is a lowball against the %.2f floor", offer, ctx.MinPrice), false}
	default:
		return detection{models.ActionContinue, ConfidenceDefault,
			"no explicit cue and no decisive price signal", false}
	}
}
