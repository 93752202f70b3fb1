package interpreter

import (
	"fmt"

	"github.com/haggleworks/dealgent/internal/models"
)

// Business-rule thresholds. Violations are advisory flags, not hard
// failures; upstream policy decides whether to treat them as fatal.
const (
	maxOfferMultiple   = 2.0 // of base price
	minCounterFraction = 0.5 // of min price
	minAcceptFraction  = 0.9 // of min price
	lowConfidenceFloor = 0.4
)

// validateStructure checks the decision shape. Failures mark the decision
// invalid but never drop it; errors ride along for the caller.
func validateStructure(d *models.StructuredDecision) []string {
	var errs []string
	if !models.IsValidAction(d.Action) {
		errs = append(errs, fmt.Sprintf("unknown action %q", d.Action))
	}
	if d.Confidence < 0 || d.Confidence > 1 {
		errs = append(errs, fmt.Sprintf("confidence %.2f outside [0,1]", d.Confidence))
	}
	if d.Reasoning == "" {
		errs = append(errs, "missing reasoning")
	}
	if d.Action == models.ActionCounter && d.Offer == nil {
		errs = append(errs, "counter decision without an offer")
	}
	if d.Offer != nil {
		switch d.Offer.Source {
		case models.OfferSourceExtracted, models.OfferSourceCalculated, models.OfferSourceFallback, models.OfferSourceAccepted:
		default:
			errs = append(errs, fmt.Sprintf("unknown offer source %q", d.Offer.Source))
		}
	}
	return errs
}

// businessFlags applies the advisory pricing rules against the turn context.
func businessFlags(d *models.StructuredDecision, ctx models.NegotiationContext) []string {
	var flags []string
	if d.Offer != nil {
		if d.Offer.Amount < 0 {
			flags = append(flags, "offer_negative")
		}
		if d.Offer.Amount > maxOfferMultiple*ctx.BasePrice {
			flags = append(flags, "offer_exceeds_price_ceiling")
		}
		if d.Action == models.ActionCounter && d.Offer.Amount < minCounterFraction*ctx.MinPrice {
			flags = append(flags, "counter_below_half_floor")
		}
		if d.Action == models.ActionAccept && d.Offer.Amount < minAcceptFraction*ctx.MinPrice {
			flags = append(flags, "accept_below_ninety_percent_floor")
		}
	}
	if d.Action == models.ActionContinue && ctx.FinalRound() {
		flags = append(flags, "continue_past_final_round")
	}
	if d.Confidence < lowConfidenceFloor {
		flags = append(flags, "parse_low_confidence")
	}
	return flags
}
