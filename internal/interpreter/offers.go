package interpreter

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/haggleworks/dealgent/internal/models"
)

// Extraction bounds relative to the listing's price band. Candidates outside
// the band are treated as noise (years, quantities, phone fragments).
const (
	extractFloorFraction = 0.7 // of min price
	extractCeilFraction  = 1.2 // of base price
)

// Strategic counter formula parameters
const (
	gapCloseNearAsk   = 0.4 // offer already at 110% of floor
	gapCloseAboveMin  = 0.6 // offer at or above floor
	anchorGapFraction = 0.3 // offer below floor: anchor at min + 30% of band
)

// amountGroup matches a money amount written either with comma grouping
// ("2,100") or as a bare digit run ("2100"), with optional cents.
const amountGroup = `((?:\d{1,3}(?:,\d{3})+|\d+)(?:\.\d{1,2})?)`

// Numeric extraction patterns, tried in order over the sanitized text.
var offerPatterns = []*regexp.Regexp{
	regexp.MustCompile(`[$€£]\s?` + amountGroup),
	regexp.MustCompile(`(?i)` + amountGroup + `\s*(?:dollars|usd|bucks)`),
	regexp.MustCompile(`(?i)\boffer(?:ing)?\s+(?:you\s+)?` + amountGroup),
	regexp.MustCompile(`(?i)\bhow\s+about\s+` + amountGroup),
	regexp.MustCompile(`(?i)\b(?:can|could)\s+(?:do|go(?:\s+to)?)\s+` + amountGroup),
}

// extractOffer scans sanitized text for a plausible counter amount. It
// returns the first candidate inside the extraction band, skipping amounts
// that merely echo the buyer's current offer. The bool reports whether any
// numeric candidate was found at all, in or out of band.
func extractOffer(text string, ctx models.NegotiationContext) (float64, bool, bool) {
	floor := extractFloorFraction * ctx.MinPrice
	ceil := extractCeilFraction * ctx.BasePrice
	sawCandidate := false
	for _, p := range offerPatterns {
		for _, m := range p.FindAllStringSubmatch(text, -1) {
			raw := strings.ReplaceAll(m[1], ",", "")
			amount, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				continue
			}
			if amount == ctx.CurrentOffer {
				// The model repeating the buyer's number is not a counter.
				continue
			}
			sawCandidate = true
			if amount >= floor && amount <= ceil {
				return amount, true, true
			}
		}
	}
	return 0, false, sawCandidate
}

// BuyerOffer pulls the offer amount out of a buyer message. It applies the
// same numeric patterns as reply extraction but only a sanity bound relative
// to the asking price, since buyers may lowball far below the band.
func BuyerOffer(text string, basePrice float64) (float64, bool) {
	clean := Sanitize(text)
	for _, p := range offerPatterns {
		for _, m := range p.FindAllStringSubmatch(clean, -1) {
			raw := strings.ReplaceAll(m[1], ",", "")
			amount, err := strconv.ParseFloat(raw, 64)
			if err != nil || amount <= 0 {
				continue
			}
			if basePrice > 0 && amount > 3*basePrice {
				continue
			}
			return amount, true
		}
	}
	return 0, false
}

// strategicCounter computes an algorithmic counter when no usable amount can
// be extracted. The closer the buyer already is to the floor, the larger the
// share of the remaining gap the seller concedes.
func strategicCounter(ctx models.NegotiationContext) float64 {
	offer := ctx.CurrentOffer
	gap := ctx.BasePrice - offer
	switch {
	case offer >= 1.1*ctx.MinPrice:
		return offer + gapCloseNearAsk*gap
	case offer >= ctx.MinPrice:
		return offer + gapCloseAboveMin*gap
	default:
		return ctx.MinPrice + anchorGapFraction*(ctx.BasePrice-ctx.MinPrice)
	}
}

// resolveCounterOffer produces the offer block for a counter decision:
// extracted from text when possible, otherwise calculated. The fallback
// source marks the case where the text contained numbers but none were
// usable.
func resolveCounterOffer(text string, ctx models.NegotiationContext) *models.DecisionOffer {
	amount, ok, attempted := extractOffer(text, ctx)
	if ok {
		return &models.DecisionOffer{
			Amount:   amount,
			Currency: models.DefaultCurrency,
			Source:   models.OfferSourceExtracted,
		}
	}
	source := models.OfferSourceCalculated
	if attempted {
		source = models.OfferSourceFallback
	}
	return &models.DecisionOffer{
		Amount:   strategicCounter(ctx),
		Currency: models.DefaultCurrency,
		Source:   source,
	}
}
