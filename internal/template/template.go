// Package template selects negotiation prompt scenarios and fills their
// text templates from per-turn context. Selection and filling are pure
// functions of the context: no state, no I/O, safe to call concurrently.
package template

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/haggleworks/dealgent/internal/models"
)

// ScenarioID identifies a prompt scenario for one negotiation turn.
type ScenarioID string

const (
	// ScenarioFinalRound is used when the round limit has been reached.
	ScenarioFinalRound ScenarioID = "final_round"
	// ScenarioPriceJustification pushes back on offers far below the floor.
	ScenarioPriceJustification ScenarioID = "price_justification"
	// ScenarioUrgentLiquidation applies when the seller needs a fast close.
	ScenarioUrgentLiquidation ScenarioID = "urgent_liquidation"
	// ScenarioSlowMover applies to listings with long market time and few views.
	ScenarioSlowMover ScenarioID = "slow_mover"
	// ScenarioOpening is the first-contact scenario.
	ScenarioOpening ScenarioID = "opening"
	// ScenarioCounterOffer is the default mid-negotiation scenario.
	ScenarioCounterOffer ScenarioID = "counter_offer"
)

// Selection thresholds
const (
	// LowballFraction of min price below which the buyer must justify the offer.
	LowballFraction = 0.8
	// SlowMoverDays on market past which the slow-mover scenario applies.
	SlowMoverDays = 30
	// SlowMoverViews below which a listing counts as low-interest.
	SlowMoverViews = 25
)

var registry = make(map[ScenarioID]string)

// Register associates a ScenarioID with a template body. Later registrations
// replace earlier ones, which lets deployments override the built-in texts.
func Register(id ScenarioID, body string) {
	registry[id] = body
}

// Get retrieves the template body for a scenario.
func Get(id ScenarioID) (string, bool) {
	body, ok := registry[id]
	return body, ok
}

// Select classifies the context into a scenario and returns its filled
// template. Tie-break order: final round, price justification, urgency,
// slow mover, opening, then the default counter-offer scenario.
func Select(ctx models.NegotiationContext) (ScenarioID, string) {
	id := classify(ctx)
	body, ok := Get(id)
	if !ok {
		slog.Error("template: no template registered for scenario, using counter_offer", "scenario", id)
		body = registry[ScenarioCounterOffer]
		id = ScenarioCounterOffer
	}
	filled := Fill(body, Values(ctx))
	slog.Debug("template: scenario selected", "scenario", id, "round", ctx.Round, "maxRounds", ctx.MaxRounds)
	return id, filled
}

func classify(ctx models.NegotiationContext) ScenarioID {
	if ctx.FinalRound() {
		return ScenarioFinalRound
	}
	if ctx.CurrentOffer > 0 && ctx.CurrentOffer < LowballFraction*ctx.MinPrice {
		return ScenarioPriceJustification
	}
	if ctx.Urgency == models.UrgencyHigh {
		return ScenarioUrgentLiquidation
	}
	if ctx.DaysOnMarket > SlowMoverDays && ctx.ViewCount < SlowMoverViews {
		return ScenarioSlowMover
	}
	if ctx.Round == 1 {
		return ScenarioOpening
	}
	return ScenarioCounterOffer
}

var placeholderPattern = regexp.MustCompile(`\{([a-zA-Z_][a-zA-Z0-9_]*)\}`)

// Fill substitutes {name} placeholders with the matching value. A placeholder
// with no value is replaced with an empty string so no raw marker ever leaks
// into model-facing or user-facing text.
func Fill(tpl string, values map[string]string) string {
	return placeholderPattern.ReplaceAllStringFunc(tpl, func(m string) string {
		name := m[1 : len(m)-1]
		return values[name]
	})
}

// Values flattens a context into the placeholder map used by Fill.
func Values(ctx models.NegotiationContext) map[string]string {
	return map[string]string{
		"product":        ctx.ProductTitle,
		"category":       ctx.Category,
		"base_price":     formatPrice(ctx.BasePrice),
		"min_price":      formatPrice(ctx.MinPrice),
		"current_offer":  formatPrice(ctx.CurrentOffer),
		"round":          fmt.Sprintf("%d", ctx.Round),
		"max_rounds":     fmt.Sprintf("%d", ctx.MaxRounds),
		"rounds_left":    fmt.Sprintf("%d", max(ctx.MaxRounds-ctx.Round, 0)),
		"urgency":        string(ctx.Urgency),
		"personality":    ctx.Personality,
		"days_on_market": fmt.Sprintf("%d", ctx.DaysOnMarket),
		"view_count":     fmt.Sprintf("%d", ctx.ViewCount),
		"buyer_message":  ctx.BuyerMessage,
	}
}

func formatPrice(v float64) string {
	if v == 0 {
		return ""
	}
	s := fmt.Sprintf("%.2f", v)
	s = strings.TrimSuffix(s, ".00")
	return s
}
