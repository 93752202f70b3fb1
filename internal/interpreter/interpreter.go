package interpreter

import (
	"log/slog"
	"time"

	"github.com/haggleworks/dealgent/internal/models"
)

// Processor runs the interpretation pipeline over raw model replies. It is
// stateless; one Processor may be shared by any number of goroutines.
type Processor struct {
	model string // model identifier stamped into decision metadata
}

// NewProcessor creates a Processor tagging decisions with the given model id.
func NewProcessor(model string) *Processor {
	slog.Debug("Creating interpreter Processor", "model", model)
	return &Processor{model: model}
}

// Process turns a raw model reply into a StructuredDecision. It never fails:
// invalid context yields an error decision, and every other internal failure
// mode degrades to a low-confidence continue decision.
func (p *Processor) Process(rawText string, ctx models.NegotiationContext) models.StructuredDecision {
	start := time.Now()

	if err := ctx.Validate(); err != nil {
		slog.Error("Interpreter context validation failed", "error", err)
		return p.errorDecision(err.Error(), start)
	}

	clean := Sanitize(rawText)
	det := detectAction(clean, ctx)

	decision := models.StructuredDecision{
		Action:           det.action,
		Confidence:       det.confidence,
		Reasoning:        det.reason,
		ValidationStatus: models.ValidationValid,
	}

	switch det.action {
	case models.ActionCounter:
		decision.Offer = resolveCounterOffer(clean, ctx)
	case models.ActionAccept:
		decision.Offer = &models.DecisionOffer{
			Amount:   ctx.CurrentOffer,
			Currency: models.DefaultCurrency,
			Final:    true,
			Source:   models.OfferSourceAccepted,
		}
	}

	if errs := validateStructure(&decision); len(errs) > 0 {
		slog.Warn("Interpreter structural validation failed", "errors", errs)
		decision.ValidationStatus = models.ValidationInvalid
		decision.ValidationErrors = errs
	}
	decision.Flags = businessFlags(&decision, ctx)

	decision.Message = cleanDisplay(clean, det.action)
	decision.Meta = models.DecisionMeta{Model: p.model, Elapsed: time.Since(start)}

	slog.Debug("Interpreter decision produced",
		"action", decision.Action,
		"confidence", decision.Confidence,
		"lexical", det.lexical,
		"flags", len(decision.Flags))
	return decision
}

// errorDecision is the uniform result for unusable context: the caller still
// gets a decision, but it carries the validation failure and never proposes
// a price.
func (p *Processor) errorDecision(reason string, start time.Time) models.StructuredDecision {
	return models.StructuredDecision{
		Action:           models.ActionContinue,
		Confidence:       ConfidenceDefault,
		Reasoning:        reason,
		Message:          cannedMessages[models.ActionContinue],
		ValidationStatus: models.ValidationInvalid,
		ValidationErrors: []string{reason},
		Meta:             models.DecisionMeta{Model: p.model, Elapsed: time.Since(start)},
	}
}

// FallbackDecision is the pre-authored decision substituted when the model
// call times out or errors. State is only mutated after a decision exists, so
// this keeps turns from stalling on an unavailable oracle.
func FallbackDecision(model string) models.StructuredDecision {
	return models.StructuredDecision{
		Action:           models.ActionContinue,
		Confidence:       ConfidenceDefault,
		Reasoning:        "model unavailable, holding position this turn",
		Message:          cannedMessages[models.ActionContinue],
		ValidationStatus: models.ValidationValid,
		IsFallback:       true,
		Meta:             models.DecisionMeta{Model: model},
	}
}
