// Package models defines the core data structures for the negotiation engine.
//
// It includes the per-turn negotiation context, stored messages and offers,
// structured decisions produced by the interpreter, and round limits, which
// are shared across modules.
package models

import (
	"errors"
	"time"
)

// Sender identifies which side of the negotiation produced a message.
type Sender string

const (
	// SenderBuyer marks messages written by the human buyer.
	SenderBuyer Sender = "buyer"
	// SenderAgent marks messages produced by the automated seller agent.
	SenderAgent Sender = "agent"
)

// Action is the decision category extracted from a model reply.
type Action string

const (
	// ActionAccept closes the negotiation at the buyer's current offer.
	ActionAccept Action = "accept"
	// ActionReject declines the buyer's current offer.
	ActionReject Action = "reject"
	// ActionCounter proposes a new price.
	ActionCounter Action = "counter"
	// ActionContinue keeps the conversation going without a price move.
	ActionContinue Action = "continue"
)

// IsValidAction checks if the given action is supported.
func IsValidAction(a Action) bool {
	switch a {
	case ActionAccept, ActionReject, ActionCounter, ActionContinue:
		return true
	default:
		return false
	}
}

// OfferSource records how a numeric offer was obtained.
type OfferSource string

const (
	// OfferSourceExtracted means the amount was read from the model's text.
	OfferSourceExtracted OfferSource = "extracted"
	// OfferSourceCalculated means the amount came from the strategic formula.
	OfferSourceCalculated OfferSource = "calculated"
	// OfferSourceFallback means extraction was attempted and failed outright.
	OfferSourceFallback OfferSource = "fallback"
	// OfferSourceAccepted means the amount is the buyer's offer, fixed by policy.
	OfferSourceAccepted OfferSource = "accepted"
)

// Urgency levels influence scenario selection for a turn.
type Urgency string

const (
	UrgencyLow    Urgency = "low"
	UrgencyMedium Urgency = "medium"
	UrgencyHigh   Urgency = "high"
)

// Validation constants for input validation
const (
	// MaxSanitizedTextLength is the hard cap applied to model output before interpretation.
	MaxSanitizedTextLength = 500
	// MaxRetainedMessages bounds per-branch message history; oldest entries are dropped beyond it.
	MaxRetainedMessages = 200
	// DefaultCurrency is assumed when an offer carries no explicit currency.
	DefaultCurrency = "USD"
)

// Error variables for better error handling and testability
var (
	ErrContextInvalid   = errors.New("negotiation context is invalid")
	ErrMissingPrices    = errors.New("base price and minimum price must be positive")
	ErrPriceInversion   = errors.New("minimum price exceeds base price")
	ErrInvalidRound     = errors.New("round must be at least 1")
	ErrModelUnavailable = errors.New("language model unavailable")
	ErrLimitExceeded    = errors.New("round or duration limit exceeded")
	ErrStateNotFound    = errors.New("negotiation state not found")
	ErrBranchExists     = errors.New("branch already exists")
	ErrBranchNotFound   = errors.New("branch not found")
	ErrUnknownFormat    = errors.New("unknown export format")
)

// NegotiationContext carries everything a single turn needs. It is ephemeral:
// built per turn from stored state plus the incoming buyer message, never stored.
type NegotiationContext struct {
	ProductID    string  `json:"product_id"`
	ProductTitle string  `json:"product_title,omitempty"`
	Category     string  `json:"category,omitempty"`
	BasePrice    float64 `json:"base_price"`
	MinPrice     float64 `json:"min_price"`
	CurrentOffer float64 `json:"current_offer"`
	Round        int     `json:"round"`
	MaxRounds    int     `json:"max_rounds"`
	Urgency      Urgency `json:"urgency,omitempty"`
	Personality  string  `json:"personality,omitempty"`
	DaysOnMarket int     `json:"days_on_market,omitempty"`
	ViewCount    int     `json:"view_count,omitempty"`
	BuyerMessage string  `json:"buyer_message,omitempty"`
}

// Validate performs comprehensive validation on a NegotiationContext.
func (c *NegotiationContext) Validate() error {
	if c.BasePrice <= 0 || c.MinPrice <= 0 {
		return ErrMissingPrices
	}
	if c.MinPrice > c.BasePrice {
		return ErrPriceInversion
	}
	if c.Round < 1 {
		return ErrInvalidRound
	}
	return nil
}

// FinalRound reports whether this turn is at or past the round limit.
func (c *NegotiationContext) FinalRound() bool {
	return c.MaxRounds > 0 && c.Round >= c.MaxRounds
}

// Offer is a concrete price proposal recorded in the negotiation history.
type Offer struct {
	Amount    float64   `json:"amount"`
	Currency  string    `json:"currency"`
	Round     int       `json:"round"`
	Sender    Sender    `json:"sender"`
	Timestamp time.Time `json:"timestamp"`
}

// MessageMeta holds optional classification attached to a stored message.
type MessageMeta struct {
	Sentiment  float64 `json:"sentiment"`            // -1 (hostile) .. 1 (positive)
	Strategy   string  `json:"strategy,omitempty"`   // detected buyer strategy label
	Confidence float64 `json:"confidence,omitempty"` // classifier confidence 0..1
}

// Message is one stored conversation entry. Messages are immutable once
// appended; the state store never rewrites them.
type Message struct {
	ID        string       `json:"id"`
	Timestamp time.Time    `json:"timestamp"`
	Sender    Sender       `json:"sender"`
	Text      string       `json:"text"`
	CleanText string       `json:"clean_text,omitempty"`
	Offer     *Offer       `json:"offer,omitempty"`
	Meta      *MessageMeta `json:"meta,omitempty"`
}

// DecisionOffer is the numeric component of a structured decision.
type DecisionOffer struct {
	Amount   float64     `json:"amount"`
	Currency string      `json:"currency"`
	Final    bool        `json:"final"`
	Source   OfferSource `json:"source"`
}

// ValidationStatus reports the outcome of structural decision validation.
type ValidationStatus string

const (
	ValidationValid   ValidationStatus = "valid"
	ValidationInvalid ValidationStatus = "invalid"
)

// DecisionMeta carries processing metadata for audit and debugging.
type DecisionMeta struct {
	Model      string        `json:"model,omitempty"`
	ScenarioID string        `json:"scenario_id,omitempty"`
	Elapsed    time.Duration `json:"elapsed_ms,omitempty"`
}

// StructuredDecision is the validated, machine-usable output of interpreting
// a model's free-text reply. The interpreter always produces one; failures
// degrade to a low-confidence continue decision rather than an error.
type StructuredDecision struct {
	Action           Action           `json:"action"`
	Offer            *DecisionOffer   `json:"offer,omitempty"`
	Confidence       float64          `json:"confidence"`
	Reasoning        string           `json:"reasoning"`
	Message          string           `json:"message"` // display text after cleanup
	ValidationStatus ValidationStatus `json:"validation_status"`
	ValidationErrors []string         `json:"validation_errors,omitempty"`
	Flags            []string         `json:"flags,omitempty"` // advisory business-rule flags
	IsFallback       bool             `json:"is_fallback,omitempty"`
	Meta             DecisionMeta     `json:"meta"`
}

// Flagged reports whether any advisory business-rule flag was attached.
func (d *StructuredDecision) Flagged() bool {
	return len(d.Flags) > 0
}

// RoundLimits configures the round and duration policy for one negotiation.
// It is keyed by the negotiation id but lives separately from message
// history so limits can be adjusted without touching state.
type RoundLimits struct {
	MaxRounds           int           `json:"max_rounds"`
	WarningThreshold    float64       `json:"warning_threshold"`    // fraction of max, e.g. 0.75
	EscalationThreshold float64       `json:"escalation_threshold"` // fraction of max, e.g. 0.9
	MaxDuration         time.Duration `json:"max_duration"`
	ExtensionsGranted   int           `json:"extensions_granted"`
	ExtensionsAllowed   int           `json:"extensions_allowed"`
	AllowExtensions     bool          `json:"allow_extensions"`
}

// NegotiationRecord is the durable view owned by the CRUD layer. The rounds
// manager reads it to seed limits and writes round increments back.
type NegotiationRecord struct {
	ID        string    `json:"id"`
	Buyer     string    `json:"buyer"`
	Seller    string    `json:"seller"`
	ProductID string    `json:"product_id"`
	Status    string    `json:"status"`
	Rounds    int       `json:"rounds"`
	MaxRounds int       `json:"max_rounds"`
	UpdatedAt time.Time `json:"updated_at"`
}
