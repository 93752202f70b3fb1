// Package engine composes the negotiation turn pipeline: template selection,
// the model oracle call, response interpretation, state updates, and round
// accounting. It is the single entry point routes and sockets invoke per
// buyer message.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/haggleworks/dealgent/internal/convstate"
	"github.com/haggleworks/dealgent/internal/genai"
	"github.com/haggleworks/dealgent/internal/interpreter"
	"github.com/haggleworks/dealgent/internal/models"
	"github.com/haggleworks/dealgent/internal/rounds"
	"github.com/haggleworks/dealgent/internal/template"
)

// DefaultModelTimeout bounds the only blocking step in a turn.
const DefaultModelTimeout = 10 * time.Second

// DefaultSummaryMessages is how much history feeds back into the prompt.
const DefaultSummaryMessages = 12

// Listing is the product context a negotiation is opened with. It comes from
// the CRUD layer when the buyer makes first contact.
type Listing struct {
	ProductID    string
	Title        string
	Category     string
	BasePrice    float64
	MinPrice     float64
	TargetPrice  float64
	MaxRounds    int
	Urgency      models.Urgency
	Personality  string
	DaysOnMarket int
	ViewCount    int
}

// Config tunes the engine. Zero values fall back to defaults.
type Config struct {
	ModelTimeout    time.Duration
	SummaryMessages int
}

// Engine orchestrates negotiation turns.
type Engine struct {
	oracle    genai.ClientInterface
	processor *interpreter.Processor
	states    *convstate.Store
	rounds    *rounds.Manager
	cfg       Config

	mu       sync.RWMutex
	listings map[string]Listing
}

// New creates an Engine from its collaborators.
func New(oracle genai.ClientInterface, states *convstate.Store, roundsMgr *rounds.Manager, cfg Config) *Engine {
	if cfg.ModelTimeout <= 0 {
		cfg.ModelTimeout = DefaultModelTimeout
	}
	if cfg.SummaryMessages <= 0 {
		cfg.SummaryMessages = DefaultSummaryMessages
	}
	slog.Debug("Creating engine", "modelTimeout", cfg.ModelTimeout, "summaryMessages", cfg.SummaryMessages)
	return &Engine{
		oracle:    oracle,
		processor: interpreter.NewProcessor(oracle.Model()),
		states:    states,
		rounds:    roundsMgr,
		cfg:       cfg,
		listings:  make(map[string]Listing),
	}
}

// Start opens a negotiation for a listing. The CRUD layer calls it on the
// buyer's first contact, before the first OrchestrateTurn.
func (e *Engine) Start(id string, listing Listing) error {
	if listing.BasePrice <= 0 || listing.MinPrice <= 0 || listing.MinPrice > listing.BasePrice {
		return fmt.Errorf("negotiation %s: %w", id, models.ErrContextInvalid)
	}
	// Normalize once so state, templates, and the rounds manager all see
	// the same maximum.
	if listing.MaxRounds <= 0 {
		listing.MaxRounds = rounds.DefaultMaxRounds
	}
	if _, err := e.states.Create(id, models.StateMeta{
		BasePrice:   listing.BasePrice,
		MinPrice:    listing.MinPrice,
		TargetPrice: listing.TargetPrice,
		MaxRounds:   listing.MaxRounds,
	}); err != nil {
		return err
	}
	limits := rounds.DefaultLimits()
	limits.MaxRounds = listing.MaxRounds
	if err := e.rounds.Track(id, limits); err != nil {
		return err
	}
	e.mu.Lock()
	e.listings[id] = listing
	e.mu.Unlock()
	slog.Info("Negotiation started", "id", id, "product", listing.ProductID, "basePrice", listing.BasePrice)
	return nil
}

// OrchestrateTurn processes one buyer message end to end and returns the
// structured decision. State is mutated only after a decision (real or
// fallback) exists, so a cancelled model call leaves no partial update.
func (e *Engine) OrchestrateTurn(ctx context.Context, negotiationID, buyerText string) (models.StructuredDecision, error) {
	st, err := e.states.Get(negotiationID)
	if err != nil {
		return models.StructuredDecision{}, err
	}

	stage, err := e.rounds.Lifecycle(negotiationID)
	if err != nil {
		return models.StructuredDecision{}, err
	}
	if stage.Terminal() {
		slog.Info("Turn refused, negotiation concluded", "id", negotiationID, "stage", stage)
		return models.StructuredDecision{}, fmt.Errorf("negotiation %s is %s: %w", negotiationID, stage, models.ErrLimitExceeded)
	}

	nctx := e.buildContext(negotiationID, st, buyerText)
	scenario, prompt := template.Select(nctx)

	summary, err := e.states.Summarize(negotiationID, e.cfg.SummaryMessages)
	if err != nil {
		return models.StructuredDecision{}, err
	}
	userPrompt := summary + "\nBuyer: " + buyerText

	decision := e.completeAndInterpret(ctx, prompt, userPrompt, nctx)
	decision.Meta.ScenarioID = string(scenario)

	if err := e.commitTurn(negotiationID, buyerText, nctx, &decision); err != nil {
		return decision, err
	}
	return decision, nil
}

// completeAndInterpret runs the bounded oracle call and interpretation. Any
// oracle failure degrades to the pre-authored fallback decision.
func (e *Engine) completeAndInterpret(ctx context.Context, systemPrompt, userPrompt string, nctx models.NegotiationContext) models.StructuredDecision {
	callCtx, cancel := context.WithTimeout(ctx, e.cfg.ModelTimeout)
	defer cancel()

	raw, err := e.oracle.Complete(callCtx, systemPrompt, userPrompt)
	if err != nil {
		slog.Warn("Model call failed, substituting fallback decision", "error", err)
		return interpreter.FallbackDecision(e.oracle.Model())
	}
	return e.processor.Process(raw, nctx)
}

// commitTurn appends both sides of the exchange, advances the round, and
// applies the limit policy when the budget runs out.
func (e *Engine) commitTurn(id, buyerText string, nctx models.NegotiationContext, decision *models.StructuredDecision) error {
	buyerMsg := models.Message{
		Sender:    models.SenderBuyer,
		Text:      buyerText,
		CleanText: interpreter.Sanitize(buyerText),
	}
	if nctx.CurrentOffer > 0 {
		buyerMsg.Offer = &models.Offer{Amount: nctx.CurrentOffer, Currency: models.DefaultCurrency}
	}
	if _, err := e.states.AppendMessage(id, buyerMsg); err != nil {
		return err
	}

	inc, err := e.rounds.Increment(id)
	if err != nil {
		return err
	}
	if !inc.OK {
		e.applyLimitPolicy(nctx, decision)
	}

	agentMsg := models.Message{
		Sender:    models.SenderAgent,
		Text:      decision.Message,
		CleanText: decision.Message,
	}
	if decision.Offer != nil {
		agentMsg.Offer = &models.Offer{Amount: decision.Offer.Amount, Currency: decision.Offer.Currency}
	}
	if _, err := e.states.AppendMessage(id, agentMsg); err != nil {
		return err
	}

	if decision.Action == models.ActionAccept || decision.Action == models.ActionReject {
		if err := e.rounds.RecordOutcome(id, decision.Action); err != nil {
			slog.Warn("Failed to record outcome", "id", id, "action", decision.Action, "error", err)
		}
	}
	slog.Debug("Turn committed", "id", id, "action", decision.Action, "round", inc.Round, "warning", inc.Warning)
	return nil
}

// applyLimitPolicy rewrites a non-final decision once the round budget is
// exhausted: the buyer sees a definitive accept or reject, never a request
// to continue.
func (e *Engine) applyLimitPolicy(nctx models.NegotiationContext, decision *models.StructuredDecision) {
	if decision.Action == models.ActionAccept || decision.Action == models.ActionReject {
		return
	}
	if nctx.CurrentOffer >= nctx.MinPrice {
		decision.Action = models.ActionAccept
		decision.Offer = &models.DecisionOffer{
			Amount:   nctx.CurrentOffer,
			Currency: models.DefaultCurrency,
			Final:    true,
			Source:   models.OfferSourceAccepted,
		}
		decision.Message = "We've reached the end of our negotiation window, and your offer works for me. Deal!"
		decision.Reasoning = "round limit reached with offer at or above the floor"
	} else {
		decision.Action = models.ActionReject
		decision.Offer = nil
		decision.Message = "We've reached the end of our negotiation window and I can't accept that price. Thank you for your time."
		decision.Reasoning = "round limit reached with offer below the floor"
	}
	decision.IsFallback = false
}

// buildContext assembles the ephemeral per-turn context from stored state,
// the opening listing, and the incoming message.
func (e *Engine) buildContext(id string, st *models.NegotiationState, buyerText string) models.NegotiationContext {
	e.mu.RLock()
	listing := e.listings[id]
	e.mu.RUnlock()

	offer, ok := interpreter.BuyerOffer(buyerText, st.BasePrice)
	if !ok {
		if last := st.LastOffer(models.SenderBuyer); last != nil {
			offer = last.Amount
		}
	}
	return models.NegotiationContext{
		ProductID:    listing.ProductID,
		ProductTitle: listing.Title,
		Category:     listing.Category,
		BasePrice:    st.BasePrice,
		MinPrice:     st.MinPrice,
		CurrentOffer: offer,
		Round:        st.Round + 1, // the round this turn is playing
		MaxRounds:    st.MaxRounds,
		Urgency:      listing.Urgency,
		Personality:  listing.Personality,
		DaysOnMarket: listing.DaysOnMarket,
		ViewCount:    listing.ViewCount,
		BuyerMessage: buyerText,
	}
}

// GetSummary returns the bounded transcript view for display or re-prompting.
func (e *Engine) GetSummary(negotiationID string) (string, error) {
	return e.states.Summarize(negotiationID, e.cfg.SummaryMessages)
}

// GetAnalytics returns the derived analytics block for dashboards.
func (e *Engine) GetAnalytics(negotiationID string) (models.Analytics, error) {
	return e.states.Analytics(negotiationID)
}

// ExportNegotiation serializes a negotiation for audit or sharing.
func (e *Engine) ExportNegotiation(negotiationID string, format models.ExportFormat) ([]byte, error) {
	return e.states.Export(negotiationID, format)
}

// Recover rebuilds a negotiation from the durable mirror and resumes
// tracking its limits.
func (e *Engine) Recover(negotiationID string) error {
	st, err := e.states.Recover(negotiationID)
	if err != nil {
		return err
	}
	limits := rounds.DefaultLimits()
	if st.MaxRounds > 0 {
		limits.MaxRounds = st.MaxRounds
	}
	if err := e.rounds.TrackAt(negotiationID, limits, st.Round); err != nil {
		return err
	}
	e.mu.Lock()
	if _, ok := e.listings[negotiationID]; !ok {
		e.listings[negotiationID] = Listing{
			BasePrice: st.BasePrice,
			MinPrice:  st.MinPrice,
			MaxRounds: st.MaxRounds,
		}
	}
	e.mu.Unlock()
	return nil
}
