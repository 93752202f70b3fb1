// Package models defines state management structures for negotiations.
package models

import "time"

// Phase labels where a negotiation sits in its expected lifespan.
type Phase string

const (
	PhaseOpening           Phase = "opening"
	PhaseExploration       Phase = "exploration"
	PhaseActiveNegotiation Phase = "active_negotiation"
	PhaseClosing           Phase = "closing"
)

// MainBranch is the branch every negotiation starts on.
const MainBranch = "main"

// Branch is a named, independent sub-history rooted at a parent branch and a
// specific round. Branches are stored in a flat arena keyed by name; the
// parent is referenced by name, never by pointer.
type Branch struct {
	Name      string    `json:"name"`
	Parent    string    `json:"parent,omitempty"` // empty for the main branch
	RootRound int       `json:"root_round"`
	CreatedAt time.Time `json:"created_at"`
	Messages  []Message `json:"messages"`
}

// Analytics is the derived metrics block recomputed on every append.
type Analytics struct {
	SuccessProbability float64   `json:"success_probability"` // clamped to [0,1]
	Phase              Phase     `json:"phase"`
	PriceFlexibility   float64   `json:"price_flexibility"` // percent of base price still negotiable
	EngagementScore    float64   `json:"engagement_score"`  // 0..1, decays with silence
	Momentum           float64   `json:"momentum"`          // -1..1, direction of recent price movement
	SentimentTrend     float64   `json:"sentiment_trend"`   // -1..1, smoothed buyer sentiment
	UpdatedAt          time.Time `json:"updated_at"`
}

// NegotiationState is all tracked state for one negotiation. It is mutated
// only by the conversation state store under that store's per-negotiation
// lock; callers receive copies.
type NegotiationState struct {
	ID           string             `json:"id"`
	CreatedAt    time.Time          `json:"created_at"`
	LastActivity time.Time          `json:"last_activity"`
	Round        int                `json:"round"`
	MaxRounds    int                `json:"max_rounds"`
	BasePrice    float64            `json:"base_price"`
	MinPrice     float64            `json:"min_price"`
	TargetPrice  float64            `json:"target_price,omitempty"` // convergence target for analytics
	Offers       []Offer            `json:"offers"`
	ActiveBranch string             `json:"active_branch"`
	Branches     map[string]*Branch `json:"branches"`
	Analytics    Analytics          `json:"analytics"`
}

// CurrentBranch returns the branch future appends extend.
func (s *NegotiationState) CurrentBranch() *Branch {
	return s.Branches[s.ActiveBranch]
}

// Messages returns the message history of the active branch.
func (s *NegotiationState) Messages() []Message {
	if b := s.CurrentBranch(); b != nil {
		return b.Messages
	}
	return nil
}

// LastOffer returns the most recent offer from the given sender, or nil.
func (s *NegotiationState) LastOffer(sender Sender) *Offer {
	for i := len(s.Offers) - 1; i >= 0; i-- {
		if s.Offers[i].Sender == sender {
			return &s.Offers[i]
		}
	}
	return nil
}

// StateMeta seeds a new negotiation state.
type StateMeta struct {
	BasePrice   float64 `json:"base_price"`
	MinPrice    float64 `json:"min_price"`
	TargetPrice float64 `json:"target_price,omitempty"`
	MaxRounds   int     `json:"max_rounds"`
}

// ExportFormat selects a serialization of a negotiation for audit/sharing.
type ExportFormat string

const (
	// ExportJSON is the full structured state as JSON.
	ExportJSON ExportFormat = "json"
	// ExportCSV is a tabular message-per-row rendering.
	ExportCSV ExportFormat = "csv"
	// ExportText is a plain-text transcript.
	ExportText ExportFormat = "text"
)

// IsValidExportFormat checks if the given format is supported.
func IsValidExportFormat(f ExportFormat) bool {
	switch f {
	case ExportJSON, ExportCSV, ExportText:
		return true
	default:
		return false
	}
}
