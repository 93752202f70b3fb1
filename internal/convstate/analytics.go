package convstate

import (
	"math"
	"strings"
	"time"

	"github.com/haggleworks/dealgent/internal/models"
)

// AnalyticsWeights configures how much each factor moves the success
// probability. The defaults are an empirical starting policy, not a tuned
// contract; deployments are expected to adjust them.
type AnalyticsWeights struct {
	Sentiment    float64
	Convergence  float64
	ResponseTime float64
}

// DefaultAnalyticsWeights mirrors the historical heuristic: sentiment 30%,
// price convergence 20%, response time 10%, with the phase multiplier
// applied on top.
var DefaultAnalyticsWeights = AnalyticsWeights{
	Sentiment:    0.30,
	Convergence:  0.20,
	ResponseTime: 0.10,
}

// phaseMultipliers scale the combined adjustment: momentum matters more the
// deeper the negotiation is.
var phaseMultipliers = map[models.Phase]float64{
	models.PhaseOpening:           0.8,
	models.PhaseExploration:       1.0,
	models.PhaseActiveNegotiation: 1.2,
	models.PhaseClosing:           1.4,
}

// Phase boundaries as fractions of the round budget.
const (
	openingBoundary     = 0.2
	explorationBoundary = 0.5
	closingBoundary     = 0.8
	// smallMovement is the price-movement fraction separating exploration
	// from active negotiation in the middle of the round budget.
	smallMovement = 0.05
)

// fastReply is the buyer response latency treated as full engagement.
const fastReply = 5 * time.Minute

// recomputeAnalytics rebuilds the derived block in place. Each factor
// contributes a bounded adjustment around the 0.5 baseline and the result is
// clamped to [0,1]. Called under the per-negotiation lock.
func recomputeAnalytics(st *models.NegotiationState, w AnalyticsWeights) {
	sentiment := sentimentTrend(st)
	convergence := priceConvergence(st)
	responsiveness := responseScore(st)
	phase := derivePhase(st)

	adjustment := w.Sentiment*sentiment + w.Convergence*convergence + w.ResponseTime*(responsiveness-0.5)*2
	adjustment *= phaseMultipliers[phase]

	st.Analytics = models.Analytics{
		SuccessProbability: clamp01(0.5 + adjustment),
		Phase:              phase,
		PriceFlexibility:   priceFlexibility(st),
		EngagementScore:    responsiveness,
		Momentum:           momentum(st),
		SentimentTrend:     sentiment,
		UpdatedAt:          time.Now(),
	}
}

// derivePhase is a pure function of round progress and observed price
// movement.
func derivePhase(st *models.NegotiationState) models.Phase {
	if st.MaxRounds <= 0 {
		return models.PhaseOpening
	}
	progress := float64(st.Round) / float64(st.MaxRounds)
	movement := priceMovement(st)
	switch {
	case progress < openingBoundary:
		return models.PhaseOpening
	case progress < explorationBoundary && movement < smallMovement:
		return models.PhaseExploration
	case progress < closingBoundary:
		return models.PhaseActiveNegotiation
	default:
		return models.PhaseClosing
	}
}

// priceMovement is the total buyer offer movement as a fraction of base price.
func priceMovement(st *models.NegotiationState) float64 {
	var first, last float64
	for _, o := range st.Offers {
		if o.Sender != models.SenderBuyer {
			continue
		}
		if first == 0 {
			first = o.Amount
		}
		last = o.Amount
	}
	if first == 0 || st.BasePrice == 0 {
		return 0
	}
	return math.Abs(last-first) / st.BasePrice
}

// priceConvergence scores how close the latest buyer offer is to the target,
// in [-1, 1]: at or above target is full positive, half the band away is
// negative.
func priceConvergence(st *models.NegotiationState) float64 {
	last := st.LastOffer(models.SenderBuyer)
	if last == nil || st.TargetPrice == 0 {
		return 0
	}
	if last.Amount >= st.TargetPrice {
		return 1
	}
	band := st.BasePrice - st.MinPrice
	if band <= 0 {
		return 0
	}
	gap := (st.TargetPrice - last.Amount) / band
	return clamp(1-2*gap, -1, 1)
}

// momentum reports the direction of the last two buyer offers in [-1, 1].
func momentum(st *models.NegotiationState) float64 {
	var prev, last *models.Offer
	for i := range st.Offers {
		o := &st.Offers[i]
		if o.Sender != models.SenderBuyer {
			continue
		}
		prev, last = last, o
	}
	if prev == nil || last == nil || st.BasePrice == 0 {
		return 0
	}
	return clamp((last.Amount-prev.Amount)/st.BasePrice*10, -1, 1)
}

// responseScore maps the buyer's latest reply latency to [0,1]; silence
// since the last activity decays it further.
func responseScore(st *models.NegotiationState) float64 {
	msgs := st.Messages()
	var latency time.Duration
	for i := 1; i < len(msgs); i++ {
		if msgs[i].Sender == models.SenderBuyer && msgs[i-1].Sender == models.SenderAgent {
			latency = msgs[i].Timestamp.Sub(msgs[i-1].Timestamp)
		}
	}
	score := 1.0
	if latency > 0 {
		score = clamp01(1 - float64(latency)/float64(4*fastReply))
	}
	if idle := time.Since(st.LastActivity); idle > fastReply {
		score *= clamp01(1 - float64(idle)/float64(DefaultTTL))
	}
	return score
}

// priceFlexibility is the remaining negotiable band between the buyer's
// latest offer and the asking price, as a percentage of base.
func priceFlexibility(st *models.NegotiationState) float64 {
	last := st.LastOffer(models.SenderBuyer)
	if last == nil || st.BasePrice == 0 {
		return 100 * (st.BasePrice - st.MinPrice) / math.Max(st.BasePrice, 1)
	}
	return clamp(100*(st.BasePrice-last.Amount)/st.BasePrice, 0, 100)
}

// ---- Sentiment lexicon ----

var positiveWords = []string{
	"great", "good", "love", "perfect", "deal", "thanks", "thank", "fair",
	"interested", "nice", "awesome", "excellent", "appreciate", "happy",
}

var negativeWords = []string{
	"no", "never", "overpriced", "ripoff", "rip-off", "bad", "terrible",
	"insulting", "waste", "forget", "scam", "lowball", "joke", "ridiculous",
}

// scoreSentiment is a cheap lexicon score in [-1, 1] for buyer messages that
// arrive without classification metadata.
func scoreSentiment(text string) float64 {
	words := strings.Fields(strings.ToLower(text))
	score := 0.0
	for _, w := range words {
		w = strings.Trim(w, ".,!?;:'\"")
		for _, p := range positiveWords {
			if w == p {
				score += 0.25
			}
		}
		for _, n := range negativeWords {
			if w == n {
				score -= 0.25
			}
		}
	}
	return clamp(score, -1, 1)
}

// sentimentTrend smooths buyer sentiment over the active branch with an
// exponential moving average.
func sentimentTrend(st *models.NegotiationState) float64 {
	const alpha = 0.4
	trend := 0.0
	seen := false
	for _, m := range st.Messages() {
		if m.Sender != models.SenderBuyer || m.Meta == nil {
			continue
		}
		if !seen {
			trend = m.Meta.Sentiment
			seen = true
			continue
		}
		trend = alpha*m.Meta.Sentiment + (1-alpha)*trend
	}
	return clamp(trend, -1, 1)
}

func clamp01(v float64) float64 { return clamp(v, 0, 1) }

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
