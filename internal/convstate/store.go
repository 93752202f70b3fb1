// Package convstate holds per-negotiation conversation state: message and
// offer history, round counters, branch trees, and derived analytics. The
// in-memory copy is authoritative for the current process; an optional
// durable mirror receives best-effort snapshots for recovery.
package convstate

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/haggleworks/dealgent/internal/models"
	"github.com/haggleworks/dealgent/internal/store"
)

// DefaultTTL is the inactivity window after which a negotiation is evicted.
const DefaultTTL = 24 * time.Hour

// Config tunes the store. Zero values fall back to defaults.
type Config struct {
	TTL         time.Duration
	MaxMessages int
	Weights     AnalyticsWeights
	Mirror      store.Store // optional durable mirror, advisory only
}

// tracked wraps one negotiation's state with its own writer lock. Turns for
// the same negotiation serialize on this lock; turns for different
// negotiations never contend.
type tracked struct {
	mu    sync.Mutex
	state *models.NegotiationState
}

// Store is the active in-memory container for all tracked negotiations.
type Store struct {
	mu     sync.RWMutex
	states map[string]*tracked
	cfg    Config
}

// New creates a Store with the given configuration.
func New(cfg Config) *Store {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.MaxMessages <= 0 {
		cfg.MaxMessages = models.MaxRetainedMessages
	}
	if cfg.Weights == (AnalyticsWeights{}) {
		cfg.Weights = DefaultAnalyticsWeights
	}
	slog.Debug("Creating conversation state store", "ttl", cfg.TTL, "maxMessages", cfg.MaxMessages, "hasMirror", cfg.Mirror != nil)
	return &Store{states: make(map[string]*tracked), cfg: cfg}
}

// Create registers a new negotiation. It fails if the id is already tracked.
func (s *Store) Create(id string, meta models.StateMeta) (*models.NegotiationState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.states[id]; exists {
		return nil, fmt.Errorf("negotiation %s: already tracked", id)
	}
	now := time.Now()
	st := &models.NegotiationState{
		ID:           id,
		CreatedAt:    now,
		LastActivity: now,
		MaxRounds:    meta.MaxRounds,
		BasePrice:    meta.BasePrice,
		MinPrice:     meta.MinPrice,
		TargetPrice:  meta.TargetPrice,
		ActiveBranch: models.MainBranch,
		Branches: map[string]*models.Branch{
			models.MainBranch: {Name: models.MainBranch, CreatedAt: now},
		},
		Analytics: models.Analytics{SuccessProbability: 0.5, Phase: models.PhaseOpening, UpdatedAt: now},
	}
	if st.TargetPrice == 0 {
		// Midpoint of the price band is the convergence target unless the
		// seller configured one.
		st.TargetPrice = (meta.BasePrice + meta.MinPrice) / 2
	}
	s.states[id] = &tracked{state: st}
	slog.Info("Negotiation state created", "id", id, "maxRounds", meta.MaxRounds)
	return copyState(st), nil
}

// Get returns a copy of the negotiation state.
func (s *Store) Get(id string) (*models.NegotiationState, error) {
	tr, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return copyState(tr.state), nil
}

// AppendMessage appends a message to the active branch, records any offer,
// advances the round on buyer messages, and synchronously recomputes the
// analytics block. The returned state copy reflects all of that.
func (s *Store) AppendMessage(id string, msg models.Message) (*models.NegotiationState, error) {
	tr, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	tr.mu.Lock()
	defer tr.mu.Unlock()

	st := tr.state
	now := time.Now()
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = now
	}
	if msg.Meta == nil && msg.Sender == models.SenderBuyer {
		msg.Meta = &models.MessageMeta{Sentiment: scoreSentiment(msg.Text)}
	}

	branch := st.CurrentBranch()
	branch.Messages = append(branch.Messages, msg)
	if len(branch.Messages) > s.cfg.MaxMessages {
		branch.Messages = branch.Messages[len(branch.Messages)-s.cfg.MaxMessages:]
	}

	if msg.Sender == models.SenderBuyer {
		st.Round++
	}
	if msg.Offer != nil {
		offer := *msg.Offer
		if offer.Round == 0 {
			offer.Round = st.Round
		}
		if offer.Timestamp.IsZero() {
			offer.Timestamp = msg.Timestamp
		}
		offer.Sender = msg.Sender
		st.Offers = append(st.Offers, offer)
	}
	st.LastActivity = now
	recomputeAnalytics(st, s.cfg.Weights)

	s.mirror(st)
	slog.Debug("Message appended", "id", id, "sender", msg.Sender, "round", st.Round, "branch", st.ActiveBranch)
	return copyState(st), nil
}

// CreateBranch adds a named branch rooted at the parent's current position.
// The new branch starts empty; switching to it changes which history future
// appends extend.
func (s *Store) CreateBranch(id, name, parent string) error {
	tr, err := s.lookup(id)
	if err != nil {
		return err
	}
	tr.mu.Lock()
	defer tr.mu.Unlock()

	st := tr.state
	if _, exists := st.Branches[name]; exists {
		return fmt.Errorf("negotiation %s: branch %q: %w", id, name, models.ErrBranchExists)
	}
	if _, ok := st.Branches[parent]; !ok {
		return fmt.Errorf("negotiation %s: parent branch %q: %w", id, parent, models.ErrBranchNotFound)
	}
	st.Branches[name] = &models.Branch{
		Name:      name,
		Parent:    parent,
		RootRound: st.Round,
		CreatedAt: time.Now(),
	}
	slog.Info("Branch created", "id", id, "branch", name, "parent", parent, "rootRound", st.Round)
	return nil
}

// SwitchBranch changes the active branch. Other branches are never deleted.
func (s *Store) SwitchBranch(id, name string) error {
	tr, err := s.lookup(id)
	if err != nil {
		return err
	}
	tr.mu.Lock()
	defer tr.mu.Unlock()

	if _, ok := tr.state.Branches[name]; !ok {
		return fmt.Errorf("negotiation %s: branch %q: %w", id, name, models.ErrBranchNotFound)
	}
	tr.state.ActiveBranch = name
	slog.Debug("Branch switched", "id", id, "branch", name)
	return nil
}

// Analytics returns the current derived analytics block.
func (s *Store) Analytics(id string) (models.Analytics, error) {
	tr, err := s.lookup(id)
	if err != nil {
		return models.Analytics{}, err
	}
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return tr.state.Analytics, nil
}

// EvictExpired removes every negotiation idle past the TTL and returns how
// many were evicted. Removal is atomic under the store lock: a state is
// either fully present or gone. Turns that already hold a state reference
// finish normally.
func (s *Store) EvictExpired() int {
	cutoff := time.Now().Add(-s.cfg.TTL)
	s.mu.Lock()
	defer s.mu.Unlock()
	evicted := 0
	for id, tr := range s.states {
		tr.mu.Lock()
		expired := tr.state.LastActivity.Before(cutoff)
		tr.mu.Unlock()
		if expired {
			delete(s.states, id)
			if s.cfg.Mirror != nil {
				if err := s.cfg.Mirror.DeleteStateSnapshot(id); err != nil {
					slog.Warn("Failed to drop mirrored snapshot", "id", id, "error", err)
				}
			}
			evicted++
		}
	}
	if evicted > 0 {
		slog.Info("Evicted expired negotiations", "count", evicted)
	}
	return evicted
}

// RefreshAnalytics recomputes analytics for every tracked negotiation. The
// background sweep uses it so engagement decay shows up without traffic.
func (s *Store) RefreshAnalytics() {
	s.mu.RLock()
	trs := make([]*tracked, 0, len(s.states))
	for _, tr := range s.states {
		trs = append(trs, tr)
	}
	s.mu.RUnlock()
	for _, tr := range trs {
		tr.mu.Lock()
		recomputeAnalytics(tr.state, s.cfg.Weights)
		tr.mu.Unlock()
	}
}

// Recover rebuilds a negotiation from the durable mirror after a restart.
// The recovered copy becomes authoritative for this process.
func (s *Store) Recover(id string) (*models.NegotiationState, error) {
	if s.cfg.Mirror == nil {
		return nil, fmt.Errorf("negotiation %s: no mirror configured: %w", id, models.ErrStateNotFound)
	}
	data, err := s.cfg.Mirror.GetStateSnapshot(id)
	if err != nil {
		return nil, fmt.Errorf("negotiation %s: reading snapshot: %w", id, err)
	}
	if data == nil {
		return nil, fmt.Errorf("negotiation %s: %w", id, models.ErrStateNotFound)
	}
	var st models.NegotiationState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("negotiation %s: decoding snapshot: %w", id, err)
	}
	s.mu.Lock()
	s.states[id] = &tracked{state: &st}
	s.mu.Unlock()
	slog.Info("Negotiation state recovered from mirror", "id", id, "round", st.Round)
	return copyState(&st), nil
}

// Tracked reports whether a negotiation is currently in the active store.
func (s *Store) Tracked(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.states[id]
	return ok
}

func (s *Store) lookup(id string) (*tracked, error) {
	s.mu.RLock()
	tr, ok := s.states[id]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("negotiation %s: %w", id, models.ErrStateNotFound)
	}
	return tr, nil
}

// mirror pushes a snapshot to the durable store. Failures are logged and
// ignored: the in-memory copy stays authoritative.
func (s *Store) mirror(st *models.NegotiationState) {
	if s.cfg.Mirror == nil {
		return
	}
	data, err := json.Marshal(st)
	if err != nil {
		slog.Warn("Failed to marshal state for mirror", "id", st.ID, "error", err)
		return
	}
	if err := s.cfg.Mirror.SaveStateSnapshot(st.ID, data); err != nil {
		slog.Warn("Failed to mirror state snapshot", "id", st.ID, "error", err)
	}
}

// copyState deep-copies a state so callers can never mutate tracked data.
func copyState(st *models.NegotiationState) *models.NegotiationState {
	out := *st
	out.Offers = append([]models.Offer(nil), st.Offers...)
	out.Branches = make(map[string]*models.Branch, len(st.Branches))
	for name, b := range st.Branches {
		nb := *b
		nb.Messages = append([]models.Message(nil), b.Messages...)
		for i := range nb.Messages {
			if o := nb.Messages[i].Offer; o != nil {
				oc := *o
				nb.Messages[i].Offer = &oc
			}
			if m := nb.Messages[i].Meta; m != nil {
				mc := *m
				nb.Messages[i].Meta = &mc
			}
		}
		out.Branches[name] = &nb
	}
	return &out
}
