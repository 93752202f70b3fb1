// Package rounds enforces per-negotiation round and duration policies and
// tracks the lifecycle state machine for each negotiation.
package rounds

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/haggleworks/dealgent/internal/models"
	"github.com/haggleworks/dealgent/internal/store"
)

// Stage is a negotiation's position in its lifecycle state machine:
// opening -> exploring -> bargaining -> closing -> {accepted|rejected|expired}.
type Stage string

const (
	StageOpening    Stage = "opening"
	StageExploring  Stage = "exploring"
	StageBargaining Stage = "bargaining"
	StageClosing    Stage = "closing"
	StageAccepted   Stage = "accepted"
	StageRejected   Stage = "rejected"
	StageExpired    Stage = "expired"
)

// Terminal reports whether the stage accepts no further transitions.
func (s Stage) Terminal() bool {
	return s == StageAccepted || s == StageRejected || s == StageExpired
}

// Default limit policy
const (
	DefaultMaxRounds           = 10
	DefaultWarningThreshold    = 0.75
	DefaultEscalationThreshold = 0.9
	DefaultMaxDuration         = 48 * time.Hour
	DefaultExtensionsAllowed   = 2
)

// DefaultLimits is the policy applied when the durable record carries none.
func DefaultLimits() models.RoundLimits {
	return models.RoundLimits{
		MaxRounds:           DefaultMaxRounds,
		WarningThreshold:    DefaultWarningThreshold,
		EscalationThreshold: DefaultEscalationThreshold,
		MaxDuration:         DefaultMaxDuration,
		ExtensionsAllowed:   DefaultExtensionsAllowed,
		AllowExtensions:     true,
	}
}

// IncrementResult reports the outcome of a round increment. A denied
// increment is an expected condition, not an error.
type IncrementResult struct {
	OK         bool  `json:"ok"`
	Round      int   `json:"round"`
	Remaining  int   `json:"remaining"`
	Warning    bool  `json:"warning"`
	Escalation bool  `json:"escalation"`
	Stage      Stage `json:"stage"`
}

// LimitStatus is the answer to a limit check.
type LimitStatus struct {
	Reached          bool          `json:"reached"`
	CanContinue      bool          `json:"can_continue"`
	Remaining        int           `json:"remaining"`
	Elapsed          time.Duration `json:"elapsed"`
	DurationExceeded bool          `json:"duration_exceeded"`
	Stage            Stage         `json:"stage"`
}

// ExtendResult reports whether an extension was granted.
type ExtendResult struct {
	OK     bool   `json:"ok"`
	Reason string `json:"reason,omitempty"`
	NewMax int    `json:"new_max,omitempty"`
}

type entry struct {
	limits    models.RoundLimits
	round     int
	startedAt time.Time
	stage     Stage
}

// Manager tracks round limits and lifecycle stages, keyed by negotiation id.
// Limits live separately from conversation state so they can be adjusted
// without touching message history.
type Manager struct {
	mu      sync.RWMutex
	entries map[string]*entry
	durable store.Store // optional: seeds limits, receives round write-backs
}

// NewManager creates a Manager. The durable store may be nil.
func NewManager(durable store.Store) *Manager {
	slog.Debug("Creating rounds Manager", "hasDurable", durable != nil)
	return &Manager{entries: make(map[string]*entry), durable: durable}
}

// Track registers a negotiation, seeding limits and round count from the
// durable record when one exists. Tracking an already-tracked id is a no-op.
func (m *Manager) Track(id string, limits models.RoundLimits) error {
	return m.TrackAt(id, limits, 0)
}

// TrackAt registers a negotiation resuming at a known round, used when
// rebuilding from a recovered snapshot. The durable record still seeds
// limits; whichever round counter is further along wins, so a restart can
// never re-grant spent rounds.
func (m *Manager) TrackAt(id string, limits models.RoundLimits, round int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[id]; ok {
		return nil
	}
	if limits.MaxRounds <= 0 {
		limits = DefaultLimits()
	}
	e := &entry{limits: limits, round: round, startedAt: time.Now(), stage: StageOpening}
	if m.durable != nil {
		rec, err := m.durable.GetNegotiationRecord(id)
		if err != nil {
			return fmt.Errorf("seeding limits for %s: %w", id, err)
		}
		if rec != nil {
			if rec.MaxRounds > 0 {
				e.limits.MaxRounds = rec.MaxRounds
			}
			if rec.Rounds > e.round {
				e.round = rec.Rounds
			}
		}
	}
	if e.round > 0 {
		e.stage = stageForRound(e.round, e.limits.MaxRounds)
	}
	m.entries[id] = e
	slog.Info("Negotiation limits tracked", "id", id, "maxRounds", e.limits.MaxRounds, "round", e.round)
	return nil
}

// Increment advances the round counter. It returns a failed result, never an
// error, once the next round would exceed the limit; a denied increment on a
// live negotiation moves it to the expired terminal stage.
func (m *Manager) Increment(id string) (IncrementResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok {
		return IncrementResult{}, fmt.Errorf("negotiation %s: %w", id, models.ErrStateNotFound)
	}
	if e.stage.Terminal() {
		return IncrementResult{OK: false, Round: e.round, Stage: e.stage}, nil
	}
	if e.round+1 > e.limits.MaxRounds {
		e.stage = StageExpired
		slog.Info("Round limit reached, negotiation expired", "id", id, "round", e.round, "maxRounds", e.limits.MaxRounds)
		return IncrementResult{OK: false, Round: e.round, Stage: StageExpired}, nil
	}
	e.round++
	e.stage = stageForRound(e.round, e.limits.MaxRounds)
	res := IncrementResult{
		OK:         true,
		Round:      e.round,
		Remaining:  e.limits.MaxRounds - e.round,
		Warning:    float64(e.round) >= e.limits.WarningThreshold*float64(e.limits.MaxRounds),
		Escalation: float64(e.round) >= e.limits.EscalationThreshold*float64(e.limits.MaxRounds),
		Stage:      e.stage,
	}
	if m.durable != nil {
		if err := m.durable.UpdateRounds(id, e.round); err != nil {
			slog.Warn("Failed to write round increment back", "id", id, "round", e.round, "error", err)
		}
	}
	slog.Debug("Round incremented", "id", id, "round", e.round, "remaining", res.Remaining, "warning", res.Warning)
	return res, nil
}

// CheckLimit reports the current limit position without mutating anything.
func (m *Manager) CheckLimit(id string) (LimitStatus, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[id]
	if !ok {
		return LimitStatus{}, fmt.Errorf("negotiation %s: %w", id, models.ErrStateNotFound)
	}
	elapsed := time.Since(e.startedAt)
	durationExceeded := e.limits.MaxDuration > 0 && elapsed > e.limits.MaxDuration
	reached := e.round >= e.limits.MaxRounds || durationExceeded
	return LimitStatus{
		Reached:          reached,
		CanContinue:      !reached && !e.stage.Terminal(),
		Remaining:        e.limits.MaxRounds - e.round,
		Elapsed:          elapsed,
		DurationExceeded: durationExceeded,
		Stage:            e.stage,
	}, nil
}

// Extend raises the round limit by consuming one extension grant. Denials
// are results, not errors: extensions may be disabled or exhausted.
func (m *Manager) Extend(id string, newMax int) (ExtendResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok {
		return ExtendResult{}, fmt.Errorf("negotiation %s: %w", id, models.ErrStateNotFound)
	}
	switch {
	case e.stage.Terminal() && e.stage != StageExpired:
		return ExtendResult{OK: false, Reason: "negotiation already concluded"}, nil
	case !e.limits.AllowExtensions:
		return ExtendResult{OK: false, Reason: "extensions disabled"}, nil
	case e.limits.ExtensionsGranted >= e.limits.ExtensionsAllowed:
		return ExtendResult{OK: false, Reason: "extension quota exhausted"}, nil
	case newMax <= e.limits.MaxRounds:
		return ExtendResult{OK: false, Reason: "new maximum must exceed the current one"}, nil
	}
	e.limits.MaxRounds = newMax
	e.limits.ExtensionsGranted++
	// An expired negotiation granted an extension resumes where it stood.
	if e.stage == StageExpired {
		e.stage = stageForRound(e.round, e.limits.MaxRounds)
	}
	slog.Info("Extension granted", "id", id, "newMax", newMax, "granted", e.limits.ExtensionsGranted)
	return ExtendResult{OK: true, NewMax: newMax}, nil
}

// Reset clears the round counter and lifecycle stage, keeping the limits.
func (m *Manager) Reset(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok {
		return fmt.Errorf("negotiation %s: %w", id, models.ErrStateNotFound)
	}
	e.round = 0
	e.stage = StageOpening
	e.startedAt = time.Now()
	slog.Info("Negotiation rounds reset", "id", id)
	return nil
}

// RecordOutcome moves a negotiation to an accepted or rejected terminal
// stage. Recording over accepted or rejected is refused; expired may still
// be superseded, since the turn that exhausts the round budget closes with
// a definitive accept or reject and expired is reserved for negotiations
// that end with no recorded outcome at all.
func (m *Manager) RecordOutcome(id string, action models.Action) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok {
		return fmt.Errorf("negotiation %s: %w", id, models.ErrStateNotFound)
	}
	if e.stage == StageAccepted || e.stage == StageRejected {
		return fmt.Errorf("negotiation %s: stage %s is terminal", id, e.stage)
	}
	switch action {
	case models.ActionAccept:
		e.stage = StageAccepted
	case models.ActionReject:
		e.stage = StageRejected
	default:
		return fmt.Errorf("negotiation %s: action %s records no outcome", id, action)
	}
	slog.Info("Negotiation outcome recorded", "id", id, "stage", e.stage)
	return nil
}

// Lifecycle returns the current stage.
func (m *Manager) Lifecycle(id string) (Stage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[id]
	if !ok {
		return "", fmt.Errorf("negotiation %s: %w", id, models.ErrStateNotFound)
	}
	return e.stage, nil
}

// stageForRound maps round progress onto the live lifecycle stages.
func stageForRound(round, maxRounds int) Stage {
	if maxRounds <= 0 || round <= 1 {
		return StageOpening
	}
	progress := float64(round) / float64(maxRounds)
	switch {
	case progress < 0.4:
		return StageExploring
	case progress < 0.8:
		return StageBargaining
	default:
		return StageClosing
	}
}
