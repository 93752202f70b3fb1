// Package store provides storage backends for the negotiation engine.
//
// It persists the durable negotiation records owned by the CRUD layer and
// the advisory state snapshots the conversation store mirrors for recovery.
// SQLite and PostgreSQL backends share one interface; an in-memory store
// backs tests and DSN-less deployments.
package store

import (
	"sync"

	"github.com/haggleworks/dealgent/internal/models"
)

// Store is the persistence interface consumed by the engine.
type Store interface {
	// GetNegotiationRecord returns the durable record, or nil if unknown.
	GetNegotiationRecord(id string) (*models.NegotiationRecord, error)
	// SaveNegotiationRecord inserts or replaces the durable record.
	SaveNegotiationRecord(rec models.NegotiationRecord) error
	// UpdateRounds writes a round increment back to the durable record.
	UpdateRounds(id string, rounds int) error
	// SaveStateSnapshot mirrors serialized conversation state, replacing any
	// previous snapshot for the id.
	SaveStateSnapshot(id string, data []byte) error
	// GetStateSnapshot returns the mirrored state, or nil if none exists.
	GetStateSnapshot(id string) ([]byte, error)
	// DeleteStateSnapshot drops the mirrored state for an evicted negotiation.
	DeleteStateSnapshot(id string) error
	// Close releases the underlying resources.
	Close() error
}

// Opts holds configuration for store construction.
type Opts struct {
	DSN string
}

// Option configures store construction.
type Option func(*Opts)

// WithDSN sets the database DSN (file path for SQLite, URL for Postgres).
func WithDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// InMemoryStore is a mutex-guarded map-backed Store for tests and for
// running without a configured database.
type InMemoryStore struct {
	mu        sync.RWMutex
	records   map[string]models.NegotiationRecord
	snapshots map[string][]byte
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		records:   make(map[string]models.NegotiationRecord),
		snapshots: make(map[string][]byte),
	}
}

func (s *InMemoryStore) GetNegotiationRecord(id string) (*models.NegotiationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (s *InMemoryStore) SaveNegotiationRecord(rec models.NegotiationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.ID] = rec
	return nil
}

func (s *InMemoryStore) UpdateRounds(id string, rounds int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return nil
	}
	rec.Rounds = rounds
	s.records[id] = rec
	return nil
}

func (s *InMemoryStore) SaveStateSnapshot(id string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	s.snapshots[id] = cp
	return nil
}

func (s *InMemoryStore) GetStateSnapshot(id string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.snapshots[id]
	if !ok {
		return nil, nil
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	return cp, nil
}

func (s *InMemoryStore) DeleteStateSnapshot(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.snapshots, id)
	return nil
}

func (s *InMemoryStore) Close() error { return nil }
