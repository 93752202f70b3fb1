// Package store provides storage backends for the negotiation engine.
//
// This file implements the PostgreSQL-backed store.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/haggleworks/dealgent/internal/models"
	_ "github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("PostgresStore.NewPostgresStore: creating Postgres store", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	// Configure connection pool for better performance
	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		return nil, err
	}

	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run Postgres migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) GetNegotiationRecord(id string) (*models.NegotiationRecord, error) {
	row := s.db.QueryRow(`SELECT id, buyer, seller, product_id, status, rounds, max_rounds, updated_at
		FROM negotiation_records WHERE id = $1`, id)
	var rec models.NegotiationRecord
	err := row.Scan(&rec.ID, &rec.Buyer, &rec.Seller, &rec.ProductID, &rec.Status, &rec.Rounds, &rec.MaxRounds, &rec.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get negotiation record: %w", err)
	}
	return &rec, nil
}

func (s *PostgresStore) SaveNegotiationRecord(rec models.NegotiationRecord) error {
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now()
	}
	_, err := s.db.Exec(`INSERT INTO negotiation_records
		(id, buyer, seller, product_id, status, rounds, max_rounds, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			buyer = EXCLUDED.buyer,
			seller = EXCLUDED.seller,
			product_id = EXCLUDED.product_id,
			status = EXCLUDED.status,
			rounds = EXCLUDED.rounds,
			max_rounds = EXCLUDED.max_rounds,
			updated_at = EXCLUDED.updated_at`,
		rec.ID, rec.Buyer, rec.Seller, rec.ProductID, rec.Status, rec.Rounds, rec.MaxRounds, rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save negotiation record: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateRounds(id string, rounds int) error {
	_, err := s.db.Exec(`UPDATE negotiation_records SET rounds = $1, updated_at = $2 WHERE id = $3`,
		rounds, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to update rounds: %w", err)
	}
	return nil
}

func (s *PostgresStore) SaveStateSnapshot(id string, data []byte) error {
	_, err := s.db.Exec(`INSERT INTO state_snapshots (negotiation_id, snapshot, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (negotiation_id) DO UPDATE SET
			snapshot = EXCLUDED.snapshot,
			updated_at = EXCLUDED.updated_at`, id, data, time.Now())
	if err != nil {
		return fmt.Errorf("failed to save state snapshot: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetStateSnapshot(id string) ([]byte, error) {
	row := s.db.QueryRow(`SELECT snapshot FROM state_snapshots WHERE negotiation_id = $1`, id)
	var data []byte
	err := row.Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get state snapshot: %w", err)
	}
	return data, nil
}

func (s *PostgresStore) DeleteStateSnapshot(id string) error {
	_, err := s.db.Exec(`DELETE FROM state_snapshots WHERE negotiation_id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete state snapshot: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
