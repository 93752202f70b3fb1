// Package store provides storage backends for the negotiation engine.
//
// This file implements the SQLite-backed store.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	"github.com/haggleworks/dealgent/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// DefaultDirPermissions defines the default permissions for database directories
const DefaultDirPermissions = 0755

//go:embed migrations_sqlite.sql
var sqliteMigrations string

type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}

	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully")
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) GetNegotiationRecord(id string) (*models.NegotiationRecord, error) {
	row := s.db.QueryRow(`SELECT id, buyer, seller, product_id, status, rounds, max_rounds, updated_at
		FROM negotiation_records WHERE id = ?`, id)
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

func (s *SQLiteStore) SaveNegotiationRecord(rec models.NegotiationRecord) error {
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now()
	}
	_, err := s.db.Exec(`INSERT OR REPLACE INTO negotiation_records
		(id, buyer, seller, product_id, status, rounds, max_rounds, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Buyer, rec.Seller, rec.ProductID, rec.Status, rec.Rounds, rec.MaxRounds, rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save negotiation record: %w", err)
	}
	return nil
}

func (s *SQLiteStore) UpdateRounds(id string, rounds int) error {
	_, err := s.db.Exec(`UPDATE negotiation_records SET rounds = ?, updated_at = ? WHERE id = ?`,
		rounds, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to update rounds: %w", err)
	}
	return nil
}

func (s *SQLiteStore) SaveStateSnapshot(id string, data []byte) error {
	_, err := s.db.Exec(`INSERT OR REPLACE INTO state_snapshots (negotiation_id, snapshot, updated_at)
		VALUES (?, ?, ?)`, id, data, time.Now())
	if err != nil {
		return fmt.Errorf("failed to save state snapshot: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetStateSnapshot(id string) ([]byte, error) {
	row := s.db.QueryRow(`SELECT snapshot FROM state_snapshots WHERE negotiation_id = ?`, id)
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

func (s *SQLiteStore) DeleteStateSnapshot(id string) error {
	_, err := s.db.Exec(`DELETE FROM state_snapshots WHERE negotiation_id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete state snapshot: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
