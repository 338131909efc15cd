// Package store provides the document store backends for hrvlink.
//
// This file implements the PostgreSQL-backed store for deployments that
// share a database with the study backend.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/beatbalance/hrvlink/internal/models"
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
	slog.Debug("NewPostgresStore invoked", "DSN_set", cfg.DSN != "")

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

	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		return nil, err
	}

	slog.Debug("Running Postgres migrations")
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")

	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) CreateSession(sess models.Session) error {
	if err := sess.Validate(); err != nil {
		return err
	}
	startedAt := sess.StartedAt
	if startedAt.IsZero() {
		startedAt = time.Now()
	}
	_, err := s.db.Exec(
		`INSERT INTO sessions (user_id, session_id, started_at, recording_type, status, is_calibration, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		sess.UserID, sess.ID, startedAt, sess.Type, sess.Status, sess.IsCalibration, time.Now())
	if err != nil {
		slog.Error("PostgresStore CreateSession failed", "error", err, "session_id", sess.ID)
		return fmt.Errorf("failed to insert session %s: %w", sess.ID, err)
	}
	slog.Debug("PostgresStore CreateSession succeeded", "user_id", sess.UserID, "session_id", sess.ID)
	return nil
}

func (s *PostgresStore) UpdateSessionStatus(userID, sessionID string, status models.SessionStatus) error {
	res, err := s.db.Exec(
		`UPDATE sessions SET status = $1, updated_at = $2 WHERE user_id = $3 AND session_id = $4`,
		status, time.Now(), userID, sessionID)
	if err != nil {
		slog.Error("PostgresStore UpdateSessionStatus failed", "error", err, "session_id", sessionID)
		return fmt.Errorf("failed to update session %s status: %w", sessionID, err)
	}
	return requireRow(res, sessionID)
}

func (s *PostgresStore) DeleteSession(userID, sessionID string) error {
	res, err := s.db.Exec(
		`DELETE FROM sessions WHERE user_id = $1 AND session_id = $2`,
		userID, sessionID)
	if err != nil {
		slog.Error("PostgresStore DeleteSession failed", "error", err, "session_id", sessionID)
		return fmt.Errorf("failed to delete session %s: %w", sessionID, err)
	}
	return requireRow(res, sessionID)
}

func (s *PostgresStore) AddRawBatch(userID, sessionID, data string) error {
	_, err := s.db.Exec(
		`INSERT INTO raw_batches (user_id, session_id, data) VALUES ($1, $2, $3)`,
		userID, sessionID, data)
	if err != nil {
		slog.Error("PostgresStore AddRawBatch failed", "error", err, "session_id", sessionID)
		return fmt.Errorf("failed to insert raw batch for session %s: %w", sessionID, err)
	}
	return nil
}

func (s *PostgresStore) GetRawBatches(userID, sessionID string) ([]models.RawBatch, error) {
	rows, err := s.db.Query(
		`SELECT session_id, data, created_at FROM raw_batches WHERE user_id = $1 AND session_id = $2 ORDER BY id`,
		userID, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query raw batches: %w", err)
	}
	defer rows.Close()

	var batches []models.RawBatch
	for rows.Next() {
		var b models.RawBatch
		if err := rows.Scan(&b.SessionID, &b.Data, &b.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan raw batch row: %w", err)
		}
		batches = append(batches, b)
	}
	return batches, rows.Err()
}

func (s *PostgresStore) GetSession(userID, sessionID string) (*SessionRecord, error) {
	row := s.db.QueryRow(
		`SELECT `+sessionColumns+` FROM sessions WHERE user_id = $1 AND session_id = $2`,
		userID, sessionID)
	rec, err := scanSessionRow(row)
	if err == sql.ErrNoRows {
		return nil, models.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session %s: %w", sessionID, err)
	}
	return rec, nil
}

func (s *PostgresStore) GetLatestSession(userID string) (*SessionRecord, error) {
	row := s.db.QueryRow(
		`SELECT `+sessionColumns+` FROM sessions WHERE user_id = $1 ORDER BY started_at DESC LIMIT 1`,
		userID)
	rec, err := scanSessionRow(row)
	if err == sql.ErrNoRows {
		return nil, models.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load latest session: %w", err)
	}
	return rec, nil
}

func (s *PostgresStore) GetRecentSessions(userID string, limit int) ([]SessionRecord, error) {
	rows, err := s.db.Query(
		`SELECT `+sessionColumns+` FROM sessions WHERE user_id = $1 ORDER BY started_at DESC LIMIT $2`,
		userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent sessions: %w", err)
	}
	defer rows.Close()

	var recs []SessionRecord
	for rows.Next() {
		rec, err := scanSessionRows(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session row: %w", err)
		}
		recs = append(recs, *rec)
	}
	return recs, rows.Err()
}

func (s *PostgresStore) SaveSessionSummary(userID, sessionID, summaryJSON string) error {
	res, err := s.db.Exec(
		`UPDATE sessions SET summary_json = $1, status = $2, updated_at = $3 WHERE user_id = $4 AND session_id = $5`,
		summaryJSON, models.SessionStatusProcessed, time.Now(), userID, sessionID)
	if err != nil {
		slog.Error("PostgresStore SaveSessionSummary failed", "error", err, "session_id", sessionID)
		return fmt.Errorf("failed to save summary for session %s: %w", sessionID, err)
	}
	return requireRow(res, sessionID)
}

func (s *PostgresStore) CountCalibrationSessions(userID string) (int, error) {
	var count int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM sessions WHERE user_id = $1 AND is_calibration`,
		userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count calibration sessions: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) LatestCalibrationTime(userID string) (*time.Time, error) {
	var at time.Time
	err := s.db.QueryRow(
		`SELECT calibration_at FROM sessions WHERE user_id = $1 AND is_calibration
		 ORDER BY calibration_at DESC LIMIT 1`,
		userID).Scan(&at)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query latest calibration time: %w", err)
	}
	return &at, nil
}

func (s *PostgresStore) MarkCalibration(userID, sessionID string, at time.Time) error {
	res, err := s.db.Exec(
		`UPDATE sessions SET is_calibration = TRUE, calibration_at = $1, updated_at = $2 WHERE user_id = $3 AND session_id = $4`,
		at, time.Now(), userID, sessionID)
	if err != nil {
		slog.Error("PostgresStore MarkCalibration failed", "error", err, "session_id", sessionID)
		return fmt.Errorf("failed to mark session %s as calibration: %w", sessionID, err)
	}
	return requireRow(res, sessionID)
}

func (s *PostgresStore) SaveDeviceAddress(addr string) error {
	_, err := s.db.Exec(
		`INSERT INTO device_settings (key, value) VALUES ($1, $2)
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`,
		deviceAddressKey, addr)
	if err != nil {
		return fmt.Errorf("failed to save device address: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeviceAddress() (string, error) {
	var addr string
	err := s.db.QueryRow(
		`SELECT value FROM device_settings WHERE key = $1`, deviceAddressKey).Scan(&addr)
	if err == sql.ErrNoRows {
		return "", models.ErrNoDeviceSaved
	}
	if err != nil {
		return "", fmt.Errorf("failed to load device address: %w", err)
	}
	return addr, nil
}

func (s *PostgresStore) ForgetDeviceAddress() error {
	_, err := s.db.Exec(`DELETE FROM device_settings WHERE key = $1`, deviceAddressKey)
	if err != nil {
		return fmt.Errorf("failed to forget device address: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() error { return s.db.Close() }
