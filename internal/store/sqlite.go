// Package store provides the document store backends for hrvlink.
//
// This file implements the SQLite-backed store, the default for a single
// companion-daemon deployment.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	"github.com/beatbalance/hrvlink/internal/models"
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

	slog.Debug("Running SQLite migrations")
	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully")

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) CreateSession(sess models.Session) error {
	if err := sess.Validate(); err != nil {
		return err
	}
	startedAt := sess.StartedAt
	if startedAt.IsZero() {
		startedAt = time.Now()
	}
	_, err := s.db.Exec(
		`INSERT INTO sessions (user_id, session_id, started_at, recording_type, status, is_calibration, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sess.UserID, sess.ID, startedAt, sess.Type, sess.Status, sess.IsCalibration, time.Now())
	if err != nil {
		slog.Error("SQLiteStore CreateSession failed", "error", err, "session_id", sess.ID)
		return fmt.Errorf("failed to insert session %s: %w", sess.ID, err)
	}
	slog.Debug("SQLiteStore CreateSession succeeded", "user_id", sess.UserID, "session_id", sess.ID)
	return nil
}

func (s *SQLiteStore) UpdateSessionStatus(userID, sessionID string, status models.SessionStatus) error {
	res, err := s.db.Exec(
		`UPDATE sessions SET status = ?, updated_at = ? WHERE user_id = ? AND session_id = ?`,
		status, time.Now(), userID, sessionID)
	if err != nil {
		slog.Error("SQLiteStore UpdateSessionStatus failed", "error", err, "session_id", sessionID)
		return fmt.Errorf("failed to update session %s status: %w", sessionID, err)
	}
	return requireRow(res, sessionID)
}

func (s *SQLiteStore) DeleteSession(userID, sessionID string) error {
	res, err := s.db.Exec(
		`DELETE FROM sessions WHERE user_id = ? AND session_id = ?`,
		userID, sessionID)
	if err != nil {
		slog.Error("SQLiteStore DeleteSession failed", "error", err, "session_id", sessionID)
		return fmt.Errorf("failed to delete session %s: %w", sessionID, err)
	}
	return requireRow(res, sessionID)
}

func (s *SQLiteStore) AddRawBatch(userID, sessionID, data string) error {
	_, err := s.db.Exec(
		`INSERT INTO raw_batches (user_id, session_id, data) VALUES (?, ?, ?)`,
		userID, sessionID, data)
	if err != nil {
		slog.Error("SQLiteStore AddRawBatch failed", "error", err, "session_id", sessionID)
		return fmt.Errorf("failed to insert raw batch for session %s: %w", sessionID, err)
	}
	slog.Debug("SQLiteStore AddRawBatch succeeded", "session_id", sessionID, "bytes", len(data))
	return nil
}

func (s *SQLiteStore) GetRawBatches(userID, sessionID string) ([]models.RawBatch, error) {
	rows, err := s.db.Query(
		`SELECT session_id, data, created_at FROM raw_batches WHERE user_id = ? AND session_id = ? ORDER BY id`,
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

const sessionColumns = `user_id, session_id, started_at, recording_type, status, is_calibration, calibration_at, summary_json, updated_at`

func (s *SQLiteStore) GetSession(userID, sessionID string) (*SessionRecord, error) {
	row := s.db.QueryRow(
		`SELECT `+sessionColumns+` FROM sessions WHERE user_id = ? AND session_id = ?`,
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

func (s *SQLiteStore) GetLatestSession(userID string) (*SessionRecord, error) {
	row := s.db.QueryRow(
		`SELECT `+sessionColumns+` FROM sessions WHERE user_id = ? ORDER BY started_at DESC LIMIT 1`,
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

func (s *SQLiteStore) GetRecentSessions(userID string, limit int) ([]SessionRecord, error) {
	rows, err := s.db.Query(
		`SELECT `+sessionColumns+` FROM sessions WHERE user_id = ? ORDER BY started_at DESC LIMIT ?`,
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
	slog.Debug("SQLiteStore GetRecentSessions succeeded", "user_id", userID, "count", len(recs))
	return recs, rows.Err()
}

func (s *SQLiteStore) SaveSessionSummary(userID, sessionID, summaryJSON string) error {
	res, err := s.db.Exec(
		`UPDATE sessions SET summary_json = ?, status = ?, updated_at = ? WHERE user_id = ? AND session_id = ?`,
		summaryJSON, models.SessionStatusProcessed, time.Now(), userID, sessionID)
	if err != nil {
		slog.Error("SQLiteStore SaveSessionSummary failed", "error", err, "session_id", sessionID)
		return fmt.Errorf("failed to save summary for session %s: %w", sessionID, err)
	}
	return requireRow(res, sessionID)
}

func (s *SQLiteStore) CountCalibrationSessions(userID string) (int, error) {
	var count int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM sessions WHERE user_id = ? AND is_calibration = 1`,
		userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count calibration sessions: %w", err)
	}
	return count, nil
}

func (s *SQLiteStore) LatestCalibrationTime(userID string) (*time.Time, error) {
	// MAX() would strip the declared column type and break time scanning.
	var at time.Time
	err := s.db.QueryRow(
		`SELECT calibration_at FROM sessions WHERE user_id = ? AND is_calibration = 1
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

func (s *SQLiteStore) MarkCalibration(userID, sessionID string, at time.Time) error {
	res, err := s.db.Exec(
		`UPDATE sessions SET is_calibration = 1, calibration_at = ?, updated_at = ? WHERE user_id = ? AND session_id = ?`,
		at, time.Now(), userID, sessionID)
	if err != nil {
		slog.Error("SQLiteStore MarkCalibration failed", "error", err, "session_id", sessionID)
		return fmt.Errorf("failed to mark session %s as calibration: %w", sessionID, err)
	}
	return requireRow(res, sessionID)
}

const deviceAddressKey = "last_peripheral"

func (s *SQLiteStore) SaveDeviceAddress(addr string) error {
	_, err := s.db.Exec(
		`INSERT INTO device_settings (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		deviceAddressKey, addr)
	if err != nil {
		return fmt.Errorf("failed to save device address: %w", err)
	}
	return nil
}

func (s *SQLiteStore) DeviceAddress() (string, error) {
	var addr string
	err := s.db.QueryRow(
		`SELECT value FROM device_settings WHERE key = ?`, deviceAddressKey).Scan(&addr)
	if err == sql.ErrNoRows {
		return "", models.ErrNoDeviceSaved
	}
	if err != nil {
		return "", fmt.Errorf("failed to load device address: %w", err)
	}
	return addr, nil
}

func (s *SQLiteStore) ForgetDeviceAddress() error {
	_, err := s.db.Exec(`DELETE FROM device_settings WHERE key = ?`, deviceAddressKey)
	if err != nil {
		return fmt.Errorf("failed to forget device address: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }
