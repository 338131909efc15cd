// Package store provides the document store backends for hrvlink.
//
// Session records live under a per-user collection, raw PPG batches under a
// per-session subcollection, and the last-connected peripheral address in a
// small local-settings table. Backends: in-memory (tests and default),
// SQLite, and PostgreSQL.
package store

import (
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/beatbalance/hrvlink/internal/models"
)

// SessionRecord is a stored session together with the raw summary JSON the
// remote processor attached to it, if any. The summary is kept verbatim
// because its fields may arrive as numbers or strings; internal/hrvdata
// owns the defensive decode.
type SessionRecord struct {
	models.Session
	SummaryJSON   string
	CalibrationAt *time.Time
	UpdatedAt     time.Time
}

// Store defines the persistence operations the pipeline needs.
type Store interface {
	// CreateSession inserts a new session record with a store-assigned
	// timestamp.
	CreateSession(s models.Session) error
	// UpdateSessionStatus moves a session through its lifecycle.
	UpdateSessionStatus(userID, sessionID string, status models.SessionStatus) error
	// DeleteSession removes a session record whose stream never started.
	DeleteSession(userID, sessionID string) error
	// AddRawBatch appends one comma-joined batch of raw reading hex strings
	// to the session's raw-data subcollection.
	AddRawBatch(userID, sessionID, data string) error
	// GetRawBatches returns the raw batches of a session in insertion order.
	GetRawBatches(userID, sessionID string) ([]models.RawBatch, error)
	// GetSession returns one session, or models.ErrSessionNotFound.
	GetSession(userID, sessionID string) (*SessionRecord, error)
	// GetLatestSession returns the most recent session for the user, or
	// models.ErrSessionNotFound when the user has none.
	GetLatestSession(userID string) (*SessionRecord, error)
	// GetRecentSessions returns up to limit sessions, newest first,
	// de-duplicated by session ID.
	GetRecentSessions(userID string, limit int) ([]SessionRecord, error)
	// SaveSessionSummary attaches the remote-processing result JSON to a
	// session and marks it processed.
	SaveSessionSummary(userID, sessionID, summaryJSON string) error
	// CountCalibrationSessions counts the user's calibration-flagged
	// sessions.
	CountCalibrationSessions(userID string) (int, error)
	// LatestCalibrationTime returns the most recent calibration mark, or
	// nil when the user has none.
	LatestCalibrationTime(userID string) (*time.Time, error)
	// MarkCalibration flags a session as a calibration sample.
	MarkCalibration(userID, sessionID string, at time.Time) error

	// SaveDeviceAddress persists the last-connected peripheral address for
	// auto-reconnect.
	SaveDeviceAddress(addr string) error
	// DeviceAddress returns the persisted peripheral address, or
	// models.ErrNoDeviceSaved.
	DeviceAddress() (string, error)
	// ForgetDeviceAddress erases the persisted peripheral address.
	ForgetDeviceAddress() error

	// Close releases backend resources.
	Close() error
}

// Opts holds configuration for store backends.
type Opts struct {
	DSN string
}

// Option configures a store backend.
type Option func(*Opts)

// WithSQLiteDSN sets a SQLite database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithPostgresDSN sets a PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// DetectDSNType reports "postgres" for PostgreSQL connection strings and
// "sqlite" for anything else (treated as a file path).
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") || strings.Contains(dsn, "host=") {
		return "postgres"
	}
	return "sqlite"
}

// InMemoryStore is a non-durable Store used for tests and when no DSN is
// configured.
type InMemoryStore struct {
	mu         sync.Mutex
	sessions   map[string]map[string]*SessionRecord // userID → sessionID → record
	rawBatches map[string][]models.RawBatch         // userID/sessionID → batches
	deviceAddr string
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		sessions:   make(map[string]map[string]*SessionRecord),
		rawBatches: make(map[string][]models.RawBatch),
	}
}

func rawKey(userID, sessionID string) string { return userID + "/" + sessionID }

func (s *InMemoryStore) CreateSession(sess models.Session) error {
	if err := sess.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sessions[sess.UserID] == nil {
		s.sessions[sess.UserID] = make(map[string]*SessionRecord)
	}
	now := time.Now()
	if sess.StartedAt.IsZero() {
		sess.StartedAt = now
	}
	s.sessions[sess.UserID][sess.ID] = &SessionRecord{Session: sess, UpdatedAt: now}
	slog.Debug("InMemoryStore CreateSession", "user_id", sess.UserID, "session_id", sess.ID)
	return nil
}

func (s *InMemoryStore) UpdateSessionStatus(userID, sessionID string, status models.SessionStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.sessions[userID][sessionID]
	if !ok {
		return models.ErrSessionNotFound
	}
	rec.Status = status
	rec.UpdatedAt = time.Now()
	return nil
}

func (s *InMemoryStore) DeleteSession(userID, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[userID][sessionID]; !ok {
		return models.ErrSessionNotFound
	}
	delete(s.sessions[userID], sessionID)
	return nil
}

func (s *InMemoryStore) AddRawBatch(userID, sessionID, data string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := rawKey(userID, sessionID)
	s.rawBatches[key] = append(s.rawBatches[key], models.RawBatch{
		SessionID: sessionID,
		Data:      data,
		CreatedAt: time.Now(),
	})
	return nil
}

func (s *InMemoryStore) GetRawBatches(userID, sessionID string) ([]models.RawBatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	batches := s.rawBatches[rawKey(userID, sessionID)]
	out := make([]models.RawBatch, len(batches))
	copy(out, batches)
	return out, nil
}

func (s *InMemoryStore) GetSession(userID, sessionID string) (*SessionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.sessions[userID][sessionID]
	if !ok {
		return nil, models.ErrSessionNotFound
	}
	cp := *rec
	return &cp, nil
}

func (s *InMemoryStore) GetLatestSession(userID string) (*SessionRecord, error) {
	recs, err := s.GetRecentSessions(userID, 1)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, models.ErrSessionNotFound
	}
	return &recs[0], nil
}

func (s *InMemoryStore) GetRecentSessions(userID string, limit int) ([]SessionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var recs []SessionRecord
	for _, rec := range s.sessions[userID] {
		recs = append(recs, *rec)
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].StartedAt.After(recs[j].StartedAt) })
	if limit > 0 && len(recs) > limit {
		recs = recs[:limit]
	}
	return recs, nil
}

func (s *InMemoryStore) SaveSessionSummary(userID, sessionID, summaryJSON string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.sessions[userID][sessionID]
	if !ok {
		return models.ErrSessionNotFound
	}
	rec.SummaryJSON = summaryJSON
	rec.Status = models.SessionStatusProcessed
	rec.UpdatedAt = time.Now()
	return nil
}

func (s *InMemoryStore) CountCalibrationSessions(userID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, rec := range s.sessions[userID] {
		if rec.IsCalibration {
			count++
		}
	}
	return count, nil
}

func (s *InMemoryStore) LatestCalibrationTime(userID string) (*time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest *time.Time
	for _, rec := range s.sessions[userID] {
		if rec.IsCalibration && rec.CalibrationAt != nil {
			if latest == nil || rec.CalibrationAt.After(*latest) {
				t := *rec.CalibrationAt
				latest = &t
			}
		}
	}
	return latest, nil
}

func (s *InMemoryStore) MarkCalibration(userID, sessionID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.sessions[userID][sessionID]
	if !ok {
		return models.ErrSessionNotFound
	}
	rec.IsCalibration = true
	rec.CalibrationAt = &at
	rec.UpdatedAt = time.Now()
	return nil
}

func (s *InMemoryStore) SaveDeviceAddress(addr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deviceAddr = addr
	return nil
}

func (s *InMemoryStore) DeviceAddress() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deviceAddr == "" {
		return "", models.ErrNoDeviceSaved
	}
	return s.deviceAddr, nil
}

func (s *InMemoryStore) ForgetDeviceAddress() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deviceAddr = ""
	return nil
}

func (s *InMemoryStore) Close() error { return nil }
