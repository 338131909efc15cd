// Package hrvdata caches computed HRV results for display surfaces.
//
// It decouples live decoder output from historical queries: the link feeds
// it live samples, the recorder feeds it remote-processing results, and
// every display surface reads from it. It is an explicitly constructed,
// dependency-injected service, created once at daemon start.
package hrvdata

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/beatbalance/hrvlink/internal/models"
	"github.com/beatbalance/hrvlink/internal/processing"
	"github.com/beatbalance/hrvlink/internal/store"
)

// Signal-quality thresholds for numeric sqi scores. Product-tuning
// constants with no documented derivation; do not infer one.
const (
	LowQualityThreshold  = 0.3
	GoodQualityThreshold = 0.7
)

// PlaceholderValue is shown where a metric is unavailable.
const PlaceholderValue = "--"

// DataStore is the process-wide cache of latest and historical HRV data.
type DataStore struct {
	mu      sync.Mutex
	store   store.Store
	proc    *processing.Client
	live    *models.HRVSample
	latest  *models.SessionSummary
	history []models.SessionSummary
}

// New creates a DataStore backed by the given persistence layer and
// processing client. The processing client may be nil when no endpoint is
// configured; RemoteProcess then always reports failure.
func New(st store.Store, proc *processing.Client) *DataStore {
	slog.Debug("Creating HRV DataStore")
	return &DataStore{store: st, proc: proc}
}

// ApplyLive records the most recent live decoded sample.
func (d *DataStore) ApplyLive(sample models.HRVSample) {
	d.mu.Lock()
	defer d.mu.Unlock()
	s := sample
	d.live = &s
}

// LiveSample returns the most recent live decoded sample, or nil before
// the first one arrives.
func (d *DataStore) LiveSample() *models.HRVSample {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.live == nil {
		return nil
	}
	s := *d.live
	return &s
}

// FetchLatest loads the user's most recent session summary from the store
// and caches it. A user with no sessions yields models.ErrSessionNotFound.
func (d *DataStore) FetchLatest(userID string) (*models.SessionSummary, error) {
	rec, err := d.store.GetLatestSession(userID)
	if err != nil {
		slog.Debug("DataStore FetchLatest found no session", "user_id", userID, "error", err)
		return nil, err
	}
	summary := summaryFromRecord(rec)
	d.mu.Lock()
	d.latest = &summary
	d.mu.Unlock()
	slog.Debug("DataStore FetchLatest succeeded", "user_id", userID, "session_id", rec.ID)
	return &summary, nil
}

// FetchHistory loads the user's most recent session summaries, newest
// first, and caches them.
func (d *DataStore) FetchHistory(userID string, limit int) ([]models.SessionSummary, error) {
	recs, err := d.store.GetRecentSessions(userID, limit)
	if err != nil {
		slog.Error("DataStore FetchHistory failed", "error", err, "user_id", userID)
		return nil, err
	}
	summaries := make([]models.SessionSummary, 0, len(recs))
	for i := range recs {
		summaries = append(summaries, summaryFromRecord(&recs[i]))
	}
	d.mu.Lock()
	d.history = summaries
	d.mu.Unlock()
	return summaries, nil
}

// Latest returns the cached latest summary, or nil.
func (d *DataStore) Latest() *models.SessionSummary {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.latest == nil {
		return nil
	}
	s := *d.latest
	return &s
}

// RemoteProcess requests summary computation for a recorded session and
// reports the outcome through done; it never returns an error. A nil
// summary means the request failed and the session stays unsummarized.
// Stale responses are absorbed last-write-wins.
func (d *DataStore) RemoteProcess(ctx context.Context, userID, sessionID string, done func(*models.SessionSummary)) {
	if d.proc == nil {
		slog.Warn("DataStore RemoteProcess skipped, no processing endpoint configured", "session_id", sessionID)
		if done != nil {
			done(nil)
		}
		return
	}

	result := d.proc.Process(ctx, userID, sessionID)
	if result == nil {
		if done != nil {
			done(nil)
		}
		return
	}

	summary := d.ApplySummary(userID, sessionID, result)
	if done != nil {
		done(&summary)
	}
}

// ApplySummary decodes a remote-processing result, persists it against the
// session, and updates the cache. The raw result is stored verbatim so the
// defensive decode can be replayed on later fetches.
func (d *DataStore) ApplySummary(userID, sessionID string, result map[string]any) models.SessionSummary {
	summary := SummaryFromResult(sessionID, result)

	raw, err := json.Marshal(result)
	if err != nil {
		slog.Error("DataStore summary marshal failed", "error", err, "session_id", sessionID)
	} else if err := d.store.SaveSessionSummary(userID, sessionID, string(raw)); err != nil {
		slog.Error("DataStore summary save failed", "error", err, "session_id", sessionID)
	}

	d.mu.Lock()
	d.latest = &summary
	d.mu.Unlock()
	slog.Debug("DataStore summary applied", "user_id", userID, "session_id", sessionID)
	return summary
}

// summaryFromRecord rebuilds a summary from a stored session record.
func summaryFromRecord(rec *store.SessionRecord) models.SessionSummary {
	var result map[string]any
	if rec.SummaryJSON != "" {
		if err := json.Unmarshal([]byte(rec.SummaryJSON), &result); err != nil {
			slog.Error("DataStore stored summary decode failed", "error", err, "session_id", rec.ID)
		}
	}
	summary := SummaryFromResult(rec.ID, result)
	summary.Timestamp = rec.UpdatedAt
	return summary
}

// SummaryFromResult decodes the numeric-or-string hybrid fields of a
// remote-processing result into a display-ready summary. Each field is
// tried as a number first, then as a string, then falls back to a default;
// there is no silent type coercion beyond that fixed order.
func SummaryFromResult(sessionID string, result map[string]any) models.SessionSummary {
	return models.SessionSummary{
		SessionID:         sessionID,
		SDNN:              metricField(result["sdnn"]),
		RMSSD:             metricField(result["rmssd"]),
		AverageHR:         metricField(result["HR_mean"]),
		Quality:           qualityField(result["sqi"]),
		StressProbability: stressField(result["stress_probability"]),
		Timestamp:         time.Now(),
	}
}

// metricField decodes a numeric-or-string metric into display text.
func metricField(v any) string {
	switch val := v.(type) {
	case float64:
		return fmt.Sprintf("%.1f", val)
	case string:
		return val
	default:
		return PlaceholderValue
	}
}

// qualityField decodes a numeric-or-string signal quality score. Numeric
// scores map through the fixed thresholds; strings pass through untouched.
func qualityField(v any) string {
	switch val := v.(type) {
	case float64:
		switch {
		case val < LowQualityThreshold:
			return string(models.SignalQualityLow)
		case val < GoodQualityThreshold:
			return string(models.SignalQualityGood)
		default:
			return string(models.SignalQualityExcellent)
		}
	case string:
		return val
	default:
		return PlaceholderValue
	}
}

// stressField decodes the stress probability, defaulting to 0.5.
func stressField(v any) float64 {
	if val, ok := v.(float64); ok {
		return val
	}
	return 0.5
}
