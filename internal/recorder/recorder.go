// Package recorder drives the lifecycle of one recording session.
//
// It owns the session state machine: create the session record, start the
// sensor stream, run the countdown, flush the raw upload batch, wait for
// the final writes to settle, and hand the session to remote processing.
// Exactly one session is active at a time.
package recorder

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/beatbalance/hrvlink/internal/batcher"
	"github.com/beatbalance/hrvlink/internal/ble"
	"github.com/beatbalance/hrvlink/internal/hrvdata"
	"github.com/beatbalance/hrvlink/internal/models"
	"github.com/beatbalance/hrvlink/internal/store"
)

// Session timing and calibration policy.
const (
	// DefaultRecordingDuration is the countdown after which a recording
	// stops on its own.
	DefaultRecordingDuration = 60 * time.Second
	// DefaultSettleDelay is the pause between the final batch flush and the
	// remote processing request, so the last writes are visible to the
	// processor.
	DefaultSettleDelay = 3 * time.Second
	// CalibrationSessionTarget is how many calibration sessions a user
	// accumulates before the baseline is considered established.
	CalibrationSessionTarget = 4
	// CalibrationSpacing is the minimum gap between calibration sessions.
	CalibrationSpacing = 12 * time.Hour

	eventBufferSize = 16
)

// Status is the recorder's lifecycle state.
type Status string

const (
	// StatusIdle means no session is active.
	StatusIdle Status = "idle"
	// StatusRecording means the sensor is streaming into an open session.
	StatusRecording Status = "recording"
	// StatusStopping means the stream is being torn down and flushed.
	StatusStopping Status = "stopping"
	// StatusProcessing means the session awaits its remote summary.
	StatusProcessing Status = "processing"
)

// Event is one recorder state transition. Summary is set only when a
// processing attempt finished; nil Summary with StatusIdle after
// StatusProcessing means processing failed and the session stays
// unsummarized.
type Event struct {
	Status    Status                 `json:"status"`
	SessionID string                 `json:"session_id"`
	Summary   *models.SessionSummary `json:"summary,omitempty"`
}

// Link is the slice of the device link the recorder drives.
type Link interface {
	StartRecording(sink ble.RawSink) error
	StopRecording()
}

// Opts holds configuration for the recorder.
type Opts struct {
	RecordingDuration time.Duration
	SettleDelay       time.Duration
	BatchSize         int
}

// Option configures the recorder.
type Option func(*Opts)

// WithRecordingDuration overrides the countdown length.
func WithRecordingDuration(d time.Duration) Option {
	return func(o *Opts) { o.RecordingDuration = d }
}

// WithSettleDelay overrides the pre-processing settle pause.
func WithSettleDelay(d time.Duration) Option {
	return func(o *Opts) { o.SettleDelay = d }
}

// WithBatchSize overrides the raw upload batch size.
func WithBatchSize(n int) Option {
	return func(o *Opts) { o.BatchSize = n }
}

// Recorder is the session state machine for one user.
type Recorder struct {
	store  store.Store
	link   Link
	data   *hrvdata.DataStore
	userID string
	opts   Opts
	events chan Event

	mu        sync.Mutex
	status    Status
	sessionID string
	batch     *batcher.Batcher
	countdown *time.Timer
}

// New creates an idle Recorder for the given user.
func New(st store.Store, link Link, data *hrvdata.DataStore, userID string, options ...Option) *Recorder {
	opts := Opts{
		RecordingDuration: DefaultRecordingDuration,
		SettleDelay:       DefaultSettleDelay,
		BatchSize:         batcher.DefaultBatchSize,
	}
	for _, opt := range options {
		opt(&opts)
	}
	return &Recorder{
		store:  st,
		link:   link,
		data:   data,
		userID: userID,
		opts:   opts,
		events: make(chan Event, eventBufferSize),
		status: StatusIdle,
	}
}

// Events returns the channel of recorder state transitions.
func (r *Recorder) Events() <-chan Event {
	return r.events
}

func (r *Recorder) emit(ev Event) {
	select {
	case r.events <- ev:
	default:
		slog.Warn("Recorder event dropped, consumer too slow", "status", ev.Status)
	}
}

// Status returns the current lifecycle state.
func (r *Recorder) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// ActiveSession returns the session ID of the session currently recording
// or processing, or empty when idle.
func (r *Recorder) ActiveSession() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessionID
}

// Start begins a new recording session of the given type. It fails when a
// session is already active or the sensor stream cannot be started; no
// session record is left behind on failure.
func (r *Recorder) Start(recordingType models.RecordingType) (string, error) {
	if !models.IsValidRecordingType(recordingType) {
		return "", models.ErrInvalidRecordingType
	}

	r.mu.Lock()
	if r.status != StatusIdle {
		status := r.status
		r.mu.Unlock()
		return "", fmt.Errorf("cannot start recording while %s", status)
	}
	r.status = StatusRecording
	sessionID := uuid.NewString()
	r.sessionID = sessionID
	batch := batcher.NewWithSize(r.store, r.userID, sessionID, r.opts.BatchSize)
	r.batch = batch
	r.mu.Unlock()

	session := models.Session{
		ID:        sessionID,
		UserID:    r.userID,
		StartedAt: time.Now(),
		Type:      recordingType,
		Status:    models.SessionStatusRecording,
	}
	if err := r.store.CreateSession(session); err != nil {
		r.reset()
		return "", fmt.Errorf("failed to create session: %w", err)
	}

	if err := r.link.StartRecording(batch); err != nil {
		if derr := r.store.DeleteSession(r.userID, sessionID); derr != nil {
			slog.Error("Recorder failed to remove dead session", "error", derr, "session_id", sessionID)
		}
		r.reset()
		return "", fmt.Errorf("failed to start sensor stream: %w", err)
	}

	r.mu.Lock()
	r.countdown = time.AfterFunc(r.opts.RecordingDuration, func() {
		slog.Info("Recorder countdown elapsed", "session_id", sessionID)
		r.finish()
	})
	r.mu.Unlock()

	slog.Info("Recorder session started", "session_id", sessionID, "type", recordingType, "duration", r.opts.RecordingDuration)
	r.emit(Event{Status: StatusRecording, SessionID: sessionID})
	return sessionID, nil
}

// Stop ends the active recording before the countdown elapses. Stopping an
// idle recorder is an error; stopping twice is not, the second call is
// absorbed by the state machine.
func (r *Recorder) Stop() error {
	r.mu.Lock()
	idle := r.status == StatusIdle
	r.mu.Unlock()
	if idle {
		return fmt.Errorf("no active recording")
	}
	slog.Info("Recorder stop requested", "session_id", r.ActiveSession())
	r.finish()
	return nil
}

// finish moves an active session through teardown, flush, settle, and
// remote processing. Only the first call for a session proceeds; the
// countdown and a user stop may race here.
func (r *Recorder) finish() {
	r.mu.Lock()
	if r.status != StatusRecording {
		r.mu.Unlock()
		return
	}
	r.status = StatusStopping
	sessionID := r.sessionID
	batch := r.batch
	if r.countdown != nil {
		r.countdown.Stop()
		r.countdown = nil
	}
	r.mu.Unlock()

	r.emit(Event{Status: StatusStopping, SessionID: sessionID})
	r.link.StopRecording()
	batch.Flush()

	if err := r.store.UpdateSessionStatus(r.userID, sessionID, models.SessionStatusUploading); err != nil {
		slog.Error("Recorder failed to mark session uploading", "error", err, "session_id", sessionID)
	}

	// The calibration mark belongs to the stop itself, not to the processing
	// outcome; a session still counts toward the baseline when the summary
	// never arrives.
	r.markCalibrationIfDue(sessionID)

	r.mu.Lock()
	r.status = StatusProcessing
	r.mu.Unlock()
	r.emit(Event{Status: StatusProcessing, SessionID: sessionID})

	slog.Debug("Recorder settling before processing", "session_id", sessionID, "delay", r.opts.SettleDelay)
	time.AfterFunc(r.opts.SettleDelay, func() {
		r.data.RemoteProcess(context.Background(), r.userID, sessionID, func(summary *models.SessionSummary) {
			r.reset()
			r.emit(Event{Status: StatusIdle, SessionID: sessionID, Summary: summary})
			slog.Info("Recorder session finished", "session_id", sessionID, "processed", summary != nil)
		})
	})
}

func (r *Recorder) reset() {
	r.mu.Lock()
	r.status = StatusIdle
	r.sessionID = ""
	r.batch = nil
	if r.countdown != nil {
		r.countdown.Stop()
		r.countdown = nil
	}
	r.mu.Unlock()
}

// markCalibrationIfDue flags the session as a calibration sample when the
// user is still building a baseline and enough time has passed since the
// previous calibration.
func (r *Recorder) markCalibrationIfDue(sessionID string) {
	count, err := r.store.CountCalibrationSessions(r.userID)
	if err != nil {
		slog.Error("Recorder calibration count failed", "error", err, "user_id", r.userID)
		return
	}
	if count >= CalibrationSessionTarget {
		return
	}
	last, err := r.store.LatestCalibrationTime(r.userID)
	if err != nil {
		slog.Error("Recorder calibration time lookup failed", "error", err, "user_id", r.userID)
		return
	}
	now := time.Now()
	if last != nil && now.Sub(*last) < CalibrationSpacing {
		slog.Debug("Recorder calibration spacing not met", "user_id", r.userID, "last", *last)
		return
	}
	if err := r.store.MarkCalibration(r.userID, sessionID, now); err != nil {
		slog.Error("Recorder calibration mark failed", "error", err, "session_id", sessionID)
		return
	}
	slog.Info("Recorder session marked as calibration", "session_id", sessionID, "count", count+1, "target", CalibrationSessionTarget)
}

// CalibrationProgress reports how many calibration sessions the user has
// accumulated against the target.
func (r *Recorder) CalibrationProgress() (done, target int, err error) {
	count, err := r.store.CountCalibrationSessions(r.userID)
	if err != nil {
		return 0, CalibrationSessionTarget, err
	}
	if count > CalibrationSessionTarget {
		count = CalibrationSessionTarget
	}
	return count, CalibrationSessionTarget, nil
}
