// Package models defines the core data structures for hrvlink.
//
// It includes types for the wearable link, decoded sensor data, recording
// sessions, and session summaries, which are shared across modules.
package models

import (
	"errors"
	"time"
)

// ConnectionState describes the state of the wearable link.
type ConnectionState string

const (
	// ConnectionDisconnected indicates no active or pending connection.
	ConnectionDisconnected ConnectionState = "disconnected"
	// ConnectionConnecting indicates a connection attempt is in flight.
	ConnectionConnecting ConnectionState = "connecting"
	// ConnectionConnected indicates an established connection.
	ConnectionConnected ConnectionState = "connected"
)

// SignalQuality is the qualitative label for PPG signal quality.
type SignalQuality string

const (
	SignalQualityInvalid   SignalQuality = "Invalid"
	SignalQualityLow       SignalQuality = "Low"
	SignalQualityGood      SignalQuality = "Good"
	SignalQualityExcellent SignalQuality = "Excellent"
	SignalQualityUnknown   SignalQuality = "Unknown"
)

// BatteryLevel is the coarse battery state reported by the sensor.
type BatteryLevel string

const (
	BatteryRed     BatteryLevel = "Red"
	BatteryYellow  BatteryLevel = "Yellow"
	BatteryGreen   BatteryLevel = "Green"
	BatteryUnknown BatteryLevel = "Unknown"
)

// RecordingType defines which acquisition mode a session uses.
type RecordingType string

const (
	// RecordingTypeTimer records with a countdown only.
	RecordingTypeTimer RecordingType = "timer"
	// RecordingTypeBreathPaced records with breath pacing guidance.
	RecordingTypeBreathPaced RecordingType = "breath_paced"
	// RecordingTypeRawWaveform records with the live raw waveform shown.
	RecordingTypeRawWaveform RecordingType = "raw_waveform"
	// RecordingTypeBreathAndRaw combines breath pacing and the raw waveform.
	RecordingTypeBreathAndRaw RecordingType = "breath_raw"
)

// SessionStatus tracks a session through its lifecycle in the store.
type SessionStatus string

const (
	SessionStatusRecording SessionStatus = "recording"
	SessionStatusUploading SessionStatus = "uploading"
	SessionStatusProcessed SessionStatus = "processed"
)

// Error variables for better error handling and testability
var (
	ErrEmptyUserID             = errors.New("user ID cannot be empty")
	ErrEmptySessionID          = errors.New("session ID cannot be empty")
	ErrInvalidRecordingType    = errors.New("invalid recording type")
	ErrInvalidSessionStatus    = errors.New("invalid session status")
	ErrSessionNotFound         = errors.New("session not found")
	ErrNoDeviceSaved           = errors.New("no saved device address")
	ErrNotConnected            = errors.New("no connected peripheral")
	ErrNoControlCharacteristic = errors.New("recording control characteristic not discovered")
)

// IsValidRecordingType checks if the given recording type is supported.
func IsValidRecordingType(rt RecordingType) bool {
	switch rt {
	case RecordingTypeTimer, RecordingTypeBreathPaced, RecordingTypeRawWaveform, RecordingTypeBreathAndRaw:
		return true
	default:
		return false
	}
}

// IsValidSessionStatus checks if the given session status is supported.
func IsValidSessionStatus(ss SessionStatus) bool {
	switch ss {
	case SessionStatusRecording, SessionStatusUploading, SessionStatusProcessed:
		return true
	default:
		return false
	}
}

// Peripheral is a wearable sensor discovered during a scan.
type Peripheral struct {
	ID    string          `json:"id"`   // stable address, persists across runs
	Name  string          `json:"name"` // advertised local name
	State ConnectionState `json:"state"`
}

// HRVSample is one computed-metrics update decoded from the sensor.
type HRVSample struct {
	SDNN      float64       `json:"sdnn"`
	RMSSD     float64       `json:"rmssd"`
	AverageHR float64       `json:"average_hr"`
	Quality   SignalQuality `json:"signal_quality"`
}

// RawReading is a single PPG intensity value extracted from the raw stream.
// Hex keeps the original 4-character wire encoding for upload; Value is the
// parsed intensity used for display smoothing.
type RawReading struct {
	Value uint16 `json:"value"`
	Hex   string `json:"hex"`
}

// Session is one bounded recording interval. It is created when the user
// starts a recording and retained as a historical record; the core never
// deletes sessions.
type Session struct {
	ID            string        `json:"id"`
	UserID        string        `json:"user_id"`
	StartedAt     time.Time     `json:"started_at"`
	Type          RecordingType `json:"type"`
	Status        SessionStatus `json:"status"`
	IsCalibration bool          `json:"is_calibration,omitempty"`
}

// Validate performs validation on a Session structure.
func (s *Session) Validate() error {
	if s.ID == "" {
		return ErrEmptySessionID
	}
	if s.UserID == "" {
		return ErrEmptyUserID
	}
	if !IsValidRecordingType(s.Type) {
		return ErrInvalidRecordingType
	}
	if !IsValidSessionStatus(s.Status) {
		return ErrInvalidSessionStatus
	}
	return nil
}

// SessionSummary holds the computed metrics attached to a session after
// remote processing. The metric fields are display-formatted strings because
// the remote processor may return either raw numbers or pre-formatted text.
type SessionSummary struct {
	SessionID         string    `json:"session_id"`
	SDNN              string    `json:"sdnn"`
	RMSSD             string    `json:"rmssd"`
	AverageHR         string    `json:"average_hr"`
	Quality           string    `json:"signal_quality"`
	StressProbability float64   `json:"stress_probability"`
	Timestamp         time.Time `json:"timestamp"`
}

// RawBatch is one persisted batch of comma-joined raw reading hex strings.
type RawBatch struct {
	SessionID string    `json:"session_id"`
	Data      string    `json:"data"`
	CreatedAt time.Time `json:"created_at"`
}
