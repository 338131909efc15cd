package models

import (
	"testing"
	"time"
)

func TestSessionValidate(t *testing.T) {
	valid := Session{
		ID:        "s_1",
		UserID:    "u_1",
		StartedAt: time.Now(),
		Type:      RecordingTypeTimer,
		Status:    SessionStatusRecording,
	}

	tests := []struct {
		name    string
		mutate  func(*Session)
		wantErr error
	}{
		{name: "valid", mutate: func(s *Session) {}, wantErr: nil},
		{name: "missing ID", mutate: func(s *Session) { s.ID = "" }, wantErr: ErrEmptySessionID},
		{name: "missing user", mutate: func(s *Session) { s.UserID = "" }, wantErr: ErrEmptyUserID},
		{name: "bad type", mutate: func(s *Session) { s.Type = "nap" }, wantErr: ErrInvalidRecordingType},
		{name: "bad status", mutate: func(s *Session) { s.Status = "paused" }, wantErr: ErrInvalidSessionStatus},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := valid
			tt.mutate(&s)
			if err := s.Validate(); err != tt.wantErr {
				t.Errorf("Validate() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestIsValidRecordingType(t *testing.T) {
	for _, rt := range []RecordingType{RecordingTypeTimer, RecordingTypeBreathPaced, RecordingTypeRawWaveform, RecordingTypeBreathAndRaw} {
		if !IsValidRecordingType(rt) {
			t.Errorf("IsValidRecordingType(%q) = false, want true", rt)
		}
	}
	if IsValidRecordingType("jog") {
		t.Error("IsValidRecordingType accepted unknown type")
	}
}

func TestIsValidSessionStatus(t *testing.T) {
	for _, ss := range []SessionStatus{SessionStatusRecording, SessionStatusUploading, SessionStatusProcessed} {
		if !IsValidSessionStatus(ss) {
			t.Errorf("IsValidSessionStatus(%q) = false, want true", ss)
		}
	}
	if IsValidSessionStatus("done") {
		t.Error("IsValidSessionStatus accepted unknown status")
	}
}
