package hrvdata

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/beatbalance/hrvlink/internal/models"
	"github.com/beatbalance/hrvlink/internal/processing"
	"github.com/beatbalance/hrvlink/internal/store"
)

func TestSummaryFromResultHybridFields(t *testing.T) {
	tests := []struct {
		name   string
		result map[string]any
		want   models.SessionSummary
	}{
		{
			name: "numeric fields are formatted",
			result: map[string]any{
				"sdnn": 45.23, "rmssd": 38.0, "HR_mean": 72.456,
				"sqi": 0.8, "stress_probability": 0.25,
			},
			want: models.SessionSummary{
				SDNN: "45.2", RMSSD: "38.0", AverageHR: "72.5",
				Quality: "Excellent", StressProbability: 0.25,
			},
		},
		{
			name: "string fields pass through",
			result: map[string]any{
				"sdnn": "45.2", "rmssd": "38.7", "HR_mean": "72.0", "sqi": "Good",
			},
			want: models.SessionSummary{
				SDNN: "45.2", RMSSD: "38.7", AverageHR: "72.0",
				Quality: "Good", StressProbability: 0.5,
			},
		},
		{
			name:   "missing fields fall back to placeholders",
			result: map[string]any{},
			want: models.SessionSummary{
				SDNN: "--", RMSSD: "--", AverageHR: "--",
				Quality: "--", StressProbability: 0.5,
			},
		},
		{
			name:   "nil result falls back to placeholders",
			result: nil,
			want: models.SessionSummary{
				SDNN: "--", RMSSD: "--", AverageHR: "--",
				Quality: "--", StressProbability: 0.5,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SummaryFromResult("s1", tt.result)
			got.SessionID, got.Timestamp = "", time.Time{}
			if got != tt.want {
				t.Errorf("SummaryFromResult = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestQualityThresholds(t *testing.T) {
	tests := []struct {
		sqi  float64
		want string
	}{
		{0.0, "Low"},
		{0.29, "Low"},
		{0.3, "Good"},
		{0.69, "Good"},
		{0.7, "Excellent"},
		{1.0, "Excellent"},
	}
	for _, tt := range tests {
		got := SummaryFromResult("s1", map[string]any{"sqi": tt.sqi})
		if got.Quality != tt.want {
			t.Errorf("sqi %v → %q, want %q", tt.sqi, got.Quality, tt.want)
		}
	}
}

func newTestDataStore(t *testing.T, endpoint string) (*DataStore, *store.InMemoryStore) {
	t.Helper()
	st := store.NewInMemoryStore()
	var proc *processing.Client
	if endpoint != "" {
		var err error
		proc, err = processing.NewClient(processing.WithEndpoint(endpoint))
		if err != nil {
			t.Fatalf("NewClient: %v", err)
		}
	}
	return New(st, proc), st
}

func TestLiveSample(t *testing.T) {
	d, _ := newTestDataStore(t, "")
	if d.LiveSample() != nil {
		t.Error("LiveSample not nil before first sample")
	}
	d.ApplyLive(models.HRVSample{SDNN: 45.2, Quality: models.SignalQualityGood})
	got := d.LiveSample()
	if got == nil || got.SDNN != 45.2 {
		t.Errorf("LiveSample = %+v", got)
	}
}

func TestFetchLatestAndHistory(t *testing.T) {
	d, st := newTestDataStore(t, "")

	if _, err := d.FetchLatest("u1"); err != models.ErrSessionNotFound {
		t.Errorf("FetchLatest with no sessions = %v, want ErrSessionNotFound", err)
	}

	base := time.Now().Add(-time.Hour)
	for i, id := range []string{"s1", "s2", "s3"} {
		sess := models.Session{
			ID: id, UserID: "u1", StartedAt: base.Add(time.Duration(i) * time.Minute),
			Type: models.RecordingTypeTimer, Status: models.SessionStatusRecording,
		}
		if err := st.CreateSession(sess); err != nil {
			t.Fatalf("CreateSession: %v", err)
		}
	}
	if err := st.SaveSessionSummary("u1", "s3", `{"sdnn": 50.0, "sqi": 0.2}`); err != nil {
		t.Fatalf("SaveSessionSummary: %v", err)
	}

	latest, err := d.FetchLatest("u1")
	if err != nil {
		t.Fatalf("FetchLatest: %v", err)
	}
	if latest.SessionID != "s3" || latest.SDNN != "50.0" || latest.Quality != "Low" {
		t.Errorf("latest = %+v", latest)
	}
	if cached := d.Latest(); cached == nil || cached.SessionID != "s3" {
		t.Errorf("cached latest = %+v", cached)
	}

	history, err := d.FetchHistory("u1", 2)
	if err != nil {
		t.Fatalf("FetchHistory: %v", err)
	}
	if len(history) != 2 || history[0].SessionID != "s3" || history[1].SessionID != "s2" {
		t.Errorf("history = %+v", history)
	}
}

func TestRemoteProcessSuccessUpdatesStoreAndCache(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"sdnn": 45.2, "rmssd": 38.7, "HR_mean": 72.0, "sqi": 0.5}`))
	}))
	defer srv.Close()

	d, st := newTestDataStore(t, srv.URL)
	sess := models.Session{ID: "s1", UserID: "u1", Type: models.RecordingTypeTimer, Status: models.SessionStatusUploading}
	if err := st.CreateSession(sess); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	var got *models.SessionSummary
	d.RemoteProcess(context.Background(), "u1", "s1", func(s *models.SessionSummary) { got = s })
	if got == nil {
		t.Fatal("RemoteProcess reported failure for good response")
	}
	if got.SDNN != "45.2" || got.Quality != "Good" {
		t.Errorf("summary = %+v", got)
	}

	rec, err := st.GetSession("u1", "s1")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if rec.Status != models.SessionStatusProcessed || rec.SummaryJSON == "" {
		t.Errorf("session after processing = %+v", rec)
	}
}

func TestRemoteProcessFailureReportsNil(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"error": "missing data"}`))
	}))
	defer srv.Close()

	d, _ := newTestDataStore(t, srv.URL)
	called := false
	var got *models.SessionSummary
	d.RemoteProcess(context.Background(), "u1", "s1", func(s *models.SessionSummary) { called, got = true, s })
	if !called {
		t.Fatal("callback not invoked")
	}
	if got != nil {
		t.Errorf("callback got %+v, want nil", got)
	}
}

func TestRemoteProcessWithoutClient(t *testing.T) {
	d, _ := newTestDataStore(t, "")
	called := false
	d.RemoteProcess(context.Background(), "u1", "s1", func(s *models.SessionSummary) {
		called = true
		if s != nil {
			t.Errorf("callback got %+v, want nil", s)
		}
	})
	if !called {
		t.Fatal("callback not invoked")
	}
}
