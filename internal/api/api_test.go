package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/beatbalance/hrvlink/internal/ble"
	"github.com/beatbalance/hrvlink/internal/hrvdata"
	"github.com/beatbalance/hrvlink/internal/models"
	"github.com/beatbalance/hrvlink/internal/processing"
	"github.com/beatbalance/hrvlink/internal/recorder"
	"github.com/beatbalance/hrvlink/internal/store"
)

type testRig struct {
	server *Server
	http   *httptest.Server
	radio  *ble.MockRadio
	store  *store.InMemoryStore
	cancel context.CancelFunc
}

func newTestRig(t *testing.T) *testRig {
	t.Helper()

	proc := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"sdnn": 45.2, "rmssd": 38.7, "HR_mean": 72.0, "sqi": 0.8}`))
	}))
	t.Cleanup(proc.Close)
	client, err := processing.NewClient(processing.WithEndpoint(proc.URL))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	radio := ble.NewMockRadio()
	st := store.NewInMemoryStore()
	link := ble.New(radio, st, ble.WithScanTimeout(time.Second))
	if err := link.Enable(); err != nil {
		t.Fatalf("Enable: %v", err)
	}
	data := hrvdata.New(st, client)
	rec := recorder.New(st, link, data, "u1",
		recorder.WithRecordingDuration(time.Second),
		recorder.WithSettleDelay(5*time.Millisecond),
	)

	s := NewServer(link, rec, data, nil, "u1")
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithCancel(context.Background())
	go s.dispatchEvents(ctx)
	t.Cleanup(cancel)

	return &testRig{server: s, http: srv, radio: radio, store: st, cancel: cancel}
}

func (rig *testRig) post(t *testing.T, path, body string) (*http.Response, models.APIResponse) {
	t.Helper()
	resp, err := http.Post(rig.http.URL+path, "application/json", bytes.NewBufferString(body))
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	return resp, decodeResponse(t, resp)
}

func (rig *testRig) get(t *testing.T, path string) (*http.Response, models.APIResponse) {
	t.Helper()
	resp, err := http.Get(rig.http.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	return resp, decodeResponse(t, resp)
}

func decodeResponse(t *testing.T, resp *http.Response) models.APIResponse {
	t.Helper()
	defer resp.Body.Close()
	var out models.APIResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	return out
}

func TestStatusStartsDisconnected(t *testing.T) {
	rig := newTestRig(t)
	resp, body := rig.get(t, "/status")
	if resp.StatusCode != http.StatusOK || body.Status != models.APIStatusOK {
		t.Fatalf("status = %d %s", resp.StatusCode, body.Status)
	}
	result := body.Result.(map[string]any)
	if result["connection"] != "disconnected" || result["recorder"] != "idle" {
		t.Errorf("status result = %v", result)
	}
}

func TestStatusRejectsPost(t *testing.T) {
	rig := newTestRig(t)
	resp, err := http.Post(rig.http.URL+"/status", "application/json", nil)
	if err != nil {
		t.Fatalf("POST /status: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", resp.StatusCode)
	}
}

func TestConnectFlow(t *testing.T) {
	rig := newTestRig(t)
	rig.radio.AddDevice("AA:BB:CC:DD:EE:01", "BeatBalance Sensor")

	resp, _ := rig.post(t, "/scan", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("scan status = %d", resp.StatusCode)
	}

	deadline := time.Now().Add(time.Second)
	for {
		_, body := rig.get(t, "/peripherals")
		if found, ok := body.Result.([]any); ok && len(found) == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("peripheral never showed up")
		}
		time.Sleep(5 * time.Millisecond)
	}

	resp, body := rig.post(t, "/connect", `{"address": "AA:BB:CC:DD:EE:01"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("connect status = %d: %s", resp.StatusCode, body.Message)
	}

	_, body = rig.get(t, "/status")
	result := body.Result.(map[string]any)
	if result["connection"] != "connected" {
		t.Errorf("connection = %v, want connected", result["connection"])
	}
}

func TestConnectRequiresAddress(t *testing.T) {
	rig := newTestRig(t)
	resp, _ := rig.post(t, "/connect", `{}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestReconnectWithoutSavedDevice(t *testing.T) {
	rig := newTestRig(t)
	resp, _ := rig.post(t, "/reconnect", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestRecordingLifecycleOverHTTP(t *testing.T) {
	rig := newTestRig(t)
	dev := rig.radio.AddDevice("AA:BB:CC:DD:EE:01", "BeatBalance Sensor")
	if resp, body := rig.post(t, "/connect", `{"address": "AA:BB:CC:DD:EE:01"}`); resp.StatusCode != http.StatusOK {
		t.Fatalf("connect: %d %s", resp.StatusCode, body.Message)
	}

	resp, body := rig.post(t, "/recordings/start", `{"type": "timer"}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("start status = %d: %s", resp.StatusCode, body.Message)
	}
	sessionID, ok := body.Result.(string)
	if !ok || sessionID == "" {
		t.Fatalf("start result = %v", body.Result)
	}

	// A second start while recording must be refused.
	if resp, _ := rig.post(t, "/recordings/start", `{"type": "timer"}`); resp.StatusCode != http.StatusConflict {
		t.Errorf("concurrent start status = %d, want 409", resp.StatusCode)
	}

	dev.Chars["raw_ppg"].Notify([]byte{0x12, 0x34, 0xfe, 0x56, 0x78, 0xfe})

	resp, _ = rig.post(t, "/recordings/stop", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("stop status = %d", resp.StatusCode)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		rec, err := rig.store.GetSession("u1", sessionID)
		if err == nil && rec.Status == models.SessionStatusProcessed {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("session never reached processed status")
		}
		time.Sleep(10 * time.Millisecond)
	}

	_, body = rig.get(t, "/hrv/latest")
	result := body.Result.(map[string]any)
	if result["sdnn"] != "45.2" {
		t.Errorf("latest sdnn = %v", result["sdnn"])
	}
}

func TestStartRecordingWithoutDevice(t *testing.T) {
	rig := newTestRig(t)
	resp, _ := rig.post(t, "/recordings/start", `{"type": "timer"}`)
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("status = %d, want 409", resp.StatusCode)
	}
}

func TestLatestWithoutSessions(t *testing.T) {
	rig := newTestRig(t)
	resp, _ := rig.get(t, "/hrv/latest")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestHistoryLimitValidation(t *testing.T) {
	rig := newTestRig(t)
	resp, _ := rig.get(t, "/hrv/history?limit=bogus")
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
	resp, body := rig.get(t, "/hrv/history?limit=5")
	if resp.StatusCode != http.StatusOK || body.Status != models.APIStatusOK {
		t.Errorf("status = %d %s", resp.StatusCode, body.Status)
	}
}

func TestWebSocketReceivesLinkEvents(t *testing.T) {
	rig := newTestRig(t)
	dev := rig.radio.AddDevice("AA:BB:CC:DD:EE:01", "BeatBalance Sensor")
	if resp, body := rig.post(t, "/connect", `{"address": "AA:BB:CC:DD:EE:01"}`); resp.StatusCode != http.StatusOK {
		t.Fatalf("connect: %d %s", resp.StatusCode, body.Message)
	}

	wsURL := "ws" + strings.TrimPrefix(rig.http.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dialing %s: %v", wsURL, err)
	}
	defer conn.Close()

	dev.Chars["battery"].Notify([]byte{'Y'})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		var ev Event
		if err := conn.ReadJSON(&ev); err != nil {
			t.Fatalf("reading event: %v", err)
		}
		if ev.Type == "link/battery_updated" {
			data := ev.Data.(map[string]any)
			if data["battery"] != "Yellow" {
				t.Errorf("battery event = %v", data)
			}
			return
		}
	}
}
