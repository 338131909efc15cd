// Package api HTTP handlers for the hrvlink endpoints.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/beatbalance/hrvlink/internal/models"
)

// DefaultHistoryLimit bounds /hrv/history when no limit is given.
const DefaultHistoryLimit = 10

// statusResponse is the /status payload.
type statusResponse struct {
	Connection      models.ConnectionState `json:"connection"`
	Peripheral      *models.Peripheral     `json:"peripheral,omitempty"`
	Battery         models.BatteryLevel    `json:"battery"`
	Recorder        string                 `json:"recorder"`
	ActiveSession   string                 `json:"active_session,omitempty"`
	LiveSample      *models.HRVSample      `json:"live_sample,omitempty"`
	CalibrationDone int                    `json:"calibration_done"`
	CalibrationGoal int                    `json:"calibration_goal"`
}

func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	slog.Debug("Server.statusHandler: processing status request", "method", r.Method)
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	done, goal, err := s.rec.CalibrationProgress()
	if err != nil {
		slog.Error("Server.statusHandler: calibration progress lookup failed", "error", err)
	}
	writeJSONResponse(w, http.StatusOK, models.Success(statusResponse{
		Connection:      s.link.State(),
		Peripheral:      s.link.Connected(),
		Battery:         s.link.Battery(),
		Recorder:        string(s.rec.Status()),
		ActiveSession:   s.rec.ActiveSession(),
		LiveSample:      s.data.LiveSample(),
		CalibrationDone: done,
		CalibrationGoal: goal,
	}))
}

func (s *Server) scanHandler(w http.ResponseWriter, r *http.Request) {
	slog.Debug("Server.scanHandler: processing scan request", "method", r.Method)
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if err := s.link.Scan(); err != nil {
		slog.Error("Server.scanHandler: scan failed", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to start scan"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Scan started", nil))
}

func (s *Server) stopScanHandler(w http.ResponseWriter, r *http.Request) {
	slog.Debug("Server.stopScanHandler: processing stop scan request", "method", r.Method)
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	s.link.StopScan()
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Scan stopped", nil))
}

func (s *Server) peripheralsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(s.link.Peripherals()))
}

type connectRequest struct {
	Address string `json:"address"`
}

func (s *Server) connectHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	slog.Debug("Server.connectHandler: processing connect request", "method", r.Method)
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req connectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.connectHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if req.Address == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Missing required field: address"))
		return
	}
	if err := s.link.Connect(req.Address); err != nil {
		slog.Error("Server.connectHandler: connect failed", "error", err, "address", req.Address)
		writeJSONResponse(w, http.StatusBadGateway, models.Error("Failed to connect to device"))
		return
	}
	slog.Info("Server.connectHandler: device connected", "address", req.Address)
	writeJSONResponse(w, http.StatusOK, models.Success(s.link.Connected()))
}

func (s *Server) reconnectHandler(w http.ResponseWriter, r *http.Request) {
	slog.Debug("Server.reconnectHandler: processing reconnect request", "method", r.Method)
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if err := s.link.ReconnectSaved(); err != nil {
		if errors.Is(err, models.ErrNoDeviceSaved) {
			writeJSONResponse(w, http.StatusNotFound, models.Error("No saved device"))
			return
		}
		slog.Error("Server.reconnectHandler: reconnect failed", "error", err)
		writeJSONResponse(w, http.StatusBadGateway, models.Error("Failed to reconnect to saved device"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(s.link.Connected()))
}

func (s *Server) disconnectHandler(w http.ResponseWriter, r *http.Request) {
	slog.Debug("Server.disconnectHandler: processing disconnect request", "method", r.Method)
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if err := s.link.Disconnect(); err != nil {
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to disconnect"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Disconnected", nil))
}

func (s *Server) forgetHandler(w http.ResponseWriter, r *http.Request) {
	slog.Debug("Server.forgetHandler: processing forget request", "method", r.Method)
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if err := s.link.Forget(); err != nil {
		slog.Error("Server.forgetHandler: forget failed", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to forget device"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Device forgotten", nil))
}

type startRecordingRequest struct {
	Type models.RecordingType `json:"type"`
}

func (s *Server) startRecordingHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	slog.Debug("Server.startRecordingHandler: processing start request", "method", r.Method)
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req startRecordingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.startRecordingHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if req.Type == "" {
		req.Type = models.RecordingTypeTimer
	}

	sessionID, err := s.rec.Start(req.Type)
	if err != nil {
		slog.Warn("Server.startRecordingHandler: start failed", "error", err, "type", req.Type)
		switch {
		case errors.Is(err, models.ErrInvalidRecordingType):
			writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid recording type"))
		case errors.Is(err, models.ErrNotConnected), errors.Is(err, models.ErrNoControlCharacteristic):
			writeJSONResponse(w, http.StatusConflict, models.Error("No device ready to record"))
		default:
			writeJSONResponse(w, http.StatusConflict, models.Error(err.Error()))
		}
		return
	}
	slog.Info("Server.startRecordingHandler: recording started", "session_id", sessionID, "type", req.Type)
	writeJSONResponse(w, http.StatusCreated, models.SuccessWithMessage("Recording started", sessionID))
}

func (s *Server) stopRecordingHandler(w http.ResponseWriter, r *http.Request) {
	slog.Debug("Server.stopRecordingHandler: processing stop request", "method", r.Method)
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if err := s.rec.Stop(); err != nil {
		writeJSONResponse(w, http.StatusConflict, models.Error("No active recording"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Recording stopping", s.rec.ActiveSession()))
}

func (s *Server) waveformHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(s.link.WaveformDisplay()))
}

func (s *Server) liveHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	sample := s.data.LiveSample()
	if sample == nil {
		writeJSONResponse(w, http.StatusNotFound, models.Error("No live sample yet"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(sample))
}

func (s *Server) latestHandler(w http.ResponseWriter, r *http.Request) {
	slog.Debug("Server.latestHandler: processing latest request", "method", r.Method)
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	summary, err := s.data.FetchLatest(s.userID)
	if err != nil {
		if errors.Is(err, models.ErrSessionNotFound) {
			writeJSONResponse(w, http.StatusNotFound, models.Error("No sessions recorded yet"))
			return
		}
		slog.Error("Server.latestHandler: fetch failed", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to load latest session"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(summary))
}

func (s *Server) historyHandler(w http.ResponseWriter, r *http.Request) {
	slog.Debug("Server.historyHandler: processing history request", "method", r.Method)
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	limit := DefaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid limit parameter"))
			return
		}
		limit = parsed
	}
	history, err := s.data.FetchHistory(s.userID, limit)
	if err != nil {
		slog.Error("Server.historyHandler: fetch failed", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to load session history"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(history))
}
