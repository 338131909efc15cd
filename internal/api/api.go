// Package api provides the HTTP and WebSocket surface of the hrvlink
// daemon.
//
// It exposes RESTful endpoints for device discovery and connection,
// recording control, and HRV data queries, plus a WebSocket feed that
// mirrors every link and recorder event. The API integrates with the ble,
// recorder, hrvdata, and stream modules.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/beatbalance/hrvlink/internal/ble"
	"github.com/beatbalance/hrvlink/internal/hrvdata"
	"github.com/beatbalance/hrvlink/internal/recorder"
	"github.com/beatbalance/hrvlink/internal/stream"
)

// DefaultAddr is the listen address when none is configured.
const DefaultAddr = ":8080"

// Opts holds configuration for the API server.
type Opts struct {
	Addr string
}

// Option configures the API server.
type Option func(*Opts)

// WithAddr overrides the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// Server wires the pipeline modules to HTTP handlers.
type Server struct {
	link   *ble.Link
	rec    *recorder.Recorder
	data   *hrvdata.DataStore
	pub    *stream.Publisher
	hub    *Hub
	userID string
	opts   Opts
}

// NewServer creates the API server. pub may be nil when live streaming is
// not configured.
func NewServer(link *ble.Link, rec *recorder.Recorder, data *hrvdata.DataStore, pub *stream.Publisher, userID string, options ...Option) *Server {
	opts := Opts{Addr: DefaultAddr}
	for _, opt := range options {
		opt(&opts)
	}
	slog.Debug("Creating API server", "addr", opts.Addr, "user_id", userID)
	return &Server{
		link:   link,
		rec:    rec,
		data:   data,
		pub:    pub,
		hub:    NewHub(),
		userID: userID,
		opts:   opts,
	}
}

// Handler returns the routed handler, exposed for tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/status", s.statusHandler)
	mux.HandleFunc("/scan", s.scanHandler)
	mux.HandleFunc("/scan/stop", s.stopScanHandler)
	mux.HandleFunc("/peripherals", s.peripheralsHandler)
	mux.HandleFunc("/connect", s.connectHandler)
	mux.HandleFunc("/reconnect", s.reconnectHandler)
	mux.HandleFunc("/disconnect", s.disconnectHandler)
	mux.HandleFunc("/forget", s.forgetHandler)
	mux.HandleFunc("/recordings/start", s.startRecordingHandler)
	mux.HandleFunc("/recordings/stop", s.stopRecordingHandler)
	mux.HandleFunc("/waveform", s.waveformHandler)
	mux.HandleFunc("/hrv/live", s.liveHandler)
	mux.HandleFunc("/hrv/latest", s.latestHandler)
	mux.HandleFunc("/hrv/history", s.historyHandler)
	mux.HandleFunc("/ws", s.wsHandler)
	return mux
}

// Run serves the API until the context is cancelled, then shuts down
// gracefully. The event dispatcher runs for the same lifetime.
func (s *Server) Run(ctx context.Context) error {
	go s.dispatchEvents(ctx)

	srv := &http.Server{
		Addr:         s.opts.Addr,
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // WebSocket connections are long-lived
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("API server listening", "addr", s.opts.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		slog.Info("API server shutting down")
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// dispatchEvents fans link and recorder events out to the WebSocket hub,
// the data cache, and the NATS publisher.
func (s *Server) dispatchEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-s.link.Events():
			s.hub.Broadcast(Event{Type: "link/" + string(ev.Type), Data: ev})
			if ev.Sample != nil {
				s.data.ApplyLive(*ev.Sample)
				s.pub.PublishSample(s.userID, *ev.Sample)
			}
		case ev := <-s.rec.Events():
			s.hub.Broadcast(Event{Type: "recorder/" + string(ev.Status), Data: ev})
			if ev.Summary != nil {
				s.pub.PublishSummary(s.userID, *ev.Summary)
			}
		}
	}
}
