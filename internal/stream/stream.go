// Package stream publishes live HRV data to NATS subjects, so external
// consumers (dashboards, research pipelines) can follow a recording in
// real time without touching the daemon's HTTP surface.
package stream

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/beatbalance/hrvlink/internal/models"
)

// Connection tuning.
const (
	DefaultConnectTimeout = 5 * time.Second
	DefaultReconnectWait  = time.Second
	clientName            = "hrvlink"
)

// Subject layout: hrv.live.<userID> for per-sample updates,
// hrv.session.<userID> for finished session summaries.
const (
	liveSubjectPrefix    = "hrv.live."
	sessionSubjectPrefix = "hrv.session."
)

// Opts holds configuration for the publisher.
type Opts struct {
	URL            string
	ConnectTimeout time.Duration
	ReconnectWait  time.Duration
}

// Option configures the publisher.
type Option func(*Opts)

// WithURL sets the NATS server URL.
func WithURL(url string) Option {
	return func(o *Opts) { o.URL = url }
}

// WithConnectTimeout overrides the connect timeout.
func WithConnectTimeout(d time.Duration) Option {
	return func(o *Opts) { o.ConnectTimeout = d }
}

// WithReconnectWait overrides the delay between reconnect attempts.
func WithReconnectWait(d time.Duration) Option {
	return func(o *Opts) { o.ReconnectWait = d }
}

// Publisher publishes HRV updates to NATS. A nil *Publisher is a valid
// no-op publisher, so callers need not branch on whether streaming is
// configured.
type Publisher struct {
	conn *nats.Conn
}

// NewPublisher connects to NATS and returns a Publisher. The connection
// reconnects indefinitely once established.
func NewPublisher(options ...Option) (*Publisher, error) {
	opts := Opts{
		ConnectTimeout: DefaultConnectTimeout,
		ReconnectWait:  DefaultReconnectWait,
	}
	for _, opt := range options {
		opt(&opts)
	}
	if opts.URL == "" {
		return nil, errors.New("NATS URL is required")
	}

	conn, err := nats.Connect(opts.URL,
		nats.Name(clientName),
		nats.Timeout(opts.ConnectTimeout),
		nats.ReconnectWait(opts.ReconnectWait),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			slog.Warn("NATS disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			slog.Info("NATS reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", opts.URL, err)
	}
	slog.Info("NATS publisher connected", "url", opts.URL)
	return &Publisher{conn: conn}, nil
}

// PublishSample publishes one live decoded sample for the user.
func (p *Publisher) PublishSample(userID string, sample models.HRVSample) {
	p.publish(liveSubjectPrefix+userID, sample)
}

// PublishSummary publishes a finished session summary for the user.
func (p *Publisher) PublishSummary(userID string, summary models.SessionSummary) {
	p.publish(sessionSubjectPrefix+userID, summary)
}

func (p *Publisher) publish(subject string, v any) {
	if p == nil || p.conn == nil {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		slog.Error("NATS payload marshal failed", "error", err, "subject", subject)
		return
	}
	if err := p.conn.Publish(subject, data); err != nil {
		slog.Error("NATS publish failed", "error", err, "subject", subject)
		return
	}
	slog.Debug("NATS published", "subject", subject, "bytes", len(data))
}

// Close drains and closes the connection.
func (p *Publisher) Close() {
	if p == nil || p.conn == nil {
		return
	}
	if err := p.conn.Drain(); err != nil {
		slog.Error("NATS drain failed", "error", err)
	}
}
