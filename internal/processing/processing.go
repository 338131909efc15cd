// Package processing calls the remote HRV post-processing endpoint.
//
// After a recording's raw batches have landed, the endpoint computes the
// session's summary metrics from the uploaded raw data. The client is
// deliberately forgiving: any failure (transport, non-200, malformed JSON,
// or an "error" field in the response) is logged and reported as a nil
// result, never as an error to the caller.
package processing

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

// DefaultTimeout bounds one processing request.
const DefaultTimeout = 60 * time.Second

// Opts holds configuration for the processing client.
type Opts struct {
	Endpoint   string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Option configures the processing client.
type Option func(*Opts)

// WithEndpoint sets the processing endpoint URL.
func WithEndpoint(endpoint string) Option {
	return func(o *Opts) { o.Endpoint = endpoint }
}

// WithTimeout overrides the request timeout.
func WithTimeout(d time.Duration) Option {
	return func(o *Opts) { o.Timeout = d }
}

// WithHTTPClient substitutes the HTTP client, primarily for tests.
func WithHTTPClient(c *http.Client) Option {
	return func(o *Opts) { o.HTTPClient = c }
}

// Client issues remote-processing requests.
type Client struct {
	endpoint   string
	httpClient *http.Client
}

// NewClient creates a processing client from the provided options.
func NewClient(opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("processing endpoint not set")
	}
	if _, err := url.Parse(cfg.Endpoint); err != nil {
		return nil, fmt.Errorf("invalid processing endpoint: %w", err)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = DefaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	slog.Debug("Processing client created", "endpoint_set", true)
	return &Client{endpoint: cfg.Endpoint, httpClient: httpClient}, nil
}

// Process requests summary computation for one recorded session. It
// returns the decoded response object, or nil if the request failed in any
// way. The session stays recorded-but-unsummarized on failure; the caller
// does not retry.
func (c *Client) Process(ctx context.Context, participantID, sessionID string) map[string]any {
	u, err := url.Parse(c.endpoint)
	if err != nil {
		slog.Error("Processing endpoint parse failed", "error", err)
		return nil
	}
	q := u.Query()
	q.Set("participant_id", participantID)
	q.Set("hrv_document_id", sessionID)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		slog.Error("Processing request build failed", "error", err)
		return nil
	}

	slog.Debug("Processing request started", "participant_id", participantID, "session_id", sessionID)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		slog.Error("Processing request failed", "error", err, "session_id", sessionID)
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		slog.Error("Processing endpoint returned non-OK status", "status", resp.StatusCode, "session_id", sessionID)
		return nil
	}

	var result map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		slog.Error("Processing response decode failed", "error", err, "session_id", sessionID)
		return nil
	}
	if msg, ok := result["error"].(string); ok {
		slog.Error("Processing endpoint reported error", "message", msg, "session_id", sessionID)
		return nil
	}

	slog.Debug("Processing request succeeded", "session_id", sessionID, "fields", len(result))
	return result
}
