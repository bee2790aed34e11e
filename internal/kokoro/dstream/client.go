// Package dstream is the client for the talking-head stream provider: the
// external service that renders a companion's animated face and voice over
// its own WebRTC session. This backend only brokers the session handshake;
// media never touches this process.
package dstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/kokoro-labs/kokoro/common/redact"
	"github.com/kokoro-labs/kokoro/common/retry"
)

const (
	defaultStreamBase = "https://api.d-id.com"
	defaultTimeout    = 20 * time.Second
)

// Config configures the stream provider client.
type Config struct {
	// APIKey authenticates against the provider (Basic scheme).
	APIKey string

	// BaseURL overrides the API endpoint. Defaults to the public endpoint
	// when empty.
	BaseURL string

	// Timeout is the per-request HTTP timeout. Defaults to 20 s.
	Timeout time.Duration

	// Retry controls transient-failure retries. Zero value selects
	// retry.DefaultConfig with a retryable-error predicate.
	Retry retry.Config
}

// Stream is a provider session: the provider's SDP offer plus the ICE
// servers the browser needs to connect to it.
type Stream struct {
	ID         string          `json:"id"`
	SessionID  string          `json:"session_id"`
	Offer      json.RawMessage `json:"offer"`
	IceServers json.RawMessage `json:"ice_servers"`
}

// statusError is a non-2xx provider response. 5xx and 429 are retryable.
type statusError struct {
	Status int
	Body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("stream provider returned %d: %s", e.Status, e.Body)
}

func retryable(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		return se.Status >= 500 || se.Status == http.StatusTooManyRequests
	}
	// Network-level failures are worth another attempt.
	return true
}

// Client talks to the stream provider. Safe for concurrent use.
type Client struct {
	cfg    Config
	client *http.Client
}

// New constructs a Client.
func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultStreamBase
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = retry.DefaultConfig
	}
	cfg.Retry.ShouldRetry = retryable
	return &Client{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

// CreateStream opens a provider session for the given presenter and returns
// the provider's offer.
func (c *Client) CreateStream(ctx context.Context, presenterID string) (*Stream, error) {
	body := map[string]any{"presenter_id": presenterID}

	var stream Stream
	if err := c.call(ctx, http.MethodPost, "/talks/streams", body, &stream); err != nil {
		return nil, fmt.Errorf("dstream: create stream: %w", err)
	}
	if stream.ID == "" {
		return nil, fmt.Errorf("dstream: create stream: provider returned no stream ID")
	}
	return &stream, nil
}

// SendAnswer forwards the browser's SDP answer to the provider.
func (c *Client) SendAnswer(ctx context.Context, streamID, sessionID string, answer json.RawMessage) error {
	body := map[string]any{
		"answer":     answer,
		"session_id": sessionID,
	}
	if err := c.call(ctx, http.MethodPost, "/talks/streams/"+streamID+"/sdp", body, nil); err != nil {
		return fmt.Errorf("dstream: send answer: %w", err)
	}
	return nil
}

// SendCandidate forwards one of the browser's ICE candidates.
func (c *Client) SendCandidate(ctx context.Context, streamID, sessionID string, candidate json.RawMessage) error {
	body := map[string]any{
		"candidate":  candidate,
		"session_id": sessionID,
	}
	if err := c.call(ctx, http.MethodPost, "/talks/streams/"+streamID+"/ice", body, nil); err != nil {
		return fmt.Errorf("dstream: send candidate: %w", err)
	}
	return nil
}

// Speak makes the presenter say text with the given voice.
func (c *Client) Speak(ctx context.Context, streamID, sessionID, text, voiceID string) error {
	script := map[string]any{
		"type":  "text",
		"input": text,
	}
	if voiceID != "" {
		script["provider"] = map[string]any{
			"type":     "microsoft",
			"voice_id": voiceID,
		}
	}
	body := map[string]any{
		"script":     script,
		"session_id": sessionID,
	}
	if err := c.call(ctx, http.MethodPost, "/talks/streams/"+streamID, body, nil); err != nil {
		return fmt.Errorf("dstream: speak: %w", err)
	}
	return nil
}

// DeleteStream closes the provider session.
func (c *Client) DeleteStream(ctx context.Context, streamID, sessionID string) error {
	body := map[string]any{"session_id": sessionID}
	if err := c.call(ctx, http.MethodDelete, "/talks/streams/"+streamID, body, nil); err != nil {
		return fmt.Errorf("dstream: delete stream: %w", err)
	}
	return nil
}

// call performs one provider request with retries, decoding a JSON body
// into out when out is non-nil. The API key never appears in errors.
func (c *Client) call(ctx context.Context, method, path string, body any, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	return retry.Do(ctx, c.cfg.Retry, func() error {
		req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, bytes.NewReader(data))
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Basic "+c.cfg.APIKey)

		resp, err := c.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			raw, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return &statusError{Status: resp.StatusCode, Body: redact.String(string(raw), c.cfg.APIKey)}
		}
		if out == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		return nil
	})
}
