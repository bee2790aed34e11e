package memory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/kokoro-labs/kokoro/common/redact"
)

// RemoteConfig holds the configuration for the remote memory backend.
type RemoteConfig struct {
	// BaseURL is the memory service root, e.g. "https://memory.internal:8400".
	BaseURL string

	// APIKey is sent as a bearer token. Optional for unauthenticated
	// deployments.
	APIKey string

	// Timeout is the per-request HTTP timeout. Default: 10 seconds.
	Timeout time.Duration
}

// RemoteProvider talks to an external memory service over HTTP. Like every
// backend it swallows failures: a dead service means no recall, not a dead
// call.
type RemoteProvider struct {
	config RemoteConfig
	client *http.Client
	logger *slog.Logger
}

// NewRemoteProvider creates a RemoteProvider. If logger is nil, the default
// slog logger is used.
func NewRemoteProvider(cfg RemoteConfig, logger *slog.Logger) *RemoteProvider {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RemoteProvider{
		config: cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
}

// Wire types for the memory service API.
type remoteListResponse struct {
	Memories []Record `json:"memories"`
}

// StoreInteraction POSTs the record to the memory service.
func (p *RemoteProvider) StoreInteraction(ctx context.Context, rec Record) bool {
	body, err := json.Marshal(rec)
	if err != nil {
		p.logger.Error("memory remote: encode record", "err", err)
		return false
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.config.BaseURL+"/v1/memories", bytes.NewReader(body))
	if err != nil {
		p.logger.Error("memory remote: build request", "err", err)
		return false
	}
	req.Header.Set("Content-Type", "application/json")
	p.authorize(req)

	if err := p.do(req, nil); err != nil {
		p.logger.Warn("memory remote: store failed",
			"user_id", rec.UserID, "companion_id", rec.CompanionID,
			"err", redact.String(err.Error(), p.config.APIKey))
		return false
	}
	return true
}

// GetContext fetches up to limit most recent records for the pair, oldest
// first.
func (p *RemoteProvider) GetContext(ctx context.Context, userID, companionID string, limit int) []Record {
	if limit <= 0 {
		return nil
	}

	q := url.Values{}
	q.Set("user_id", userID)
	q.Set("companion_id", companionID)
	q.Set("limit", strconv.Itoa(limit))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		p.config.BaseURL+"/v1/memories?"+q.Encode(), nil)
	if err != nil {
		p.logger.Error("memory remote: build request", "err", err)
		return nil
	}
	p.authorize(req)

	var resp remoteListResponse
	if err := p.do(req, &resp); err != nil {
		p.logger.Warn("memory remote: fetch failed",
			"user_id", userID, "companion_id", companionID,
			"err", redact.String(err.Error(), p.config.APIKey))
		return nil
	}
	return resp.Memories
}

// ClearContext deletes everything stored for the pair.
func (p *RemoteProvider) ClearContext(ctx context.Context, userID, companionID string) bool {
	q := url.Values{}
	q.Set("user_id", userID)
	q.Set("companion_id", companionID)

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete,
		p.config.BaseURL+"/v1/memories?"+q.Encode(), nil)
	if err != nil {
		p.logger.Error("memory remote: build request", "err", err)
		return false
	}
	p.authorize(req)

	if err := p.do(req, nil); err != nil {
		p.logger.Warn("memory remote: clear failed",
			"user_id", userID, "companion_id", companionID,
			"err", redact.String(err.Error(), p.config.APIKey))
		return false
	}
	return true
}

// Summary fetches the pair's recent records and renders them as a
// User:/Assistant: transcript.
func (p *RemoteProvider) Summary(ctx context.Context, userID, companionID string) string {
	return renderSummary(p.GetContext(ctx, userID, companionID, summaryRecords))
}

func (p *RemoteProvider) authorize(req *http.Request) {
	if p.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.config.APIKey)
	}
}

// do executes the request and decodes a JSON body into out when out is
// non-nil. Non-2xx responses become errors carrying a truncated body.
func (p *RemoteProvider) do(req *http.Request, out any) error {
	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("memory service returned %d: %s", resp.StatusCode, body)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// Compile-time interface satisfaction check.
var _ ContextProvider = (*RemoteProvider)(nil)
