package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// DefaultMaxRecords is the per-pair retention cap: once a pair holds this
// many records, storing another evicts the oldest.
const DefaultMaxRecords = 50

// summaryRecords is how many trailing records Summary renders.
const summaryRecords = 5

// BoundedProvider is the in-process memory backend: a mutex-guarded map of
// FIFO record buffers, one per (user, companion) pair. It is the default
// backend and is safe for concurrent use.
type BoundedProvider struct {
	mu         sync.Mutex
	maxRecords int
	pairs      map[string][]Record
}

// NewBoundedProvider creates a BoundedProvider. maxRecords <= 0 selects
// DefaultMaxRecords.
func NewBoundedProvider(maxRecords int) *BoundedProvider {
	if maxRecords <= 0 {
		maxRecords = DefaultMaxRecords
	}
	return &BoundedProvider{
		maxRecords: maxRecords,
		pairs:      make(map[string][]Record),
	}
}

// StoreInteraction appends the record to the pair's buffer, evicting the
// oldest record when the buffer is full. It never fails.
func (p *BoundedProvider) StoreInteraction(_ context.Context, rec Record) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	key := pairKey(rec.UserID, rec.CompanionID)
	buf := append(p.pairs[key], rec)
	if len(buf) > p.maxRecords {
		excess := len(buf) - p.maxRecords
		buf = buf[excess:]
	}
	p.pairs[key] = buf
	return true
}

// GetContext returns up to limit most recent records for the pair, oldest
// first. The returned slice is a copy.
func (p *BoundedProvider) GetContext(_ context.Context, userID, companionID string, limit int) []Record {
	p.mu.Lock()
	defer p.mu.Unlock()

	buf := p.pairs[pairKey(userID, companionID)]
	if limit <= 0 || len(buf) == 0 {
		return nil
	}
	if limit > len(buf) {
		limit = len(buf)
	}
	out := make([]Record, limit)
	copy(out, buf[len(buf)-limit:])
	return out
}

// ClearContext drops the pair's buffer.
func (p *BoundedProvider) ClearContext(_ context.Context, userID, companionID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	key := pairKey(userID, companionID)
	if _, ok := p.pairs[key]; !ok {
		return false
	}
	delete(p.pairs, key)
	return true
}

// Summary renders the pair's last few records as a User:/Assistant:
// transcript.
func (p *BoundedProvider) Summary(ctx context.Context, userID, companionID string) string {
	return renderSummary(p.GetContext(ctx, userID, companionID, summaryRecords))
}

// renderSummary formats records as alternating User:/Assistant: lines.
// Shared by all backends so summaries look the same regardless of storage.
func renderSummary(records []Record) string {
	if len(records) == 0 {
		return ""
	}
	var b strings.Builder
	for _, rec := range records {
		fmt.Fprintf(&b, "User: %s\nAssistant: %s\n", rec.UserMessage, rec.AIResponse)
	}
	return strings.TrimRight(b.String(), "\n")
}

// pairKey produces the map key for a (user, companion) pair.
func pairKey(userID, companionID string) string {
	return userID + "_" + companionID
}

// Compile-time interface satisfaction check.
var _ ContextProvider = (*BoundedProvider)(nil)
