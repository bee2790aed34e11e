// Package memory implements cross-call conversation memory for companions.
// Each (user, companion) pair accumulates interaction records that the
// orchestrator folds into the completion prompt, so a companion can refer
// back to earlier calls.
//
// Memory is deliberately best-effort: every backend swallows its own
// failures and surfaces them as an empty result or a false return. A broken
// memory service degrades recall, never the call itself.
package memory

import (
	"context"
	"time"
)

// Record is one remembered interaction: a user message and the companion's
// response, keyed by the (user, companion) pair it belongs to.
type Record struct {
	UserID      string    `json:"user_id"`
	CompanionID string    `json:"companion_id"`
	RoomID      string    `json:"room_id,omitempty"`
	UserMessage string    `json:"user_message"`
	AIResponse  string    `json:"ai_response"`
	Timestamp   time.Time `json:"timestamp"`
}

// ContextProvider is the pluggable interface for conversation memory.
// Implementations must be safe for concurrent use.
type ContextProvider interface {
	// StoreInteraction remembers one interaction. It reports whether the
	// record was accepted; failures are logged by the implementation and
	// never propagated.
	StoreInteraction(ctx context.Context, rec Record) bool

	// GetContext returns up to limit most recent records for the pair,
	// oldest first. A failing backend returns an empty slice.
	GetContext(ctx context.Context, userID, companionID string, limit int) []Record

	// ClearContext forgets everything stored for the pair. It reports
	// whether anything was cleared.
	ClearContext(ctx context.Context, userID, companionID string) bool

	// Summary renders the pair's recent history as a short User:/Assistant:
	// transcript, or "" when nothing is remembered.
	Summary(ctx context.Context, userID, companionID string) string
}
