// Package ai provides the completion provider behind companion replies.
//
// The provider's only job is turning a fully assembled persona prompt into
// one reply string. Prompt assembly, fallback behaviour and persistence all
// live in the orchestrator — a provider that errors or returns nothing is
// the orchestrator's problem to degrade from.
package ai

import (
	"context"
	"errors"
)

// ErrEmptyCompletion is returned when the upstream API answers successfully
// but produces no usable text. Callers treat it like any other provider
// failure.
var ErrEmptyCompletion = errors.New("ai: empty completion")

// Provider generates one companion reply for a prompt.
//
// Implementations must be safe for concurrent use from multiple goroutines
// and must honour ctx cancellation.
type Provider interface {
	// Complete sends the prompt to the underlying model and returns the
	// reply text with surrounding whitespace stripped.
	Complete(ctx context.Context, prompt string) (string, error)
}
