package orchestrator

import (
	"fmt"
	"strings"

	"github.com/kokoro-labs/kokoro/internal/kokoro/memory"
	"github.com/kokoro-labs/kokoro/internal/kokoro/store"
)

// memoryContextLimit is how many remembered interactions from earlier calls
// are folded into the prompt.
const memoryContextLimit = 5

// sessionContextLimit is how many trailing room messages form the current
// session transcript.
const sessionContextLimit = 10

// promptTmpl is the persona prompt. Substituted in order: companion name,
// personality, description, specialties, cross-call memory, session
// transcript, user message, companion name again as the reply cue.
const promptTmpl = `You are %s, an AI companion with the following traits:
Personality: %s
Description: %s
Specialties: %s

Previous conversations:
%s

Current session:
%s

Respond to the user in a natural, engaging way that matches your personality. Keep responses concise and conversational (2-3 sentences), and stay in character.

User: %s
%s:`

// BuildPrompt assembles the completion prompt for one chat turn. Memory
// records come before the session transcript so the model reads older
// context first.
func BuildPrompt(companion *store.Companion, memories []memory.Record, history []store.Message, userMessage string) string {
	specialties := strings.Join(companion.Specialties, ", ")
	if specialties == "" {
		specialties = "(none)"
	}

	var past strings.Builder
	for _, rec := range memories {
		fmt.Fprintf(&past, "User: %s\n%s: %s\n", rec.UserMessage, companion.Name, rec.AIResponse)
	}
	pastSection := strings.TrimRight(past.String(), "\n")
	if pastSection == "" {
		pastSection = "(first conversation)"
	}

	var session strings.Builder
	for _, msg := range history {
		label := "User"
		if msg.SenderType == store.SenderCompanion {
			label = companion.Name
		}
		fmt.Fprintf(&session, "%s: %s\n", label, msg.Content)
	}
	sessionSection := strings.TrimRight(session.String(), "\n")
	if sessionSection == "" {
		sessionSection = "(no messages yet)"
	}

	return fmt.Sprintf(promptTmpl,
		companion.Name, companion.Personality, companion.Description, specialties,
		pastSection, sessionSection, userMessage, companion.Name)
}
