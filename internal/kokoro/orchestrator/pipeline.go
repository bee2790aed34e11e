// Package orchestrator turns an inbound chat message into a companion
// reply: echo, persist, typing indicator, context assembly, completion and
// reply fan-out, in that order.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kokoro-labs/kokoro/common/trace"
	"github.com/kokoro-labs/kokoro/internal/kokoro/ai"
	"github.com/kokoro-labs/kokoro/internal/kokoro/memory"
	"github.com/kokoro-labs/kokoro/internal/kokoro/signal"
	"github.com/kokoro-labs/kokoro/internal/kokoro/store"
)

// FallbackReply is broadcast and persisted like a real reply whenever the
// completion provider fails or produces nothing. Once the user's message
// has been echoed, the companion always answers with something.
const FallbackReply = "I apologize, but I'm having trouble processing that right now. Could you try rephrasing?"

// ConversationStore is the slice of the store the pipeline reads and writes.
type ConversationStore interface {
	GetRoom(ctx context.Context, roomID string) (*store.Room, error)
	GetCompanion(ctx context.Context, id string) (*store.Companion, error)
	InsertMessage(ctx context.Context, roomID, senderType, content string, ts time.Time) error
	RecentMessages(ctx context.Context, roomID string, limit int) ([]store.Message, error)
}

// Broadcaster fans event frames out to a room. The signal registry
// satisfies it.
type Broadcaster interface {
	Emit(roomID, event string, data any, excludeConnID string) int
}

// Orchestrator runs the chat pipeline. It is safe for concurrent use; each
// connection's read loop calls HandleChat synchronously, which keeps one
// sender's messages in order without serializing across rooms.
type Orchestrator struct {
	store    ConversationStore
	memory   memory.ContextProvider
	provider ai.Provider
	bus      Broadcaster
	logger   *slog.Logger
	now      func() time.Time
}

// New constructs an Orchestrator. memoryProvider may be nil to disable
// cross-call memory entirely. If logger is nil, the default slog logger is
// used.
func New(cs ConversationStore, memoryProvider memory.ContextProvider, provider ai.Provider, bus Broadcaster, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		store:    cs,
		memory:   memoryProvider,
		provider: provider,
		bus:      bus,
		logger:   logger,
		now:      time.Now,
	}
}

// HandleChat processes one user chat message. The error return covers
// validation and resolution failures only — provider trouble degrades to
// FallbackReply and still counts as success.
func (o *Orchestrator) HandleChat(ctx context.Context, p signal.ChatPayload) error {
	if err := p.Validate(); err != nil {
		return err
	}

	room, roomErr := o.store.GetRoom(ctx, p.RoomID)
	if roomErr == nil && room.Ended() {
		return signal.ErrRoomEnded
	}

	log := o.logger.With("room_id", p.RoomID, "trace_id", trace.FromContext(ctx))

	// Echo the user's message to the whole room before anything can fail,
	// then persist it. A failing write must not mute the conversation.
	sentAt := o.now().UTC()
	o.bus.Emit(p.RoomID, signal.EventChatMessage, signal.ChatBroadcast{
		SenderType: store.SenderUser,
		Content:    p.Message,
		Timestamp:  sentAt,
	}, "")
	if err := o.store.InsertMessage(ctx, p.RoomID, store.SenderUser, p.Message, sentAt); err != nil {
		log.Error("persist user message failed", "err", err)
	}

	o.bus.Emit(p.RoomID, signal.EventCompanionTyping, struct{}{}, "")

	// Resolution failures abort here: without a room or companion there is
	// no persona to answer as, so no reply (not even the fallback) goes out.
	if roomErr != nil {
		log.Warn("room resolution failed", "err", roomErr)
		return fmt.Errorf("chat: resolve room: %w", roomErr)
	}
	companion, err := o.store.GetCompanion(ctx, room.CompanionID)
	if err != nil {
		log.Warn("companion resolution failed", "companion_id", room.CompanionID, "err", err)
		return fmt.Errorf("chat: resolve companion: %w", err)
	}

	userID := room.UserID
	if userID == "" {
		userID = p.UserID
	}

	var memories []memory.Record
	if o.memory != nil && userID != "" {
		memories = o.memory.GetContext(ctx, userID, companion.ID, memoryContextLimit)
	}
	history, err := o.store.RecentMessages(ctx, p.RoomID, sessionContextLimit)
	if err != nil {
		// Degraded context beats no reply.
		log.Error("load session context failed", "err", err)
	}

	reply, err := o.provider.Complete(ctx, BuildPrompt(companion, memories, history, p.Message))
	degraded := err != nil || strings.TrimSpace(reply) == ""
	if degraded {
		log.Warn("completion failed, using fallback", "companion_id", companion.ID, "err", err)
		reply = FallbackReply
	}

	repliedAt := o.now().UTC()
	o.bus.Emit(p.RoomID, signal.EventChatMessage, signal.ChatBroadcast{
		SenderType: store.SenderCompanion,
		Content:    reply,
		Timestamp:  repliedAt,
	}, "")
	if err := o.store.InsertMessage(ctx, p.RoomID, store.SenderCompanion, reply, repliedAt); err != nil {
		log.Error("persist companion reply failed", "err", err)
	}

	// Memory is written last so a slow backend can never hold the reply
	// back from the room. The fallback is never remembered.
	if !degraded && o.memory != nil && userID != "" {
		o.memory.StoreInteraction(ctx, memory.Record{
			UserID:      userID,
			CompanionID: companion.ID,
			RoomID:      p.RoomID,
			UserMessage: p.Message,
			AIResponse:  reply,
			Timestamp:   repliedAt,
		})
	}

	return nil
}

// Compile-time interface satisfaction check.
var _ signal.ChatHandler = (*Orchestrator)(nil)
