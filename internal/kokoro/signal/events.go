// Package signal implements the realtime event channel of a call: room
// membership, WebRTC signaling relay and the websocket transport the
// browser speaks. Chat semantics live in the orchestrator; this package
// only validates, routes and fans out frames.
package signal

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Inbound event names.
const (
	EventJoin        = "join"
	EventOffer       = "offer"
	EventAnswer      = "answer"
	EventCandidate   = "candidate"
	EventChatMessage = "chat_message"
	EventLeave       = "leave"
	EventEndCall     = "end_call"
)

// Outbound event names. chat_message is reused for both directions.
const (
	EventUserJoined      = "user_joined"
	EventUserLeft        = "user_left"
	EventCompanionTyping = "companion_typing"
	EventCallEnded       = "call_ended"
	EventAck             = "ack"
)

// Validation sentinels. The server maps these onto client-facing ack
// reasons; anything else is reported as an internal error without detail.
var (
	ErrInvalidRoom    = errors.New("signal: room ID is required")
	ErrInvalidMessage = errors.New("signal: room ID and message are required")
	ErrInvalidSignal  = errors.New("signal: room ID and signal payload are required")
	ErrRoomEnded      = errors.New("signal: room has ended")
)

// Frame is the wire envelope for every event in either direction.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Envelope marshals an event frame ready for broadcast.
func Envelope(event string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("signal: marshal %s payload: %w", event, err)
	}
	payload, err := json.Marshal(Frame{Event: event, Data: raw})
	if err != nil {
		return nil, fmt.Errorf("signal: marshal %s frame: %w", event, err)
	}
	return payload, nil
}

// JoinPayload binds the sender to a room. Wire field names are camelCase:
// that is what browser clients send and what user_joined echoes back.
type JoinPayload struct {
	RoomID string `json:"roomId"`
	UserID string `json:"userId,omitempty"`
	Role   string `json:"role,omitempty"`
}

// Validate checks the required fields.
func (p JoinPayload) Validate() error {
	if p.RoomID == "" {
		return ErrInvalidRoom
	}
	return nil
}

// SignalPayload carries WebRTC negotiation material. The SDP and candidate
// bodies are relayed verbatim and never interpreted here.
type SignalPayload struct {
	RoomID    string          `json:"roomId"`
	SDP       json.RawMessage `json:"sdp,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`
}

// Validate checks the fields the given signaling event requires.
func (p SignalPayload) Validate(event string) error {
	if p.RoomID == "" {
		return ErrInvalidSignal
	}
	switch event {
	case EventOffer, EventAnswer:
		if len(p.SDP) == 0 {
			return ErrInvalidSignal
		}
	case EventCandidate:
		if len(p.Candidate) == 0 {
			return ErrInvalidSignal
		}
	}
	return nil
}

// ChatPayload is a user chat message addressed to a room.
type ChatPayload struct {
	RoomID  string `json:"roomId"`
	UserID  string `json:"userId,omitempty"`
	Message string `json:"message"`
}

// Validate checks the required fields. Whitespace-only messages are
// rejected the same way as empty ones.
func (p ChatPayload) Validate() error {
	if p.RoomID == "" || strings.TrimSpace(p.Message) == "" {
		return ErrInvalidMessage
	}
	return nil
}

// RoomPayload addresses a room without further content (leave, end_call).
type RoomPayload struct {
	RoomID string `json:"roomId"`
}

// Validate checks the required fields.
func (p RoomPayload) Validate() error {
	if p.RoomID == "" {
		return ErrInvalidRoom
	}
	return nil
}

// PresencePayload announces a member arriving or departing.
type PresencePayload struct {
	UserID string `json:"userId,omitempty"`
	Role   string `json:"role,omitempty"`
}

// ChatBroadcast is the outbound form of a chat message: both the user echo
// and the companion reply use it.
type ChatBroadcast struct {
	SenderType string    `json:"sender_type"`
	Content    string    `json:"content"`
	Timestamp  time.Time `json:"timestamp"`
}

// AckPayload confirms or rejects one inbound event.
type AckPayload struct {
	Of      string `json:"of"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}
