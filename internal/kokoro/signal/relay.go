package signal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kokoro-labs/kokoro/internal/kokoro/store"
)

// RoomStore is the slice of the store the relay needs to gate events on
// room state.
type RoomStore interface {
	GetRoom(ctx context.Context, roomID string) (*store.Room, error)
	MarkRoomActive(ctx context.Context, roomID string, startedAt time.Time) (bool, error)
	EndRoom(ctx context.Context, roomID string, endedAt time.Time) error
}

// Relay handles membership and WebRTC signaling events. SDP offers,
// answers and ICE candidates pass through byte-for-byte; the relay only
// validates addressing and excludes the sender from the fan-out.
type Relay struct {
	registry *Registry
	rooms    RoomStore
	logger   *slog.Logger
	now      func() time.Time
}

// NewRelay constructs a Relay. If logger is nil, the default slog logger
// is used.
func NewRelay(registry *Registry, rooms RoomStore, logger *slog.Logger) *Relay {
	if logger == nil {
		logger = slog.Default()
	}
	return &Relay{
		registry: registry,
		rooms:    rooms,
		logger:   logger,
		now:      time.Now,
	}
}

// HandleJoin binds the sender to the room and announces it. The first join
// of a waiting room flips it to active. Joining an ended room is refused;
// a room the store has never heard of is still relayed (signaling does not
// require persistence), only the status update is skipped.
func (r *Relay) HandleJoin(ctx context.Context, conn Sender, data json.RawMessage) error {
	var p JoinPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return ErrInvalidRoom
	}
	if err := p.Validate(); err != nil {
		return err
	}

	room, err := r.rooms.GetRoom(ctx, p.RoomID)
	switch {
	case err == nil && room.Ended():
		return ErrRoomEnded
	case err != nil && !errors.Is(err, store.ErrNotFound):
		r.logger.Error("join: room lookup failed", "room_id", p.RoomID, "err", err)
	}

	if err := r.registry.Join(conn, p.RoomID, p.UserID, p.Role); err != nil {
		return err
	}

	if room != nil {
		advanced, err := r.rooms.MarkRoomActive(ctx, p.RoomID, r.now().UTC())
		if err != nil {
			r.logger.Error("join: mark room active failed", "room_id", p.RoomID, "err", err)
		} else if advanced {
			r.logger.Info("room activated", "room_id", p.RoomID, "user_id", p.UserID)
		}
	}

	r.registry.Emit(p.RoomID, EventUserJoined, PresencePayload{UserID: p.UserID, Role: p.Role}, conn.ID())
	return nil
}

// HandleSignal relays an offer, answer or candidate frame to everyone else
// in the room. The inbound payload is re-broadcast verbatim.
func (r *Relay) HandleSignal(ctx context.Context, conn Sender, event string, data json.RawMessage) error {
	var p SignalPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return ErrInvalidSignal
	}
	if err := p.Validate(event); err != nil {
		return err
	}

	if room, err := r.rooms.GetRoom(ctx, p.RoomID); err == nil && room.Ended() {
		return ErrRoomEnded
	}

	payload, err := json.Marshal(Frame{Event: event, Data: data})
	if err != nil {
		return fmt.Errorf("signal: marshal %s frame: %w", event, err)
	}
	r.registry.Broadcast(p.RoomID, payload, conn.ID())
	return nil
}

// HandleLeave unbinds the sender and announces the departure to the
// remaining members.
func (r *Relay) HandleLeave(ctx context.Context, conn Sender, data json.RawMessage) error {
	var p RoomPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return ErrInvalidRoom
	}
	if err := p.Validate(); err != nil {
		return err
	}

	m, ok := r.registry.Leave(conn, p.RoomID)
	if ok {
		r.registry.Emit(p.RoomID, EventUserLeft, PresencePayload{UserID: m.UserID, Role: m.Role}, "")
	}
	return nil
}

// HandleEndCall ends the room, tells every member (the sender included)
// and unbinds the sender. A failing status write is logged but does not
// suppress the broadcast — the members must still learn the call is over.
func (r *Relay) HandleEndCall(ctx context.Context, conn Sender, data json.RawMessage) error {
	var p RoomPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return ErrInvalidRoom
	}
	if err := p.Validate(); err != nil {
		return err
	}

	if err := r.rooms.EndRoom(ctx, p.RoomID, r.now().UTC()); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return err
		}
		r.logger.Error("end_call: status write failed", "room_id", p.RoomID, "err", err)
	}

	r.registry.Emit(p.RoomID, EventCallEnded, RoomPayload{RoomID: p.RoomID}, "")
	r.registry.Leave(conn, p.RoomID)
	return nil
}

// HandleDisconnect performs an implicit leave of every room the connection
// was bound to and announces each departure.
func (r *Relay) HandleDisconnect(ctx context.Context, conn Sender) {
	for _, m := range r.registry.Disconnect(conn) {
		r.registry.Emit(m.RoomID, EventUserLeft, PresencePayload{UserID: m.UserID, Role: m.Role}, "")
	}
}
