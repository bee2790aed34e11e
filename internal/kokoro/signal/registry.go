package signal

import (
	"log/slog"
	"sync"
)

// Sender is the outbound half of a tracked connection. Conn satisfies it;
// tests substitute recorders.
type Sender interface {
	ID() string
	Send(payload []byte) error
}

// Membership records one connection's presence in one room.
type Membership struct {
	RoomID string
	UserID string
	Role   string
}

type member struct {
	conn   Sender
	userID string
	role   string
}

// Registry tracks live connections and their room memberships, and fans
// event frames out to rooms. All state is in-process and lost on restart;
// clients are expected to rejoin, which is why Join is rebind-safe.
type Registry struct {
	mu     sync.RWMutex
	conns  map[string]Sender             // connID -> connection
	rooms  map[string]map[string]*member // roomID -> connID -> member
	joined map[string]map[string]struct{} // connID -> set of roomIDs

	logger *slog.Logger
}

// NewRegistry constructs an initialized Registry. If logger is nil, the
// default slog logger is used.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		conns:  make(map[string]Sender),
		rooms:  make(map[string]map[string]*member),
		joined: make(map[string]map[string]struct{}),
		logger: logger,
	}
}

// Attach registers a connection before it joins any room, so idle
// connections still count towards ConnectionCount.
func (r *Registry) Attach(conn Sender) {
	r.mu.Lock()
	r.conns[conn.ID()] = conn
	r.mu.Unlock()
}

// Join binds the connection to a room. Rejoining an already joined room
// just refreshes the recorded identity; it never errors and never
// duplicates membership.
func (r *Registry) Join(conn Sender, roomID, userID, role string) error {
	if roomID == "" {
		return ErrInvalidRoom
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	room := r.rooms[roomID]
	if room == nil {
		room = make(map[string]*member)
		r.rooms[roomID] = room
	}
	room[conn.ID()] = &member{conn: conn, userID: userID, role: role}

	joined := r.joined[conn.ID()]
	if joined == nil {
		joined = make(map[string]struct{})
		r.joined[conn.ID()] = joined
	}
	joined[roomID] = struct{}{}
	return nil
}

// Leave unbinds the connection from a room. It returns the membership that
// was removed and whether the connection was a member at all; leaving a
// room never joined is a no-op.
func (r *Registry) Leave(conn Sender, roomID string) (Membership, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.leaveLocked(conn.ID(), roomID)
}

// Disconnect unbinds the connection from every room and forgets it. The
// removed memberships are returned so the caller can announce departures.
func (r *Registry) Disconnect(conn Sender) []Membership {
	r.mu.Lock()
	defer r.mu.Unlock()

	var departed []Membership
	for roomID := range r.joined[conn.ID()] {
		if m, ok := r.leaveLocked(conn.ID(), roomID); ok {
			departed = append(departed, m)
		}
	}
	delete(r.conns, conn.ID())
	return departed
}

// Broadcast writes payload to every member of the room except excludeConnID
// (empty means no exclusion). Delivery is best-effort: per-recipient
// failures are logged and skipped, and the delivered count is returned.
func (r *Registry) Broadcast(roomID string, payload []byte, excludeConnID string) int {
	r.mu.RLock()
	room := r.rooms[roomID]
	recipients := make([]*member, 0, len(room))
	for connID, m := range room {
		if excludeConnID != "" && connID == excludeConnID {
			continue
		}
		recipients = append(recipients, m)
	}
	r.mu.RUnlock()

	delivered := 0
	for _, m := range recipients {
		if err := m.conn.Send(payload); err != nil {
			r.logger.Debug("broadcast: send failed",
				"room_id", roomID, "conn_id", m.conn.ID(), "err", err)
			continue
		}
		delivered++
	}
	return delivered
}

// Emit marshals an event frame and broadcasts it to the room. A payload
// that cannot be marshalled is a programming error; it is logged and the
// event is dropped.
func (r *Registry) Emit(roomID, event string, data any, excludeConnID string) int {
	payload, err := Envelope(event, data)
	if err != nil {
		r.logger.Error("emit: encode frame", "room_id", roomID, "event", event, "err", err)
		return 0
	}
	return r.Broadcast(roomID, payload, excludeConnID)
}

// MemberCount returns how many connections are bound to the room.
func (r *Registry) MemberCount(roomID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms[roomID])
}

// ConnectionCount returns how many connections are attached, in rooms or not.
func (r *Registry) ConnectionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// leaveLocked removes one membership. Must be called with mu held.
func (r *Registry) leaveLocked(connID, roomID string) (Membership, bool) {
	room := r.rooms[roomID]
	m, ok := room[connID]
	if !ok {
		return Membership{}, false
	}
	delete(room, connID)
	if len(room) == 0 {
		delete(r.rooms, roomID)
	}
	if joined, ok := r.joined[connID]; ok {
		delete(joined, roomID)
		if len(joined) == 0 {
			delete(r.joined, connID)
		}
	}
	return Membership{RoomID: roomID, UserID: m.userID, Role: m.role}, true
}
