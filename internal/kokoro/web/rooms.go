package web

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/kokoro-labs/kokoro/internal/kokoro/store"
)

// roomTTL is how long a freshly created room may wait before the expiry
// sweeper ends it.
const roomTTL = 2 * time.Hour

type createRoomRequest struct {
	CompanionID string `json:"companion_id"`
}

type roomResponse struct {
	RoomID      string     `json:"room_id"`
	UserID      string     `json:"user_id"`
	CompanionID string     `json:"companion_id"`
	Status      string     `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	EndedAt     *time.Time `json:"ended_at,omitempty"`
	ExpiresAt   time.Time  `json:"expires_at"`
}

func roomToResponse(r *store.Room) roomResponse {
	resp := roomResponse{
		RoomID:      r.RoomID,
		UserID:      r.UserID,
		CompanionID: r.CompanionID,
		Status:      r.Status,
		CreatedAt:   r.CreatedAt,
		ExpiresAt:   r.ExpiresAt,
	}
	if r.StartedAt.Valid {
		resp.StartedAt = &r.StartedAt.Time
	}
	if r.EndedAt.Valid {
		resp.EndedAt = &r.EndedAt.Time
	}
	return resp
}

// handleRooms handles POST /api/video/rooms.
func (s *Server) handleRooms(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	uid := userID(r)
	if uid == "" {
		writeError(w, http.StatusUnauthorized, "missing user identity")
		return
	}

	var req createRoomRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.CompanionID == "" {
		writeError(w, http.StatusBadRequest, "companion_id is required")
		return
	}

	createdAt := s.now().UTC()
	room := &store.Room{
		RoomID:      s.newID(),
		UserID:      uid,
		CompanionID: req.CompanionID,
		Status:      store.RoomWaiting,
		CreatedAt:   createdAt,
		ExpiresAt:   createdAt.Add(roomTTL),
	}

	if err := s.store.CreateRoom(r.Context(), room); err != nil {
		s.logger.Error("create room failed", "user_id", uid, "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	s.logger.Info("room created", "room_id", room.RoomID, "companion_id", room.CompanionID)
	writeJSON(w, http.StatusCreated, roomToResponse(room))
}

// handleRoom dispatches GET /api/video/rooms/{id} and
// POST /api/video/rooms/{id}/end.
func (s *Server) handleRoom(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/video/rooms/")
	roomID, action, _ := strings.Cut(rest, "/")
	if roomID == "" {
		http.NotFound(w, r)
		return
	}

	switch {
	case action == "" && r.Method == http.MethodGet:
		s.getRoom(w, r, roomID)
	case action == "end" && r.Method == http.MethodPost:
		s.endRoom(w, r, roomID)
	case action == "" || action == "end":
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	default:
		http.NotFound(w, r)
	}
}

// getRoom returns a room to its owner. Other callers get 403 without
// learning whether the room exists beyond that.
func (s *Server) getRoom(w http.ResponseWriter, r *http.Request, roomID string) {
	uid := userID(r)
	if uid == "" {
		writeError(w, http.StatusUnauthorized, "missing user identity")
		return
	}

	room, err := s.store.GetRoom(r.Context(), roomID)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "room not found")
		return
	}
	if err != nil {
		s.logger.Error("get room failed", "room_id", roomID, "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if room.UserID != uid {
		writeError(w, http.StatusForbidden, "not authorized")
		return
	}

	writeJSON(w, http.StatusOK, roomToResponse(room))
}

// endRoom lets the owner end a room. Repeating the call on an already ended
// room still answers 200.
func (s *Server) endRoom(w http.ResponseWriter, r *http.Request, roomID string) {
	uid := userID(r)
	if uid == "" {
		writeError(w, http.StatusUnauthorized, "missing user identity")
		return
	}

	room, err := s.store.GetRoom(r.Context(), roomID)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "room not found")
		return
	}
	if err != nil {
		s.logger.Error("get room failed", "room_id", roomID, "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if room.UserID != uid {
		writeError(w, http.StatusForbidden, "not authorized")
		return
	}

	if err := s.store.EndRoom(r.Context(), roomID, s.now().UTC()); err != nil {
		s.logger.Error("end room failed", "room_id", roomID, "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	s.logger.Info("room ended via REST", "room_id", roomID)
	writeJSON(w, http.StatusOK, statusResponse{Message: "room ended"})
}
