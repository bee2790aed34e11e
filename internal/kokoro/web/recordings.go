package web

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/kokoro-labs/kokoro/internal/kokoro/store"
)

// registerRecordingRequest registers metadata for a recording that was
// already uploaded to external object storage. The media bytes never pass
// through this backend.
type registerRecordingRequest struct {
	RoomID          string  `json:"room_id"`
	URL             string  `json:"url"`
	DurationSeconds int     `json:"duration_seconds"`
	FileSizeMB      float64 `json:"file_size_mb"`
}

type recordingResponse struct {
	ID              string    `json:"id"`
	RoomID          string    `json:"room_id"`
	URL             string    `json:"url"`
	DurationSeconds int       `json:"duration_seconds"`
	FileSizeMB      float64   `json:"file_size_mb"`
	CreatedAt       time.Time `json:"created_at"`
}

type recordingListResponse struct {
	Recordings []recordingResponse `json:"recordings"`
}

func recordingToResponse(rec *store.Recording) recordingResponse {
	return recordingResponse{
		ID:              rec.ID,
		RoomID:          rec.RoomID,
		URL:             rec.URL,
		DurationSeconds: rec.DurationSeconds,
		FileSizeMB:      rec.FileSizeMB,
		CreatedAt:       rec.CreatedAt,
	}
}

// handleRegisterRecording handles POST /api/video/recordings.
func (s *Server) handleRegisterRecording(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req registerRecordingRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.RoomID == "" || req.URL == "" {
		writeError(w, http.StatusBadRequest, "room_id and url are required")
		return
	}

	// Recordings only make sense against a room that actually happened.
	if _, err := s.store.GetRoom(r.Context(), req.RoomID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "room not found")
			return
		}
		s.logger.Error("get room failed", "room_id", req.RoomID, "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	rec := &store.Recording{
		ID:              s.newID(),
		RoomID:          req.RoomID,
		URL:             req.URL,
		DurationSeconds: req.DurationSeconds,
		FileSizeMB:      req.FileSizeMB,
		CreatedAt:       s.now().UTC(),
	}
	if err := s.store.InsertRecording(r.Context(), rec); err != nil {
		s.logger.Error("insert recording failed", "room_id", req.RoomID, "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	s.logger.Info("recording registered", "room_id", rec.RoomID, "recording_id", rec.ID)
	writeJSON(w, http.StatusCreated, recordingToResponse(rec))
}

// handleListRecordings handles GET /api/video/recordings/{room_id}.
func (s *Server) handleListRecordings(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	roomID := strings.TrimPrefix(r.URL.Path, "/api/video/recordings/")
	if roomID == "" || strings.Contains(roomID, "/") {
		http.NotFound(w, r)
		return
	}

	recordings, err := s.store.ListRecordings(r.Context(), roomID)
	if err != nil {
		s.logger.Error("list recordings failed", "room_id", roomID, "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	resp := recordingListResponse{Recordings: make([]recordingResponse, 0, len(recordings))}
	for _, rec := range recordings {
		resp.Recordings = append(resp.Recordings, recordingToResponse(rec))
	}
	writeJSON(w, http.StatusOK, resp)
}
