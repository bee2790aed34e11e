package web

import (
	"encoding/json"
	"net/http"
	"strings"
)

// The /api/stream routes are a thin relay to the talking-head stream
// provider so the provider API key never reaches the browser. The browser
// negotiates the provider's WebRTC session through these endpoints while
// the user-facing call runs over the signal package.

type createSessionRequest struct {
	PresenterID string `json:"presenter_id"`
}

type sessionActionRequest struct {
	SessionID string          `json:"session_id"`
	Answer    json.RawMessage `json:"answer,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`
	Text      string          `json:"text,omitempty"`
	VoiceID   string          `json:"voice_id,omitempty"`
}

// handleStreamSessions handles POST /api/stream/sessions.
func (s *Server) handleStreamSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.stream == nil {
		writeError(w, http.StatusServiceUnavailable, "stream provider is not configured")
		return
	}

	var req createSessionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.PresenterID == "" {
		writeError(w, http.StatusBadRequest, "presenter_id is required")
		return
	}

	stream, err := s.stream.CreateStream(r.Context(), req.PresenterID)
	if err != nil {
		s.logger.Error("create provider stream failed", "presenter_id", req.PresenterID, "err", err)
		writeError(w, http.StatusBadGateway, "stream provider error")
		return
	}

	s.logger.Info("provider stream created", "stream_id", stream.ID)
	writeJSON(w, http.StatusCreated, stream)
}

// handleStreamSession dispatches the per-session relay routes:
//
//   - POST   /api/stream/sessions/{id}/answer
//   - POST   /api/stream/sessions/{id}/ice
//   - POST   /api/stream/sessions/{id}/speak
//   - DELETE /api/stream/sessions/{id}
func (s *Server) handleStreamSession(w http.ResponseWriter, r *http.Request) {
	if s.stream == nil {
		writeError(w, http.StatusServiceUnavailable, "stream provider is not configured")
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/api/stream/sessions/")
	streamID, action, _ := strings.Cut(rest, "/")
	if streamID == "" {
		http.NotFound(w, r)
		return
	}

	var req sessionActionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.SessionID == "" {
		writeError(w, http.StatusBadRequest, "session_id is required")
		return
	}

	ctx := r.Context()
	var err error
	switch {
	case action == "" && r.Method == http.MethodDelete:
		err = s.stream.DeleteStream(ctx, streamID, req.SessionID)
	case action == "answer" && r.Method == http.MethodPost:
		if len(req.Answer) == 0 {
			writeError(w, http.StatusBadRequest, "answer is required")
			return
		}
		err = s.stream.SendAnswer(ctx, streamID, req.SessionID, req.Answer)
	case action == "ice" && r.Method == http.MethodPost:
		if len(req.Candidate) == 0 {
			writeError(w, http.StatusBadRequest, "candidate is required")
			return
		}
		err = s.stream.SendCandidate(ctx, streamID, req.SessionID, req.Candidate)
	case action == "speak" && r.Method == http.MethodPost:
		if strings.TrimSpace(req.Text) == "" {
			writeError(w, http.StatusBadRequest, "text is required")
			return
		}
		err = s.stream.Speak(ctx, streamID, req.SessionID, req.Text, req.VoiceID)
	case action == "" || action == "answer" || action == "ice" || action == "speak":
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	default:
		http.NotFound(w, r)
		return
	}

	if err != nil {
		s.logger.Error("stream relay failed", "stream_id", streamID, "action", action, "err", err)
		writeError(w, http.StatusBadGateway, "stream provider error")
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Message: "ok"})
}
