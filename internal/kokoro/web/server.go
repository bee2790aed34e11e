// Package web serves the REST surface of the call backend: room lifecycle,
// the companion catalog, ICE configuration, recording metadata and the
// talking-head stream relay. Signaling itself lives in the signal package;
// everything here is plain request/response JSON.
package web

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/kokoro-labs/kokoro/common/retry"
	"github.com/kokoro-labs/kokoro/internal/kokoro/dstream"
	"github.com/kokoro-labs/kokoro/internal/kokoro/store"
)

const defaultCatalogTimeout = 10 * time.Second

// ICEConfig describes the ICE servers handed to browsers. STUN defaults are
// always included; TURN entries are added when credentials are configured.
type ICEConfig struct {
	// TURNURLs lists the TURN relay URLs offered alongside the credentials.
	TURNURLs []string

	// TURNUsername and TURNPassword authenticate against the TURN relays.
	// Both must be set for the TURN entry to be offered.
	TURNUsername string
	TURNPassword string

	// ExtraFile optionally names a YAML file with additional ICE server
	// entries appended verbatim to the response.
	ExtraFile string
}

// Config holds options for creating a web Server.
type Config struct {
	// CatalogURL is the persona catalog endpoint used by POST
	// /api/companions/sync. Empty disables catalog sync.
	CatalogURL string

	// CatalogTimeout bounds one catalog fetch. Defaults to 10 s.
	CatalogTimeout time.Duration

	// Retry controls catalog-fetch retries. Zero value selects
	// retry.DefaultConfig.
	Retry retry.Config

	// ICE configures the /api/webrtc/config response.
	ICE ICEConfig
}

// RouteRegistrar is satisfied by *http.ServeMux and by the application's
// health server, so web routes can be mounted without importing the app
// package directly.
type RouteRegistrar interface {
	Handle(pattern string, handler http.Handler)
}

// Server handles the REST routes. stream may be nil, in which case the
// /api/stream routes answer 503.
type Server struct {
	store  *store.Store
	stream *dstream.Client
	cfg    Config
	ice    []iceServer
	client *http.Client
	logger *slog.Logger
	now    func() time.Time
	newID  func() string
}

// New creates a web Server. It resolves the full ICE server list up front so
// a broken extra-servers file fails at startup, not per request.
func New(st *store.Store, stream *dstream.Client, cfg Config, logger *slog.Logger) (*Server, error) {
	if cfg.CatalogTimeout == 0 {
		cfg.CatalogTimeout = defaultCatalogTimeout
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = retry.DefaultConfig
	}
	if logger == nil {
		logger = slog.Default()
	}

	ice, err := buildICEServers(cfg.ICE)
	if err != nil {
		return nil, fmt.Errorf("web: build ICE config: %w", err)
	}

	return &Server{
		store:  st,
		stream: stream,
		cfg:    cfg,
		ice:    ice,
		client: &http.Client{Timeout: cfg.CatalogTimeout},
		logger: logger,
		now:    time.Now,
		newID:  uuid.NewString,
	}, nil
}

// RegisterRoutes adds the REST routes to the given RouteRegistrar:
//
//   - POST /api/video/rooms, GET /api/video/rooms/{id},
//     POST /api/video/rooms/{id}/end
//   - GET  /api/companions, GET /api/companions/{id},
//     POST /api/companions/sync
//   - GET  /api/webrtc/config
//   - POST /api/video/recordings, GET /api/video/recordings/{room_id}
//   - /api/stream/sessions… — relay to the talking-head stream provider
func (s *Server) RegisterRoutes(r RouteRegistrar) {
	r.Handle("/api/video/rooms", http.HandlerFunc(s.handleRooms))
	r.Handle("/api/video/rooms/", http.HandlerFunc(s.handleRoom))
	r.Handle("/api/video/recordings", http.HandlerFunc(s.handleRegisterRecording))
	r.Handle("/api/video/recordings/", http.HandlerFunc(s.handleListRecordings))
	r.Handle("/api/companions", http.HandlerFunc(s.handleCompanions))
	r.Handle("/api/companions/", http.HandlerFunc(s.handleCompanion))
	r.Handle("/api/webrtc/config", http.HandlerFunc(s.handleWebRTCConfig))
	r.Handle("/api/stream/sessions", http.HandlerFunc(s.handleStreamSessions))
	r.Handle("/api/stream/sessions/", http.HandlerFunc(s.handleStreamSession))
}

// errorResponse is the JSON body of every non-2xx answer.
type errorResponse struct {
	Error string `json:"error"`
}

// statusResponse is the JSON body of answers that only need to say "done".
type statusResponse struct {
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// userID extracts the calling user from the X-User-ID header. Token
// verification happens upstream at the gateway; by the time a request lands
// here the header is trusted.
func userID(r *http.Request) string {
	return r.Header.Get("X-User-ID")
}

// decodeBody decodes a JSON request body into v, rejecting unknown fields so
// client typos surface as 400s instead of silently dropped options.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func buildICEServers(cfg ICEConfig) ([]iceServer, error) {
	servers := []iceServer{
		{URLs: []string{"stun:stun.l.google.com:19302"}},
		{URLs: []string{"stun:stun1.l.google.com:19302"}},
	}

	if cfg.TURNUsername != "" && cfg.TURNPassword != "" && len(cfg.TURNURLs) > 0 {
		servers = append(servers, iceServer{
			URLs:       cfg.TURNURLs,
			Username:   cfg.TURNUsername,
			Credential: cfg.TURNPassword,
		})
	}

	if cfg.ExtraFile != "" {
		data, err := os.ReadFile(cfg.ExtraFile)
		if err != nil {
			return nil, fmt.Errorf("read extra ICE servers: %w", err)
		}
		var extra []iceServer
		if err := yaml.Unmarshal(data, &extra); err != nil {
			return nil, fmt.Errorf("parse extra ICE servers: %w", err)
		}
		servers = append(servers, extra...)
	}

	return servers, nil
}
