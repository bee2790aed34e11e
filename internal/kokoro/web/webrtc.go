package web

import "net/http"

// iceServer mirrors the browser's RTCIceServer shape, which is why the JSON
// keys are camelCase while the rest of the API is snake_case.
type iceServer struct {
	URLs       []string `json:"urls" yaml:"urls"`
	Username   string   `json:"username,omitempty" yaml:"username,omitempty"`
	Credential string   `json:"credential,omitempty" yaml:"credential,omitempty"`
}

type webrtcConfigResponse struct {
	ICEServers []iceServer `json:"iceServers"`
}

// handleWebRTCConfig handles GET /api/webrtc/config. The server list is
// resolved once at startup; this handler only serializes it.
func (s *Server) handleWebRTCConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, webrtcConfigResponse{ICEServers: s.ice})
}
