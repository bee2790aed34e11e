package web

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kokoro-labs/kokoro/internal/kokoro/dstream"
)

// withStream points the env's relay at a fake provider.
func withStream(t *testing.T, env *testEnv, provider http.HandlerFunc) {
	t.Helper()
	srv := httptest.NewServer(provider)
	t.Cleanup(srv.Close)
	env.srv.stream = dstream.New(dstream.Config{
		APIKey:  "provider-key",
		BaseURL: srv.URL,
		Retry:   fastRetry(),
	})
}

func TestCreateStreamSession(t *testing.T) {
	env := newTestEnv(t, Config{})
	withStream(t, env, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/talks/streams" {
			t.Errorf("provider path: %s", r.URL.Path)
		}
		w.Write([]byte(`{"id": "strm-1", "session_id": "sess-1", "offer": {"sdp": "v=0"}, "ice_servers": []}`))
	})

	rr := env.do(t, http.MethodPost, "/api/stream/sessions", "",
		createSessionRequest{PresenterID: "amy-jcwCkr1grs"})
	if rr.Code != http.StatusCreated {
		t.Fatalf("status: got %d, body %s", rr.Code, rr.Body.String())
	}

	var stream dstream.Stream
	decodeInto(t, rr, &stream)
	if stream.ID != "strm-1" || stream.SessionID != "sess-1" {
		t.Errorf("stream: %+v", stream)
	}
}

func TestStreamSessionActions(t *testing.T) {
	env := newTestEnv(t, Config{})

	var gotPath string
	var gotBody map[string]any
	withStream(t, env, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusOK)
	})

	rr := env.do(t, http.MethodPost, "/api/stream/sessions/strm-1/speak", "",
		sessionActionRequest{SessionID: "sess-1", Text: "hello", VoiceID: "en-US-JennyNeural"})
	if rr.Code != http.StatusOK {
		t.Fatalf("speak: got %d, body %s", rr.Code, rr.Body.String())
	}
	if gotPath != "/talks/streams/strm-1" {
		t.Errorf("provider path: %s", gotPath)
	}
	if script, ok := gotBody["script"].(map[string]any); !ok || script["input"] != "hello" {
		t.Errorf("provider body: %v", gotBody)
	}

	rr = env.do(t, http.MethodPost, "/api/stream/sessions/strm-1/answer", "",
		sessionActionRequest{SessionID: "sess-1", Answer: json.RawMessage(`{"type": "answer"}`)})
	if rr.Code != http.StatusOK {
		t.Fatalf("answer: got %d", rr.Code)
	}
	if gotPath != "/talks/streams/strm-1/sdp" {
		t.Errorf("provider path: %s", gotPath)
	}

	rr = env.do(t, http.MethodDelete, "/api/stream/sessions/strm-1", "",
		sessionActionRequest{SessionID: "sess-1"})
	if rr.Code != http.StatusOK {
		t.Fatalf("delete: got %d", rr.Code)
	}
}

func TestStreamSessionValidation(t *testing.T) {
	env := newTestEnv(t, Config{})
	withStream(t, env, func(w http.ResponseWriter, r *http.Request) {
		t.Error("provider must not be called for invalid requests")
	})

	tests := []struct {
		name   string
		method string
		path   string
		body   any
	}{
		{"missing session_id", http.MethodPost, "/api/stream/sessions/strm-1/speak", sessionActionRequest{Text: "hi"}},
		{"blank text", http.MethodPost, "/api/stream/sessions/strm-1/speak", sessionActionRequest{SessionID: "s", Text: "  "}},
		{"missing answer", http.MethodPost, "/api/stream/sessions/strm-1/answer", sessionActionRequest{SessionID: "s"}},
		{"missing candidate", http.MethodPost, "/api/stream/sessions/strm-1/ice", sessionActionRequest{SessionID: "s"}},
		{"missing presenter", http.MethodPost, "/api/stream/sessions", createSessionRequest{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := env.do(t, tt.method, tt.path, "", tt.body)
			if rr.Code != http.StatusBadRequest {
				t.Errorf("status: got %d, want 400", rr.Code)
			}
		})
	}
}

func TestStreamRoutes_Unconfigured(t *testing.T) {
	env := newTestEnv(t, Config{})

	rr := env.do(t, http.MethodPost, "/api/stream/sessions", "",
		createSessionRequest{PresenterID: "amy"})
	if rr.Code != http.StatusServiceUnavailable {
		t.Errorf("create: got %d, want 503", rr.Code)
	}
	rr = env.do(t, http.MethodDelete, "/api/stream/sessions/strm-1", "",
		sessionActionRequest{SessionID: "sess-1"})
	if rr.Code != http.StatusServiceUnavailable {
		t.Errorf("delete: got %d, want 503", rr.Code)
	}
}

func TestStreamRelay_ProviderFailure(t *testing.T) {
	env := newTestEnv(t, Config{})
	withStream(t, env, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no such stream", http.StatusNotFound)
	})

	rr := env.do(t, http.MethodPost, "/api/stream/sessions/strm-1/speak", "",
		sessionActionRequest{SessionID: "sess-1", Text: "hello"})
	if rr.Code != http.StatusBadGateway {
		t.Errorf("status: got %d, want 502", rr.Code)
	}
}
