package signal

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kokoro-labs/kokoro/internal/kokoro/store"
)

// fakeChat records the payloads the server hands over and answers with a
// scripted error.
type fakeChat struct {
	mu       sync.Mutex
	payloads []ChatPayload
	err      error
}

func (f *fakeChat) HandleChat(_ context.Context, p ChatPayload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payloads = append(f.payloads, p)
	return f.err
}

func (f *fakeChat) received() []ChatPayload {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]ChatPayload(nil), f.payloads...)
}

func newSocketServer(t *testing.T) (*httptest.Server, *fakeChat) {
	t.Helper()
	rooms := &fakeRoomStore{rooms: map[string]*store.Room{
		"room-1": {RoomID: "room-1", UserID: "user-a", CompanionID: "luna", Status: store.RoomWaiting},
		"gone":   {RoomID: "gone", UserID: "user-a", CompanionID: "luna", Status: store.RoomEnded},
	}}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	registry := NewRegistry(logger)
	relay := NewRelay(registry, rooms, logger)
	chat := &fakeChat{}

	mux := http.NewServeMux()
	NewServer(registry, relay, chat, logger).RegisterRoutes(mux)
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts, chat
}

func dialSocket(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

func readFrame(t *testing.T, ws *websocket.Conn) Frame {
	t.Helper()
	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	var frame Frame
	if err := json.Unmarshal(raw, &frame); err != nil {
		t.Fatalf("decode frame %s: %v", raw, err)
	}
	return frame
}

func readAck(t *testing.T, ws *websocket.Conn) AckPayload {
	t.Helper()
	frame := readFrame(t, ws)
	if frame.Event != EventAck {
		t.Fatalf("expected ack, got %q", frame.Event)
	}
	var p AckPayload
	if err := json.Unmarshal(frame.Data, &p); err != nil {
		t.Fatalf("decode ack: %v", err)
	}
	return p
}

func sendFrame(t *testing.T, ws *websocket.Conn, raw string) {
	t.Helper()
	if err := ws.WriteMessage(websocket.TextMessage, []byte(raw)); err != nil {
		t.Fatalf("write frame: %v", err)
	}
}

// Every inbound frame gets exactly one ack, and rejections carry the
// stable reasons clients match on.
func TestServer_AckPerFrame(t *testing.T) {
	ts, chat := newSocketServer(t)
	ws := dialSocket(t, ts)

	tests := []struct {
		name    string
		frame   string
		of      string
		success bool
		reason  string
	}{
		{
			name:    "valid join",
			frame:   `{"event":"join","data":{"roomId":"room-1","userId":"u1","role":"caller"}}`,
			of:      EventJoin,
			success: true,
		},
		{
			name:   "join without room",
			frame:  `{"event":"join","data":{"userId":"u1"}}`,
			of:     EventJoin,
			reason: "room ID is required",
		},
		{
			name:   "join ended room",
			frame:  `{"event":"join","data":{"roomId":"gone"}}`,
			of:     EventJoin,
			reason: "room has ended",
		},
		{
			name:   "offer without sdp",
			frame:  `{"event":"offer","data":{"roomId":"room-1"}}`,
			of:     EventOffer,
			reason: "room ID and signal payload are required",
		},
		{
			name:   "chat without message",
			frame:  `{"event":"chat_message","data":{"roomId":"room-1"}}`,
			of:     EventChatMessage,
			reason: "room ID and message are required",
		},
		{
			name:   "end unknown room",
			frame:  `{"event":"end_call","data":{"roomId":"missing"}}`,
			of:     EventEndCall,
			reason: "not found",
		},
		{
			name:   "not json",
			frame:  `nope`,
			of:     "",
			reason: "malformed frame",
		},
		{
			name:   "unknown event",
			frame:  `{"event":"teleport"}`,
			of:     "teleport",
			reason: "unknown event",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sendFrame(t, ws, tt.frame)
			ack := readAck(t, ws)
			if ack.Of != tt.of {
				t.Errorf("ack of: got %q, want %q", ack.Of, tt.of)
			}
			if ack.Success != tt.success {
				t.Errorf("ack success: got %v, want %v", ack.Success, tt.success)
			}
			if ack.Error != tt.reason {
				t.Errorf("ack reason: got %q, want %q", ack.Error, tt.reason)
			}
		})
	}

	// Handler errors without a mapped reason stay opaque to the client.
	chat.err = errors.New("provider exploded")
	sendFrame(t, ws, `{"event":"chat_message","data":{"roomId":"room-1","message":"hi"}}`)
	ack := readAck(t, ws)
	if ack.Success || ack.Error != "internal error" {
		t.Errorf("internal failure ack: %+v", ack)
	}

	// Nothing beyond the acks may arrive: one frame in, one frame out.
	_ = ws.SetReadDeadline(time.Now().Add(150 * time.Millisecond))
	if _, raw, err := ws.ReadMessage(); err == nil {
		t.Fatalf("unexpected extra frame: %s", raw)
	}
}

func TestServer_ChatDispatch(t *testing.T) {
	ts, chat := newSocketServer(t)
	ws := dialSocket(t, ts)

	sendFrame(t, ws, `{"event":"chat_message","data":{"roomId":"room-1","userId":"u1","message":"hi Luna"}}`)
	if ack := readAck(t, ws); !ack.Success {
		t.Fatalf("chat ack: %+v", ack)
	}

	got := chat.received()
	if len(got) != 1 {
		t.Fatalf("handler saw %d payloads, want 1", len(got))
	}
	if got[0].RoomID != "room-1" || got[0].UserID != "u1" || got[0].Message != "hi Luna" {
		t.Errorf("handler payload: %+v", got[0])
	}
}

func TestServer_SignalRelayBetweenClients(t *testing.T) {
	ts, _ := newSocketServer(t)
	caller := dialSocket(t, ts)
	viewer := dialSocket(t, ts)

	sendFrame(t, caller, `{"event":"join","data":{"roomId":"room-1","userId":"user-a","role":"caller"}}`)
	if ack := readAck(t, caller); !ack.Success {
		t.Fatalf("caller join ack: %+v", ack)
	}
	sendFrame(t, viewer, `{"event":"join","data":{"roomId":"room-1","userId":"user-b","role":"viewer"}}`)
	if ack := readAck(t, viewer); !ack.Success {
		t.Fatalf("viewer join ack: %+v", ack)
	}

	// The earlier member hears about the newcomer.
	joined := readFrame(t, caller)
	if joined.Event != EventUserJoined {
		t.Fatalf("caller frame: got %q, want user_joined", joined.Event)
	}
	var presence PresencePayload
	if err := json.Unmarshal(joined.Data, &presence); err != nil {
		t.Fatalf("decode presence: %v", err)
	}
	if presence.UserID != "user-b" || presence.Role != "viewer" {
		t.Errorf("presence: %+v", presence)
	}

	// An offer crosses rooms verbatim, excluding its sender.
	offer := `{"roomId":"room-1","sdp":{"type":"offer","sdp":"v=0\r\n..."}}`
	sendFrame(t, caller, `{"event":"offer","data":`+offer+`}`)
	if ack := readAck(t, caller); !ack.Success {
		t.Fatalf("offer ack: %+v", ack)
	}
	relayed := readFrame(t, viewer)
	if relayed.Event != EventOffer {
		t.Fatalf("viewer frame: got %q, want offer", relayed.Event)
	}
	if string(relayed.Data) != offer {
		t.Errorf("offer altered in relay:\ngot  %s\nsent %s", relayed.Data, offer)
	}
}

func TestServer_DisconnectAnnouncesDeparture(t *testing.T) {
	ts, _ := newSocketServer(t)
	caller := dialSocket(t, ts)
	viewer := dialSocket(t, ts)

	sendFrame(t, caller, `{"event":"join","data":{"roomId":"room-1","userId":"user-a","role":"caller"}}`)
	if ack := readAck(t, caller); !ack.Success {
		t.Fatalf("caller join ack: %+v", ack)
	}
	sendFrame(t, viewer, `{"event":"join","data":{"roomId":"room-1","userId":"user-b","role":"viewer"}}`)
	if ack := readAck(t, viewer); !ack.Success {
		t.Fatalf("viewer join ack: %+v", ack)
	}
	if frame := readFrame(t, caller); frame.Event != EventUserJoined {
		t.Fatalf("caller frame: got %q, want user_joined", frame.Event)
	}

	caller.Close()

	left := readFrame(t, viewer)
	if left.Event != EventUserLeft {
		t.Fatalf("viewer frame: got %q, want user_left", left.Event)
	}
	var presence PresencePayload
	if err := json.Unmarshal(left.Data, &presence); err != nil {
		t.Fatalf("decode presence: %v", err)
	}
	if presence.UserID != "user-a" {
		t.Errorf("departed user: got %q, want user-a", presence.UserID)
	}
}
