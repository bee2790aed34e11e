package signal

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
)

// newServerSideWS hands back the server end of a live websocket.
func newServerSideWS(t *testing.T) *websocket.Conn {
	t.Helper()
	upgraded := make(chan *websocket.Conn, 1)
	up := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		upgraded <- ws
	}))
	t.Cleanup(ts.Close)

	client, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return <-upgraded
}

func TestConn_SendBackpressureClosesConnection(t *testing.T) {
	conn := NewConn(newServerSideWS(t))
	// The write loop is never started, so the queue only fills.

	for i := 0; i < sendBuffer; i++ {
		if err := conn.Send([]byte("{}")); err != nil {
			t.Fatalf("Send #%d: %v", i, err)
		}
	}

	// The overflowing send closes the connection instead of blocking.
	err := conn.Send([]byte("{}"))
	if err == nil || err.Error() != "connection buffer exceeded" {
		t.Fatalf("overflow Send: got %v, want buffer exceeded", err)
	}

	// Everything after the close is rejected outright.
	err = conn.Send([]byte("{}"))
	if err == nil || err.Error() != "connection closed" {
		t.Fatalf("Send after close: got %v, want connection closed", err)
	}
}

func TestConn_CloseIsIdempotent(t *testing.T) {
	conn := NewConn(newServerSideWS(t))
	conn.Start()

	conn.Close(websocket.CloseNormalClosure, "bye")
	conn.Close(websocket.CloseNormalClosure, "bye")

	if err := conn.Send([]byte("{}")); err == nil {
		t.Fatal("Send after Close must fail")
	}
}
