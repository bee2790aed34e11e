package signal

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kokoro-labs/kokoro/common/trace"
	"github.com/kokoro-labs/kokoro/internal/kokoro/store"
)

// pongWait is how long a connection may stay silent before the read loop
// gives up on it. Must exceed the write pump's ping period.
const pongWait = 60 * time.Second

// maxFrameSize caps inbound frames. SDP offers are a few KB; anything near
// this limit is not signaling traffic.
const maxFrameSize = 64 * 1024

// ChatHandler consumes validated chat messages. The orchestrator
// implements it; the server only parses and acknowledges.
type ChatHandler interface {
	HandleChat(ctx context.Context, p ChatPayload) error
}

// RouteRegistrar is the mux surface the server mounts its route on.
type RouteRegistrar interface {
	Handle(pattern string, handler http.Handler)
}

// Server upgrades websocket connections and pumps their event frames
// through the relay and the chat handler. Every inbound frame is answered
// with exactly one ack.
type Server struct {
	registry *Registry
	relay    *Relay
	chat     ChatHandler
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

// NewServer constructs a Server. If logger is nil, the default slog logger
// is used.
func NewServer(registry *Registry, relay *Relay, chat ChatHandler, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		registry: registry,
		relay:    relay,
		chat:     chat,
		logger:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Browser clients connect from the app origin; token checks
			// happen upstream, so cross-origin upgrades are allowed here.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// RegisterRoutes mounts the websocket endpoint.
func (s *Server) RegisterRoutes(r RouteRegistrar) {
	r.Handle("/ws", http.HandlerFunc(s.handleSocket))
}

func (s *Server) handleSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "err", err)
		return
	}

	conn := NewConn(ws)
	conn.Start()
	s.registry.Attach(conn)
	s.logger.Info("connection opened", "conn_id", conn.ID(), "remote", r.RemoteAddr)

	defer func() {
		s.relay.HandleDisconnect(r.Context(), conn)
		conn.Close(websocket.CloseNormalClosure, "bye")
		s.logger.Info("connection closed", "conn_id", conn.ID())
	}()

	ws.SetReadLimit(maxFrameSize)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Warn("read failed", "conn_id", conn.ID(), "err", err)
			}
			return
		}

		var frame Frame
		if err := json.Unmarshal(raw, &frame); err != nil || frame.Event == "" {
			s.ack(conn, frame.Event, errors.New("malformed frame"))
			continue
		}

		ctx := trace.WithTraceID(r.Context(), trace.GenerateID())
		s.ack(conn, frame.Event, s.dispatch(ctx, conn, frame))
	}
}

// dispatch routes one frame to its handler and returns the handler's error.
func (s *Server) dispatch(ctx context.Context, conn *Conn, frame Frame) error {
	switch frame.Event {
	case EventJoin:
		return s.relay.HandleJoin(ctx, conn, frame.Data)
	case EventOffer, EventAnswer, EventCandidate:
		return s.relay.HandleSignal(ctx, conn, frame.Event, frame.Data)
	case EventChatMessage:
		var p ChatPayload
		if err := json.Unmarshal(frame.Data, &p); err != nil {
			return ErrInvalidMessage
		}
		if err := p.Validate(); err != nil {
			return err
		}
		return s.chat.HandleChat(ctx, p)
	case EventLeave:
		return s.relay.HandleLeave(ctx, conn, frame.Data)
	case EventEndCall:
		return s.relay.HandleEndCall(ctx, conn, frame.Data)
	default:
		return errors.New("unknown event")
	}
}

// ack answers one inbound frame. Errors are translated to stable
// client-facing reasons; internal detail stays in the logs.
func (s *Server) ack(conn *Conn, of string, handlerErr error) {
	payload := AckPayload{Of: of, Success: handlerErr == nil}
	if handlerErr != nil {
		payload.Error = ackReason(handlerErr)
		s.logger.Warn("event rejected",
			"conn_id", conn.ID(), "event", of, "reason", payload.Error, "err", handlerErr)
	}

	frame, err := Envelope(EventAck, payload)
	if err != nil {
		s.logger.Error("ack: encode frame", "err", err)
		return
	}
	if err := conn.Send(frame); err != nil {
		s.logger.Debug("ack: send failed", "conn_id", conn.ID(), "err", err)
	}
}

// ackReason maps handler errors onto the reasons clients see.
func ackReason(err error) string {
	switch {
	case errors.Is(err, ErrInvalidRoom):
		return "room ID is required"
	case errors.Is(err, ErrInvalidMessage):
		return "room ID and message are required"
	case errors.Is(err, ErrInvalidSignal):
		return "room ID and signal payload are required"
	case errors.Is(err, ErrRoomEnded):
		return "room has ended"
	case errors.Is(err, store.ErrNotFound):
		return "not found"
	case err.Error() == "malformed frame" || err.Error() == "unknown event":
		return err.Error()
	default:
		return "internal error"
	}
}
