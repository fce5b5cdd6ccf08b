package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/example/ride-booking/internal/events"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = (pongWait * 9) / 10
	maxFrameSize = 16 << 10
	hookTimeout  = 5 * time.Second
)

// Inbound client event types.
const (
	EventJoinRoom            = "joinRoom"
	EventChatMessage         = "chatMessage"
	EventBookingStatusUpdate = "bookingStatusUpdate"
)

// Outbound replies that are not room events.
const (
	replyJoined events.Type = "joined"
	replyError  events.Type = "error"
)

// Authenticator maps a bearer token to an actor id.
type Authenticator func(ctx context.Context, token string) (string, error)

// JoinAuthorizer decides whether an actor may follow a booking. The hub
// itself does not check membership.
type JoinAuthorizer func(ctx context.Context, actorID, bookingID string) error

// Handler upgrades HTTP requests to websocket sessions bound to the hub.
type Handler struct {
	Hub          *Hub
	Authenticate Authenticator
	CanJoin      JoinAuthorizer
	Upgrader     websocket.Upgrader
	Logger       *slog.Logger
}

type inbound struct {
	Type      string          `json:"type"`
	BookingID string          `json:"bookingId"`
	Data      json.RawMessage `json:"data"`
}

// bookingID takes the room from the envelope, falling back to a bare
// string payload or a bookingId field inside data.
func (m inbound) bookingID() string {
	if m.BookingID != "" {
		return m.BookingID
	}
	var s string
	if json.Unmarshal(m.Data, &s) == nil {
		return s
	}
	var inner struct {
		BookingID string `json:"bookingId"`
	}
	if json.Unmarshal(m.Data, &inner) == nil {
		return inner.BookingID
	}
	return ""
}

// session serializes writes to one connection; gorilla allows a single
// concurrent writer.
type session struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *session) write(messageType int, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteMessage(messageType, data)
}

func (s *session) reply(t events.Type, bookingID string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	b, err := json.Marshal(frame{Type: t, BookingID: bookingID, Data: data})
	if err != nil {
		return err
	}
	return s.write(websocket.TextMessage, b)
}

func (h *Handler) logger() *slog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	actorID, err := h.Authenticate(r.Context(), bearerToken(r))
	if err != nil {
		http.Error(w, "unauthenticated", http.StatusUnauthorized)
		return
	}
	conn, err := h.Upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger().Warn("websocket upgrade failed", "actor_id", actorID, "error", err)
		return
	}
	sub, err := h.Hub.Connect(actorID)
	if err != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"), time.Now().Add(writeWait))
		_ = conn.Close()
		return
	}
	s := &session{conn: conn}
	go h.writePump(s, sub)
	h.readPump(r.Context(), s, sub)
}

func bearerToken(r *http.Request) string {
	if parts := strings.SplitN(r.Header.Get("Authorization"), " ", 2); len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
		return strings.TrimSpace(parts[1])
	}
	return r.URL.Query().Get("token")
}

// writePump forwards hub frames to the connection and keeps it alive.
func (h *Handler) writePump(s *session, sub *Subscriber) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = s.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-sub.C:
			if !ok {
				_ = s.write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := s.write(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			if err := s.write(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Handler) readPump(ctx context.Context, s *session, sub *Subscriber) {
	defer func() {
		h.Hub.Unsubscribe(sub)
		_ = s.conn.Close()
	}()
	s.conn.SetReadLimit(maxFrameSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger().Info("websocket closed", "actor_id", sub.ActorID, "error", err)
			}
			return
		}
		var msg inbound
		if err := json.Unmarshal(raw, &msg); err != nil {
			_ = s.reply(replyError, "", map[string]string{"message": "malformed frame"})
			continue
		}
		if err := h.handle(ctx, sub, msg); err != nil {
			_ = s.reply(replyError, msg.bookingID(), map[string]string{"message": err.Error()})
			continue
		}
		if msg.Type == EventJoinRoom {
			_ = s.reply(replyJoined, msg.bookingID(), map[string]string{"bookingId": msg.bookingID()})
		}
	}
}

type clientError string

func (e clientError) Error() string { return string(e) }

func (h *Handler) handle(ctx context.Context, sub *Subscriber, msg inbound) error {
	bookingID := msg.bookingID()
	if bookingID == "" {
		return clientError("bookingId is required")
	}
	switch msg.Type {
	case EventJoinRoom:
		if h.CanJoin != nil {
			hctx, cancel := context.WithTimeout(ctx, hookTimeout)
			defer cancel()
			if err := h.CanJoin(hctx, sub.ActorID, bookingID); err != nil {
				return clientError("not allowed to join this booking")
			}
		}
		return h.Hub.Subscribe(bookingID, sub)
	case EventChatMessage:
		return h.relay(ctx, sub, events.TypeMessage, bookingID, msg.Data)
	case EventBookingStatusUpdate:
		return h.relay(ctx, sub, events.TypeStatusUpdate, bookingID, msg.Data)
	}
	return clientError("unknown event type " + msg.Type)
}

// relay re-broadcasts a client event verbatim to the room the sender has
// joined.
func (h *Handler) relay(ctx context.Context, sub *Subscriber, t events.Type, bookingID string, data json.RawMessage) error {
	if !h.Hub.Joined(bookingID, sub) {
		return clientError("join the booking room first")
	}
	if len(data) == 0 {
		data = json.RawMessage("null")
	}
	return h.Hub.Publish(ctx, events.Event{Type: t, BookingID: bookingID, Data: data, At: time.Now().UTC()})
}
