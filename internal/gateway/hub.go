// Package gateway fans booking events out to connected clients. There is
// one room per booking; delivery is best effort and a subscriber whose
// buffer is full misses the event.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"

	"github.com/example/ride-booking/internal/events"
	"github.com/example/ride-booking/internal/observability"
)

var ErrClosed = errors.New("gateway closed")

// Subscriber is one connection's mailbox. Frames arrive on C until the
// subscriber is unsubscribed or the hub is closed, then C is closed.
type Subscriber struct {
	ActorID string
	C       <-chan []byte

	send  chan []byte
	rooms map[string]struct{} // guarded by Hub.mu
}

type Hub struct {
	mu     sync.RWMutex
	rooms  map[string]map[*Subscriber]struct{}
	subs   map[*Subscriber]struct{}
	buffer int
	closed bool
	logger *slog.Logger
}

func NewHub(buffer int, logger *slog.Logger) *Hub {
	if buffer <= 0 {
		buffer = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		rooms:  make(map[string]map[*Subscriber]struct{}),
		subs:   make(map[*Subscriber]struct{}),
		buffer: buffer,
		logger: logger,
	}
}

// Connect registers a new subscriber that has not joined any room yet.
func (h *Hub) Connect(actorID string) (*Subscriber, error) {
	send := make(chan []byte, h.buffer)
	s := &Subscriber{ActorID: actorID, C: send, send: send, rooms: make(map[string]struct{})}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, ErrClosed
	}
	h.subs[s] = struct{}{}
	observability.GatewaySubscribers.Inc()
	return s, nil
}

// Subscribe adds s to the booking's room. Joining twice is a no-op.
func (h *Hub) Subscribe(bookingID string, s *Subscriber) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrClosed
	}
	if _, ok := h.subs[s]; !ok {
		return errors.New("subscriber is not connected")
	}
	room, ok := h.rooms[bookingID]
	if !ok {
		room = make(map[*Subscriber]struct{})
		h.rooms[bookingID] = room
	}
	room[s] = struct{}{}
	s.rooms[bookingID] = struct{}{}
	return nil
}

// Joined reports whether s is in the booking's room.
func (h *Hub) Joined(bookingID string, s *Subscriber) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := s.rooms[bookingID]
	return ok
}

// Unsubscribe removes s from every room and closes its channel.
func (h *Hub) Unsubscribe(s *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[s]; !ok {
		return
	}
	h.drop(s)
}

// drop detaches s. Callers hold the write lock.
func (h *Hub) drop(s *Subscriber) {
	for id := range s.rooms {
		room := h.rooms[id]
		delete(room, s)
		if len(room) == 0 {
			delete(h.rooms, id)
		}
	}
	s.rooms = map[string]struct{}{}
	delete(h.subs, s)
	close(s.send)
	observability.GatewaySubscribers.Dec()
}

// frame is the wire shape of an outbound event.
type frame struct {
	Type      events.Type     `json:"type"`
	BookingID string          `json:"bookingId"`
	Data      json.RawMessage `json:"data"`
}

// Publish delivers e to the current members of its booking's room. It
// never blocks on a slow subscriber.
func (h *Hub) Publish(_ context.Context, e events.Event) error {
	b, err := json.Marshal(frame{Type: e.Type, BookingID: e.BookingID, Data: e.Data})
	if err != nil {
		return err
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return ErrClosed
	}
	for s := range h.rooms[e.BookingID] {
		select {
		case s.send <- b:
		default:
			observability.GatewayDropped.Inc()
			h.logger.Debug("gateway subscriber buffer full", "booking_id", e.BookingID, "actor_id", s.ActorID)
		}
	}
	return nil
}

// RoomSize returns how many subscribers follow a booking.
func (h *Hub) RoomSize(bookingID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[bookingID])
}

// Close disconnects every subscriber. Later calls fail with ErrClosed.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	for s := range h.subs {
		h.drop(s)
	}
	h.closed = true
}
