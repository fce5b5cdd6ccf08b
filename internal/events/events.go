// Package events defines the notifications emitted after every successful
// booking transition and chat post, and the sinks they are fanned out to.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"
)

type Type string

const (
	TypeMessage      Type = "message"
	TypeStatusUpdate Type = "statusUpdate"
)

// Event is scoped to a single booking. Data is the JSON body delivered to
// subscribers unchanged.
type Event struct {
	Type      Type            `json:"type"`
	BookingID string          `json:"bookingId"`
	Data      json.RawMessage `json:"data"`
	At        time.Time       `json:"at"`
}

func New(t Type, bookingID string, v any, at time.Time) (Event, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return Event{}, err
	}
	return Event{Type: t, BookingID: bookingID, Data: b, At: at}, nil
}

// Publisher accepts events for delivery. Delivery is best effort: an error
// means the event may not have reached every destination.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Multi fans an event out to every publisher and joins their errors.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, e Event) error {
	var errs []error
	for _, p := range m {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Discard drops every event.
type Discard struct{}

func (Discard) Publish(context.Context, Event) error { return nil }

// Recorder keeps published events in memory, for tests.
type Recorder struct {
	mu     sync.Mutex
	Events []Event
}

func (r *Recorder) Publish(_ context.Context, e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Events = append(r.Events, e)
	return nil
}

// Types lists the types recorded so far for one booking.
func (r *Recorder) Types(bookingID string) []Type {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Type
	for _, e := range r.Events {
		if e.BookingID == bookingID {
			out = append(out, e.Type)
		}
	}
	return out
}
