package events

import (
	"context"
	"log/slog"
	"time"

	"github.com/example/ride-booking/internal/models"
	"github.com/example/ride-booking/internal/observability"
)

// StatusChange is the payload of a statusUpdate event.
type StatusChange struct {
	BookingID string        `json:"bookingId"`
	From      models.Status `json:"from"`
	Status    models.Status `json:"status"`
	DriverID  string        `json:"driverId,omitempty"`
	UpdatedAt time.Time     `json:"updatedAt"`
}

// Notifier turns committed changes into events. The change has already
// been stored when it is called, so publish failures are logged and
// counted, never returned.
type Notifier struct {
	Publisher Publisher
	Logger    *slog.Logger
}

func (n *Notifier) StatusChanged(ctx context.Context, b *models.Booking, from models.Status) {
	observability.Transitions.WithLabelValues(string(from), string(b.Status)).Inc()
	n.emit(ctx, TypeStatusUpdate, b.ID, StatusChange{
		BookingID: b.ID,
		From:      from,
		Status:    b.Status,
		DriverID:  b.DriverID,
		UpdatedAt: b.UpdatedAt,
	}, b.UpdatedAt)
}

func (n *Notifier) MessagePosted(ctx context.Context, bookingID string, m models.Message) {
	n.emit(ctx, TypeMessage, bookingID, struct {
		BookingID string `json:"bookingId"`
		models.Message
	}{bookingID, m}, m.CreatedAt)
}

func (n *Notifier) emit(ctx context.Context, t Type, bookingID string, v any, at time.Time) {
	if n == nil || n.Publisher == nil {
		return
	}
	e, err := New(t, bookingID, v, at)
	if err == nil {
		err = n.Publisher.Publish(ctx, e)
	}
	if err != nil {
		observability.EventPublishErrors.Inc()
		n.logger().Warn("event publish failed", "type", t, "booking_id", bookingID, "error", err)
	}
}

func (n *Notifier) logger() *slog.Logger {
	if n.Logger != nil {
		return n.Logger
	}
	return slog.Default()
}
