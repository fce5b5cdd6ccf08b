package storage

import (
	"context"
	"time"

	"github.com/example/ride-booking/internal/apperr"
	"github.com/example/ride-booking/internal/models"
)

var (
	ErrNotFound  = apperr.New(apperr.NotFound, "record not found")
	ErrConflict  = apperr.New(apperr.Conflict, "precondition failed")
	ErrDuplicate = apperr.New(apperr.Conflict, "duplicate record")
)

// unavailable classifies a backend failure as retryable by the caller.
func unavailable(err error) error {
	return apperr.Wrap(apperr.Unavailable, err, "storage unavailable")
}

// UserStore persists actors.
type UserStore interface {
	InsertUser(ctx context.Context, u *models.User) error
	User(ctx context.Context, id string) (*models.User, error)
	UserByEmail(ctx context.Context, email string) (*models.User, error)
	ListUsers(ctx context.Context) ([]*models.User, error)
	// The driver-only mutations below return ErrNotFound when id is not a driver.
	SetAvailability(ctx context.Context, id string, available bool) (*models.User, error)
	SetLocation(ctx context.Context, id string, loc models.Coord) error
	IncrementTrips(ctx context.Context, id string) error
	SetDriverRating(ctx context.Context, id string, rating float64) error
}

// BookingStore persists bookings. Every mutation is a single conditional
// write: when its guard does not hold it returns ErrConflict and changes
// nothing.
type BookingStore interface {
	InsertBooking(ctx context.Context, b *models.Booking) error
	Booking(ctx context.Context, id string) (*models.Booking, error)
	// FindBookings returns matches newest first.
	FindBookings(ctx context.Context, q BookingQuery) ([]*models.Booking, error)
	// AssignDriver sets driver and status=accepted iff the booking is
	// pending, unassigned and of the given tier.
	AssignDriver(ctx context.Context, id, driverID string, tier models.Tier, at time.Time) (*models.Booking, error)
	// UpdateBooking applies the mutable fields of p iff status == expect.
	UpdateBooking(ctx context.Context, id string, expect models.Status, p models.BookingPatch, at time.Time) (*models.Booking, error)
	// SetRating stores r iff the booking is completed and not yet rated.
	SetRating(ctx context.Context, id string, r models.Rating, at time.Time) (*models.Booking, error)
	// MarkPaid flips payment to paid iff completed and unpaid.
	MarkPaid(ctx context.Context, id, ref string, at time.Time) (*models.Booking, error)
	// DriverScores sums the rating scores over every rated booking of a driver.
	DriverScores(ctx context.Context, driverID string) (sum, count int, err error)
}

// ChatStore persists conversations. Appends to one conversation are
// serialized by the backend.
type ChatStore interface {
	Conversation(ctx context.Context, bookingID string) (*models.Conversation, error)
	// CreateConversation inserts c unless the booking already has one and
	// returns whichever is stored.
	CreateConversation(ctx context.Context, c *models.Conversation) (*models.Conversation, error)
	// AppendMessage appends m and advances lastUpdated to at least m.CreatedAt.
	AppendMessage(ctx context.Context, bookingID string, m models.Message) (*models.Conversation, error)
	// MarkRead flags every message not sent by readerID as read and
	// returns how many messages this call flipped.
	MarkRead(ctx context.Context, bookingID, readerID string) (int, error)
	// ConversationsOf lists conversations readerID takes part in, most
	// recently updated first.
	ConversationsOf(ctx context.Context, actorID string) ([]*models.Conversation, error)
}

type Store interface {
	UserStore
	BookingStore
	ChatStore
	Close(ctx context.Context) error
}

// BookingQuery is a conjunction of equality filters. Zero fields are ignored.
type BookingQuery struct {
	CustomerID string
	DriverID   string
	Unassigned bool
	Tier       models.Tier
	Statuses   []models.Status
}

func (q BookingQuery) Match(b *models.Booking) bool {
	if q.CustomerID != "" && b.CustomerID != q.CustomerID {
		return false
	}
	if q.DriverID != "" && b.DriverID != q.DriverID {
		return false
	}
	if q.Unassigned && b.DriverID != "" {
		return false
	}
	if q.Tier != "" && b.Tier != q.Tier {
		return false
	}
	if len(q.Statuses) > 0 {
		for _, s := range q.Statuses {
			if b.Status == s {
				return true
			}
		}
		return false
	}
	return true
}
