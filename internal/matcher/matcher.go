package matcher

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/example/ride-booking/internal/apperr"
	"github.com/example/ride-booking/internal/events"
	"github.com/example/ride-booking/internal/models"
	"github.com/example/ride-booking/internal/observability"
	"github.com/example/ride-booking/internal/storage"
)

// Actors resolves callers. *identity.Directory satisfies it.
type Actors interface {
	Require(ctx context.Context, id string, roles ...models.Role) (*models.User, error)
}

// Service binds pending bookings to drivers. Exclusivity comes from the
// store's AssignDriver compare-and-set; nothing here holds a lock.
type Service struct {
	Bookings storage.BookingStore
	Drivers  storage.UserStore
	Actors   Actors
	Notify   *events.Notifier
	Logger   *slog.Logger
	Now      func() time.Time
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s *Service) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

// ListRequests returns open bookings of the driver's tier.
func (s *Service) ListRequests(ctx context.Context, driverID string) ([]*models.Booking, error) {
	d, err := s.Actors.Require(ctx, driverID, models.RoleDriver)
	if err != nil {
		return nil, err
	}
	return s.Bookings.FindBookings(ctx, storage.BookingQuery{
		Unassigned: true,
		Tier:       d.Driver.Tier,
		Statuses:   []models.Status{models.StatusPending},
	})
}

func (s *Service) Accept(ctx context.Context, bookingID, driverID string) (*models.Booking, error) {
	d, err := s.Actors.Require(ctx, driverID, models.RoleDriver)
	if err != nil {
		return nil, err
	}
	if !d.Driver.Available {
		return nil, apperr.New(apperr.Conflict, "driver is not available")
	}
	b, err := s.Bookings.AssignDriver(ctx, bookingID, driverID, d.Driver.Tier, s.now())
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return nil, apperr.Errorf(apperr.NotFound, "booking %s not found", bookingID)
	case errors.Is(err, storage.ErrConflict):
		observability.AcceptConflicts.Inc()
		return nil, s.acceptConflict(ctx, bookingID, d.Driver.Tier)
	case err != nil:
		return nil, err
	}

	// counted at accept time, not at completion
	if err := s.Drivers.IncrementTrips(ctx, driverID); err != nil {
		s.logger().Warn("trip counter update failed", "driver_id", driverID, "error", err)
	}
	s.logger().Info("booking accepted", "booking_id", b.ID, "driver_id", driverID)
	s.Notify.StatusChanged(ctx, b, models.StatusPending)
	return b, nil
}

// acceptConflict explains a lost AssignDriver from a fresh read.
func (s *Service) acceptConflict(ctx context.Context, bookingID string, tier models.Tier) error {
	b, err := s.Bookings.Booking(ctx, bookingID)
	if err != nil {
		return apperr.New(apperr.Conflict, "booking is no longer available")
	}
	switch {
	case b.Tier != tier:
		return apperr.Errorf(apperr.Conflict, "booking requires %s, driver is %s", b.Tier, tier)
	case b.Assigned():
		return apperr.New(apperr.Conflict, "booking already taken by another driver")
	default:
		return apperr.Errorf(apperr.Conflict, "booking is %s", b.Status)
	}
}

// Advance moves an assigned booking one step along the ride.
func (s *Service) Advance(ctx context.Context, bookingID, driverID string, next models.Status) (*models.Booking, error) {
	if !isProgression(next) {
		return nil, apperr.Errorf(apperr.InvalidArgument, "status %q cannot be set by a driver", next)
	}
	b, err := s.Bookings.Booking(ctx, bookingID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, apperr.Errorf(apperr.NotFound, "booking %s not found", bookingID)
	}
	if err != nil {
		return nil, err
	}
	if b.DriverID != driverID {
		return nil, apperr.New(apperr.Forbidden, "only the assigned driver may update this booking")
	}
	from := b.Status
	if !models.CanTransition(from, next) {
		return nil, apperr.Errorf(apperr.Conflict, "cannot move booking from %s to %s", from, next)
	}
	updated, err := s.Bookings.UpdateBooking(ctx, bookingID, from, models.BookingPatch{Status: &next}, s.now())
	switch {
	case errors.Is(err, storage.ErrConflict):
		return nil, apperr.New(apperr.Conflict, "booking was modified concurrently")
	case errors.Is(err, storage.ErrNotFound):
		return nil, apperr.Errorf(apperr.NotFound, "booking %s not found", bookingID)
	case err != nil:
		return nil, err
	}
	s.logger().Info("booking advanced", "booking_id", bookingID, "from", from, "to", next)
	s.Notify.StatusChanged(ctx, updated, from)
	return updated, nil
}

func isProgression(st models.Status) bool {
	for _, p := range models.DriverProgression {
		if st == p {
			return true
		}
	}
	return false
}

// Active lists the bookings the driver is currently working on.
func (s *Service) Active(ctx context.Context, driverID string) ([]*models.Booking, error) {
	return s.driverBookings(ctx, driverID, models.ActiveStatuses)
}

// History lists the driver's finished bookings.
func (s *Service) History(ctx context.Context, driverID string) ([]*models.Booking, error) {
	return s.driverBookings(ctx, driverID, models.FinishedStatuses)
}

func (s *Service) driverBookings(ctx context.Context, driverID string, statuses []models.Status) ([]*models.Booking, error) {
	if _, err := s.Actors.Require(ctx, driverID, models.RoleDriver); err != nil {
		return nil, err
	}
	return s.Bookings.FindBookings(ctx, storage.BookingQuery{DriverID: driverID, Statuses: statuses})
}
