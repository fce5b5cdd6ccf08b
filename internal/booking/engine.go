// Package booking implements the booking lifecycle: creation, patching,
// cancellation, rating and payment. Every transition is a single
// conditional write on the status the engine observed.
package booking

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/example/ride-booking/internal/apperr"
	"github.com/example/ride-booking/internal/events"
	"github.com/example/ride-booking/internal/geo"
	"github.com/example/ride-booking/internal/models"
	"github.com/example/ride-booking/internal/observability"
	"github.com/example/ride-booking/internal/payments"
	"github.com/example/ride-booking/internal/storage"
)

// Actors resolves callers. *identity.Directory satisfies it.
type Actors interface {
	Require(ctx context.Context, id string, roles ...models.Role) (*models.User, error)
}

type Pricer interface {
	Estimate(tier models.Tier, from, to *models.Coord) (int64, bool)
}

type Engine struct {
	Bookings storage.BookingStore
	Drivers  storage.UserStore
	Actors   Actors
	Pricer   Pricer
	Payments payments.Provider
	Currency string
	Notify   *events.Notifier
	Logger   *slog.Logger
	Now      func() time.Time
}

// Request is what a customer submits to book a ride.
type Request struct {
	PickupLocation   string        `json:"pickupLocation"`
	Destination      string        `json:"destination"`
	PickupPoint      *models.Coord `json:"pickupPoint,omitempty"`
	DestinationPoint *models.Coord `json:"destinationPoint,omitempty"`
	Tier             models.Tier   `json:"motorType"`
	PickupTime       *time.Time    `json:"pickupTime"`
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now().UTC()
	}
	return time.Now().UTC()
}

func (e *Engine) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

func (e *Engine) load(ctx context.Context, id string) (*models.Booking, error) {
	b, err := e.Bookings.Booking(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, apperr.Errorf(apperr.NotFound, "booking %s not found", id)
	}
	return b, err
}

// casErr turns a failed conditional write into the caller-facing error.
func casErr(err error, id, conflict string) error {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return apperr.Errorf(apperr.NotFound, "booking %s not found", id)
	case errors.Is(err, storage.ErrConflict):
		return apperr.New(apperr.Conflict, conflict)
	}
	return err
}

func (e *Engine) Create(ctx context.Context, customerID string, req Request) (*models.Booking, error) {
	if _, err := e.Actors.Require(ctx, customerID, models.RoleCustomer); err != nil {
		return nil, err
	}
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	price, ok := e.Pricer.Estimate(req.Tier, req.PickupPoint, req.DestinationPoint)
	if !ok {
		return nil, apperr.Errorf(apperr.InvalidArgument, "no fare for tier %s", req.Tier)
	}
	now := e.now()
	b := &models.Booking{
		ID:               uuid.NewString(),
		CustomerID:       customerID,
		PickupLocation:   strings.TrimSpace(req.PickupLocation),
		Destination:      strings.TrimSpace(req.Destination),
		PickupPoint:      req.PickupPoint,
		DestinationPoint: req.DestinationPoint,
		Tier:             req.Tier,
		PickupTime:       req.PickupTime.UTC(),
		EstimatedPrice:   price,
		Status:           models.StatusPending,
		PaymentStatus:    models.PaymentUnpaid,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := e.Bookings.InsertBooking(ctx, b); err != nil {
		return nil, err
	}
	observability.BookingsCreated.WithLabelValues(string(b.Tier)).Inc()
	e.logger().Info("booking created", "booking_id", b.ID, "customer_id", customerID, "tier", b.Tier, "price", price)
	return b, nil
}

func validateRequest(req Request) error {
	switch {
	case req.Tier == "":
		return apperr.New(apperr.InvalidArgument, "motorType is required")
	case !req.Tier.Valid():
		return apperr.Errorf(apperr.InvalidArgument, "unknown motorType %q", req.Tier)
	case req.PickupTime == nil || req.PickupTime.IsZero():
		return apperr.New(apperr.InvalidArgument, "pickupTime is required")
	case strings.TrimSpace(req.PickupLocation) == "":
		return apperr.New(apperr.InvalidArgument, "pickupLocation is required")
	case strings.TrimSpace(req.Destination) == "":
		return apperr.New(apperr.InvalidArgument, "destination is required")
	}
	if req.PickupPoint != nil {
		if err := geo.Validate(*req.PickupPoint); err != nil {
			return apperr.Wrap(apperr.InvalidArgument, err, "pickupPoint")
		}
	}
	if req.DestinationPoint != nil {
		if err := geo.Validate(*req.DestinationPoint); err != nil {
			return apperr.Wrap(apperr.InvalidArgument, err, "destinationPoint")
		}
	}
	return nil
}

// Get returns a booking the caller may see. Bookings outside the caller's
// reach are reported as not found.
func (e *Engine) Get(ctx context.Context, id, callerID string) (*models.Booking, error) {
	caller, err := e.Actors.Require(ctx, callerID)
	if err != nil {
		return nil, err
	}
	b, err := e.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !relationOf(caller, b).any() {
		return nil, apperr.Errorf(apperr.NotFound, "booking %s not found", id)
	}
	return b, nil
}

// List returns the caller's bookings, newest first: every booking for an
// admin, assigned ones for a driver, own ones for a customer.
func (e *Engine) List(ctx context.Context, callerID string) ([]*models.Booking, error) {
	caller, err := e.Actors.Require(ctx, callerID)
	if err != nil {
		return nil, err
	}
	var q storage.BookingQuery
	switch caller.Role {
	case models.RoleCustomer:
		q.CustomerID = caller.ID
	case models.RoleDriver:
		q.DriverID = caller.ID
	}
	return e.Bookings.FindBookings(ctx, q)
}

func relationOf(caller *models.User, b *models.Booking) relation {
	return relation{
		owner:  caller.ID == b.CustomerID,
		admin:  caller.Role.IsAdmin(),
		driver: caller.Role.CanDrive() && b.DriverID != "" && caller.ID == b.DriverID,
	}
}

func (e *Engine) Update(ctx context.Context, id, callerID string, patch models.BookingPatch) (*models.Booking, error) {
	fields := patch.Fields()
	if len(fields) == 0 {
		return nil, apperr.New(apperr.InvalidArgument, "nothing to update")
	}
	caller, err := e.Actors.Require(ctx, callerID)
	if err != nil {
		return nil, err
	}
	b, err := e.load(ctx, id)
	if err != nil {
		return nil, err
	}
	rel := relationOf(caller, b)
	if !rel.any() {
		return nil, apperr.New(apperr.Forbidden, "not allowed to modify this booking")
	}

	pendingOnly := false
	for _, f := range fields {
		g, ok := permissions[f]
		if !ok {
			return nil, apperr.Errorf(apperr.Forbidden, "%s cannot be changed", f)
		}
		if !g.allows(rel) {
			return nil, apperr.Errorf(apperr.Forbidden, "role %s may not change %s", caller.Role, f)
		}
		pendingOnly = pendingOnly || g.pendingOnly
	}
	if err := validatePatch(patch); err != nil {
		return nil, err
	}
	if pendingOnly && b.Status != models.StatusPending {
		return nil, apperr.Errorf(apperr.Conflict, "trip details are fixed once the booking is %s", b.Status)
	}

	from := b.Status
	if patch.Status != nil {
		to := *patch.Status
		switch {
		case to == from:
			patch.Status = nil
		case to == models.StatusAccepted:
			return nil, apperr.New(apperr.Conflict, "bookings are accepted through the driver accept flow")
		case !models.CanTransition(from, to):
			return nil, apperr.Errorf(apperr.Conflict, "cannot move booking from %s to %s", from, to)
		}
	}
	if patch.PickupLocation != nil {
		v := strings.TrimSpace(*patch.PickupLocation)
		patch.PickupLocation = &v
	}
	if patch.Destination != nil {
		v := strings.TrimSpace(*patch.Destination)
		patch.Destination = &v
	}

	updated, err := e.Bookings.UpdateBooking(ctx, id, from, patch, e.now())
	if err != nil {
		return nil, casErr(err, id, "booking was modified concurrently")
	}
	if updated.Status != from {
		e.Notify.StatusChanged(ctx, updated, from)
	}
	return updated, nil
}

func validatePatch(p models.BookingPatch) error {
	if p.PickupLocation != nil && strings.TrimSpace(*p.PickupLocation) == "" {
		return apperr.New(apperr.InvalidArgument, "pickupLocation cannot be empty")
	}
	if p.Destination != nil && strings.TrimSpace(*p.Destination) == "" {
		return apperr.New(apperr.InvalidArgument, "destination cannot be empty")
	}
	if p.PickupTime != nil && p.PickupTime.IsZero() {
		return apperr.New(apperr.InvalidArgument, "pickupTime cannot be empty")
	}
	if p.Tier != nil && !p.Tier.Valid() {
		return apperr.Errorf(apperr.InvalidArgument, "unknown motorType %q", *p.Tier)
	}
	if p.Status != nil && !p.Status.Valid() {
		return apperr.Errorf(apperr.InvalidArgument, "unknown status %q", *p.Status)
	}
	if p.PaymentStatus != nil && !p.PaymentStatus.Valid() {
		return apperr.Errorf(apperr.InvalidArgument, "unknown paymentStatus %q", *p.PaymentStatus)
	}
	return nil
}

func (e *Engine) Cancel(ctx context.Context, id, callerID string) (*models.Booking, error) {
	caller, err := e.Actors.Require(ctx, callerID)
	if err != nil {
		return nil, err
	}
	b, err := e.load(ctx, id)
	if err != nil {
		return nil, err
	}
	rel := relationOf(caller, b)
	if !rel.owner && !rel.admin {
		return nil, apperr.New(apperr.Forbidden, "only the customer or an admin may cancel")
	}
	if b.Status != models.StatusPending {
		return nil, apperr.Errorf(apperr.Conflict, "booking is %s and can no longer be cancelled", b.Status)
	}
	st := models.StatusCancelled
	updated, err := e.Bookings.UpdateBooking(ctx, id, models.StatusPending, models.BookingPatch{Status: &st}, e.now())
	if err != nil {
		return nil, casErr(err, id, "booking was matched before it could be cancelled")
	}
	e.logger().Info("booking cancelled", "booking_id", id, "by", callerID)
	e.Notify.StatusChanged(ctx, updated, models.StatusPending)
	return updated, nil
}

// Rate stores the customer's score once and then recomputes the driver's
// aggregate from every rated booking. The recompute is not atomic with
// the rating; a concurrent rating of another booking can leave a stale
// mean until the next recompute.
func (e *Engine) Rate(ctx context.Context, id, callerID string, score int, review string) (*models.Booking, error) {
	if score < 1 || score > 5 {
		return nil, apperr.New(apperr.InvalidArgument, "rating must be between 1 and 5")
	}
	b, err := e.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if b.CustomerID != callerID {
		return nil, apperr.New(apperr.Forbidden, "only the customer may rate this booking")
	}
	if b.Status != models.StatusCompleted {
		return nil, apperr.New(apperr.Conflict, "only completed bookings can be rated")
	}
	if b.Rated() {
		return nil, apperr.New(apperr.Conflict, "booking already rated")
	}
	updated, err := e.Bookings.SetRating(ctx, id, models.Rating{Score: score, Review: strings.TrimSpace(review)}, e.now())
	if err != nil {
		return nil, casErr(err, id, "booking already rated")
	}
	observability.RatingsSubmitted.Inc()
	if err := e.recomputeRating(ctx, updated.DriverID); err != nil {
		e.logger().Warn("driver rating recompute failed", "driver_id", updated.DriverID, "error", err)
	}
	return updated, nil
}

func (e *Engine) recomputeRating(ctx context.Context, driverID string) error {
	sum, count, err := e.Bookings.DriverScores(ctx, driverID)
	if err != nil || count == 0 {
		return err
	}
	return e.Drivers.SetDriverRating(ctx, driverID, float64(sum)/float64(count))
}

// Pay settles a completed booking: the fare is held with the provider,
// the booking is flipped to paid, and only then is the hold captured.
// Losing the paid flip releases the hold.
func (e *Engine) Pay(ctx context.Context, id, callerID string) (*models.Booking, error) {
	b, err := e.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if b.CustomerID != callerID {
		return nil, apperr.New(apperr.Forbidden, "only the customer may pay for this booking")
	}
	if b.Status != models.StatusCompleted {
		return nil, apperr.New(apperr.Conflict, "only completed bookings can be paid")
	}
	if b.PaymentStatus == models.PaymentPaid {
		return nil, apperr.New(apperr.Conflict, "booking already paid")
	}

	// provider amounts are in minor units
	ref, err := e.Payments.Hold(ctx, b.EstimatedPrice*100, e.Currency, b.ID)
	if err != nil {
		observability.Payments.WithLabelValues("hold_failed").Inc()
		return nil, err
	}
	updated, err := e.Bookings.MarkPaid(ctx, id, ref, e.now())
	if err != nil {
		if cerr := e.Payments.Cancel(ctx, ref); cerr != nil {
			e.logger().Error("payment hold release failed", "booking_id", id, "ref", ref, "error", cerr)
		}
		observability.Payments.WithLabelValues("conflict").Inc()
		return nil, casErr(err, id, "booking already paid")
	}
	if err := e.Payments.Capture(ctx, ref); err != nil {
		// the booking stays paid; the hold is reconciled from the logs
		observability.Payments.WithLabelValues("capture_failed").Inc()
		e.logger().Error("payment capture failed", "booking_id", id, "ref", ref, "error", err)
		return updated, nil
	}
	observability.Payments.WithLabelValues("captured").Inc()
	e.logger().Info("booking paid", "booking_id", id, "ref", ref, "amount", b.EstimatedPrice)
	return updated, nil
}
