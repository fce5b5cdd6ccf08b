// Package identity owns actors: registration, credentials, role checks
// and the driver-only profile updates.
package identity

import (
	"context"
	"errors"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/example/ride-booking/internal/apperr"
	"github.com/example/ride-booking/internal/geo"
	"github.com/example/ride-booking/internal/models"
	"github.com/example/ride-booking/internal/observability"
	"github.com/example/ride-booking/internal/storage"
)

const minPasswordLen = 6

// LocationSink receives driver location pings for downstream consumers.
type LocationSink interface {
	PublishLocation(ctx context.Context, loc models.DriverLocation) error
}

type Directory struct {
	Store   storage.UserStore
	Tokens  *Tokens
	Locator geo.Locator
	Pings   LocationSink
	Logger  *slog.Logger

	// HashCost defaults to bcrypt.DefaultCost.
	HashCost int
	Now      func() time.Time
}

// Registration is the sign-up payload. The driver fields are required
// for RegisterDriver and ignored otherwise.
type Registration struct {
	Name          string      `json:"name"`
	Email         string      `json:"email"`
	Phone         string      `json:"phone"`
	Password      string      `json:"password"`
	Tier          models.Tier `json:"motorType"`
	VehicleModel  string      `json:"motorModel"`
	LicenseNumber string      `json:"licenseNumber"`
}

// Session is what a successful sign-up or login hands back.
type Session struct {
	User  *models.User `json:"user"`
	Token string       `json:"token"`
}

func (d *Directory) now() time.Time {
	if d.Now != nil {
		return d.Now().UTC()
	}
	return time.Now().UTC()
}

func (d *Directory) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

func (d *Directory) lookup(ctx context.Context, id string) (*models.User, error) {
	u, err := d.Store.User(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, apperr.Errorf(apperr.NotFound, "actor %s not found", id)
	}
	return u, err
}

// ActorRole returns the role of id.
func (d *Directory) ActorRole(ctx context.Context, id string) (models.Role, error) {
	u, err := d.lookup(ctx, id)
	if err != nil {
		return "", err
	}
	return u.Role, nil
}

// Require loads id and checks it holds one of roles. An empty roles list
// only checks the actor exists.
func (d *Directory) Require(ctx context.Context, id string, roles ...models.Role) (*models.User, error) {
	u, err := d.lookup(ctx, id)
	if err != nil {
		return nil, err
	}
	if len(roles) == 0 {
		return u, nil
	}
	for _, r := range roles {
		if u.Role == r {
			return u, nil
		}
	}
	return nil, apperr.Errorf(apperr.Forbidden, "role %s may not perform this action", u.Role)
}

func (d *Directory) RegisterCustomer(ctx context.Context, r Registration) (*Session, error) {
	return d.register(ctx, r, models.RoleCustomer, nil)
}

func (d *Directory) RegisterDriver(ctx context.Context, r Registration) (*Session, error) {
	return d.register(ctx, r, models.RoleDriver, models.NewDriverProfile(r.Tier, strings.TrimSpace(r.VehicleModel), strings.TrimSpace(r.LicenseNumber)))
}

// EnsureAdmin creates an administrator with the given credentials unless
// the email is already registered.
func (d *Directory) EnsureAdmin(ctx context.Context, email, password string) error {
	_, err := d.register(ctx, Registration{Name: "admin", Email: email, Password: password}, models.RoleAdmin, nil)
	if apperr.Is(err, apperr.Conflict) {
		return nil
	}
	return err
}

func (d *Directory) register(ctx context.Context, r Registration, role models.Role, profile *models.DriverProfile) (*Session, error) {
	if err := validateRegistration(r); err != nil {
		return nil, err
	}
	u := &models.User{
		ID:        uuid.NewString(),
		Name:      strings.TrimSpace(r.Name),
		Email:     strings.ToLower(strings.TrimSpace(r.Email)),
		Phone:     strings.TrimSpace(r.Phone),
		Role:      role,
		Driver:    profile,
		CreatedAt: d.now(),
	}
	if err := u.Validate(); err != nil {
		return nil, apperr.Wrap(apperr.InvalidArgument, err, "invalid registration")
	}
	cost := d.HashCost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(r.Password), cost)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, err, "hash password")
	}
	u.PasswordHash = string(hash)

	if err := d.Store.InsertUser(ctx, u); err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			return nil, apperr.New(apperr.Conflict, "email already registered")
		}
		return nil, err
	}
	d.logger().Info("actor registered", "actor_id", u.ID, "role", u.Role)
	return d.session(u)
}

func validateRegistration(r Registration) error {
	if strings.TrimSpace(r.Name) == "" {
		return apperr.New(apperr.InvalidArgument, "name is required")
	}
	if _, err := mail.ParseAddress(strings.TrimSpace(r.Email)); err != nil {
		return apperr.New(apperr.InvalidArgument, "a valid email is required")
	}
	if len(r.Password) < minPasswordLen {
		return apperr.Errorf(apperr.InvalidArgument, "password must be at least %d characters", minPasswordLen)
	}
	return nil
}

func (d *Directory) session(u *models.User) (*Session, error) {
	tok, err := d.Tokens.Issue(u.ID)
	if err != nil {
		return nil, err
	}
	return &Session{User: u, Token: tok}, nil
}

var errBadCredentials = apperr.New(apperr.Unauthenticated, "invalid email or password")

func (d *Directory) Login(ctx context.Context, email, password string) (*Session, error) {
	u, err := d.Store.UserByEmail(ctx, strings.TrimSpace(email))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, errBadCredentials
	}
	if err != nil {
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return nil, errBadCredentials
	}
	return d.session(u)
}

// Authenticate verifies a bearer token and loads its actor.
func (d *Directory) Authenticate(ctx context.Context, token string) (*models.User, error) {
	id, err := d.Tokens.Verify(token)
	if err != nil {
		return nil, err
	}
	u, err := d.Store.User(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, apperr.New(apperr.Unauthenticated, "actor no longer exists")
	}
	return u, err
}

func (d *Directory) Me(ctx context.Context, id string) (*models.User, error) {
	return d.lookup(ctx, id)
}

func (d *Directory) ListUsers(ctx context.Context, callerID string) ([]*models.User, error) {
	if _, err := d.Require(ctx, callerID, models.RoleAdmin); err != nil {
		return nil, err
	}
	return d.Store.ListUsers(ctx)
}

func (d *Directory) SetAvailability(ctx context.Context, driverID string, available bool) (*models.User, error) {
	if _, err := d.Require(ctx, driverID, models.RoleDriver); err != nil {
		return nil, err
	}
	u, err := d.Store.SetAvailability(ctx, driverID, available)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, apperr.Errorf(apperr.NotFound, "driver %s not found", driverID)
	}
	return u, err
}

// UpdateLocation records a driver's position. The stored profile is the
// source of truth; the location index and the ping stream are updated
// best effort after it.
func (d *Directory) UpdateLocation(ctx context.Context, driverID string, loc models.Coord) error {
	if err := geo.Validate(loc); err != nil {
		return err
	}
	if _, err := d.Require(ctx, driverID, models.RoleDriver); err != nil {
		return err
	}
	if err := d.Store.SetLocation(ctx, driverID, loc); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return apperr.Errorf(apperr.NotFound, "driver %s not found", driverID)
		}
		return err
	}
	observability.LocationPings.Inc()

	ping := models.DriverLocation{ID: driverID, Loc: loc, Updated: d.now()}
	if d.Locator != nil {
		if err := d.Locator.Tag(ctx, ping); err != nil {
			d.logger().Warn("location index update failed", "driver_id", driverID, "error", err)
		}
	}
	if d.Pings != nil {
		if err := d.Pings.PublishLocation(ctx, ping); err != nil {
			d.logger().Warn("location ping publish failed", "driver_id", driverID, "error", err)
		}
	}
	return nil
}
