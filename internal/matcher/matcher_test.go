package matcher

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/example/ride-booking/internal/apperr"
	"github.com/example/ride-booking/internal/booking"
	"github.com/example/ride-booking/internal/events"
	"github.com/example/ride-booking/internal/identity"
	"github.com/example/ride-booking/internal/models"
	"github.com/example/ride-booking/internal/payments"
	"github.com/example/ride-booking/internal/pricing"
	"github.com/example/ride-booking/internal/storage"
)

type world struct {
	store    *storage.MemoryStore
	matcher  *Service
	bookings *booking.Engine
	events   *events.Recorder
}

func newWorld(t *testing.T) *world {
	t.Helper()
	store := storage.NewMemoryStore()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	rec := &events.Recorder{}
	notify := &events.Notifier{Publisher: rec, Logger: logger}
	actors := &identity.Directory{Store: store, Logger: logger}
	w := &world{store: store, events: rec}
	w.matcher = &Service{Bookings: store, Drivers: store, Actors: actors, Notify: notify, Logger: logger}
	w.bookings = &booking.Engine{
		Bookings: store, Drivers: store, Actors: actors,
		Pricer:   pricing.NewEstimator(rand.NewSource(3), 0),
		Payments: payments.NewCash(), Currency: "idr",
		Notify: notify, Logger: logger,
	}
	w.user(t, "C", models.RoleCustomer, "")
	return w
}

func (w *world) user(t *testing.T, id string, role models.Role, tier models.Tier) {
	t.Helper()
	u := &models.User{ID: id, Name: id, Email: id + "@example.com", Role: role, CreatedAt: time.Now()}
	if role == models.RoleDriver {
		u.Driver = models.NewDriverProfile(tier, "Beat", "L-"+id)
	}
	if err := w.store.InsertUser(context.Background(), u); err != nil {
		t.Fatal(err)
	}
}

func (w *world) book(t *testing.T, tier models.Tier) *models.Booking {
	t.Helper()
	at := time.Now().Add(time.Hour)
	b, err := w.bookings.Create(context.Background(), "C", booking.Request{
		PickupLocation: "Gejayan", Destination: "Bandara YIA", Tier: tier, PickupTime: &at,
	})
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func TestConcurrentAcceptSingleWinner(t *testing.T) {
	ctx := context.Background()
	w := newWorld(t)
	const n = 20
	for i := 0; i < n; i++ {
		w.user(t, fmt.Sprintf("D%d", i), models.RoleDriver, models.TierStandar)
	}
	b := w.book(t, models.TierStandar)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		winners   []string
		conflicts int
	)
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			<-start
			_, err := w.matcher.Accept(ctx, b.ID, id)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				winners = append(winners, id)
			case apperr.Is(err, apperr.Conflict):
				conflicts++
			default:
				t.Errorf("driver %s: unexpected %v", id, err)
			}
		}(fmt.Sprintf("D%d", i))
	}
	close(start)
	wg.Wait()

	if len(winners) != 1 || conflicts != n-1 {
		t.Fatalf("winners=%v conflicts=%d", winners, conflicts)
	}
	got, _ := w.store.Booking(ctx, b.ID)
	if got.DriverID != winners[0] || got.Status != models.StatusAccepted {
		t.Fatalf("booking %+v, winner %s", got, winners[0])
	}
}

func TestTierMismatchThenMatch(t *testing.T) {
	ctx := context.Background()
	w := newWorld(t)
	w.user(t, "D1", models.RoleDriver, models.TierStandar)
	w.user(t, "D2", models.RoleDriver, models.TierComfort)
	b := w.book(t, models.TierStandar)

	if _, err := w.matcher.Accept(ctx, b.ID, "D2"); !apperr.Is(err, apperr.Conflict) {
		t.Fatalf("comfort driver on standar booking: %v", err)
	}
	got, err := w.matcher.Accept(ctx, b.ID, "D1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != models.StatusAccepted || got.DriverID != "D1" {
		t.Fatalf("unexpected %+v", got)
	}
	d1, _ := w.store.User(ctx, "D1")
	if d1.Driver.TotalTrips != 1 {
		t.Fatalf("trip counter = %d", d1.Driver.TotalTrips)
	}
	d2, _ := w.store.User(ctx, "D2")
	if d2.Driver.TotalTrips != 0 {
		t.Fatalf("losing driver counted a trip")
	}
}

func TestFullRideThenRate(t *testing.T) {
	ctx := context.Background()
	w := newWorld(t)
	w.user(t, "D1", models.RoleDriver, models.TierStandar)

	earlier := w.book(t, models.TierStandar)
	if _, err := w.matcher.Accept(ctx, earlier.ID, "D1"); err != nil {
		t.Fatal(err)
	}
	for _, st := range models.DriverProgression {
		if _, err := w.matcher.Advance(ctx, earlier.ID, "D1", st); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := w.bookings.Rate(ctx, earlier.ID, "C", 5, ""); err != nil {
		t.Fatal(err)
	}

	b := w.book(t, models.TierStandar)
	if _, err := w.matcher.Accept(ctx, b.ID, "D1"); err != nil {
		t.Fatal(err)
	}
	for _, st := range []models.Status{models.StatusOnTheWay, models.StatusPickedUp, models.StatusCompleted} {
		if _, err := w.matcher.Advance(ctx, b.ID, "D1", st); err != nil {
			t.Fatalf("advance to %s: %v", st, err)
		}
	}
	if _, err := w.bookings.Rate(ctx, b.ID, "C", 4, "ok"); err != nil {
		t.Fatal(err)
	}
	d1, _ := w.store.User(ctx, "D1")
	if d1.Driver.Rating != 4.5 {
		t.Fatalf("rating = %v, want 4.5", d1.Driver.Rating)
	}

	want := []events.Type{events.TypeStatusUpdate, events.TypeStatusUpdate, events.TypeStatusUpdate, events.TypeStatusUpdate}
	if got := w.events.Types(b.ID); len(got) != len(want) {
		t.Fatalf("events %v", got)
	}
	hist, _ := w.matcher.History(ctx, "D1")
	active, _ := w.matcher.Active(ctx, "D1")
	if len(hist) != 2 || len(active) != 0 {
		t.Fatalf("history=%d active=%d", len(hist), len(active))
	}
}

func TestAdvanceErrors(t *testing.T) {
	ctx := context.Background()
	w := newWorld(t)
	w.user(t, "D1", models.RoleDriver, models.TierHemat)
	w.user(t, "D2", models.RoleDriver, models.TierHemat)
	b := w.book(t, models.TierHemat)
	w.matcher.Accept(ctx, b.ID, "D1")

	cases := []struct {
		name   string
		id     string
		driver string
		next   models.Status
		kind   apperr.Kind
	}{
		{"not a driver state", b.ID, "D1", models.StatusCancelled, apperr.InvalidArgument},
		{"unknown state", b.ID, "D1", "teleported", apperr.InvalidArgument},
		{"missing booking", "nope", "D1", models.StatusOnTheWay, apperr.NotFound},
		{"other driver", b.ID, "D2", models.StatusOnTheWay, apperr.Forbidden},
		{"skip ahead", b.ID, "D1", models.StatusPickedUp, apperr.Conflict},
	}
	for _, c := range cases {
		if _, err := w.matcher.Advance(ctx, c.id, c.driver, c.next); apperr.KindOf(err) != c.kind {
			t.Errorf("%s: got %v want %s", c.name, err, c.kind)
		}
	}
	got, _ := w.store.Booking(ctx, b.ID)
	if got.Status != models.StatusAccepted {
		t.Fatalf("failed advances changed status to %s", got.Status)
	}
}

func TestAcceptPreconditions(t *testing.T) {
	ctx := context.Background()
	w := newWorld(t)
	w.user(t, "D1", models.RoleDriver, models.TierHemat)
	b := w.book(t, models.TierHemat)

	if _, err := w.matcher.Accept(ctx, b.ID, "C"); !apperr.Is(err, apperr.Forbidden) {
		t.Fatalf("customer accepting: %v", err)
	}
	if _, err := w.matcher.Accept(ctx, "missing", "D1"); !apperr.Is(err, apperr.NotFound) {
		t.Fatalf("missing booking: %v", err)
	}
	w.store.SetAvailability(ctx, "D1", false)
	if _, err := w.matcher.Accept(ctx, b.ID, "D1"); !apperr.Is(err, apperr.Conflict) {
		t.Fatalf("unavailable driver: %v", err)
	}
	w.store.SetAvailability(ctx, "D1", true)

	w.bookings.Cancel(ctx, b.ID, "C")
	if _, err := w.matcher.Accept(ctx, b.ID, "D1"); !apperr.Is(err, apperr.Conflict) {
		t.Fatalf("cancelled booking: %v", err)
	}
}

func TestListRequestsFiltersByTier(t *testing.T) {
	ctx := context.Background()
	w := newWorld(t)
	w.user(t, "D1", models.RoleDriver, models.TierComfort)
	w.user(t, "D2", models.RoleDriver, models.TierComfort)
	w.book(t, models.TierHemat)
	open := w.book(t, models.TierComfort)
	taken := w.book(t, models.TierComfort)
	w.matcher.Accept(ctx, taken.ID, "D2")

	reqs, err := w.matcher.ListRequests(ctx, "D1")
	if err != nil {
		t.Fatal(err)
	}
	if len(reqs) != 1 || reqs[0].ID != open.ID {
		t.Fatalf("requests %v", reqs)
	}
	if _, err := w.matcher.ListRequests(ctx, "C"); !apperr.Is(err, apperr.Forbidden) {
		t.Fatalf("customer listing requests: %v", err)
	}
	active, _ := w.matcher.Active(ctx, "D2")
	if len(active) != 1 || active[0].ID != taken.ID {
		t.Fatalf("active %v", active)
	}
}
