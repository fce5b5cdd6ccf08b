package booking

import (
	"context"
	"io"
	"log/slog"
	"math/rand"
	"testing"
	"time"

	"github.com/example/ride-booking/internal/apperr"
	"github.com/example/ride-booking/internal/events"
	"github.com/example/ride-booking/internal/identity"
	"github.com/example/ride-booking/internal/models"
	"github.com/example/ride-booking/internal/payments"
	"github.com/example/ride-booking/internal/pricing"
	"github.com/example/ride-booking/internal/storage"
)

var now = time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)

type fixture struct {
	store  *storage.MemoryStore
	engine *Engine
	events *events.Recorder
	cash   *payments.Cash
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := storage.NewMemoryStore()
	rec := &events.Recorder{}
	cash := payments.NewCash()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f := &fixture{store: store, events: rec, cash: cash}
	f.engine = &Engine{
		Bookings: store,
		Drivers:  store,
		Actors:   &identity.Directory{Store: store, Logger: logger},
		Pricer:   pricing.NewEstimator(rand.NewSource(1), 0),
		Payments: cash,
		Currency: "idr",
		Notify:   &events.Notifier{Publisher: rec, Logger: logger},
		Logger:   logger,
		Now:      func() time.Time { return now },
	}
	f.addUser(t, "c1", models.RoleCustomer, "")
	f.addUser(t, "c2", models.RoleCustomer, "")
	f.addUser(t, "a1", models.RoleAdmin, "")
	f.addUser(t, "d1", models.RoleDriver, models.TierStandar)
	f.addUser(t, "d2", models.RoleDriver, models.TierStandar)
	return f
}

func (f *fixture) addUser(t *testing.T, id string, role models.Role, tier models.Tier) {
	t.Helper()
	u := &models.User{ID: id, Name: id, Email: id + "@example.com", Role: role, CreatedAt: now}
	if role == models.RoleDriver {
		u.Driver = models.NewDriverProfile(tier, "Vario", "AB"+id)
	}
	if err := f.store.InsertUser(context.Background(), u); err != nil {
		t.Fatal(err)
	}
}

func (f *fixture) create(t *testing.T) *models.Booking {
	t.Helper()
	pickup := now.Add(time.Hour)
	b, err := f.engine.Create(context.Background(), "c1", Request{
		PickupLocation: "Stasiun Tugu", Destination: "Prambanan", Tier: models.TierStandar, PickupTime: &pickup,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	return b
}

// drive takes a booking through accept and up to status using the store.
func (f *fixture) drive(t *testing.T, id, driverID string, to models.Status) {
	t.Helper()
	ctx := context.Background()
	if _, err := f.store.AssignDriver(ctx, id, driverID, models.TierStandar, now); err != nil {
		t.Fatal(err)
	}
	for cur := models.StatusAccepted; cur != to; {
		next, _ := cur.Next()
		if _, err := f.store.UpdateBooking(ctx, id, cur, models.BookingPatch{Status: &next}, now); err != nil {
			t.Fatal(err)
		}
		cur = next
	}
}

func ptr[T any](v T) *T { return &v }

func TestCreate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	b := f.create(t)
	if b.Status != models.StatusPending || b.DriverID != "" || b.PaymentStatus != models.PaymentUnpaid {
		t.Fatalf("unexpected booking %+v", b)
	}
	if b.EstimatedPrice < 20000 || b.EstimatedPrice >= 40000 {
		t.Fatalf("price %d outside standar range", b.EstimatedPrice)
	}

	pickup := now
	cases := []struct {
		name   string
		caller string
		req    Request
		kind   apperr.Kind
	}{
		{"driver cannot book", "d1", Request{PickupLocation: "A", Destination: "B", Tier: models.TierHemat, PickupTime: &pickup}, apperr.Forbidden},
		{"admin cannot book", "a1", Request{PickupLocation: "A", Destination: "B", Tier: models.TierHemat, PickupTime: &pickup}, apperr.Forbidden},
		{"missing tier", "c1", Request{PickupLocation: "A", Destination: "B", PickupTime: &pickup}, apperr.InvalidArgument},
		{"unknown tier", "c1", Request{PickupLocation: "A", Destination: "B", Tier: "sport", PickupTime: &pickup}, apperr.InvalidArgument},
		{"missing time", "c1", Request{PickupLocation: "A", Destination: "B", Tier: models.TierHemat}, apperr.InvalidArgument},
		{"blank pickup", "c1", Request{PickupLocation: " ", Destination: "B", Tier: models.TierHemat, PickupTime: &pickup}, apperr.InvalidArgument},
		{"pickup point off the globe", "c1", Request{PickupLocation: "A", Destination: "B", Tier: models.TierHemat, PickupTime: &pickup,
			PickupPoint: &models.Coord{Lat: 500, Lon: -900}}, apperr.InvalidArgument},
		{"destination point off the globe", "c1", Request{PickupLocation: "A", Destination: "B", Tier: models.TierHemat, PickupTime: &pickup,
			PickupPoint: &models.Coord{Lat: -7.78, Lon: 110.36}, DestinationPoint: &models.Coord{Lat: -7.75, Lon: 181}}, apperr.InvalidArgument},
	}
	for _, c := range cases {
		if _, err := f.engine.Create(ctx, c.caller, c.req); apperr.KindOf(err) != c.kind {
			t.Errorf("%s: got %v want %s", c.name, err, c.kind)
		}
	}
	if list, _ := f.store.FindBookings(ctx, storage.BookingQuery{CustomerID: "c1"}); len(list) != 1 {
		t.Fatalf("rejected requests must not be stored, have %d bookings", len(list))
	}
}

func TestUpdatePermissionTable(t *testing.T) {
	ctx := context.Background()
	cases := []struct {
		name   string
		caller string
		status models.Status // booking state before the patch
		patch  models.BookingPatch
		kind   apperr.Kind // "" means success
	}{
		{"owner edits destination", "c1", models.StatusPending, models.BookingPatch{Destination: ptr("Kaliurang")}, ""},
		{"admin edits tier", "a1", models.StatusPending, models.BookingPatch{Tier: ptr(models.TierComfort)}, ""},
		{"stranger edits", "c2", models.StatusPending, models.BookingPatch{Destination: ptr("X")}, apperr.Forbidden},
		{"unassigned driver edits", "d2", models.StatusAccepted, models.BookingPatch{Status: ptr(models.StatusOnTheWay)}, apperr.Forbidden},
		{"customer changes status", "c1", models.StatusPending, models.BookingPatch{Status: ptr(models.StatusCancelled)}, apperr.Forbidden},
		{"customer marks paid", "c1", models.StatusCompleted, models.BookingPatch{PaymentStatus: ptr(models.PaymentPaid)}, apperr.Forbidden},
		{"driver edits destination", "d1", models.StatusAccepted, models.BookingPatch{Destination: ptr("X")}, apperr.Forbidden},
		{"price is immutable", "a1", models.StatusPending, models.BookingPatch{EstimatedPrice: ptr(int64(1))}, apperr.Forbidden},
		{"customer is immutable", "a1", models.StatusPending, models.BookingPatch{Customer: ptr("c2")}, apperr.Forbidden},
		{"trip details frozen after match", "c1", models.StatusAccepted, models.BookingPatch{PickupTime: ptr(now)}, apperr.Conflict},
		{"driver advances", "d1", models.StatusAccepted, models.BookingPatch{Status: ptr(models.StatusOnTheWay)}, ""},
		{"driver skips a step", "d1", models.StatusAccepted, models.BookingPatch{Status: ptr(models.StatusCompleted)}, apperr.Conflict},
		{"admin cancels pending", "a1", models.StatusPending, models.BookingPatch{Status: ptr(models.StatusCancelled)}, ""},
		{"admin accepts directly", "a1", models.StatusPending, models.BookingPatch{Status: ptr(models.StatusAccepted)}, apperr.Conflict},
		{"admin reopens completed", "a1", models.StatusCompleted, models.BookingPatch{Status: ptr(models.StatusPending)}, apperr.Conflict},
		{"admin marks paid", "a1", models.StatusCompleted, models.BookingPatch{PaymentStatus: ptr(models.PaymentPaid)}, ""},
		{"unknown status", "a1", models.StatusPending, models.BookingPatch{Status: ptr(models.Status("flying"))}, apperr.InvalidArgument},
		{"empty patch", "c1", models.StatusPending, models.BookingPatch{}, apperr.InvalidArgument},
		{"blank destination", "c1", models.StatusPending, models.BookingPatch{Destination: ptr("  ")}, apperr.InvalidArgument},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			f := newFixture(t)
			b := f.create(t)
			if c.status != models.StatusPending {
				f.drive(t, b.ID, "d1", c.status)
			}
			got, err := f.engine.Update(ctx, b.ID, c.caller, c.patch)
			if apperr.KindOf(err) != c.kind {
				t.Fatalf("got %v want %q", err, c.kind)
			}
			if c.kind == "" && got == nil {
				t.Fatal("expected updated booking")
			}
			if c.kind != "" {
				stored, _ := f.store.Booking(ctx, b.ID)
				if stored.Status != c.status {
					t.Fatalf("rejected patch changed status to %s", stored.Status)
				}
			}
		})
	}
}

func TestUpdateMissingBooking(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.Update(context.Background(), "nope", "a1", models.BookingPatch{Destination: ptr("X")})
	if !apperr.Is(err, apperr.NotFound) {
		t.Fatalf("got %v", err)
	}
}

func TestCancel(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	b := f.create(t)
	if _, err := f.engine.Cancel(ctx, b.ID, "c2"); !apperr.Is(err, apperr.Forbidden) {
		t.Fatalf("stranger cancel: %v", err)
	}
	got, err := f.engine.Cancel(ctx, b.ID, "c1")
	if err != nil || got.Status != models.StatusCancelled {
		t.Fatalf("cancel: %+v %v", got, err)
	}
	if _, err := f.engine.Cancel(ctx, b.ID, "c1"); !apperr.Is(err, apperr.Conflict) {
		t.Fatalf("cancel twice: %v", err)
	}

	matched := f.create(t)
	f.drive(t, matched.ID, "d1", models.StatusAccepted)
	if _, err := f.engine.Cancel(ctx, matched.ID, "a1"); !apperr.Is(err, apperr.Conflict) {
		t.Fatalf("cancel after match: %v", err)
	}
	if types := f.events.Types(b.ID); len(types) != 1 || types[0] != events.TypeStatusUpdate {
		t.Fatalf("events %v", types)
	}
}

func TestRateIsWriteOnceAndRecomputesMean(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	first := f.create(t)
	if _, err := f.engine.Rate(ctx, first.ID, "c1", 5, ""); !apperr.Is(err, apperr.Conflict) {
		t.Fatalf("rating a pending booking: %v", err)
	}
	f.drive(t, first.ID, "d1", models.StatusCompleted)

	if _, err := f.engine.Rate(ctx, first.ID, "c1", 6, ""); !apperr.Is(err, apperr.InvalidArgument) {
		t.Fatalf("score 6: %v", err)
	}
	if _, err := f.engine.Rate(ctx, first.ID, "c2", 4, ""); !apperr.Is(err, apperr.Forbidden) {
		t.Fatalf("stranger rating: %v", err)
	}
	if _, err := f.engine.Rate(ctx, first.ID, "c1", 4, "ramah"); err != nil {
		t.Fatal(err)
	}
	if _, err := f.engine.Rate(ctx, first.ID, "c1", 1, ""); !apperr.Is(err, apperr.Conflict) {
		t.Fatalf("second rating: %v", err)
	}
	stored, _ := f.store.Booking(ctx, first.ID)
	if stored.Rating.Score != 4 {
		t.Fatalf("score overwritten: %+v", stored.Rating)
	}

	second := f.create(t)
	f.drive(t, second.ID, "d1", models.StatusCompleted)
	if _, err := f.engine.Rate(ctx, second.ID, "c1", 3, ""); err != nil {
		t.Fatal(err)
	}
	d, _ := f.store.User(ctx, "d1")
	if d.Driver.Rating != 3.5 {
		t.Fatalf("driver mean = %v, want 3.5", d.Driver.Rating)
	}
}

func TestPay(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	b := f.create(t)
	if _, err := f.engine.Pay(ctx, b.ID, "c1"); !apperr.Is(err, apperr.Conflict) {
		t.Fatalf("paying a pending booking: %v", err)
	}
	f.drive(t, b.ID, "d1", models.StatusCompleted)
	if _, err := f.engine.Pay(ctx, b.ID, "d1"); !apperr.Is(err, apperr.Forbidden) {
		t.Fatalf("driver paying: %v", err)
	}
	paid, err := f.engine.Pay(ctx, b.ID, "c1")
	if err != nil {
		t.Fatal(err)
	}
	if paid.PaymentStatus != models.PaymentPaid || paid.PaymentRef == "" {
		t.Fatalf("unexpected booking %+v", paid)
	}
	if got := f.cash.Captured(b.ID); got != b.EstimatedPrice*100 {
		t.Fatalf("captured %d want %d", got, b.EstimatedPrice*100)
	}
	if _, err := f.engine.Pay(ctx, b.ID, "c1"); !apperr.Is(err, apperr.Conflict) {
		t.Fatalf("double payment: %v", err)
	}
}

func TestGetAndListAreScoped(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	b := f.create(t)

	if _, err := f.engine.Get(ctx, b.ID, "c2"); !apperr.Is(err, apperr.NotFound) {
		t.Fatalf("other customer sees booking: %v", err)
	}
	if _, err := f.engine.Get(ctx, b.ID, "d1"); !apperr.Is(err, apperr.NotFound) {
		t.Fatalf("unassigned driver sees booking: %v", err)
	}
	if _, err := f.engine.Get(ctx, b.ID, "a1"); err != nil {
		t.Fatalf("admin: %v", err)
	}
	f.drive(t, b.ID, "d1", models.StatusAccepted)
	if _, err := f.engine.Get(ctx, b.ID, "d1"); err != nil {
		t.Fatalf("assigned driver: %v", err)
	}

	mine, _ := f.engine.List(ctx, "c1")
	theirs, _ := f.engine.List(ctx, "c2")
	all, _ := f.engine.List(ctx, "a1")
	driven, _ := f.engine.List(ctx, "d1")
	if len(mine) != 1 || len(theirs) != 0 || len(all) != 1 || len(driven) != 1 {
		t.Fatalf("mine=%d theirs=%d all=%d driven=%d", len(mine), len(theirs), len(all), len(driven))
	}
}
