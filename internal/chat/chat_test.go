package chat

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/example/ride-booking/internal/apperr"
	"github.com/example/ride-booking/internal/events"
	"github.com/example/ride-booking/internal/models"
	"github.com/example/ride-booking/internal/storage"
)

func newService(t *testing.T) (*Service, *storage.MemoryStore, *events.Recorder) {
	t.Helper()
	store := storage.NewMemoryStore()
	rec := &events.Recorder{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clock := time.Date(2026, 2, 2, 10, 0, 0, 0, time.UTC)
	s := &Service{
		Bookings: store,
		Chats:    store,
		Notify:   &events.Notifier{Publisher: rec, Logger: logger},
		Logger:   logger,
		Now: func() time.Time {
			clock = clock.Add(time.Second)
			return clock
		},
	}
	ctx := context.Background()
	for _, b := range []*models.Booking{
		{ID: "matched", CustomerID: "C", DriverID: "D", Status: models.StatusAccepted, Tier: models.TierHemat},
		{ID: "open", CustomerID: "C", Status: models.StatusPending, Tier: models.TierHemat},
	} {
		if err := store.InsertBooking(ctx, b); err != nil {
			t.Fatal(err)
		}
	}
	return s, store, rec
}

func TestPostHistoryMarkReadRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, _, rec := newService(t)

	if _, err := s.Post(ctx, "matched", "C", "  sudah di depan?  "); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Post(ctx, "matched", "D", "otw"); err != nil {
		t.Fatal(err)
	}

	msgs, err := s.History(ctx, "matched", "D")
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 || msgs[0].Content != "sudah di depan?" || msgs[0].Read || msgs[1].Read {
		t.Fatalf("history %+v", msgs)
	}

	n, err := s.MarkRead(ctx, "matched", "D")
	if err != nil || n != 1 {
		t.Fatalf("markRead n=%d err=%v", n, err)
	}
	msgs, _ = s.History(ctx, "matched", "C")
	if !msgs[0].Read {
		t.Fatal("customer message should be read by the driver")
	}
	if msgs[1].Read {
		t.Fatal("driver's own message must stay unread")
	}
	if n, _ := s.MarkRead(ctx, "matched", "D"); n != 0 {
		t.Fatalf("second markRead flipped %d", n)
	}
	if types := rec.Types("matched"); len(types) != 2 || types[0] != events.TypeMessage {
		t.Fatalf("events %v", types)
	}
}

func TestPostRejections(t *testing.T) {
	ctx := context.Background()
	s, _, _ := newService(t)
	cases := []struct {
		name, booking, sender, text string
		kind                        apperr.Kind
	}{
		{"blank", "matched", "C", " \n\t", apperr.InvalidArgument},
		{"missing booking", "ghost", "C", "hi", apperr.NotFound},
		{"outsider", "matched", "X", "hi", apperr.Forbidden},
		{"unmatched", "open", "C", "hi", apperr.Conflict},
		{"too long", "matched", "C", strings.Repeat("é", MaxMessageLen+1), apperr.InvalidArgument},
	}
	for _, c := range cases {
		if _, err := s.Post(ctx, c.booking, c.sender, c.text); apperr.KindOf(err) != c.kind {
			t.Errorf("%s: got %v want %s", c.name, err, c.kind)
		}
	}
}

func TestMessageLimitCountsCharacters(t *testing.T) {
	ctx := context.Background()
	s, _, _ := newService(t)

	text := strings.Repeat("é", MaxMessageLen)
	m, err := s.Post(ctx, "matched", "C", text)
	if err != nil {
		t.Fatalf("%d two-byte characters should fit: %v", MaxMessageLen, err)
	}
	if m.Content != text {
		t.Fatal("content altered")
	}
}

func TestOpenIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s, _, _ := newService(t)

	if _, err := s.Open(ctx, "open"); !apperr.Is(err, apperr.Conflict) {
		t.Fatalf("open before match: %v", err)
	}
	first, err := s.Open(ctx, "matched")
	if err != nil {
		t.Fatal(err)
	}
	s.Post(ctx, "matched", "C", "halo")
	second, err := s.Open(ctx, "matched")
	if err != nil {
		t.Fatal(err)
	}
	if !second.CreatedAt.Equal(first.CreatedAt) || len(second.Messages) != 1 {
		t.Fatalf("open recreated the conversation: %+v", second)
	}
	if !second.LastUpdated.After(first.LastUpdated) {
		t.Fatal("lastUpdated should advance on post")
	}
}

func TestHistoryAndFetch(t *testing.T) {
	ctx := context.Background()
	s, _, _ := newService(t)

	if _, err := s.History(ctx, "matched", "X"); !apperr.Is(err, apperr.Forbidden) {
		t.Fatalf("outsider history: %v", err)
	}
	msgs, err := s.History(ctx, "matched", "C")
	if err != nil || len(msgs) != 0 {
		t.Fatalf("empty history %v %v", msgs, err)
	}
	if _, err := s.Fetch(ctx, "open", "C"); !apperr.Is(err, apperr.NotFound) {
		t.Fatalf("fetch before match: %v", err)
	}

	s.Post(ctx, "matched", "D", "saya sudah sampai")
	c, err := s.Fetch(ctx, "matched", "C")
	if err != nil {
		t.Fatal(err)
	}
	if len(c.Messages) != 1 || !c.Messages[0].Read {
		t.Fatalf("fetch should mark incoming messages read: %+v", c.Messages)
	}

	mine, _ := s.Mine(ctx, "D")
	if len(mine) != 1 || mine[0].BookingID != "matched" {
		t.Fatalf("mine %+v", mine)
	}
	if err := s.CanJoin(ctx, "X", "matched"); !apperr.Is(err, apperr.Forbidden) {
		t.Fatalf("outsider joining: %v", err)
	}
}
