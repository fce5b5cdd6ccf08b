package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/example/ride-booking/internal/geo"
	"github.com/example/ride-booking/internal/logging"
	"github.com/example/ride-booking/internal/models"
)

// flakyLocator fails the first n Tag calls.
type flakyLocator struct {
	fail  int
	calls int
	last  models.DriverLocation
}

func (f *flakyLocator) Tag(_ context.Context, loc models.DriverLocation) error {
	f.calls++
	if f.calls <= f.fail {
		return errors.New("redis down")
	}
	f.last = loc
	return nil
}

func (f *flakyLocator) Locate(context.Context, string) (models.Coord, bool, error) {
	return f.last.Loc, f.calls > f.fail, nil
}

var ping = models.DriverLocation{ID: "d1", Loc: models.Coord{Lat: -7.79, Lon: 110.36}, Updated: time.Unix(100, 0)}

func TestTagWithRetrySucceedsAfterRetries(t *testing.T) {
	f := &flakyLocator{fail: 2}
	start := time.Now()
	if err := tagWithRetry(context.Background(), f, ping, 3, 10*time.Millisecond); err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if f.calls != 3 {
		t.Fatalf("calls = %d", f.calls)
	}
	if time.Since(start) < 30*time.Millisecond {
		t.Fatal("expected doubling backoff between attempts")
	}
}

func TestTagWithRetryFailsWhenExhausted(t *testing.T) {
	f := &flakyLocator{fail: 5}
	if err := tagWithRetry(context.Background(), f, ping, 3, time.Millisecond); err == nil {
		t.Fatal("expected error after retries")
	}
	if f.calls != 3 {
		t.Fatalf("calls = %d", f.calls)
	}
}

func TestTagWithRetryDoesNotRetryBadCoordinates(t *testing.T) {
	idx := geo.NewIndex()
	bad := ping
	bad.Loc.Lat = 91
	if err := tagWithRetry(context.Background(), idx, bad, 3, time.Hour); !errors.Is(err, geo.ErrBadCoord) {
		t.Fatalf("got %v", err)
	}
}

func TestDecodePing(t *testing.T) {
	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cases := []struct {
		name    string
		value   string
		wantErr bool
	}{
		{"valid", `{"id":"d1","loc":{"lat":1,"lon":2}}`, false},
		{"not json", `{`, true},
		{"no id", `{"loc":{"lat":1,"lon":2}}`, true},
		{"out of range", `{"id":"d1","loc":{"lat":1,"lon":200}}`, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			loc, err := decodePing(kafka.Message{Value: []byte(tc.value), Time: at})
			if (err != nil) != tc.wantErr {
				t.Fatalf("err = %v", err)
			}
			if !tc.wantErr && !loc.Updated.Equal(at) {
				t.Fatalf("missing ping time should default to the message time, got %v", loc.Updated)
			}
		})
	}
}

type scriptedReader struct {
	msgs   []kafka.Message
	cancel context.CancelFunc
}

func (s *scriptedReader) ReadMessage(ctx context.Context) (kafka.Message, error) {
	if len(s.msgs) == 0 {
		s.cancel()
		return kafka.Message{}, ctx.Err()
	}
	m := s.msgs[0]
	s.msgs = s.msgs[1:]
	return m, nil
}

func TestConsumerRunTagsValidPings(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	idx := geo.NewIndex()
	r := &scriptedReader{cancel: cancel, msgs: []kafka.Message{
		{Value: []byte(`{"id":"d1","loc":{"lat":-7.7,"lon":110.4},"updated":"2026-01-01T00:00:02Z"}`)},
		{Value: []byte(`garbage`)},
		{Value: []byte(`{"id":"d1","loc":{"lat":0,"lon":0},"updated":"2026-01-01T00:00:01Z"}`)},
	}}
	c := &consumer{locator: idx, attempts: 1, delay: time.Millisecond, logger: logging.Discard()}
	c.run(ctx, r)

	got, ok, _ := idx.Locate(context.Background(), "d1")
	if !ok || got.Lat != -7.7 {
		t.Fatalf("stale ping must not overwrite a newer one, got %+v", got)
	}
}
