package geo

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/example/ride-booking/internal/models"
)

func TestHaversineZero(t *testing.T) {
	d := Haversine(0, 0, 0, 0)
	if d != 0 {
		t.Fatalf("expected 0, got %f", d)
	}
}

func TestHaversineOneDegreeLatitude(t *testing.T) {
	d := Haversine(0, 0, 1, 0)
	if math.Abs(d-111195) > 100 {
		t.Fatalf("expected ~111km, got %f", d)
	}
}

func TestIndexKeepsNewestPing(t *testing.T) {
	ctx := context.Background()
	g := NewIndex()
	now := time.Now()
	g.Tag(ctx, models.DriverLocation{ID: "d1", Loc: models.Coord{Lat: 1, Lon: 1}, Updated: now})
	g.Tag(ctx, models.DriverLocation{ID: "d1", Loc: models.Coord{Lat: 2, Lon: 2}, Updated: now.Add(-time.Second)})

	c, ok, err := g.Locate(ctx, "d1")
	if err != nil || !ok {
		t.Fatalf("locate: %v %v", ok, err)
	}
	if c.Lat != 1 {
		t.Fatalf("stale ping overwrote newer one: %+v", c)
	}
	if _, ok, _ := g.Locate(ctx, "nobody"); ok {
		t.Fatal("unknown driver should not be found")
	}
}

func TestIndexRejectsBadCoord(t *testing.T) {
	g := NewIndex()
	err := g.Tag(context.Background(), models.DriverLocation{ID: "d1", Loc: models.Coord{Lat: 91}})
	if !errors.Is(err, ErrBadCoord) {
		t.Fatalf("expected ErrBadCoord, got %v", err)
	}
	if g.Len() != 0 {
		t.Fatal("bad ping must not be stored")
	}
}
