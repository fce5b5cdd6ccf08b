package pricing

import (
	"math/rand"
	"testing"

	"github.com/example/ride-booking/internal/models"
)

func TestBaseFeesAscend(t *testing.T) {
	var prev int64
	for _, tier := range models.Tiers {
		f, ok := BaseFee(tier)
		if !ok {
			t.Fatalf("no base fee for %s", tier)
		}
		if f <= prev {
			t.Fatalf("%s fee %d not above %d", tier, f, prev)
		}
		prev = f
	}
}

func TestEstimateBounds(t *testing.T) {
	e := NewEstimator(rand.NewSource(7), 0)
	for _, tier := range models.Tiers {
		base, _ := BaseFee(tier)
		for i := 0; i < 200; i++ {
			p, ok := e.Estimate(tier, nil, nil)
			if !ok {
				t.Fatal("known tier rejected")
			}
			if p < base || p >= base+MaxSurcharge {
				t.Fatalf("%s price %d outside [%d,%d)", tier, p, base, base+MaxSurcharge)
			}
		}
	}
	if _, ok := e.Estimate("sport", nil, nil); ok {
		t.Fatal("unknown tier accepted")
	}
}

func TestEstimateByDistance(t *testing.T) {
	e := NewEstimator(rand.NewSource(1), 1000)
	from := &models.Coord{Lat: 0, Lon: 0}
	to := &models.Coord{Lat: 0.01, Lon: 0}
	p, _ := e.Estimate(models.TierHemat, from, to)
	// about 1.1 km at 1000 per km
	if p < 15000+1000 || p > 15000+1200 {
		t.Fatalf("unexpected price %d", p)
	}

	far := &models.Coord{Lat: 10, Lon: 10}
	p, _ = e.Estimate(models.TierComfort, from, far)
	if p != 25000+MaxSurcharge-1 {
		t.Fatalf("surcharge must be capped, got %d", p)
	}
}
