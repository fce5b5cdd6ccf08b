// Package pricing produces the placeholder fare estimate stored on a
// booking at creation time.
package pricing

import (
	"math/rand"
	"sync"

	"github.com/example/ride-booking/internal/geo"
	"github.com/example/ride-booking/internal/models"
)

// MaxSurcharge bounds the variable part of a fare: it is always in
// [0, MaxSurcharge).
const MaxSurcharge int64 = 20000

// DefaultPerKm is the surcharge rate applied per kilometre when both
// coordinates are known.
const DefaultPerKm int64 = 2500

var baseFees = map[models.Tier]int64{
	models.TierHemat:   15000,
	models.TierStandar: 20000,
	models.TierComfort: 25000,
}

// BaseFee returns the fixed part of the fare for tier.
func BaseFee(t models.Tier) (int64, bool) {
	f, ok := baseFees[t]
	return f, ok
}

type Estimator struct {
	PerKm int64

	mu  sync.Mutex
	rnd *rand.Rand
}

// NewEstimator returns an estimator drawing from src when a booking has
// no coordinates.
func NewEstimator(src rand.Source, perKm int64) *Estimator {
	if perKm <= 0 {
		perKm = DefaultPerKm
	}
	return &Estimator{PerKm: perKm, rnd: rand.New(src)}
}

// Estimate returns base fee plus surcharge. ok is false for an unknown tier.
func (e *Estimator) Estimate(tier models.Tier, from, to *models.Coord) (int64, bool) {
	base, ok := BaseFee(tier)
	if !ok {
		return 0, false
	}
	return base + e.surcharge(from, to), true
}

func (e *Estimator) surcharge(from, to *models.Coord) int64 {
	if from != nil && to != nil {
		km := geo.Distance(*from, *to) / 1000
		s := int64(km * float64(e.PerKm))
		if s >= MaxSurcharge {
			s = MaxSurcharge - 1
		}
		return s
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rnd.Int63n(MaxSurcharge)
}
