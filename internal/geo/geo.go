package geo

import (
	"context"
	"math"
	"sync"

	"github.com/example/ride-booking/internal/models"
)

// Locator records where each driver was last seen. It is a tagging index
// only; nearest-driver search is not offered.
type Locator interface {
	Tag(ctx context.Context, loc models.DriverLocation) error
	Locate(ctx context.Context, driverID string) (models.Coord, bool, error)
}

// Index is the in-process Locator used when no Redis is configured.
type Index struct {
	mu      sync.RWMutex
	drivers map[string]models.DriverLocation
}

func NewIndex() *Index {
	return &Index{drivers: make(map[string]models.DriverLocation)}
}

func (g *Index) Tag(_ context.Context, loc models.DriverLocation) error {
	if err := Validate(loc.Loc); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	// pings can arrive out of order from the consumer
	if prev, ok := g.drivers[loc.ID]; ok && prev.Updated.After(loc.Updated) {
		return nil
	}
	g.drivers[loc.ID] = loc
	return nil
}

func (g *Index) Locate(_ context.Context, driverID string) (models.Coord, bool, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	d, ok := g.drivers[driverID]
	return d.Loc, ok, nil
}

// Len reports how many drivers have been tagged.
func (g *Index) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.drivers)
}

// Validate rejects coordinates outside the WGS84 range.
func Validate(c models.Coord) error {
	if math.IsNaN(c.Lat) || math.IsNaN(c.Lon) || c.Lat < -90 || c.Lat > 90 || c.Lon < -180 || c.Lon > 180 {
		return ErrBadCoord
	}
	return nil
}

// Haversine distance in meters
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	const R = 6371000.0
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return R * c
}

// Distance is Haversine over two coordinates.
func Distance(a, b models.Coord) float64 {
	return Haversine(a.Lat, a.Lon, b.Lat, b.Lon)
}
