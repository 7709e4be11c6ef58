package geo

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/example/ride-dispatch/internal/models"
)

// Geo is the last-known-position index of drivers.
type Geo interface {
	Upsert(ctx context.Context, loc models.DriverLocation) error
	Nearby(ctx context.Context, lat, lng, radiusM float64, limit int) ([]models.NearbyDriver, error)
}

// Index is an in-process Geo used when no Redis is configured.
type Index struct {
	mu      sync.RWMutex
	drivers map[string]models.DriverLocation
}

func NewIndex() *Index {
	return &Index{drivers: make(map[string]models.DriverLocation)}
}

func (g *Index) Upsert(_ context.Context, loc models.DriverLocation) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if prev, ok := g.drivers[loc.DriverID]; ok && prev.TS > loc.TS {
		// Out-of-order report; keep the newer position.
		return nil
	}
	g.drivers[loc.DriverID] = loc
	return nil
}

// Nearby scans every driver; fine for the fleet sizes a single process serves.
func (g *Index) Nearby(_ context.Context, lat, lng, radiusM float64, limit int) ([]models.NearbyDriver, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]models.NearbyDriver, 0, len(g.drivers))
	for _, d := range g.drivers {
		dist := Haversine(lat, lng, d.Lat, d.Lng)
		if radiusM > 0 && dist > radiusM {
			continue
		}
		out = append(out, models.NearbyDriver{DriverID: d.DriverID, Lat: d.Lat, Lng: d.Lng, TS: d.TS, Distance: dist})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Distance < out[j].Distance })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Get returns the last position of one driver.
func (g *Index) Get(driverID string) (models.DriverLocation, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	d, ok := g.drivers[driverID]
	return d, ok
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
