package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/example/ride-dispatch/internal/models"
)

// ErrNotFound is returned when a ride or driver does not exist.
var ErrNotFound = errors.New("not found")

// MemoryStore keeps rides and drivers in process. It backs local runs and
// tests when no PG_DSN is configured.
type MemoryStore struct {
	mu      sync.RWMutex
	rides   map[string]*models.Ride
	drivers map[string]*models.Driver
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rides:   make(map[string]*models.Ride),
		drivers: make(map[string]*models.Driver),
	}
}

// SaveRide inserts or replaces a ride.
func (m *MemoryStore) SaveRide(r models.Ride) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r.UpdatedAt = time.Now()
	m.rides[r.ID] = &r
}

// SaveDriver inserts or replaces a driver.
func (m *MemoryStore) SaveDriver(d models.Driver) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.drivers[d.ID] = &d
}

func (m *MemoryStore) FindRide(_ context.Context, trackingID string) (models.Ride, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rides[trackingID]
	if !ok {
		return models.Ride{}, fmt.Errorf("ride %q: %w", trackingID, ErrNotFound)
	}
	return *r, nil
}

func (m *MemoryStore) RidesOwnedBy(_ context.Context, adminID string, trackingIDs []string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(trackingIDs))
	for _, id := range trackingIDs {
		if r, ok := m.rides[id]; ok && r.AdminID == adminID {
			out = append(out, id)
		}
	}
	return out, nil
}

func (m *MemoryStore) UpdateRideLocations(_ context.Context, driverID string, loc models.Location) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, r := range m.rides {
		if r.DriverID != driverID {
			continue
		}
		l := loc
		r.LastDriverLocation = &l
		r.UpdatedAt = time.Now()
		n++
	}
	return n, nil
}

func (m *MemoryStore) UpdateDriverLocation(_ context.Context, driverID string, loc models.Location) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.drivers[driverID]
	if !ok {
		return fmt.Errorf("driver %q: %w", driverID, ErrNotFound)
	}
	d.CurrentLoc = models.Location{Lat: loc.Lat, Lng: loc.Lng}
	d.UpdatedAt = time.Now()
	return nil
}

// Driver returns a copy of a driver record.
func (m *MemoryStore) Driver(id string) (models.Driver, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.drivers[id]
	if !ok {
		return models.Driver{}, false
	}
	return *d, true
}

// Ping always succeeds.
func (m *MemoryStore) Ping(context.Context) error { return nil }
