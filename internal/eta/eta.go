package eta

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/example/ride-dispatch/internal/geo"
	"github.com/example/ride-dispatch/internal/models"
)

// Client is a routing backend that can estimate a driving time.
type Client interface {
	EstimateSeconds(ctx context.Context, from, to models.Location) (float64, error)
}

// DefaultSpeedMps is roughly 28.8 km/h, a city average.
const DefaultSpeedMps = 8.0

// Cache is a tiny in-memory cache for ETA lookups keyed by coords.
type Cache struct {
	mu    sync.RWMutex
	store map[string]cacheEntry
	ttl   time.Duration
	now   func() time.Time
}

type cacheEntry struct {
	v  float64
	ts time.Time
}

// NewCache creates a cache with the provided TTL.
func NewCache(ttl time.Duration) *Cache {
	return &Cache{store: make(map[string]cacheEntry), ttl: ttl, now: time.Now}
}

func keyFor(a, b models.Location) string {
	return fmt.Sprintf("%.5f,%.5f->%.5f,%.5f", a.Lat, a.Lng, b.Lat, b.Lng)
}

// Get returns cached value and true if present and not expired.
func (c *Cache) Get(a, b models.Location) (float64, bool) {
	k := keyFor(a, b)
	c.mu.RLock()
	e, ok := c.store[k]
	c.mu.RUnlock()
	if !ok {
		return 0, false
	}
	if c.now().Sub(e.ts) > c.ttl {
		c.mu.Lock()
		delete(c.store, k)
		c.mu.Unlock()
		return 0, false
	}
	return e.v, true
}

func (c *Cache) Set(a, b models.Location, v float64) {
	k := keyFor(a, b)
	c.mu.Lock()
	c.store[k] = cacheEntry{v: v, ts: c.now()}
	c.mu.Unlock()
}

// Naive ETA: great-circle distance over a constant speed.
func EstimateSeconds(from, to models.Location, speedMps float64) float64 {
	if speedMps <= 0 {
		speedMps = DefaultSpeedMps
	}
	return geo.Haversine(from.Lat, from.Lng, to.Lat, to.Lng) / speedMps
}

// Estimator answers ETAs from the cache, then the routing client, then the
// naive estimate. Client and Cache are optional.
type Estimator struct {
	Client   Client
	Cache    *Cache
	SpeedMps float64
	Logger   *slog.Logger
}

func (e *Estimator) Estimate(ctx context.Context, from, to models.Location) float64 {
	if e.Cache != nil {
		if v, ok := e.Cache.Get(from, to); ok {
			return v
		}
	}
	if e.Client != nil {
		v, err := e.Client.EstimateSeconds(ctx, from, to)
		if err == nil {
			if e.Cache != nil {
				e.Cache.Set(from, to, v)
			}
			return v
		}
		if e.Logger != nil {
			e.Logger.Warn("routing eta failed, using straight-line estimate", "error", err)
		}
	}
	return EstimateSeconds(from, to, e.SpeedMps)
}
