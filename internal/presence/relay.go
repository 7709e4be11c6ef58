package presence

import (
	"context"
	"log/slog"
	"math"
	"time"

	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/observability"
)

// LocationRelay turns driver position reports into broadcasts and
// best-effort writes to the stores.
type LocationRelay struct {
	registry  *Registry
	store     LocationStore
	index     LocationIndex
	publisher Publisher
	scope     Scope
	now       func() time.Time
	log       *slog.Logger
	persist   func(op string, fn func(ctx context.Context) error)
}

// ReportRaw validates a report as it came off the wire. Anything other than
// a JSON number for lat or lng drops the report.
func (r *LocationRelay) ReportRaw(p models.DriverLocationReport) {
	lat, okLat := number(p.Lat)
	lng, okLng := number(p.Lng)
	if !okLat || !okLng {
		observability.EventsDropped.WithLabelValues(models.EventDriverLocation).Inc()
		return
	}
	var ts int64
	if v, ok := number(p.TS); ok && v > 0 {
		ts = int64(v)
	}
	r.Report(models.DriverLocation{DriverID: p.DriverID, Lat: lat, Lng: lng, TS: ts})
}

// Report broadcasts the position, then persists it off the loop. Store
// failures are logged and never hold back the broadcast.
func (r *LocationRelay) Report(loc models.DriverLocation) {
	if loc.DriverID == "" || !finite(loc.Lat) || !finite(loc.Lng) {
		observability.EventsDropped.WithLabelValues(models.EventDriverLocation).Inc()
		return
	}
	if loc.TS <= 0 {
		loc.TS = r.now().UnixMilli()
	}
	observability.LocationReports.Inc()

	sent := 0
	if r.scope == ScopeAll {
		r.registry.ForEachConnection(func(c *Connection) {
			if c.Send(models.EventDriverLocation, loc) {
				sent++
			}
		})
	} else {
		r.registry.ForEachAdmin(func(c *Connection, _ Admin) {
			if c.Send(models.EventDriverLocation, loc) {
				sent++
			}
		})
	}
	r.log.Debug("driver location relayed", "driver_id", loc.DriverID, "lat", loc.Lat, "lng", loc.Lng, "recipients", sent)

	if r.store == nil && r.index == nil && r.publisher == nil {
		return
	}
	r.persist("persist_location", func(ctx context.Context) error {
		r.save(ctx, loc)
		return nil
	})
}

// save writes to every configured sink; one failing does not skip the rest.
func (r *LocationRelay) save(ctx context.Context, loc models.DriverLocation) {
	point := loc.Point()
	if r.store != nil {
		n, err := r.store.UpdateRideLocations(ctx, loc.DriverID, point)
		switch {
		case err != nil:
			r.fail("update_ride_locations", loc.DriverID, err)
		case n == 0:
			r.log.Debug("no ride assigned to driver", "driver_id", loc.DriverID)
		}
		if err := r.store.UpdateDriverLocation(ctx, loc.DriverID, point); err != nil {
			r.fail("update_driver_location", loc.DriverID, err)
		}
	}
	if r.index != nil {
		if err := r.index.Upsert(ctx, loc); err != nil {
			r.fail("geo_upsert", loc.DriverID, err)
		}
	}
	if r.publisher != nil {
		if err := r.publisher.PublishLocation(ctx, loc); err != nil {
			r.fail("publish_location", loc.DriverID, err)
		}
	}
}

func (r *LocationRelay) fail(op, driverID string, err error) {
	observability.StoreErrors.WithLabelValues(op).Inc()
	r.log.Error("saving driver location", "op", op, "driver_id", driverID, "error", err)
}

func number(v any) (float64, bool) {
	f, ok := v.(float64)
	if !ok || !finite(f) {
		return 0, false
	}
	return f, true
}

func finite(f float64) bool { return !math.IsNaN(f) && !math.IsInf(f, 0) }
