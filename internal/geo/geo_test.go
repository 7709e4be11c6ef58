package geo

import (
	"context"
	"math"
	"testing"

	"github.com/example/ride-dispatch/internal/models"
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

func TestIndexNearbyOrdersByDistance(t *testing.T) {
	ctx := context.Background()
	g := NewIndex()
	_ = g.Upsert(ctx, models.DriverLocation{DriverID: "far", Lat: 12.95, Lng: 77.6, TS: 1})
	_ = g.Upsert(ctx, models.DriverLocation{DriverID: "near", Lat: 12.901, Lng: 77.6, TS: 1})
	_ = g.Upsert(ctx, models.DriverLocation{DriverID: "away", Lat: 28.6, Lng: 77.2, TS: 1})

	got, err := g.Nearby(ctx, 12.9, 77.6, 10000, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 drivers within 10km, got %d", len(got))
	}
	if got[0].DriverID != "near" || got[1].DriverID != "far" {
		t.Fatalf("unexpected order: %+v", got)
	}

	limited, _ := g.Nearby(ctx, 12.9, 77.6, 0, 1)
	if len(limited) != 1 || limited[0].DriverID != "near" {
		t.Fatalf("limit not applied: %+v", limited)
	}
}

func TestIndexKeepsNewestReport(t *testing.T) {
	ctx := context.Background()
	g := NewIndex()
	_ = g.Upsert(ctx, models.DriverLocation{DriverID: "d1", Lat: 1, Lng: 1, TS: 200})
	_ = g.Upsert(ctx, models.DriverLocation{DriverID: "d1", Lat: 2, Lng: 2, TS: 100})

	d, ok := g.Get("d1")
	if !ok || d.Lat != 1 {
		t.Fatalf("stale report overwrote newer one: %+v", d)
	}
}
