package geo

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/example/ride-dispatch/internal/models"
)

// RedisGeo implements Geo with Redis GEO commands plus a small hash per
// driver holding the report timestamp.
type RedisGeo struct {
	client *redis.Client
	key    string
}

func NewRedisGeo(client *redis.Client, key string) *RedisGeo {
	return &RedisGeo{client: client, key: key}
}

func (r *RedisGeo) Upsert(ctx context.Context, loc models.DriverLocation) error {
	pipe := r.client.TxPipeline()
	pipe.GeoAdd(ctx, r.key, &redis.GeoLocation{Longitude: loc.Lng, Latitude: loc.Lat, Name: loc.DriverID})
	pipe.HSet(ctx, MetaKey(loc.DriverID), map[string]interface{}{
		"lat": strconv.FormatFloat(loc.Lat, 'f', -1, 64),
		"lng": strconv.FormatFloat(loc.Lng, 'f', -1, 64),
		"ts":  strconv.FormatInt(loc.TS, 10),
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis geo upsert %s: %w", loc.DriverID, err)
	}
	return nil
}

func (r *RedisGeo) Nearby(ctx context.Context, lat, lng, radiusM float64, limit int) ([]models.NearbyDriver, error) {
	res, err := r.client.GeoRadius(ctx, r.key, lng, lat, &redis.GeoRadiusQuery{
		Radius:    radiusM,
		Unit:      "m",
		WithCoord: true,
		WithDist:  true,
		Count:     limit,
		Sort:      "ASC",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("redis geo radius: %w", err)
	}
	out := make([]models.NearbyDriver, 0, len(res))
	for _, g := range res {
		d := models.NearbyDriver{DriverID: g.Name, Lat: g.Latitude, Lng: g.Longitude, Distance: g.Dist}
		if ts, err := r.client.HGet(ctx, MetaKey(g.Name), "ts").Result(); err == nil {
			d.TS, _ = strconv.ParseInt(ts, 10, 64)
		}
		out = append(out, d)
	}
	return out, nil
}

func (r *RedisGeo) Ping(ctx context.Context) error { return r.client.Ping(ctx).Err() }

// MetaKey is the hash holding a driver's last report.
func MetaKey(driverID string) string { return "driver:loc:" + driverID }
