package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/example/ride-dispatch/internal/models"
)

// PostgresStore reads ride ownership and writes driver positions in the
// shared dispatch database. Schema lives in migrations/001_create_rides.sql.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

// NewPostgresStoreFromDB wraps an already opened handle.
func NewPostgresStoreFromDB(db *sql.DB) *PostgresStore { return &PostgresStore{db: db} }

func (p *PostgresStore) FindRide(ctx context.Context, trackingID string) (models.Ride, error) {
	var (
		r        models.Ride
		lat, lng sql.NullFloat64
		ts       sql.NullInt64
	)
	err := p.db.QueryRowContext(ctx,
		`SELECT id, admin_id, driver_id, last_driver_lat, last_driver_lng, last_driver_ts, updated_at FROM rides WHERE id = $1`,
		trackingID,
	).Scan(&r.ID, &r.AdminID, &r.DriverID, &lat, &lng, &ts, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Ride{}, fmt.Errorf("ride %q: %w", trackingID, ErrNotFound)
	}
	if err != nil {
		return models.Ride{}, fmt.Errorf("find ride %q: %w", trackingID, err)
	}
	if lat.Valid && lng.Valid {
		r.LastDriverLocation = &models.Location{Lat: lat.Float64, Lng: lng.Float64, TS: ts.Int64}
	}
	return r, nil
}

func (p *PostgresStore) RidesOwnedBy(ctx context.Context, adminID string, trackingIDs []string) ([]string, error) {
	if len(trackingIDs) == 0 {
		return []string{}, nil
	}
	rows, err := p.db.QueryContext(ctx,
		`SELECT id FROM rides WHERE id = ANY($1) AND admin_id = $2`,
		pq.Array(trackingIDs), adminID,
	)
	if err != nil {
		return nil, fmt.Errorf("rides owned by %q: %w", adminID, err)
	}
	defer rows.Close()
	out := make([]string, 0, len(trackingIDs))
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (p *PostgresStore) UpdateRideLocations(ctx context.Context, driverID string, loc models.Location) (int64, error) {
	res, err := p.db.ExecContext(ctx,
		`UPDATE rides SET last_driver_lat=$1, last_driver_lng=$2, last_driver_ts=$3, updated_at=$4 WHERE driver_id=$5`,
		loc.Lat, loc.Lng, loc.TS, time.Now(), driverID,
	)
	if err != nil {
		return 0, fmt.Errorf("update ride locations for driver %q: %w", driverID, err)
	}
	return res.RowsAffected()
}

func (p *PostgresStore) UpdateDriverLocation(ctx context.Context, driverID string, loc models.Location) error {
	res, err := p.db.ExecContext(ctx,
		`UPDATE drivers SET current_lat=$1, current_lng=$2, updated_at=$3 WHERE id=$4`,
		loc.Lat, loc.Lng, time.Now(), driverID,
	)
	if err != nil {
		return fmt.Errorf("update driver %q location: %w", driverID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("driver %q: %w", driverID, ErrNotFound)
	}
	return nil
}

func (p *PostgresStore) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

func (p *PostgresStore) Close() error { return p.db.Close() }
