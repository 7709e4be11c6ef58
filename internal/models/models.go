package models

import "time"

// Location is a point reported by a driver app. TS is unix milliseconds.
type Location struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
	TS  int64   `json:"ts,omitempty"`
}

// DriverLocation is a single position report from a driver.
type DriverLocation struct {
	DriverID string  `json:"driverId"`
	Lat      float64 `json:"lat"`
	Lng      float64 `json:"lng"`
	TS       int64   `json:"ts"`
}

// Point returns the report as a Location.
func (d DriverLocation) Point() Location {
	return Location{Lat: d.Lat, Lng: d.Lng, TS: d.TS}
}

// Ride is the subset of a ride record the broker needs. The ID doubles as the
// tracking identifier end users quote when asking for a chat.
type Ride struct {
	ID                 string
	AdminID            string
	DriverID           string
	LastDriverLocation *Location
	UpdatedAt          time.Time
}

// Driver is the subset of a driver account the relay writes to.
type Driver struct {
	ID         string
	CurrentLoc Location
	UpdatedAt  time.Time
}

// NearbyDriver is a driver returned from a radius query, with its distance in meters.
type NearbyDriver struct {
	DriverID string  `json:"driverId"`
	Lat      float64 `json:"lat"`
	Lng      float64 `json:"lng"`
	TS       int64   `json:"ts"`
	Distance float64 `json:"distanceMeters"`
	// ETASeconds is the estimated driving time to the query point.
	ETASeconds float64 `json:"etaSeconds"`
}
