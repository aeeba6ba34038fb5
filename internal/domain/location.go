package domain

import "time"

type Location struct {
	ID        string    `json:"id"`
	DeviceID  string    `json:"device_id"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Timestamp time.Time `json:"timestamp"`
}

type LocationRequest struct {
	Latitude  float64 `json:"latitude" validate:"latitude"`
	Longitude float64 `json:"longitude" validate:"longitude"`
}

type UpdateLocationRequest struct {
	DeviceID  string  `json:"deviceId" validate:"required"`
	Latitude  float64 `json:"latitude" validate:"latitude"`
	Longitude float64 `json:"longitude" validate:"longitude"`
}

// LocationUpdateResult summarises what a location fix triggered.
type LocationUpdateResult struct {
	LocationID        string   `json:"location_id"`
	TriggeredGeofence []string `json:"triggered_geofences"`
	Entered           []string `json:"entered"`
	Exited            []string `json:"exited"`
	CommandsFlushed   int      `json:"commands_flushed"`
}
