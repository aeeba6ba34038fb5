package domain

import "time"

// DefaultGeofenceColor is the ARGB display color used when none is supplied.
const DefaultGeofenceColor int64 = 0xFF4CAF50

type GeofenceType string

const (
	GeofenceEntry GeofenceType = "entry"
	GeofenceExit  GeofenceType = "exit"
	GeofenceDwell GeofenceType = "dwell"
	GeofenceBoth  GeofenceType = "both"
)

// NotifiesOn reports whether a geofence of this type notifies its owner for
// an entry (isEntry) or exit transition.
func (t GeofenceType) NotifiesOn(isEntry bool) bool {
	switch t {
	case GeofenceBoth, GeofenceDwell, "":
		return true
	case GeofenceEntry:
		return isEntry
	case GeofenceExit:
		return !isEntry
	}
	return false
}

type Coordinates struct {
	Latitude  float64 `json:"latitude" validate:"latitude"`
	Longitude float64 `json:"longitude" validate:"longitude"`
}

type Geofence struct {
	ID          string       `json:"id"`
	UserID      string       `json:"user_id"`
	DeviceID    string       `json:"device_id"`
	Name        string       `json:"name"`
	Description string       `json:"description"`
	Center      Coordinates  `json:"center"`
	Radius      float64      `json:"radius"`
	Type        GeofenceType `json:"type"`
	IsActive    bool         `json:"is_active"`
	Color       int64        `json:"color"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

type CreateGeofenceRequest struct {
	Name        string      `json:"name" validate:"required,max=100"`
	Description string      `json:"description" validate:"max=500"`
	Center      Coordinates `json:"center"`
	Radius      float64     `json:"radius" validate:"required,gt=0"`
	Type        string      `json:"type" validate:"omitempty,oneof=entry exit dwell both"`
	DeviceID    string      `json:"device_id" validate:"required"`
	Color       *int64      `json:"color"`
}

type BulkCreateGeofenceRequest struct {
	Geofences []CreateGeofenceRequest `json:"geofences" validate:"required,min=1,max=50,dive"`
}

// UpdateGeofenceRequest carries a partial update; nil fields are left as-is.
type UpdateGeofenceRequest struct {
	Name        *string      `json:"name" validate:"omitempty,max=100"`
	Description *string      `json:"description" validate:"omitempty,max=500"`
	Center      *Coordinates `json:"center"`
	Radius      *float64     `json:"radius" validate:"omitempty,gt=0"`
	Type        *string      `json:"type" validate:"omitempty,oneof=entry exit dwell both"`
	IsActive    *bool        `json:"is_active"`
	Color       *int64       `json:"color"`
}

type CheckGeofencesRequest struct {
	DeviceID  string  `json:"device_id" validate:"required"`
	Latitude  float64 `json:"latitude" validate:"latitude"`
	Longitude float64 `json:"longitude" validate:"longitude"`
}

// GeofenceCheckResult reports one geofence containing a checked position.
type GeofenceCheckResult struct {
	Geofence *Geofence `json:"geofence"`
	Distance float64   `json:"distance"`
}
