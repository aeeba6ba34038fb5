package domain

import "time"

type GeofenceEventType string

const (
	EventEntered    GeofenceEventType = "entered"
	EventExited     GeofenceEventType = "exited"
	EventDwellStart GeofenceEventType = "dwell_start"
	EventDwellEnd   GeofenceEventType = "dwell_end"
)

// GeofenceHistoryEntry is append-only; it is never updated after creation.
type GeofenceHistoryEntry struct {
	ID         string                 `json:"id"`
	UserID     string                 `json:"user_id"`
	DeviceID   string                 `json:"device_id"`
	GeofenceID string                 `json:"geofence_id"`
	EventType  GeofenceEventType      `json:"event_type"`
	Location   Coordinates            `json:"location"`
	Distance   float64                `json:"distance"`
	DwellTime  int64                  `json:"dwell_time"` // milliseconds, exits only
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
	Timestamp  time.Time              `json:"timestamp"`
}

// GeofenceEvent is the transition record published to the event stream.
type GeofenceEvent struct {
	UserID       string            `json:"user_id"`
	DeviceID     string            `json:"device_id"`
	GeofenceID   string            `json:"geofence_id"`
	GeofenceName string            `json:"geofence_name"`
	EventType    GeofenceEventType `json:"event_type"`
	Latitude     float64           `json:"lat"`
	Longitude    float64           `json:"lon"`
	Distance     float64           `json:"distance"`
	DwellTime    int64             `json:"dwell_time"`
	Timestamp    time.Time         `json:"timestamp"`
}
