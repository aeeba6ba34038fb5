package domain

import (
	"encoding/json"
	"time"
)

const (
	CommandPlayAlarm     = "play_alarm"
	CommandLock          = "lock"
	CommandUnlock        = "unlock"
	CommandGeofenceAlert = "geofence_alert"
	CommandPing          = "ping"
	CommandPong          = "pong"
)

// PendingCommand is a command queued for a device that was offline when the
// command was issued.
type PendingCommand struct {
	ID         string          `json:"id"`
	DeviceID   string          `json:"device_id"`
	Command    string          `json:"command"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	IsExecuted bool            `json:"is_executed"`
	CreatedAt  time.Time       `json:"created_at"`
}
