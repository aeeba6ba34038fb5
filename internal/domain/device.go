package domain

import "time"

// MaxLocationHistory is the number of location references a device retains.
const MaxLocationHistory = 30

// DeviceMode is the operating mode a device owner puts a device in.
type DeviceMode string

const (
	ModeActive   DeviceMode = "active"
	ModeDisabled DeviceMode = "disabled"
	ModeInactive DeviceMode = "inactive"
	ModeSleep    DeviceMode = "sleep"
)

var modeTransitions = map[DeviceMode][]DeviceMode{
	ModeActive:   {ModeDisabled, ModeInactive, ModeSleep},
	ModeDisabled: {ModeActive},
	ModeInactive: {ModeActive, ModeDisabled},
	ModeSleep:    {ModeActive, ModeDisabled},
}

// ParseDeviceMode returns the mode for s, or false if s is not a known mode.
func ParseDeviceMode(s string) (DeviceMode, bool) {
	m := DeviceMode(s)
	_, ok := modeTransitions[m]
	return m, ok
}

func (m DeviceMode) Valid() bool {
	_, ok := modeTransitions[m]
	return ok
}

// CanTransitionTo reports whether a device in mode m may move to next.
// Staying in the same mode is always allowed.
func (m DeviceMode) CanTransitionTo(next DeviceMode) bool {
	if m == next {
		return next.Valid()
	}
	for _, allowed := range modeTransitions[m] {
		if allowed == next {
			return true
		}
	}
	return false
}

type Device struct {
	// Rev is the stored revision this value was read at. Updates are
	// rejected with a conflict when the stored document has moved on.
	Rev                string     `json:"-"`
	ID                 string     `json:"id"`
	UserID             string     `json:"user_id"`
	Name               string     `json:"name"`
	ModelNumber        string     `json:"model_number"`
	ImageURL           string     `json:"image_url"`
	Mode               DeviceMode `json:"mode"`
	ActivationCodeHash string     `json:"activation_code_hash,omitempty"`
	CurrentLocationID  string     `json:"current_location_id,omitempty"`
	LocationHistory    []string   `json:"location_history"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// PushLocation makes locationID the current location and appends it to the
// history, evicting the oldest entries beyond MaxLocationHistory. The evicted
// ids are returned oldest first.
func (d *Device) PushLocation(locationID string) []string {
	d.CurrentLocationID = locationID
	d.LocationHistory = append(d.LocationHistory, locationID)

	var evicted []string
	if over := len(d.LocationHistory) - MaxLocationHistory; over > 0 {
		evicted = append(evicted, d.LocationHistory[:over]...)
		d.LocationHistory = append([]string(nil), d.LocationHistory[over:]...)
	}
	return evicted
}

type RegisterDeviceRequest struct {
	Name        string `json:"name" validate:"required,max=100"`
	ModelNumber string `json:"model_number" validate:"max=100"`
	ImageURL    string `json:"image_url" validate:"omitempty,url"`
}

type UpdateModeRequest struct {
	Mode string `json:"mode" validate:"required,oneof=active disabled inactive sleep"`
}

type ActivationRequest struct {
	ActivationCode string `json:"activation_code" validate:"required"`
}

type DeviceResponse struct {
	ID                string     `json:"id"`
	Name              string     `json:"name"`
	ModelNumber       string     `json:"model_number"`
	ImageURL          string     `json:"image_url"`
	Mode              DeviceMode `json:"mode"`
	CurrentLocationID string     `json:"current_location_id,omitempty"`
	IsConnected       bool       `json:"is_connected"`
	CreatedAt         time.Time  `json:"created_at"`
}

// ModeChangeResponse carries the activation code only when the device was
// just put into lost mode; it is never stored in clear.
type ModeChangeResponse struct {
	ID              string     `json:"id"`
	Name            string     `json:"name"`
	Mode            DeviceMode `json:"mode"`
	ActivationCode  string     `json:"activation_code,omitempty"`
	CommandDelivery string     `json:"command_delivery,omitempty"`
}

// DeviceConnection is a point-in-time view of a live device connection.
type DeviceConnection struct {
	DeviceID    string    `json:"device_id"`
	ConnectedAt time.Time `json:"connected_at"`
	PeerAddress string    `json:"peer_address"`
	IsAlive     bool      `json:"is_alive"`
}
