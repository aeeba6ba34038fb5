package domain

import "time"

type PushPlatform string

const (
	PlatformAndroid PushPlatform = "android"
	PlatformIOS     PushPlatform = "ios"
)

type PushToken struct {
	DeviceID  string       `json:"device_id"`
	Token     string       `json:"token"`
	Platform  PushPlatform `json:"platform"`
	CreatedAt time.Time    `json:"created_at"`
}

type NotificationSettings struct {
	UserID                           string      `json:"user_id"`
	PushNotificationsEnabled         bool        `json:"push_notifications_enabled"`
	GeofenceNotificationsEnabled     bool        `json:"geofence_notifications_enabled"`
	DeviceStatusNotificationsEnabled bool        `json:"device_status_notifications_enabled"`
	DeviceTokens                     []PushToken `json:"device_tokens"`
	CreatedAt                        time.Time   `json:"created_at"`
	UpdatedAt                        time.Time   `json:"updated_at"`
}

// DefaultNotificationSettings returns settings with every channel enabled.
func DefaultNotificationSettings(userID string) *NotificationSettings {
	now := time.Now()
	return &NotificationSettings{
		UserID:                           userID,
		PushNotificationsEnabled:         true,
		GeofenceNotificationsEnabled:     true,
		DeviceStatusNotificationsEnabled: true,
		DeviceTokens:                     []PushToken{},
		CreatedAt:                        now,
		UpdatedAt:                        now,
	}
}

type RegisterPushTokenRequest struct {
	DeviceID string `json:"device_id" validate:"required"`
	Token    string `json:"token" validate:"required"`
	Platform string `json:"platform" validate:"required,oneof=android ios"`
}

type UnregisterPushTokenRequest struct {
	Token string `json:"token" validate:"required"`
}

type UpdateNotificationSettingsRequest struct {
	PushNotificationsEnabled         *bool `json:"push_notifications_enabled"`
	GeofenceNotificationsEnabled     *bool `json:"geofence_notifications_enabled"`
	DeviceStatusNotificationsEnabled *bool `json:"device_status_notifications_enabled"`
}
