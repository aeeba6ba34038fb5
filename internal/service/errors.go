package service

import "errors"

var (
	ErrDeviceNotFound        = errors.New("device not found")
	ErrGeofenceNotFound      = errors.New("geofence not found")
	ErrForbidden             = errors.New("resource does not belong to user")
	ErrInvalidMode           = errors.New("invalid device mode")
	ErrInvalidModeTransition = errors.New("invalid device mode transition")
	ErrDeviceNotLocked       = errors.New("device is not in lost mode")
	ErrInvalidActivationCode = errors.New("invalid activation code")
)
