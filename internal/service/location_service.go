package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"findsafe-server/internal/domain"
	"findsafe-server/internal/metrics"
	"findsafe-server/internal/repository"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const maxDeviceWriteAttempts = 3

// PendingFlusher delivers commands queued while a device was offline.
type PendingFlusher interface {
	FlushPending(ctx context.Context, deviceID string) (int, error)
}

// LocationService runs the location update pipeline. Updates for the same
// device are processed one at a time.
type LocationService struct {
	devices   repository.DeviceRepository
	locations repository.LocationRepository
	evaluator *GeofenceEvaluator
	relay     *GeofenceRelay
	flusher   PendingFlusher
	locks     *keyedMutex
	logger    zerolog.Logger
	now       func() time.Time
}

func NewLocationService(
	devices repository.DeviceRepository,
	locations repository.LocationRepository,
	evaluator *GeofenceEvaluator,
	relay *GeofenceRelay,
	flusher PendingFlusher,
	logger zerolog.Logger,
) *LocationService {
	return &LocationService{
		devices:   devices,
		locations: locations,
		evaluator: evaluator,
		relay:     relay,
		flusher:   flusher,
		locks:     newKeyedMutex(),
		logger:    logger.With().Str("component", "location").Logger(),
		now:       time.Now,
	}
}

// UpdateLocation stores a location fix for the device, evaluates its
// geofences and delivers any commands queued while it was offline. Only
// failures to persist the fix itself are returned; geofence and command
// delivery problems are logged.
func (s *LocationService) UpdateLocation(ctx context.Context, deviceID string, lat, lon float64) (*domain.LocationUpdateResult, error) {
	start := time.Now()
	defer func() {
		metrics.LocationUpdateDuration.Observe(time.Since(start).Seconds())
	}()

	unlock := s.locks.Lock(deviceID)
	defer unlock()

	device, err := s.devices.FindByID(ctx, deviceID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrDeviceNotFound
		}
		return nil, err
	}

	location := &domain.Location{
		ID:        uuid.New().String(),
		DeviceID:  deviceID,
		Latitude:  lat,
		Longitude: lon,
		Timestamp: s.now(),
	}
	if err := s.locations.Create(ctx, location); err != nil {
		return nil, fmt.Errorf("failed to save location: %w", err)
	}

	device, evicted, err := s.attachLocation(ctx, device, location)
	if err != nil {
		return nil, fmt.Errorf("failed to update device location: %w", err)
	}
	if len(evicted) > 0 {
		if err := s.locations.DeleteMany(ctx, evicted); err != nil {
			s.logger.Warn().Err(err).Str("device_id", deviceID).Msg("failed to prune location history")
		}
	}

	result := &domain.LocationUpdateResult{
		LocationID:        location.ID,
		TriggeredGeofence: []string{},
	}

	transition, err := s.evaluator.DiffAndEmit(ctx, deviceID, lat, lon)
	if err != nil {
		s.logger.Error().Err(err).Str("device_id", deviceID).Msg("geofence evaluation failed")
	} else {
		s.relay.Process(ctx, device, transition)
		result.TriggeredGeofence = transition.TriggeredIDs()
		result.Entered = geofenceIDs(transition.Entered)
		result.Exited = geofenceIDs(transition.Exited)
	}

	flushed, err := s.flusher.FlushPending(ctx, deviceID)
	if err != nil {
		s.logger.Error().Err(err).Str("device_id", deviceID).Msg("failed to flush pending commands")
	}
	result.CommandsFlushed = flushed

	return result, nil
}

// attachLocation makes location the device's current fix. When another write
// to the device lands first (an owner changing the mode, say), the device is
// re-read and only the location fields are applied again on top of it.
func (s *LocationService) attachLocation(ctx context.Context, device *domain.Device, location *domain.Location) (*domain.Device, []string, error) {
	for attempt := 1; ; attempt++ {
		evicted := device.PushLocation(location.ID)
		device.UpdatedAt = location.Timestamp

		err := s.devices.Update(ctx, device)
		if err == nil {
			return device, evicted, nil
		}
		if !errors.Is(err, repository.ErrConflict) || attempt == maxDeviceWriteAttempts {
			return nil, nil, err
		}

		s.logger.Debug().Str("device_id", device.ID).Int("attempt", attempt).Msg("device changed concurrently, reapplying location")
		if device, err = s.devices.FindByID(ctx, device.ID); err != nil {
			return nil, nil, err
		}
	}
}

// GetLocations returns the device's recent locations, newest first.
func (s *LocationService) GetLocations(ctx context.Context, userID, deviceID string, limit int) ([]*domain.Location, error) {
	if _, err := ownedDevice(ctx, s.devices, userID, deviceID); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > domain.MaxLocationHistory {
		limit = domain.MaxLocationHistory
	}
	return s.locations.ListByDevice(ctx, deviceID, limit)
}

func geofenceIDs(geofences []*domain.Geofence) []string {
	ids := make([]string, len(geofences))
	for i, g := range geofences {
		ids[i] = g.ID
	}
	return ids
}

// ownedDevice loads deviceID and checks that it belongs to userID.
func ownedDevice(ctx context.Context, devices repository.DeviceRepository, userID, deviceID string) (*domain.Device, error) {
	device, err := devices.FindByID(ctx, deviceID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrDeviceNotFound
		}
		return nil, err
	}
	if device.UserID != userID {
		return nil, ErrForbidden
	}
	return device, nil
}
