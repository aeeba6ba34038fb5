package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"findsafe-server/internal/domain"
	"findsafe-server/internal/metrics"
	"findsafe-server/internal/repository"
	"findsafe-server/pkg/hash"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ConnectionTracker is the connection registry as seen by device management.
type ConnectionTracker interface {
	IsConnected(deviceID string) bool
	ListConnected() []domain.DeviceConnection
	Disconnect(deviceID string)
}

type DeviceService struct {
	repo       repository.DeviceRepository
	geofences  repository.GeofenceRepository
	commands   CommandSender
	conns      ConnectionTracker
	membership MembershipStore
	logger     zerolog.Logger
}

func NewDeviceService(
	repo repository.DeviceRepository,
	geofences repository.GeofenceRepository,
	commands CommandSender,
	conns ConnectionTracker,
	membership MembershipStore,
	logger zerolog.Logger,
) *DeviceService {
	return &DeviceService{
		repo:       repo,
		geofences:  geofences,
		commands:   commands,
		conns:      conns,
		membership: membership,
		logger:     logger.With().Str("component", "devices").Logger(),
	}
}

func (s *DeviceService) Register(ctx context.Context, userID string, req *domain.RegisterDeviceRequest) (*domain.DeviceResponse, error) {
	now := time.Now()
	device := &domain.Device{
		ID:              uuid.New().String(),
		UserID:          userID,
		Name:            req.Name,
		ModelNumber:     req.ModelNumber,
		ImageURL:        req.ImageURL,
		Mode:            domain.ModeActive,
		LocationHistory: []string{},
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := s.repo.Create(ctx, device); err != nil {
		return nil, err
	}

	return s.toResponse(device), nil
}

func (s *DeviceService) List(ctx context.Context, userID string) ([]*domain.DeviceResponse, error) {
	devices, err := s.repo.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	responses := make([]*domain.DeviceResponse, 0, len(devices))
	for _, d := range devices {
		responses = append(responses, s.toResponse(d))
	}
	return responses, nil
}

func (s *DeviceService) Get(ctx context.Context, userID, deviceID string) (*domain.DeviceResponse, error) {
	device, err := ownedDevice(ctx, s.repo, userID, deviceID)
	if err != nil {
		return nil, err
	}
	return s.toResponse(device), nil
}

// Delete removes the device together with its geofences, drops its live
// connection and forgets its membership state.
func (s *DeviceService) Delete(ctx context.Context, userID, deviceID string) error {
	if _, err := ownedDevice(ctx, s.repo, userID, deviceID); err != nil {
		return err
	}

	geofences, err := s.geofences.ListByDevice(ctx, deviceID, false)
	if err != nil {
		return fmt.Errorf("failed to load device geofences: %w", err)
	}
	for _, g := range geofences {
		if err := s.geofences.Delete(ctx, g.ID); err != nil && !errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("failed to delete geofence %s: %w", g.ID, err)
		}
	}

	if err := s.repo.Delete(ctx, deviceID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrDeviceNotFound
		}
		return err
	}

	s.membership.RemoveDevice(deviceID)
	s.conns.Disconnect(deviceID)
	return nil
}

// GetMode is called by the device itself to learn which mode it should be in.
func (s *DeviceService) GetMode(ctx context.Context, deviceID string) (*domain.ModeChangeResponse, error) {
	device, err := s.repo.FindByID(ctx, deviceID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrDeviceNotFound
		}
		return nil, err
	}
	return &domain.ModeChangeResponse{ID: device.ID, Name: device.Name, Mode: device.Mode}, nil
}

// UpdateMode moves the device to a new mode. Entering lost mode issues a fresh
// activation code, returned once in clear, and locks the device; leaving it
// unlocks the device.
func (s *DeviceService) UpdateMode(ctx context.Context, userID, deviceID string, req *domain.UpdateModeRequest) (*domain.ModeChangeResponse, error) {
	next, ok := domain.ParseDeviceMode(req.Mode)
	if !ok {
		return nil, ErrInvalidMode
	}

	device, err := ownedDevice(ctx, s.repo, userID, deviceID)
	if err != nil {
		return nil, err
	}

	current := device.Mode
	if current == "" {
		current = domain.ModeActive
	}
	if !current.CanTransitionTo(next) {
		return nil, fmt.Errorf("%w: %s to %s", ErrInvalidModeTransition, current, next)
	}

	resp := &domain.ModeChangeResponse{ID: device.ID, Name: device.Name, Mode: next}
	if current == next {
		return resp, nil
	}

	var command string
	switch {
	case next == domain.ModeDisabled:
		code, err := hash.GenerateActivationCode()
		if err != nil {
			return nil, err
		}
		hashed, err := hash.Hash(code)
		if err != nil {
			return nil, err
		}
		device.ActivationCodeHash = hashed
		resp.ActivationCode = code
		command = domain.CommandLock
	case current == domain.ModeDisabled:
		device.ActivationCodeHash = ""
		command = domain.CommandUnlock
	}

	device.Mode = next
	device.UpdatedAt = time.Now()
	if err := s.repo.Update(ctx, device); err != nil {
		return nil, err
	}

	s.logger.Info().Str("device_id", deviceID).Str("from", string(current)).Str("to", string(next)).Msg("device mode changed")

	if command != "" {
		resp.CommandDelivery = s.sendModeCommand(ctx, deviceID, command, next)
	}
	return resp, nil
}

// ValidateActivationCode is called by a device in lost mode. A matching code
// reactivates the device.
func (s *DeviceService) ValidateActivationCode(ctx context.Context, deviceID string, req *domain.ActivationRequest) (*domain.ModeChangeResponse, error) {
	device, err := s.repo.FindByID(ctx, deviceID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrDeviceNotFound
		}
		return nil, err
	}

	if device.Mode != domain.ModeDisabled || device.ActivationCodeHash == "" {
		return nil, ErrDeviceNotLocked
	}
	if err := hash.Compare(device.ActivationCodeHash, req.ActivationCode); err != nil {
		s.logger.Warn().Str("device_id", deviceID).Msg("rejected activation code")
		return nil, ErrInvalidActivationCode
	}

	device.Mode = domain.ModeActive
	device.ActivationCodeHash = ""
	device.UpdatedAt = time.Now()
	if err := s.repo.Update(ctx, device); err != nil {
		return nil, err
	}

	return &domain.ModeChangeResponse{
		ID:              device.ID,
		Name:            device.Name,
		Mode:            device.Mode,
		CommandDelivery: s.sendModeCommand(ctx, deviceID, domain.CommandUnlock, device.Mode),
	}, nil
}

// TriggerAlarm asks the device to play its alarm. It reports whether the
// command reached the device immediately.
func (s *DeviceService) TriggerAlarm(ctx context.Context, userID, deviceID string) (bool, error) {
	if _, err := ownedDevice(ctx, s.repo, userID, deviceID); err != nil {
		return false, err
	}
	return s.commands.Send(ctx, deviceID, domain.CommandPlayAlarm, nil)
}

// ConnectedDevices lists the live connections of the user's devices.
func (s *DeviceService) ConnectedDevices(ctx context.Context, userID string) ([]domain.DeviceConnection, error) {
	devices, err := s.repo.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	owned := make(map[string]struct{}, len(devices))
	for _, d := range devices {
		owned[d.ID] = struct{}{}
	}

	conns := []domain.DeviceConnection{}
	for _, c := range s.conns.ListConnected() {
		if _, ok := owned[c.DeviceID]; ok {
			conns = append(conns, c)
		}
	}
	return conns, nil
}

func (s *DeviceService) sendModeCommand(ctx context.Context, deviceID, command string, mode domain.DeviceMode) string {
	delivered, err := s.commands.Send(ctx, deviceID, command, map[string]string{"mode": string(mode)})
	switch {
	case err != nil:
		s.logger.Error().Err(err).Str("device_id", deviceID).Str("command", command).Msg("failed to send mode command")
		return metrics.DeliveryFailed
	case delivered:
		return metrics.DeliveryDelivered
	default:
		return metrics.DeliveryQueued
	}
}

func (s *DeviceService) toResponse(d *domain.Device) *domain.DeviceResponse {
	return &domain.DeviceResponse{
		ID:                d.ID,
		Name:              d.Name,
		ModelNumber:       d.ModelNumber,
		ImageURL:          d.ImageURL,
		Mode:              d.Mode,
		CurrentLocationID: d.CurrentLocationID,
		IsConnected:       s.conns.IsConnected(d.ID),
		CreatedAt:         d.CreatedAt,
	}
}
