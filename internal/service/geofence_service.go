package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"findsafe-server/internal/domain"
	"findsafe-server/internal/repository"

	"github.com/google/uuid"
)

const (
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 500
)

type GeofenceService struct {
	repo       repository.GeofenceRepository
	devices    repository.DeviceRepository
	history    repository.GeofenceHistoryRepository
	evaluator  *GeofenceEvaluator
	membership MembershipStore
}

func NewGeofenceService(
	repo repository.GeofenceRepository,
	devices repository.DeviceRepository,
	history repository.GeofenceHistoryRepository,
	evaluator *GeofenceEvaluator,
	membership MembershipStore,
) *GeofenceService {
	return &GeofenceService{
		repo:       repo,
		devices:    devices,
		history:    history,
		evaluator:  evaluator,
		membership: membership,
	}
}

// Create stores a new geofence. It does not fire for a device that is already
// inside; the entry is detected on the device's next location update.
func (s *GeofenceService) Create(ctx context.Context, userID string, req *domain.CreateGeofenceRequest) (*domain.Geofence, error) {
	if _, err := ownedDevice(ctx, s.devices, userID, req.DeviceID); err != nil {
		return nil, err
	}

	geofence := newGeofence(userID, req)
	if err := s.repo.Create(ctx, geofence); err != nil {
		return nil, err
	}
	return geofence, nil
}

// BulkCreate validates ownership of every target device before creating
// anything.
func (s *GeofenceService) BulkCreate(ctx context.Context, userID string, req *domain.BulkCreateGeofenceRequest) ([]*domain.Geofence, error) {
	checked := make(map[string]struct{})
	for _, r := range req.Geofences {
		if _, ok := checked[r.DeviceID]; ok {
			continue
		}
		if _, err := ownedDevice(ctx, s.devices, userID, r.DeviceID); err != nil {
			return nil, err
		}
		checked[r.DeviceID] = struct{}{}
	}

	created := make([]*domain.Geofence, 0, len(req.Geofences))
	for i := range req.Geofences {
		geofence := newGeofence(userID, &req.Geofences[i])
		if err := s.repo.Create(ctx, geofence); err != nil {
			return created, fmt.Errorf("failed to create geofence %d of %d: %w", i+1, len(req.Geofences), err)
		}
		created = append(created, geofence)
	}
	return created, nil
}

func (s *GeofenceService) Get(ctx context.Context, userID, geofenceID string) (*domain.Geofence, error) {
	return s.owned(ctx, userID, geofenceID)
}

func (s *GeofenceService) List(ctx context.Context, userID string) ([]*domain.Geofence, error) {
	return s.repo.ListByUser(ctx, userID)
}

func (s *GeofenceService) ListByDevice(ctx context.Context, userID, deviceID string) ([]*domain.Geofence, error) {
	if _, err := ownedDevice(ctx, s.devices, userID, deviceID); err != nil {
		return nil, err
	}
	return s.repo.ListByDevice(ctx, deviceID, false)
}

func (s *GeofenceService) Update(ctx context.Context, userID, geofenceID string, req *domain.UpdateGeofenceRequest) (*domain.Geofence, error) {
	geofence, err := s.owned(ctx, userID, geofenceID)
	if err != nil {
		return nil, err
	}

	if req.Name != nil {
		geofence.Name = *req.Name
	}
	if req.Description != nil {
		geofence.Description = *req.Description
	}
	if req.Center != nil {
		geofence.Center = *req.Center
	}
	if req.Radius != nil {
		geofence.Radius = *req.Radius
	}
	if req.Type != nil {
		geofence.Type = domain.GeofenceType(*req.Type)
	}
	if req.Color != nil {
		geofence.Color = *req.Color
	}
	if req.IsActive != nil {
		geofence.IsActive = *req.IsActive
	}
	geofence.UpdatedAt = time.Now()

	if err := s.repo.Update(ctx, geofence); err != nil {
		return nil, err
	}
	if !geofence.IsActive {
		s.membership.RemoveGeofence(geofence.ID)
	}
	return geofence, nil
}

// Toggle flips the active flag. A deactivated geofence is forgotten by every
// device without an exit event.
func (s *GeofenceService) Toggle(ctx context.Context, userID, geofenceID string) (*domain.Geofence, error) {
	geofence, err := s.owned(ctx, userID, geofenceID)
	if err != nil {
		return nil, err
	}

	geofence.IsActive = !geofence.IsActive
	geofence.UpdatedAt = time.Now()
	if err := s.repo.Update(ctx, geofence); err != nil {
		return nil, err
	}
	if !geofence.IsActive {
		s.membership.RemoveGeofence(geofence.ID)
	}
	return geofence, nil
}

func (s *GeofenceService) Delete(ctx context.Context, userID, geofenceID string) error {
	if _, err := s.owned(ctx, userID, geofenceID); err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, geofenceID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrGeofenceNotFound
		}
		return err
	}
	s.membership.RemoveGeofence(geofenceID)
	return nil
}

// Check reports which of the device's active geofences contain the position
// without touching membership state.
func (s *GeofenceService) Check(ctx context.Context, userID string, req *domain.CheckGeofencesRequest) ([]domain.GeofenceCheckResult, error) {
	if _, err := ownedDevice(ctx, s.devices, userID, req.DeviceID); err != nil {
		return nil, err
	}

	inside, err := s.evaluator.Evaluate(ctx, req.DeviceID, req.Latitude, req.Longitude)
	if err != nil {
		return nil, err
	}

	results := make([]domain.GeofenceCheckResult, 0, len(inside))
	for _, g := range inside {
		_, distance := Contains(g, req.Latitude, req.Longitude)
		results = append(results, domain.GeofenceCheckResult{Geofence: g, Distance: distance})
	}
	return results, nil
}

func (s *GeofenceService) History(ctx context.Context, userID string, limit int) ([]*domain.GeofenceHistoryEntry, error) {
	return s.history.ListByUser(ctx, userID, clampLimit(limit))
}

func (s *GeofenceService) DeviceHistory(ctx context.Context, userID, deviceID string, limit int) ([]*domain.GeofenceHistoryEntry, error) {
	if _, err := ownedDevice(ctx, s.devices, userID, deviceID); err != nil {
		return nil, err
	}
	return s.history.ListByDevice(ctx, deviceID, clampLimit(limit))
}

func (s *GeofenceService) owned(ctx context.Context, userID, geofenceID string) (*domain.Geofence, error) {
	geofence, err := s.repo.FindByID(ctx, geofenceID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrGeofenceNotFound
		}
		return nil, err
	}
	if geofence.UserID != userID {
		return nil, ErrForbidden
	}
	return geofence, nil
}

func newGeofence(userID string, req *domain.CreateGeofenceRequest) *domain.Geofence {
	now := time.Now()
	geofence := &domain.Geofence{
		ID:          uuid.New().String(),
		UserID:      userID,
		DeviceID:    req.DeviceID,
		Name:        req.Name,
		Description: req.Description,
		Center:      req.Center,
		Radius:      req.Radius,
		Type:        domain.GeofenceType(req.Type),
		IsActive:    true,
		Color:       domain.DefaultGeofenceColor,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if geofence.Type == "" {
		geofence.Type = domain.GeofenceBoth
	}
	if req.Color != nil {
		geofence.Color = *req.Color
	}
	return geofence
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		return MaxHistoryLimit
	}
	return limit
}
