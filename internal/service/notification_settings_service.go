package service

import (
	"context"
	"errors"
	"time"

	"findsafe-server/internal/domain"
	"findsafe-server/internal/repository"
)

type NotificationSettingsService struct {
	repo repository.NotificationSettingsRepository
}

func NewNotificationSettingsService(repo repository.NotificationSettingsRepository) *NotificationSettingsService {
	return &NotificationSettingsService{repo: repo}
}

// Get returns the user's settings, or the defaults when none were saved.
func (s *NotificationSettingsService) Get(ctx context.Context, userID string) (*domain.NotificationSettings, error) {
	settings, err := s.repo.Get(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return domain.DefaultNotificationSettings(userID), nil
	}
	if err != nil {
		return nil, err
	}
	return settings, nil
}

func (s *NotificationSettingsService) Update(ctx context.Context, userID string, req *domain.UpdateNotificationSettingsRequest) (*domain.NotificationSettings, error) {
	settings, err := s.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	if req.PushNotificationsEnabled != nil {
		settings.PushNotificationsEnabled = *req.PushNotificationsEnabled
	}
	if req.GeofenceNotificationsEnabled != nil {
		settings.GeofenceNotificationsEnabled = *req.GeofenceNotificationsEnabled
	}
	if req.DeviceStatusNotificationsEnabled != nil {
		settings.DeviceStatusNotificationsEnabled = *req.DeviceStatusNotificationsEnabled
	}
	settings.UpdatedAt = time.Now()

	if err := s.repo.Save(ctx, settings); err != nil {
		return nil, err
	}
	return settings, nil
}

// RegisterToken adds a push token, replacing any token previously registered
// for the same device.
func (s *NotificationSettingsService) RegisterToken(ctx context.Context, userID string, req *domain.RegisterPushTokenRequest) (*domain.NotificationSettings, error) {
	settings, err := s.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	tokens := make([]domain.PushToken, 0, len(settings.DeviceTokens)+1)
	for _, t := range settings.DeviceTokens {
		if t.Token == req.Token || t.DeviceID == req.DeviceID {
			continue
		}
		tokens = append(tokens, t)
	}
	tokens = append(tokens, domain.PushToken{
		DeviceID:  req.DeviceID,
		Token:     req.Token,
		Platform:  domain.PushPlatform(req.Platform),
		CreatedAt: time.Now(),
	})
	settings.DeviceTokens = tokens
	settings.UpdatedAt = time.Now()

	if err := s.repo.Save(ctx, settings); err != nil {
		return nil, err
	}
	return settings, nil
}

func (s *NotificationSettingsService) UnregisterToken(ctx context.Context, userID, token string) error {
	return s.PruneTokens(ctx, userID, []string{token})
}

// PruneTokens removes the given tokens from the user's settings. Unknown
// tokens are ignored.
func (s *NotificationSettingsService) PruneTokens(ctx context.Context, userID string, tokens []string) error {
	if len(tokens) == 0 {
		return nil
	}

	settings, err := s.repo.Get(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	drop := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		drop[t] = struct{}{}
	}

	kept := make([]domain.PushToken, 0, len(settings.DeviceTokens))
	for _, t := range settings.DeviceTokens {
		if _, ok := drop[t.Token]; !ok {
			kept = append(kept, t)
		}
	}
	if len(kept) == len(settings.DeviceTokens) {
		return nil
	}

	settings.DeviceTokens = kept
	settings.UpdatedAt = time.Now()
	return s.repo.Save(ctx, settings)
}
