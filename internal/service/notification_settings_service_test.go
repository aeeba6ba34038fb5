package service

import (
	"context"
	"testing"

	"findsafe-server/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func boolPtr(b bool) *bool { return &b }

func TestNotificationSettings_DefaultsWhenMissing(t *testing.T) {
	repo := newMockSettingsRepo()
	svc := NewNotificationSettingsService(repo)

	settings, err := svc.Get(context.Background(), "user-1")
	require.NoError(t, err)
	assert.True(t, settings.PushNotificationsEnabled)
	assert.True(t, settings.GeofenceNotificationsEnabled)
	assert.Empty(t, settings.DeviceTokens)
	assert.Zero(t, repo.saves, "reading defaults does not persist them")
}

func TestNotificationSettings_Update(t *testing.T) {
	repo := newMockSettingsRepo()
	svc := NewNotificationSettingsService(repo)
	ctx := context.Background()

	settings, err := svc.Update(ctx, "user-1", &domain.UpdateNotificationSettingsRequest{
		GeofenceNotificationsEnabled: boolPtr(false),
	})
	require.NoError(t, err)
	assert.False(t, settings.GeofenceNotificationsEnabled)
	assert.True(t, settings.PushNotificationsEnabled)

	stored, err := repo.Get(ctx, "user-1")
	require.NoError(t, err)
	assert.False(t, stored.GeofenceNotificationsEnabled)
}

func TestNotificationSettings_RegisterTokenReplacesPerDevice(t *testing.T) {
	repo := newMockSettingsRepo()
	svc := NewNotificationSettingsService(repo)
	ctx := context.Background()

	_, err := svc.RegisterToken(ctx, "user-1", &domain.RegisterPushTokenRequest{DeviceID: "phone", Token: "tok-1", Platform: "android"})
	require.NoError(t, err)
	_, err = svc.RegisterToken(ctx, "user-1", &domain.RegisterPushTokenRequest{DeviceID: "tablet", Token: "tok-2", Platform: "ios"})
	require.NoError(t, err)
	settings, err := svc.RegisterToken(ctx, "user-1", &domain.RegisterPushTokenRequest{DeviceID: "phone", Token: "tok-3", Platform: "android"})
	require.NoError(t, err)

	var tokens []string
	for _, tok := range settings.DeviceTokens {
		tokens = append(tokens, tok.Token)
	}
	assert.ElementsMatch(t, []string{"tok-2", "tok-3"}, tokens)
}

func TestNotificationSettings_PruneTokens(t *testing.T) {
	repo := newMockSettingsRepo()
	svc := NewNotificationSettingsService(repo)
	ctx := context.Background()

	for _, r := range []domain.RegisterPushTokenRequest{
		{DeviceID: "a", Token: "tok-a", Platform: "android"},
		{DeviceID: "b", Token: "tok-b", Platform: "ios"},
	} {
		_, err := svc.RegisterToken(ctx, "user-1", &r)
		require.NoError(t, err)
	}
	saves := repo.saves

	require.NoError(t, svc.PruneTokens(ctx, "user-1", []string{"unknown"}))
	assert.Equal(t, saves, repo.saves, "nothing to prune, nothing saved")

	require.NoError(t, svc.PruneTokens(ctx, "user-1", []string{"tok-a"}))
	stored, err := repo.Get(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, stored.DeviceTokens, 1)
	assert.Equal(t, "tok-b", stored.DeviceTokens[0].Token)

	require.NoError(t, svc.UnregisterToken(ctx, "user-1", "tok-b"))
	stored, err = repo.Get(ctx, "user-1")
	require.NoError(t, err)
	assert.Empty(t, stored.DeviceTokens)

	assert.NoError(t, svc.PruneTokens(ctx, "nobody", []string{"tok-a"}))
}
