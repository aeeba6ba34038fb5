package notification

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"findsafe-server/internal/domain"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSettings struct {
	mu       sync.Mutex
	settings *domain.NotificationSettings
	getErr   error
	pruned   []string
}

func (f *fakeSettings) Get(ctx context.Context, userID string) (*domain.NotificationSettings, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.settings, nil
}

func (f *fakeSettings) PruneTokens(ctx context.Context, userID string, tokens []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pruned = append(f.pruned, tokens...)
	return nil
}

func settingsWithTokens(tokens ...string) *fakeSettings {
	s := domain.DefaultNotificationSettings("user-1")
	for _, t := range tokens {
		s.DeviceTokens = append(s.DeviceTokens, domain.PushToken{DeviceID: "phone-" + t, Token: t, Platform: domain.PlatformAndroid})
	}
	return &fakeSettings{settings: s}
}

type gateway struct {
	*httptest.Server
	calls    atomic.Int32
	mu       sync.Mutex
	payloads []Payload
	headers  []http.Header
}

// newGateway answers with status codes in order, repeating the last one.
func newGateway(t *testing.T, body string, statuses ...int) *gateway {
	t.Helper()
	g := &gateway{}
	g.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := int(g.calls.Add(1))
		raw, _ := io.ReadAll(r.Body)

		var p Payload
		_ = json.Unmarshal(raw, &p)
		g.mu.Lock()
		g.payloads = append(g.payloads, p)
		g.headers = append(g.headers, r.Header.Clone())
		g.mu.Unlock()

		status := statuses[len(statuses)-1]
		if n <= len(statuses) {
			status = statuses[n-1]
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(g.Close)
	return g
}

func testConfig(url string) Config {
	return Config{
		GatewayURL:      url,
		APIKey:          "secret",
		Timeout:         time.Second,
		MaxRetries:      2,
		InitialInterval: time.Millisecond,
		MaxInterval:     5 * time.Millisecond,
	}
}

var school = &domain.Geofence{ID: "g-1", DeviceID: "dev-1", Name: "School", Description: "Main gate"}

func TestNotifyGeofenceEvent_PostsToGateway(t *testing.T) {
	gw := newGateway(t, `{}`, http.StatusOK)
	n := NewPushNotifier(settingsWithTokens("tok-1", "tok-2"), testConfig(gw.URL), zerolog.Nop())

	err := n.NotifyGeofenceEvent(context.Background(), "user-1", school, "Kid's phone", true)
	require.NoError(t, err)

	require.Equal(t, int32(1), gw.calls.Load())
	p := gw.payloads[0]
	assert.Equal(t, []string{"tok-1", "tok-2"}, p.Tokens)
	assert.Equal(t, "Kid's phone entered geofence", p.Title)
	assert.Equal(t, "School: Main gate", p.Body)
	assert.Equal(t, "g-1", p.Data["geofence_id"])
	assert.Equal(t, "entered", p.Data["event"])
	assert.Equal(t, "Bearer secret", gw.headers[0].Get("Authorization"))
}

func TestNotifyGeofenceEvent_ExitTitle(t *testing.T) {
	gw := newGateway(t, `{}`, http.StatusOK)
	n := NewPushNotifier(settingsWithTokens("tok-1"), testConfig(gw.URL), zerolog.Nop())

	require.NoError(t, n.NotifyGeofenceEvent(context.Background(), "user-1", &domain.Geofence{ID: "g", Name: "Park"}, "Tablet", false))
	assert.Equal(t, "Tablet exited geofence", gw.payloads[0].Title)
	assert.Equal(t, "Park", gw.payloads[0].Body)
}

func TestNotifyGeofenceEvent_SkipsWithoutRecipients(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(s *domain.NotificationSettings)
	}{
		{"no tokens", func(s *domain.NotificationSettings) { s.DeviceTokens = nil }},
		{"push disabled", func(s *domain.NotificationSettings) { s.PushNotificationsEnabled = false }},
		{"geofence alerts disabled", func(s *domain.NotificationSettings) { s.GeofenceNotificationsEnabled = false }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gw := newGateway(t, `{}`, http.StatusOK)
			store := settingsWithTokens("tok-1")
			tt.mutate(store.settings)
			n := NewPushNotifier(store, testConfig(gw.URL), zerolog.Nop())

			assert.NoError(t, n.NotifyGeofenceEvent(context.Background(), "user-1", school, "Phone", true))
			assert.Zero(t, gw.calls.Load())
		})
	}
}

func TestNotifyGeofenceEvent_RetriesServerErrors(t *testing.T) {
	gw := newGateway(t, `{}`, http.StatusBadGateway, http.StatusOK)
	n := NewPushNotifier(settingsWithTokens("tok-1"), testConfig(gw.URL), zerolog.Nop())

	require.NoError(t, n.NotifyGeofenceEvent(context.Background(), "user-1", school, "Phone", true))
	assert.Equal(t, int32(2), gw.calls.Load())
}

func TestNotifyGeofenceEvent_GivesUpAfterRetries(t *testing.T) {
	gw := newGateway(t, `{}`, http.StatusServiceUnavailable)
	n := NewPushNotifier(settingsWithTokens("tok-1"), testConfig(gw.URL), zerolog.Nop())

	err := n.NotifyGeofenceEvent(context.Background(), "user-1", school, "Phone", true)
	assert.Error(t, err)
	assert.Equal(t, int32(3), gw.calls.Load(), "one attempt plus two retries")
}

func TestNotifyGeofenceEvent_BreakerOpensOnRepeatedFailure(t *testing.T) {
	gw := newGateway(t, `{}`, http.StatusInternalServerError)
	cfg := testConfig(gw.URL)
	cfg.MaxRetries = 1
	n := NewPushNotifier(settingsWithTokens("tok-1"), cfg, zerolog.Nop())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_ = n.NotifyGeofenceEvent(ctx, "user-1", school, "Phone", true)
	}
	calls := gw.calls.Load()
	require.GreaterOrEqual(t, calls, int32(5))

	err := n.NotifyGeofenceEvent(ctx, "user-1", school, "Phone", true)
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, calls, gw.calls.Load(), "open breaker short-circuits the request")
}

func TestNotifyGeofenceEvent_PrunesInvalidTokens(t *testing.T) {
	gw := newGateway(t, `{"invalid_tokens":["tok-2"]}`, http.StatusOK)
	store := settingsWithTokens("tok-1", "tok-2")
	n := NewPushNotifier(store, testConfig(gw.URL), zerolog.Nop())

	require.NoError(t, n.NotifyGeofenceEvent(context.Background(), "user-1", school, "Phone", true))
	assert.Equal(t, []string{"tok-2"}, store.pruned)
}

func TestNotifyGeofenceEvent_SettingsError(t *testing.T) {
	store := &fakeSettings{getErr: errors.New("couch down")}
	n := NewPushNotifier(store, testConfig("http://127.0.0.1:1"), zerolog.Nop())

	assert.Error(t, n.NotifyGeofenceEvent(context.Background(), "user-1", school, "Phone", true))
}
