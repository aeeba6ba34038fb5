// Package notification delivers push notifications to device owners through
// an HTTP push gateway.
package notification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	stdhttp "net/http"
	"sync"
	"time"

	"findsafe-server/internal/domain"
	"findsafe-server/internal/metrics"

	"github.com/cenkalti/backoff/v4"
	"github.com/nikoksr/notify"
	nhttp "github.com/nikoksr/notify/service/http"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
)

var ErrCircuitOpen = errors.New("push gateway circuit breaker is open")

// SettingsStore is the part of notification settings the notifier needs.
type SettingsStore interface {
	Get(ctx context.Context, userID string) (*domain.NotificationSettings, error)
	PruneTokens(ctx context.Context, userID string, tokens []string) error
}

type Config struct {
	GatewayURL string
	APIKey     string
	// Timeout bounds a single gateway request.
	Timeout         time.Duration
	MaxRetries      uint64
	InitialInterval time.Duration
	MaxInterval     time.Duration
	// BreakerTimeout is how long the breaker stays open before probing again.
	BreakerTimeout time.Duration
}

func (c *Config) setDefaults() {
	if c.Timeout <= 0 {
		c.Timeout = 5 * time.Second
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 2
	}
	if c.InitialInterval <= 0 {
		c.InitialInterval = 100 * time.Millisecond
	}
	if c.MaxInterval <= 0 {
		c.MaxInterval = 2 * time.Second
	}
	if c.BreakerTimeout <= 0 {
		c.BreakerTimeout = 30 * time.Second
	}
}

// Payload is the JSON body posted to the gateway.
type Payload struct {
	Tokens []string          `json:"tokens"`
	Title  string            `json:"title"`
	Body   string            `json:"body"`
	Data   map[string]string `json:"data,omitempty"`
}

// gatewayResponse is what the gateway answers with on success.
type gatewayResponse struct {
	InvalidTokens []string `json:"invalid_tokens"`
}

// PushNotifier sends geofence notifications to every push token registered
// by the geofence owner.
type PushNotifier struct {
	settings SettingsStore
	config   Config
	client   *stdhttp.Client
	breaker  *gobreaker.CircuitBreaker[[]string]
	logger   zerolog.Logger
}

func NewPushNotifier(settings SettingsStore, config Config, logger zerolog.Logger) *PushNotifier {
	config.setDefaults()
	logger = logger.With().Str("component", "push").Logger()

	breaker := gobreaker.NewCircuitBreaker[[]string](gobreaker.Settings{
		Name:        "push-gateway",
		MaxRequests: 1,
		Timeout:     config.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state changed")
		},
	})

	return &PushNotifier{
		settings: settings,
		config:   config,
		client:   &stdhttp.Client{Timeout: config.Timeout},
		breaker:  breaker,
		logger:   logger,
	}
}

// NotifyGeofenceEvent tells userID that deviceName entered or left geofence.
// Users with push or geofence notifications disabled, or without tokens, are
// skipped silently.
func (n *PushNotifier) NotifyGeofenceEvent(ctx context.Context, userID string, geofence *domain.Geofence, deviceName string, isEntry bool) error {
	settings, err := n.settings.Get(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to load notification settings: %w", err)
	}
	if !settings.PushNotificationsEnabled || !settings.GeofenceNotificationsEnabled {
		metrics.PushNotifications.WithLabelValues("skipped").Inc()
		return nil
	}

	tokens := make([]string, 0, len(settings.DeviceTokens))
	for _, t := range settings.DeviceTokens {
		tokens = append(tokens, t.Token)
	}
	if len(tokens) == 0 {
		metrics.PushNotifications.WithLabelValues("skipped").Inc()
		return nil
	}

	action := "exited"
	if isEntry {
		action = "entered"
	}
	body := geofence.Name
	if geofence.Description != "" {
		body = geofence.Name + ": " + geofence.Description
	}

	payload := Payload{
		Tokens: tokens,
		Title:  fmt.Sprintf("%s %s geofence", deviceName, action),
		Body:   body,
		Data: map[string]string{
			"type":        "geofence",
			"geofence_id": geofence.ID,
			"device_id":   geofence.DeviceID,
			"event":       action,
		},
	}

	invalid, err := n.deliver(ctx, payload)
	if err != nil {
		metrics.PushNotifications.WithLabelValues("failed").Inc()
		return err
	}
	metrics.PushNotifications.WithLabelValues("sent").Inc()

	if len(invalid) > 0 {
		n.logger.Info().Str("user_id", userID).Int("count", len(invalid)).Msg("pruning invalid push tokens")
		if err := n.settings.PruneTokens(ctx, userID, invalid); err != nil {
			n.logger.Warn().Err(err).Str("user_id", userID).Msg("failed to prune push tokens")
		}
	}
	return nil
}

// deliver posts payload to the gateway through the circuit breaker, retrying
// with exponential backoff. It returns the tokens the gateway rejected.
func (n *PushNotifier) deliver(ctx context.Context, payload Payload) ([]string, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = n.config.InitialInterval
	bo.MaxInterval = n.config.MaxInterval
	bo.MaxElapsedTime = 0

	var invalid []string
	operation := func() error {
		result, err := n.breaker.Execute(func() ([]string, error) {
			return n.post(ctx, payload)
		})
		if err != nil {
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				return backoff.Permanent(ErrCircuitOpen)
			}
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return err
		}
		invalid = result
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(bo, n.config.MaxRetries), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		return nil, fmt.Errorf("push gateway delivery failed: %w", err)
	}
	return invalid, nil
}

// post performs one gateway request. A fresh notify service is built per
// call since receivers accumulate on a service.
func (n *PushNotifier) post(ctx context.Context, payload Payload) ([]string, error) {
	header := stdhttp.Header{}
	if n.config.APIKey != "" {
		header.Set("Authorization", "Bearer "+n.config.APIKey)
	}

	svc := nhttp.New()
	svc.WithClient(n.client)
	svc.AddReceivers(&nhttp.Webhook{
		ContentType: "application/json",
		Header:      header,
		Method:      stdhttp.MethodPost,
		URL:         n.config.GatewayURL,
		BuildPayload: func(subject, message string) any {
			return payload
		},
	})

	var (
		mu      sync.Mutex
		invalid []string
	)
	svc.PostSend(func(req *stdhttp.Request, resp *stdhttp.Response) error {
		raw, err := io.ReadAll(resp.Body)
		if err != nil || len(raw) == 0 {
			return nil
		}
		var decoded gatewayResponse
		if err := json.Unmarshal(raw, &decoded); err != nil {
			n.logger.Debug().Err(err).Msg("unrecognised push gateway response")
			return nil
		}
		mu.Lock()
		invalid = append(invalid, decoded.InvalidTokens...)
		mu.Unlock()
		return nil
	})

	notifier := notify.New()
	notifier.UseServices(svc)
	if err := notifier.Send(ctx, payload.Title, payload.Body); err != nil {
		return nil, err
	}

	mu.Lock()
	defer mu.Unlock()
	return invalid, nil
}
