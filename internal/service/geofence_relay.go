package service

import (
	"context"
	"errors"
	"time"

	"findsafe-server/internal/domain"
	"findsafe-server/internal/metrics"
	"findsafe-server/internal/repository"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// GeofenceNotifier tells a device owner that one of their devices crossed a
// geofence boundary.
type GeofenceNotifier interface {
	NotifyGeofenceEvent(ctx context.Context, userID string, geofence *domain.Geofence, deviceName string, isEntry bool) error
}

// EventPublisher forwards geofence transitions to downstream consumers.
type EventPublisher interface {
	PublishGeofenceEvent(ctx context.Context, event *domain.GeofenceEvent) error
}

// CommandSender is the dispatcher as seen by callers that issue commands.
type CommandSender interface {
	Send(ctx context.Context, deviceID, command string, payload interface{}) (bool, error)
}

// AlertSender delivers device-side advisories, keeping at most one queued.
type AlertSender interface {
	SendLatest(ctx context.Context, deviceID, command string, payload interface{}) (bool, error)
}

type RelayConfig struct {
	// Timeout bounds the transition fan-out of one location update, and
	// separately the device alert.
	Timeout time.Duration
	// Concurrency caps how many transitions are processed at once.
	Concurrency int
}

// GeofenceAlert is the payload of the geofence_alert command.
type GeofenceAlert struct {
	TriggeredGeofences []TriggeredGeofence `json:"triggeredGeofences"`
}

type TriggeredGeofence struct {
	ID       string              `json:"id"`
	Name     string              `json:"name"`
	Type     domain.GeofenceType `json:"type"`
	Distance float64             `json:"distance"`
}

// GeofenceRelay records transitions and fans them out to the owner, the event
// stream and the device. Failures are logged per geofence and never abort the
// rest of the batch.
type GeofenceRelay struct {
	history   repository.GeofenceHistoryRepository
	notifier  GeofenceNotifier
	publisher EventPublisher
	commands  AlertSender
	config    RelayConfig
	logger    zerolog.Logger
	now       func() time.Time
}

func NewGeofenceRelay(
	history repository.GeofenceHistoryRepository,
	notifier GeofenceNotifier,
	publisher EventPublisher,
	commands AlertSender,
	config RelayConfig,
	logger zerolog.Logger,
) *GeofenceRelay {
	if config.Timeout <= 0 {
		config.Timeout = 5 * time.Second
	}
	if config.Concurrency <= 0 {
		config.Concurrency = 4
	}

	return &GeofenceRelay{
		history:   history,
		notifier:  notifier,
		publisher: publisher,
		commands:  commands,
		config:    config,
		logger:    logger.With().Str("component", "relay").Logger(),
		now:       time.Now,
	}
}

// Process handles the transitions of one location update for device.
func (r *GeofenceRelay) Process(ctx context.Context, device *domain.Device, t *Transition) {
	if t == nil {
		return
	}

	if t.HasChanges() {
		fanoutCtx, cancel := context.WithTimeout(ctx, r.config.Timeout)
		defer cancel()

		var g errgroup.Group
		g.SetLimit(r.config.Concurrency)
		for _, gf := range t.Entered {
			gf := gf
			g.Go(func() error {
				r.handleTransition(fanoutCtx, device, gf, t, true)
				return nil
			})
		}
		for _, gf := range t.Exited {
			gf := gf
			g.Go(func() error {
				r.handleTransition(fanoutCtx, device, gf, t, false)
				return nil
			})
		}
		g.Wait()
	}

	// The alert gets its own budget so slow notifications cannot starve it.
	if len(t.Triggered) > 0 {
		alertCtx, cancel := context.WithTimeout(ctx, r.config.Timeout)
		defer cancel()
		r.sendAlert(alertCtx, device.ID, t)
	}
}

func (r *GeofenceRelay) handleTransition(ctx context.Context, device *domain.Device, gf *domain.Geofence, t *Transition, isEntry bool) {
	_, distance := Contains(gf, t.Latitude, t.Longitude)
	now := r.now()

	eventType := domain.EventEntered
	var dwell int64
	if !isEntry {
		eventType = domain.EventExited
		dwell = r.dwellTime(ctx, device, gf, now)
	}

	logger := r.logger.With().
		Str("device_id", device.ID).
		Str("geofence_id", gf.ID).
		Str("event", string(eventType)).
		Logger()

	entry := &domain.GeofenceHistoryEntry{
		ID:         uuid.New().String(),
		UserID:     device.UserID,
		DeviceID:   device.ID,
		GeofenceID: gf.ID,
		EventType:  eventType,
		Location:   domain.Coordinates{Latitude: t.Latitude, Longitude: t.Longitude},
		Distance:   distance,
		DwellTime:  dwell,
		Metadata: map[string]interface{}{
			"geofence_name": gf.Name,
			"geofence_type": string(gf.Type),
			"radius":        gf.Radius,
		},
		Timestamp: now,
	}
	if err := r.history.Create(ctx, entry); err != nil {
		metrics.GeofenceRelayErrors.WithLabelValues("history").Inc()
		logger.Error().Err(err).Msg("failed to record geofence history")
	}

	if r.notifier != nil && gf.Type.NotifiesOn(isEntry) {
		if err := r.notifier.NotifyGeofenceEvent(ctx, device.UserID, gf, device.Name, isEntry); err != nil {
			metrics.GeofenceRelayErrors.WithLabelValues("notify").Inc()
			logger.Error().Err(err).Msg("failed to notify owner of geofence event")
		}
	}

	if r.publisher != nil {
		event := &domain.GeofenceEvent{
			UserID:       device.UserID,
			DeviceID:     device.ID,
			GeofenceID:   gf.ID,
			GeofenceName: gf.Name,
			EventType:    eventType,
			Latitude:     t.Latitude,
			Longitude:    t.Longitude,
			Distance:     distance,
			DwellTime:    dwell,
			Timestamp:    now,
		}
		if err := r.publisher.PublishGeofenceEvent(ctx, event); err != nil {
			metrics.GeofenceRelayErrors.WithLabelValues("publish").Inc()
			logger.Error().Err(err).Msg("failed to publish geofence event")
		}
	}
}

// dwellTime returns milliseconds since the most recent entry into gf, or 0
// when no entry was recorded.
func (r *GeofenceRelay) dwellTime(ctx context.Context, device *domain.Device, gf *domain.Geofence, now time.Time) int64 {
	entered, err := r.history.FindLatest(ctx, device.UserID, device.ID, gf.ID, domain.EventEntered)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			metrics.GeofenceRelayErrors.WithLabelValues("history").Inc()
			r.logger.Warn().Err(err).Str("geofence_id", gf.ID).Msg("failed to look up entry for dwell time")
		}
		return 0
	}

	dwell := now.Sub(entered.Timestamp).Milliseconds()
	if dwell < 0 {
		return 0
	}
	return dwell
}

func (r *GeofenceRelay) sendAlert(ctx context.Context, deviceID string, t *Transition) {
	alert := GeofenceAlert{TriggeredGeofences: make([]TriggeredGeofence, 0, len(t.Triggered))}
	for _, gf := range t.Triggered {
		_, distance := Contains(gf, t.Latitude, t.Longitude)
		alert.TriggeredGeofences = append(alert.TriggeredGeofences, TriggeredGeofence{
			ID:       gf.ID,
			Name:     gf.Name,
			Type:     gf.Type,
			Distance: distance,
		})
	}

	if _, err := r.commands.SendLatest(ctx, deviceID, domain.CommandGeofenceAlert, alert); err != nil {
		metrics.GeofenceRelayErrors.WithLabelValues("alert").Inc()
		r.logger.Error().Err(err).Str("device_id", deviceID).Msg("failed to send geofence alert")
	}
}
