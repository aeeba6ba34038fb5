package service

import (
	"context"
	"fmt"

	"findsafe-server/internal/domain"
	"findsafe-server/internal/metrics"
	"findsafe-server/internal/repository"
	"findsafe-server/pkg/geo"

	"github.com/rs/zerolog"
)

// Transition is the outcome of comparing a position against the device's
// previous geofence membership.
type Transition struct {
	DeviceID  string
	Latitude  float64
	Longitude float64
	// Triggered holds every active geofence containing the position.
	Triggered []*domain.Geofence
	Entered   []*domain.Geofence
	Exited    []*domain.Geofence
}

func (t *Transition) TriggeredIDs() []string {
	ids := make([]string, len(t.Triggered))
	for i, g := range t.Triggered {
		ids[i] = g.ID
	}
	return ids
}

func (t *Transition) HasChanges() bool {
	return len(t.Entered) > 0 || len(t.Exited) > 0
}

type GeofenceEvaluator struct {
	geofences  repository.GeofenceRepository
	membership MembershipStore
	logger     zerolog.Logger
}

func NewGeofenceEvaluator(geofences repository.GeofenceRepository, membership MembershipStore, logger zerolog.Logger) *GeofenceEvaluator {
	return &GeofenceEvaluator{
		geofences:  geofences,
		membership: membership,
		logger:     logger.With().Str("component", "evaluator").Logger(),
	}
}

// Contains reports whether the position lies within the geofence, along with
// the distance in meters from its center. The boundary counts as inside.
func Contains(g *domain.Geofence, lat, lon float64) (bool, float64) {
	d := geo.Distance(lat, lon, g.Center.Latitude, g.Center.Longitude)
	return d <= g.Radius, d
}

// Evaluate returns the device's active geofences that contain the position.
// It does not consult or change membership state.
func (e *GeofenceEvaluator) Evaluate(ctx context.Context, deviceID string, lat, lon float64) ([]*domain.Geofence, error) {
	active, err := e.geofences.ListByDevice(ctx, deviceID, true)
	if err != nil {
		return nil, fmt.Errorf("failed to load geofences: %w", err)
	}
	return triggered(active, lat, lon), nil
}

func triggered(geofences []*domain.Geofence, lat, lon float64) []*domain.Geofence {
	var inside []*domain.Geofence
	for _, g := range geofences {
		if !g.IsActive {
			continue
		}
		if ok, _ := Contains(g, lat, lon); ok {
			inside = append(inside, g)
		}
	}
	return inside
}

// DiffAndEmit evaluates the position and diffs the result against the stored
// membership, replacing it with the new set. Geofences that were left because
// they were deleted or deactivated produce no exit.
func (e *GeofenceEvaluator) DiffAndEmit(ctx context.Context, deviceID string, lat, lon float64) (*Transition, error) {
	active, err := e.geofences.ListByDevice(ctx, deviceID, true)
	if err != nil {
		return nil, fmt.Errorf("failed to load geofences: %w", err)
	}

	byID := make(map[string]*domain.Geofence, len(active))
	for _, g := range active {
		byID[g.ID] = g
	}

	t := &Transition{
		DeviceID:  deviceID,
		Latitude:  lat,
		Longitude: lon,
		Triggered: triggered(active, lat, lon),
	}

	now := make(map[string]struct{}, len(t.Triggered))
	for _, g := range t.Triggered {
		now[g.ID] = struct{}{}
	}

	previous := e.membership.Swap(deviceID, t.TriggeredIDs())
	was := make(map[string]struct{}, len(previous))
	for _, id := range previous {
		was[id] = struct{}{}
	}

	for _, g := range t.Triggered {
		if _, ok := was[g.ID]; !ok {
			t.Entered = append(t.Entered, g)
		}
	}
	for _, id := range previous {
		if _, ok := now[id]; ok {
			continue
		}
		g, ok := byID[id]
		if !ok {
			e.logger.Debug().Str("device_id", deviceID).Str("geofence_id", id).Msg("dropping membership of inactive geofence")
			continue
		}
		t.Exited = append(t.Exited, g)
	}

	metrics.GeofenceTransitions.WithLabelValues(string(domain.EventEntered)).Add(float64(len(t.Entered)))
	metrics.GeofenceTransitions.WithLabelValues(string(domain.EventExited)).Add(float64(len(t.Exited)))

	if t.HasChanges() {
		e.logger.Info().
			Str("device_id", deviceID).
			Int("entered", len(t.Entered)).
			Int("exited", len(t.Exited)).
			Msg("geofence membership changed")
	}

	return t, nil
}
