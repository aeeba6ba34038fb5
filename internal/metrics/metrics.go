// Package metrics exposes Prometheus instrumentation for device connections,
// command delivery and geofence processing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	DeliveryDelivered = "delivered"
	DeliveryQueued    = "queued"
	DeliveryFailed    = "failed"
)

var (
	// Connection registry
	ConnectedDevices = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "findsafe_connected_devices",
			Help: "Number of devices currently holding a live websocket connection",
		},
	)

	ConnectionEvictions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "findsafe_connection_evictions_total",
			Help: "Connections evicted from the registry, by reason",
		},
		[]string{"reason"}, // "missed_heartbeat", "write_failed", "replaced", "disconnect"
	)

	// Command dispatch
	CommandsDispatched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "findsafe_commands_dispatched_total",
			Help: "Commands sent to devices, by command and delivery result",
		},
		[]string{"command", "result"},
	)

	PendingCommandsFlushed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "findsafe_pending_commands_flushed_total",
			Help: "Queued commands delivered after a device came back online",
		},
	)

	// Geofence engine
	GeofenceTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "findsafe_geofence_transitions_total",
			Help: "Geofence membership transitions detected, by event type",
		},
		[]string{"event"},
	)

	GeofenceRelayErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "findsafe_geofence_relay_errors_total",
			Help: "Failures while persisting or forwarding geofence transitions",
		},
		[]string{"stage"}, // "history", "notify", "publish", "alert"
	)

	LocationUpdateDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "findsafe_location_update_duration_seconds",
			Help:    "Time spent processing a device location update end to end",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Push notifications
	PushNotifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "findsafe_push_notifications_total",
			Help: "Push notifications sent through the gateway, by result",
		},
		[]string{"result"}, // "sent", "skipped", "failed"
	)
)
