package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"findsafe-server/internal/domain"
	"findsafe-server/internal/metrics"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// ErrNotConnected is returned when no usable connection exists for a device.
var ErrNotConnected = errors.New("device not connected")

type Options struct {
	WriteWait         time.Duration
	PongWait          time.Duration
	HeartbeatInterval time.Duration
	MaxMessageSize    int64
}

func DefaultOptions() Options {
	return Options{
		WriteWait:         10 * time.Second,
		PongWait:          70 * time.Second,
		HeartbeatInterval: 30 * time.Second,
		MaxMessageSize:    64 * 1024,
	}
}

// Registry owns the device id to live connection mapping. A device has at
// most one registered connection; the most recent Connect wins.
type Registry struct {
	clients map[string]*Client
	mu      sync.RWMutex
	opts    Options
	logger  zerolog.Logger
}

func NewRegistry(opts Options, logger zerolog.Logger) *Registry {
	defaults := DefaultOptions()
	if opts.WriteWait <= 0 {
		opts.WriteWait = defaults.WriteWait
	}
	if opts.PongWait <= 0 {
		opts.PongWait = defaults.PongWait
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = defaults.HeartbeatInterval
	}

	return &Registry{
		clients: make(map[string]*Client),
		opts:    opts,
		logger:  logger.With().Str("component", "registry").Logger(),
	}
}

// Connect registers conn for deviceID, closing any connection it replaces.
func (r *Registry) Connect(deviceID string, conn Conn, peerAddr string) *Client {
	client := newClient(deviceID, peerAddr, conn, r)

	r.mu.Lock()
	previous := r.clients[deviceID]
	r.clients[deviceID] = client
	count := len(r.clients)
	r.mu.Unlock()

	metrics.ConnectedDevices.Set(float64(count))

	if previous != nil {
		previous.close()
		metrics.ConnectionEvictions.WithLabelValues("replaced").Inc()
		r.logger.Info().Str("device_id", deviceID).Str("previous_peer", previous.PeerAddress).Msg("connection replaced")
	}

	r.logger.Info().Str("device_id", deviceID).Str("peer", peerAddr).Msg("device connected")
	return client
}

// Disconnect removes and closes the connection for deviceID. Unknown ids are
// ignored.
func (r *Registry) Disconnect(deviceID string) {
	r.mu.Lock()
	client, ok := r.clients[deviceID]
	if ok {
		delete(r.clients, deviceID)
	}
	count := len(r.clients)
	r.mu.Unlock()

	if !ok {
		return
	}

	metrics.ConnectedDevices.Set(float64(count))
	metrics.ConnectionEvictions.WithLabelValues("disconnect").Inc()
	client.close()
	r.logger.Info().Str("device_id", deviceID).Msg("device disconnected")
}

// evict removes client only if it is still the registered connection for its
// device, so a superseded connection never evicts its replacement.
func (r *Registry) evict(client *Client, reason string) {
	r.mu.Lock()
	current, ok := r.clients[client.DeviceID]
	removed := ok && current == client
	if removed {
		delete(r.clients, client.DeviceID)
	}
	count := len(r.clients)
	r.mu.Unlock()

	client.close()

	if !removed {
		return
	}

	metrics.ConnectedDevices.Set(float64(count))
	metrics.ConnectionEvictions.WithLabelValues(reason).Inc()
	r.logger.Info().Str("device_id", client.DeviceID).Str("reason", reason).Msg("connection evicted")
}

func (r *Registry) IsConnected(deviceID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.clients[deviceID]
	return ok
}

// ListConnected returns a snapshot of live connections ordered by device id.
func (r *Registry) ListConnected() []domain.DeviceConnection {
	r.mu.RLock()
	conns := make([]domain.DeviceConnection, 0, len(r.clients))
	for _, c := range r.clients {
		conns = append(conns, domain.DeviceConnection{
			DeviceID:    c.DeviceID,
			ConnectedAt: c.ConnectedAt,
			PeerAddress: c.PeerAddress,
			IsAlive:     c.IsAlive(),
		})
	}
	r.mu.RUnlock()

	sort.Slice(conns, func(i, j int) bool {
		return conns[i].DeviceID < conns[j].DeviceID
	})
	return conns
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// Send writes msg to the device's connection. A failed write evicts the
// connection and is reported as ErrNotConnected.
func (r *Registry) Send(deviceID string, msg *Message) error {
	r.mu.RLock()
	client, ok := r.clients[deviceID]
	r.mu.RUnlock()

	if !ok {
		return ErrNotConnected
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}

	if err := client.write(websocket.TextMessage, data); err != nil {
		r.evict(client, "write_failed")
		return fmt.Errorf("%w: %v", ErrNotConnected, err)
	}

	return nil
}

// Sweep runs one heartbeat round. Connections that have not shown any sign of
// life since the previous round are evicted; the rest are pinged and marked as
// awaiting a pong.
func (r *Registry) Sweep() {
	r.mu.RLock()
	clients := make([]*Client, 0, len(r.clients))
	for _, c := range r.clients {
		clients = append(clients, c)
	}
	r.mu.RUnlock()

	for _, c := range clients {
		if !c.alive.CompareAndSwap(true, false) {
			r.evict(c, "missed_heartbeat")
			continue
		}

		if err := c.ping(); err != nil {
			r.logger.Debug().Err(err).Str("device_id", c.DeviceID).Msg("ping failed")
			r.evict(c, "write_failed")
		}
	}
}

// Run sweeps on every heartbeat interval until ctx is cancelled.
func (r *Registry) Run(ctx context.Context) {
	ticker := time.NewTicker(r.opts.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep()
		}
	}
}

// Close closes every registered connection.
func (r *Registry) Close() {
	r.mu.Lock()
	clients := r.clients
	r.clients = make(map[string]*Client)
	r.mu.Unlock()

	for _, c := range clients {
		c.close()
	}
	metrics.ConnectedDevices.Set(0)
}
