package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// Conn is the subset of *websocket.Conn the registry relies on.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetReadLimit(limit int64)
	SetPongHandler(h func(appData string) error)
	Close() error
}

// MessageHandler receives well-formed messages read from a device.
type MessageHandler interface {
	HandleDeviceMessage(client *Client, msg *InboundMessage) error
}

type Client struct {
	DeviceID    string
	PeerAddress string
	ConnectedAt time.Time

	conn     Conn
	registry *Registry
	ctx      context.Context
	cancel   context.CancelFunc

	alive     atomic.Bool
	writeMu   sync.Mutex
	closeOnce sync.Once
}

// newClient prepares conn for reading before the client becomes visible to
// the heartbeat sweep, so a pong is never lost to a missing handler.
func newClient(deviceID, peerAddr string, conn Conn, registry *Registry) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		DeviceID:    deviceID,
		PeerAddress: peerAddr,
		ConnectedAt: time.Now(),
		conn:        conn,
		registry:    registry,
		ctx:         ctx,
		cancel:      cancel,
	}
	c.alive.Store(true)

	if registry.opts.MaxMessageSize > 0 {
		conn.SetReadLimit(registry.opts.MaxMessageSize)
	}
	conn.SetReadDeadline(time.Now().Add(registry.opts.PongWait))
	conn.SetPongHandler(func(string) error {
		c.markAlive()
		return conn.SetReadDeadline(time.Now().Add(registry.opts.PongWait))
	})
	return c
}

// Context is cancelled once the connection is closed or replaced.
func (c *Client) Context() context.Context {
	return c.ctx
}

// IsAlive reports whether the device answered since the last heartbeat.
func (c *Client) IsAlive() bool {
	return c.alive.Load()
}

func (c *Client) markAlive() {
	c.alive.Store(true)
}

// Send writes msg to this client's own connection, evicting it on failure.
func (c *Client) Send(msg *Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if err := c.write(websocket.TextMessage, data); err != nil {
		c.registry.evict(c, "write_failed")
		return err
	}
	return nil
}

func (c *Client) write(messageType int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.conn.SetWriteDeadline(time.Now().Add(c.registry.opts.WriteWait))
	return c.conn.WriteMessage(messageType, data)
}

func (c *Client) ping() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.registry.opts.WriteWait))
}

func (c *Client) close() {
	c.closeOnce.Do(func() {
		c.cancel()
		c.conn.Close()
	})
}

// ReadPump reads frames until the connection fails, handing each valid
// message to handler. Malformed frames are logged and dropped. It must run on
// its own goroutine; on return the client has been removed from the registry.
func (c *Client) ReadPump(handler MessageHandler) {
	defer func() {
		c.registry.evict(c, "disconnect")
	}()

	logger := c.registry.logger.With().Str("device_id", c.DeviceID).Logger()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warn().Err(err).Msg("websocket read failed")
			}
			return
		}

		c.markAlive()
		c.conn.SetReadDeadline(time.Now().Add(c.registry.opts.PongWait))

		var msg InboundMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			logger.Warn().Err(err).Msg("dropping malformed device message")
			continue
		}
		if err := msg.Validate(); err != nil {
			logger.Warn().Err(err).Str("command", msg.Command).Msg("dropping invalid device message")
			continue
		}

		if handler == nil {
			continue
		}
		if err := handler.HandleDeviceMessage(c, &msg); err != nil {
			logger.Error().Err(err).Str("command", msg.Command).Msg("failed to handle device message")
		}
	}
}
