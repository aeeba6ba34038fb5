package handler

import (
	"context"
	"fmt"
	"net/http"

	"findsafe-server/internal/domain"
	"findsafe-server/internal/websocket"

	"github.com/gorilla/mux"
	ws "github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// CommandRouter forwards a device-originated command to the addressed device.
type CommandRouter interface {
	Send(ctx context.Context, deviceID, command string, payload interface{}) (bool, error)
}

type WebSocketHandler struct {
	registry *websocket.Registry
	messages websocket.MessageHandler
	upgrader ws.Upgrader
	logger   zerolog.Logger
}

func NewWebSocketHandler(registry *websocket.Registry, messages websocket.MessageHandler, readBuffer, writeBuffer int, logger zerolog.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		registry: registry,
		messages: messages,
		upgrader: ws.Upgrader{
			ReadBufferSize:  readBuffer,
			WriteBufferSize: writeBuffer,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		logger: logger.With().Str("handler", "ws").Logger(),
	}
}

// HandleConnection upgrades GET /ws/{deviceId} and registers the connection.
// A reconnect with the same id replaces the previous connection.
func (h *WebSocketHandler) HandleConnection(w http.ResponseWriter, r *http.Request) {
	deviceID := mux.Vars(r)["deviceId"]
	if deviceID == "" {
		http.Error(w, "missing device id", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Str("device_id", deviceID).Msg("failed to upgrade connection")
		return
	}

	client := h.registry.Connect(deviceID, conn, r.RemoteAddr)
	go client.ReadPump(h.messages)
}

// DeviceMessageHandler answers pings and routes every other command to the
// device it addresses. Commands are never broadcast.
type DeviceMessageHandler struct {
	router CommandRouter
	logger zerolog.Logger
}

func NewDeviceMessageHandler(router CommandRouter, logger zerolog.Logger) *DeviceMessageHandler {
	return &DeviceMessageHandler{
		router: router,
		logger: logger.With().Str("handler", "device_messages").Logger(),
	}
}

func (h *DeviceMessageHandler) HandleDeviceMessage(client *websocket.Client, msg *websocket.InboundMessage) error {
	switch msg.Command {
	case domain.CommandPing:
		return client.Send(&websocket.Message{Command: domain.CommandPong})
	case domain.CommandPong:
		return nil
	}

	delivered, err := h.router.Send(client.Context(), msg.DeviceID, msg.Command, msg.Data)
	if err != nil {
		return fmt.Errorf("failed to route %s from %s to %s: %w", msg.Command, client.DeviceID, msg.DeviceID, err)
	}

	h.logger.Debug().
		Str("from", client.DeviceID).
		Str("to", msg.DeviceID).
		Str("command", msg.Command).
		Bool("delivered", delivered).
		Msg("device command routed")
	return nil
}
