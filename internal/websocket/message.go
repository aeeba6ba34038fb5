package websocket

import (
	"encoding/json"
	"errors"
)

var (
	ErrMissingCommand = errors.New("message has no command")
	ErrMissingTarget  = errors.New("message has no target device")
)

const (
	CommandPing = "ping"
	CommandPong = "pong"
)

// Message is the frame written to a device.
type Message struct {
	Command string          `json:"command"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// InboundMessage is a frame received from a device. DeviceID names the device
// the command is addressed to.
type InboundMessage struct {
	Command  string          `json:"command"`
	DeviceID string          `json:"deviceId"`
	Data     json.RawMessage `json:"data,omitempty"`
}

func NewMessage(command string, data interface{}) (*Message, error) {
	msg := &Message{Command: command}
	if data == nil {
		return msg, nil
	}

	if raw, ok := data.(json.RawMessage); ok {
		msg.Data = raw
		return msg, nil
	}

	bytes, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	msg.Data = bytes
	return msg, nil
}

func (m *Message) UnmarshalData(v interface{}) error {
	if m.Data == nil {
		return nil
	}
	return json.Unmarshal(m.Data, v)
}

// Validate reports protocol violations. Heartbeat commands need no target.
func (m *InboundMessage) Validate() error {
	if m.Command == "" {
		return ErrMissingCommand
	}
	if m.DeviceID == "" && m.Command != CommandPing && m.Command != CommandPong {
		return ErrMissingTarget
	}
	return nil
}
