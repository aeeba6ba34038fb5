package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"findsafe-server/internal/domain"
	"findsafe-server/internal/metrics"
	"findsafe-server/internal/repository"
	"findsafe-server/internal/websocket"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// DeviceSender writes a message to a connected device. It returns
// websocket.ErrNotConnected when the device has no usable connection.
type DeviceSender interface {
	Send(deviceID string, msg *websocket.Message) error
}

// CommandDispatcher delivers commands to devices, queueing them durably when
// the device is offline. Queued commands are delivered oldest first and are
// only removed from the queue after a successful write.
type CommandDispatcher struct {
	sender  DeviceSender
	pending repository.PendingCommandRepository
	logger  zerolog.Logger
	now     func() time.Time
}

func NewCommandDispatcher(sender DeviceSender, pending repository.PendingCommandRepository, logger zerolog.Logger) *CommandDispatcher {
	return &CommandDispatcher{
		sender:  sender,
		pending: pending,
		logger:  logger.With().Str("component", "dispatcher").Logger(),
		now:     time.Now,
	}
}

// Send delivers command to deviceID. It reports false when the device was
// offline and the command was queued instead; that is not an error.
func (d *CommandDispatcher) Send(ctx context.Context, deviceID, command string, payload interface{}) (bool, error) {
	delivered, _, err := d.send(ctx, deviceID, command, payload)
	return delivered, err
}

// SendLatest is Send for advisories where only the newest payload matters.
// Copies of command still queued for the device are dropped, so at most one
// stays queued and a stale copy is never flushed after a fresher one.
func (d *CommandDispatcher) SendLatest(ctx context.Context, deviceID, command string, payload interface{}) (bool, error) {
	delivered, queued, err := d.send(ctx, deviceID, command, payload)
	if err != nil {
		return false, err
	}

	keep := ""
	if queued != nil {
		keep = queued.ID
	}
	if err := d.dropQueued(ctx, deviceID, command, keep); err != nil {
		d.logger.Warn().Err(err).Str("device_id", deviceID).Str("command", command).Msg("failed to drop superseded commands")
	}
	return delivered, nil
}

func (d *CommandDispatcher) send(ctx context.Context, deviceID, command string, payload interface{}) (bool, *domain.PendingCommand, error) {
	msg, err := websocket.NewMessage(command, payload)
	if err != nil {
		return false, nil, fmt.Errorf("failed to encode command payload: %w", err)
	}

	err = d.sender.Send(deviceID, msg)
	if err == nil {
		metrics.CommandsDispatched.WithLabelValues(command, metrics.DeliveryDelivered).Inc()
		d.logger.Debug().Str("device_id", deviceID).Str("command", command).Msg("command delivered")
		return true, nil, nil
	}
	if !errors.Is(err, websocket.ErrNotConnected) {
		metrics.CommandsDispatched.WithLabelValues(command, metrics.DeliveryFailed).Inc()
		return false, nil, fmt.Errorf("failed to send command: %w", err)
	}

	queued := &domain.PendingCommand{
		ID:        uuid.New().String(),
		DeviceID:  deviceID,
		Command:   command,
		Payload:   msg.Data,
		CreatedAt: d.now(),
	}
	if err := d.pending.Create(ctx, queued); err != nil {
		metrics.CommandsDispatched.WithLabelValues(command, metrics.DeliveryFailed).Inc()
		return false, nil, fmt.Errorf("failed to queue command: %w", err)
	}

	metrics.CommandsDispatched.WithLabelValues(command, metrics.DeliveryQueued).Inc()
	d.logger.Info().Str("device_id", deviceID).Str("command", command).Msg("device offline, command queued")
	return false, queued, nil
}

// dropQueued deletes queued copies of command for deviceID, except keep.
func (d *CommandDispatcher) dropQueued(ctx context.Context, deviceID, command, keep string) error {
	queued, err := d.pending.ListByDevice(ctx, deviceID)
	if err != nil {
		return fmt.Errorf("failed to load pending commands: %w", err)
	}

	var errs []error
	for _, cmd := range queued {
		if cmd.Command != command || cmd.ID == keep {
			continue
		}
		if err := d.pending.Delete(ctx, cmd.ID); err != nil && !errors.Is(err, repository.ErrNotFound) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// FlushPending delivers queued commands for deviceID in creation order and
// returns how many were delivered. It stops at the first command that cannot
// be written, leaving it and everything after it queued.
func (d *CommandDispatcher) FlushPending(ctx context.Context, deviceID string) (int, error) {
	queued, err := d.pending.ListByDevice(ctx, deviceID)
	if err != nil {
		return 0, fmt.Errorf("failed to load pending commands: %w", err)
	}

	delivered := 0
	for _, cmd := range queued {
		if err := ctx.Err(); err != nil {
			return delivered, err
		}

		msg := &websocket.Message{Command: cmd.Command, Data: cmd.Payload}
		if err := d.sender.Send(deviceID, msg); err != nil {
			if errors.Is(err, websocket.ErrNotConnected) {
				d.logger.Debug().Str("device_id", deviceID).Int("remaining", len(queued)-delivered).Msg("device went offline during flush")
				return delivered, nil
			}
			return delivered, fmt.Errorf("failed to deliver pending command %s: %w", cmd.ID, err)
		}

		delivered++
		metrics.PendingCommandsFlushed.Inc()
		metrics.CommandsDispatched.WithLabelValues(cmd.Command, metrics.DeliveryDelivered).Inc()

		if err := d.pending.Delete(ctx, cmd.ID); err != nil && !errors.Is(err, repository.ErrNotFound) {
			return delivered, fmt.Errorf("failed to remove delivered command %s: %w", cmd.ID, err)
		}
	}

	if delivered > 0 {
		d.logger.Info().Str("device_id", deviceID).Int("delivered", delivered).Msg("pending commands flushed")
	}
	return delivered, nil
}
