package repository

import (
	"context"
	"fmt"

	"findsafe-server/internal/domain"

	"github.com/go-kivik/kivik/v4"
)

type PendingCommandRepository interface {
	Create(ctx context.Context, cmd *domain.PendingCommand) error
	// ListByDevice returns undelivered commands for the device, oldest first.
	ListByDevice(ctx context.Context, deviceID string) ([]*domain.PendingCommand, error)
	Delete(ctx context.Context, commandID string) error
}

type pendingCommandDoc struct {
	Rev     string `json:"_rev,omitempty"`
	DocType string `json:"doc_type"`
	SortKey int64  `json:"ts"`
	*domain.PendingCommand
}

type pendingCommandRepository struct {
	db *kivik.DB
}

func NewPendingCommandRepository(client *kivik.Client, dbName string) PendingCommandRepository {
	return &pendingCommandRepository{
		db: client.DB(dbName),
	}
}

func (r *pendingCommandRepository) Create(ctx context.Context, cmd *domain.PendingCommand) error {
	doc := pendingCommandDoc{DocType: docTypePendingCommand, SortKey: sortKey(cmd.CreatedAt), PendingCommand: cmd}
	if _, err := r.db.Put(ctx, docID(docTypePendingCommand, cmd.ID), doc); err != nil {
		return mapError(err, "failed to queue command")
	}
	return nil
}

func (r *pendingCommandRepository) ListByDevice(ctx context.Context, deviceID string) ([]*domain.PendingCommand, error) {
	docs, err := find[pendingCommandDoc](ctx, r.db, findQuery{
		Selector: map[string]interface{}{
			"doc_type":    docTypePendingCommand,
			"device_id":   deviceID,
			"is_executed": false,
		},
		Index:     indexPendingByDevice,
		Sort:      indexes[indexPendingByDevice],
		Direction: ascending,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list pending commands: %w", err)
	}

	cmds := make([]*domain.PendingCommand, 0, len(docs))
	for _, d := range docs {
		if d.PendingCommand != nil {
			cmds = append(cmds, d.PendingCommand)
		}
	}
	return cmds, nil
}

func (r *pendingCommandRepository) Delete(ctx context.Context, commandID string) error {
	id := docID(docTypePendingCommand, commandID)
	rev, err := currentRev(ctx, r.db, id)
	if err != nil {
		return mapError(err, "failed to delete pending command")
	}
	if _, err := r.db.Delete(ctx, id, rev); err != nil {
		return mapError(err, "failed to delete pending command")
	}
	return nil
}
