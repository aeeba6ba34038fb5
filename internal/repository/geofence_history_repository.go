package repository

import (
	"context"
	"fmt"

	"findsafe-server/internal/domain"

	"github.com/go-kivik/kivik/v4"
)

type GeofenceHistoryRepository interface {
	Create(ctx context.Context, entry *domain.GeofenceHistoryEntry) error
	// FindLatest returns the most recent entry of the given type for the
	// (user, device, geofence) triple, or ErrNotFound.
	FindLatest(ctx context.Context, userID, deviceID, geofenceID string, eventType domain.GeofenceEventType) (*domain.GeofenceHistoryEntry, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]*domain.GeofenceHistoryEntry, error)
	ListByDevice(ctx context.Context, deviceID string, limit int) ([]*domain.GeofenceHistoryEntry, error)
}

type geofenceHistoryDoc struct {
	DocType string `json:"doc_type"`
	SortKey int64  `json:"ts"`
	*domain.GeofenceHistoryEntry
}

type geofenceHistoryRepository struct {
	db *kivik.DB
}

func NewGeofenceHistoryRepository(client *kivik.Client, dbName string) GeofenceHistoryRepository {
	return &geofenceHistoryRepository{
		db: client.DB(dbName),
	}
}

func (r *geofenceHistoryRepository) Create(ctx context.Context, entry *domain.GeofenceHistoryEntry) error {
	doc := geofenceHistoryDoc{
		DocType:              docTypeGeofenceHistory,
		SortKey:              sortKey(entry.Timestamp),
		GeofenceHistoryEntry: entry,
	}
	if _, err := r.db.Put(ctx, docID(docTypeGeofenceHistory, entry.ID), doc); err != nil {
		return mapError(err, "failed to create geofence history entry")
	}
	return nil
}

func (r *geofenceHistoryRepository) FindLatest(ctx context.Context, userID, deviceID, geofenceID string, eventType domain.GeofenceEventType) (*domain.GeofenceHistoryEntry, error) {
	entries, err := r.list(ctx, findQuery{
		Selector: map[string]interface{}{
			"doc_type":    docTypeGeofenceHistory,
			"user_id":     userID,
			"device_id":   deviceID,
			"geofence_id": geofenceID,
			"event_type":  eventType,
		},
		Index:     indexHistoryLatest,
		Sort:      indexes[indexHistoryLatest],
		Direction: descending,
		Limit:     1,
	})
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, ErrNotFound
	}
	return entries[0], nil
}

func (r *geofenceHistoryRepository) ListByUser(ctx context.Context, userID string, limit int) ([]*domain.GeofenceHistoryEntry, error) {
	return r.list(ctx, findQuery{
		Selector: map[string]interface{}{
			"doc_type": docTypeGeofenceHistory,
			"user_id":  userID,
		},
		Index:     indexHistoryByUser,
		Sort:      indexes[indexHistoryByUser],
		Direction: descending,
		Limit:     limit,
	})
}

func (r *geofenceHistoryRepository) ListByDevice(ctx context.Context, deviceID string, limit int) ([]*domain.GeofenceHistoryEntry, error) {
	return r.list(ctx, findQuery{
		Selector: map[string]interface{}{
			"doc_type":  docTypeGeofenceHistory,
			"device_id": deviceID,
		},
		Index:     indexHistoryByDevice,
		Sort:      indexes[indexHistoryByDevice],
		Direction: descending,
		Limit:     limit,
	})
}

// list returns matching entries in query order, newest first. A limit of zero
// or less returns everything.
func (r *geofenceHistoryRepository) list(ctx context.Context, q findQuery) ([]*domain.GeofenceHistoryEntry, error) {
	if q.Limit < 0 {
		q.Limit = 0
	}
	docs, err := find[geofenceHistoryDoc](ctx, r.db, q)
	if err != nil {
		return nil, fmt.Errorf("failed to query geofence history: %w", err)
	}

	entries := make([]*domain.GeofenceHistoryEntry, 0, len(docs))
	for _, d := range docs {
		if d.GeofenceHistoryEntry != nil {
			entries = append(entries, d.GeofenceHistoryEntry)
		}
	}
	return entries, nil
}
