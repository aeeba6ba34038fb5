package repository

import (
	"context"
	"errors"
	"fmt"

	"findsafe-server/internal/domain"

	"github.com/go-kivik/kivik/v4"
)

type LocationRepository interface {
	Create(ctx context.Context, location *domain.Location) error
	ListByDevice(ctx context.Context, deviceID string, limit int) ([]*domain.Location, error)
	DeleteMany(ctx context.Context, locationIDs []string) error
}

type locationDoc struct {
	Rev     string `json:"_rev,omitempty"`
	DocType string `json:"doc_type"`
	SortKey int64  `json:"ts"`
	*domain.Location
}

type locationRepository struct {
	db *kivik.DB
}

func NewLocationRepository(client *kivik.Client, dbName string) LocationRepository {
	return &locationRepository{
		db: client.DB(dbName),
	}
}

func (r *locationRepository) Create(ctx context.Context, location *domain.Location) error {
	doc := locationDoc{DocType: docTypeLocation, SortKey: sortKey(location.Timestamp), Location: location}
	if _, err := r.db.Put(ctx, docID(docTypeLocation, location.ID), doc); err != nil {
		return mapError(err, "failed to create location")
	}
	return nil
}

// ListByDevice returns the device's locations, newest first. A limit of zero
// or less returns everything.
func (r *locationRepository) ListByDevice(ctx context.Context, deviceID string, limit int) ([]*domain.Location, error) {
	if limit < 0 {
		limit = 0
	}
	docs, err := find[locationDoc](ctx, r.db, findQuery{
		Selector: map[string]interface{}{
			"doc_type":  docTypeLocation,
			"device_id": deviceID,
		},
		Index:     indexLocationByDevice,
		Sort:      indexes[indexLocationByDevice],
		Direction: descending,
		Limit:     limit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list locations: %w", err)
	}

	locations := make([]*domain.Location, 0, len(docs))
	for _, d := range docs {
		if d.Location != nil {
			locations = append(locations, d.Location)
		}
	}
	return locations, nil
}

// DeleteMany removes the given locations, ignoring ones that are already gone.
func (r *locationRepository) DeleteMany(ctx context.Context, locationIDs []string) error {
	var errs []error
	for _, locationID := range locationIDs {
		id := docID(docTypeLocation, locationID)
		rev, err := currentRev(ctx, r.db, id)
		if err != nil {
			if isNotFound(err) {
				continue
			}
			errs = append(errs, mapError(err, "failed to delete location "+locationID))
			continue
		}
		if _, err := r.db.Delete(ctx, id, rev); err != nil {
			errs = append(errs, mapError(err, "failed to delete location "+locationID))
		}
	}
	return errors.Join(errs...)
}
