package repository

import (
	"context"
	"fmt"
	"sort"

	"findsafe-server/internal/domain"

	"github.com/go-kivik/kivik/v4"
)

type GeofenceRepository interface {
	Create(ctx context.Context, geofence *domain.Geofence) error
	FindByID(ctx context.Context, geofenceID string) (*domain.Geofence, error)
	ListByUser(ctx context.Context, userID string) ([]*domain.Geofence, error)
	ListByDevice(ctx context.Context, deviceID string, activeOnly bool) ([]*domain.Geofence, error)
	Update(ctx context.Context, geofence *domain.Geofence) error
	Delete(ctx context.Context, geofenceID string) error
}

type geofenceDoc struct {
	Rev     string `json:"_rev,omitempty"`
	DocType string `json:"doc_type"`
	*domain.Geofence
}

type geofenceRepository struct {
	db *kivik.DB
}

func NewGeofenceRepository(client *kivik.Client, dbName string) GeofenceRepository {
	return &geofenceRepository{
		db: client.DB(dbName),
	}
}

func (r *geofenceRepository) Create(ctx context.Context, geofence *domain.Geofence) error {
	doc := geofenceDoc{DocType: docTypeGeofence, Geofence: geofence}
	if _, err := r.db.Put(ctx, docID(docTypeGeofence, geofence.ID), doc); err != nil {
		return mapError(err, "failed to create geofence")
	}
	return nil
}

func (r *geofenceRepository) FindByID(ctx context.Context, geofenceID string) (*domain.Geofence, error) {
	var doc geofenceDoc
	if err := r.db.Get(ctx, docID(docTypeGeofence, geofenceID)).ScanDoc(&doc); err != nil {
		return nil, mapError(err, "failed to find geofence")
	}
	if doc.Geofence == nil {
		return nil, ErrNotFound
	}
	return doc.Geofence, nil
}

func (r *geofenceRepository) ListByUser(ctx context.Context, userID string) ([]*domain.Geofence, error) {
	return r.list(ctx, findQuery{
		Selector: map[string]interface{}{
			"doc_type": docTypeGeofence,
			"user_id":  userID,
		},
		Index: indexByUser,
	})
}

func (r *geofenceRepository) ListByDevice(ctx context.Context, deviceID string, activeOnly bool) ([]*domain.Geofence, error) {
	selector := map[string]interface{}{
		"doc_type":  docTypeGeofence,
		"device_id": deviceID,
	}
	if activeOnly {
		selector["is_active"] = true
	}
	return r.list(ctx, findQuery{Selector: selector, Index: indexByDevice})
}

// list returns every matching geofence, newest first.
func (r *geofenceRepository) list(ctx context.Context, q findQuery) ([]*domain.Geofence, error) {
	docs, err := find[geofenceDoc](ctx, r.db, q)
	if err != nil {
		return nil, fmt.Errorf("failed to list geofences: %w", err)
	}

	geofences := make([]*domain.Geofence, 0, len(docs))
	for _, d := range docs {
		if d.Geofence != nil {
			geofences = append(geofences, d.Geofence)
		}
	}
	sort.Slice(geofences, func(i, j int) bool {
		return geofences[i].CreatedAt.After(geofences[j].CreatedAt)
	})
	return geofences, nil
}

func (r *geofenceRepository) Update(ctx context.Context, geofence *domain.Geofence) error {
	id := docID(docTypeGeofence, geofence.ID)
	rev, err := currentRev(ctx, r.db, id)
	if err != nil {
		return mapError(err, "failed to update geofence")
	}

	doc := geofenceDoc{Rev: rev, DocType: docTypeGeofence, Geofence: geofence}
	if _, err := r.db.Put(ctx, id, doc); err != nil {
		return mapError(err, "failed to update geofence")
	}
	return nil
}

func (r *geofenceRepository) Delete(ctx context.Context, geofenceID string) error {
	id := docID(docTypeGeofence, geofenceID)
	rev, err := currentRev(ctx, r.db, id)
	if err != nil {
		return mapError(err, "failed to delete geofence")
	}
	if _, err := r.db.Delete(ctx, id, rev); err != nil {
		return mapError(err, "failed to delete geofence")
	}
	return nil
}
