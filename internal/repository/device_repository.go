package repository

import (
	"context"
	"fmt"
	"sort"

	"findsafe-server/internal/domain"

	"github.com/go-kivik/kivik/v4"
)

type DeviceRepository interface {
	Create(ctx context.Context, device *domain.Device) error
	FindByID(ctx context.Context, deviceID string) (*domain.Device, error)
	ListByUser(ctx context.Context, userID string) ([]*domain.Device, error)
	Update(ctx context.Context, device *domain.Device) error
	Delete(ctx context.Context, deviceID string) error
}

type deviceDoc struct {
	Rev     string `json:"_rev,omitempty"`
	DocType string `json:"doc_type"`
	*domain.Device
}

type deviceRepository struct {
	db *kivik.DB
}

func NewDeviceRepository(client *kivik.Client, dbName string) DeviceRepository {
	return &deviceRepository{
		db: client.DB(dbName),
	}
}

func (r *deviceRepository) Create(ctx context.Context, device *domain.Device) error {
	doc := deviceDoc{DocType: docTypeDevice, Device: device}
	rev, err := r.db.Put(ctx, docID(docTypeDevice, device.ID), doc)
	if err != nil {
		return mapError(err, "failed to create device")
	}
	device.Rev = rev
	return nil
}

func (r *deviceRepository) FindByID(ctx context.Context, deviceID string) (*domain.Device, error) {
	var doc deviceDoc
	if err := r.db.Get(ctx, docID(docTypeDevice, deviceID)).ScanDoc(&doc); err != nil {
		return nil, mapError(err, "failed to find device")
	}
	if doc.Device == nil {
		return nil, ErrNotFound
	}
	doc.Device.Rev = doc.Rev
	return doc.Device, nil
}

func (r *deviceRepository) ListByUser(ctx context.Context, userID string) ([]*domain.Device, error) {
	docs, err := find[deviceDoc](ctx, r.db, findQuery{
		Selector: map[string]interface{}{
			"doc_type": docTypeDevice,
			"user_id":  userID,
		},
		Index: indexByUser,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}

	devices := make([]*domain.Device, 0, len(docs))
	for _, d := range docs {
		if d.Device != nil {
			d.Device.Rev = d.Rev
			devices = append(devices, d.Device)
		}
	}
	sort.Slice(devices, func(i, j int) bool {
		return devices[i].CreatedAt.Before(devices[j].CreatedAt)
	})
	return devices, nil
}

// Update saves device at the revision it was read at. A concurrent write
// makes it fail with ErrConflict; device.Rev is advanced on success.
func (r *deviceRepository) Update(ctx context.Context, device *domain.Device) error {
	doc := deviceDoc{Rev: device.Rev, DocType: docTypeDevice, Device: device}
	rev, err := r.db.Put(ctx, docID(docTypeDevice, device.ID), doc)
	if err != nil {
		return mapError(err, "failed to update device")
	}
	device.Rev = rev
	return nil
}

func (r *deviceRepository) Delete(ctx context.Context, deviceID string) error {
	id := docID(docTypeDevice, deviceID)
	rev, err := currentRev(ctx, r.db, id)
	if err != nil {
		return mapError(err, "failed to delete device")
	}
	if _, err := r.db.Delete(ctx, id, rev); err != nil {
		return mapError(err, "failed to delete device")
	}
	return nil
}
