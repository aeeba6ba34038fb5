package repository

import (
	"context"

	"findsafe-server/internal/domain"

	"github.com/go-kivik/kivik/v4"
)

type NotificationSettingsRepository interface {
	Get(ctx context.Context, userID string) (*domain.NotificationSettings, error)
	Save(ctx context.Context, settings *domain.NotificationSettings) error
}

type notificationSettingsDoc struct {
	Rev     string `json:"_rev,omitempty"`
	DocType string `json:"doc_type"`
	*domain.NotificationSettings
}

type notificationSettingsRepository struct {
	db *kivik.DB
}

func NewNotificationSettingsRepository(client *kivik.Client, dbName string) NotificationSettingsRepository {
	return &notificationSettingsRepository{
		db: client.DB(dbName),
	}
}

func (r *notificationSettingsRepository) Get(ctx context.Context, userID string) (*domain.NotificationSettings, error) {
	var doc notificationSettingsDoc
	if err := r.db.Get(ctx, docID(docTypeNotificationSettings, userID)).ScanDoc(&doc); err != nil {
		return nil, mapError(err, "failed to get notification settings")
	}
	if doc.NotificationSettings == nil {
		return nil, ErrNotFound
	}
	return doc.NotificationSettings, nil
}

// Save creates or replaces the settings document for settings.UserID.
func (r *notificationSettingsRepository) Save(ctx context.Context, settings *domain.NotificationSettings) error {
	id := docID(docTypeNotificationSettings, settings.UserID)

	rev, err := currentRev(ctx, r.db, id)
	if err != nil && !isNotFound(err) {
		return mapError(err, "failed to save notification settings")
	}

	doc := notificationSettingsDoc{Rev: rev, DocType: docTypeNotificationSettings, NotificationSettings: settings}
	if _, err := r.db.Put(ctx, id, doc); err != nil {
		return mapError(err, "failed to save notification settings")
	}
	return nil
}
