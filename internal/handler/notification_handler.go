package handler

import (
	"context"
	"net/http"

	"findsafe-server/internal/domain"
	"findsafe-server/internal/middleware"
	"findsafe-server/pkg/response"

	"github.com/rs/zerolog"
)

type SettingsManager interface {
	Get(ctx context.Context, userID string) (*domain.NotificationSettings, error)
	Update(ctx context.Context, userID string, req *domain.UpdateNotificationSettingsRequest) (*domain.NotificationSettings, error)
	RegisterToken(ctx context.Context, userID string, req *domain.RegisterPushTokenRequest) (*domain.NotificationSettings, error)
	UnregisterToken(ctx context.Context, userID, token string) error
}

type NotificationHandler struct {
	service SettingsManager
	logger  zerolog.Logger
}

func NewNotificationHandler(service SettingsManager, logger zerolog.Logger) *NotificationHandler {
	return &NotificationHandler{
		service: service,
		logger:  logger.With().Str("handler", "notifications").Logger(),
	}
}

func (h *NotificationHandler) GetSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := h.service.Get(r.Context(), middleware.GetUserID(r))
	if err != nil {
		writeError(w, h.logger, err, "get notification settings")
		return
	}

	response.Success(w, settings)
}

func (h *NotificationHandler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req domain.UpdateNotificationSettingsRequest
	if !decode(w, r, &req) {
		return
	}

	settings, err := h.service.Update(r.Context(), middleware.GetUserID(r), &req)
	if err != nil {
		writeError(w, h.logger, err, "update notification settings")
		return
	}

	response.Success(w, settings)
}

func (h *NotificationHandler) RegisterToken(w http.ResponseWriter, r *http.Request) {
	var req domain.RegisterPushTokenRequest
	if !decode(w, r, &req) {
		return
	}

	settings, err := h.service.RegisterToken(r.Context(), middleware.GetUserID(r), &req)
	if err != nil {
		writeError(w, h.logger, err, "register push token")
		return
	}

	response.Created(w, settings)
}

func (h *NotificationHandler) UnregisterToken(w http.ResponseWriter, r *http.Request) {
	var req domain.UnregisterPushTokenRequest
	if !decode(w, r, &req) {
		return
	}

	if err := h.service.UnregisterToken(r.Context(), middleware.GetUserID(r), req.Token); err != nil {
		writeError(w, h.logger, err, "unregister push token")
		return
	}

	response.JSON(w, http.StatusOK, map[string]string{"message": "Push token removed"})
}
