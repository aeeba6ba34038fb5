package handler

import (
	"context"
	"net/http"

	"findsafe-server/internal/domain"
	"findsafe-server/internal/middleware"
	"findsafe-server/pkg/response"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

type GeofenceManager interface {
	Create(ctx context.Context, userID string, req *domain.CreateGeofenceRequest) (*domain.Geofence, error)
	BulkCreate(ctx context.Context, userID string, req *domain.BulkCreateGeofenceRequest) ([]*domain.Geofence, error)
	Get(ctx context.Context, userID, geofenceID string) (*domain.Geofence, error)
	List(ctx context.Context, userID string) ([]*domain.Geofence, error)
	ListByDevice(ctx context.Context, userID, deviceID string) ([]*domain.Geofence, error)
	Update(ctx context.Context, userID, geofenceID string, req *domain.UpdateGeofenceRequest) (*domain.Geofence, error)
	Toggle(ctx context.Context, userID, geofenceID string) (*domain.Geofence, error)
	Delete(ctx context.Context, userID, geofenceID string) error
	Check(ctx context.Context, userID string, req *domain.CheckGeofencesRequest) ([]domain.GeofenceCheckResult, error)
	History(ctx context.Context, userID string, limit int) ([]*domain.GeofenceHistoryEntry, error)
	DeviceHistory(ctx context.Context, userID, deviceID string, limit int) ([]*domain.GeofenceHistoryEntry, error)
}

type GeofenceHandler struct {
	service GeofenceManager
	logger  zerolog.Logger
}

func NewGeofenceHandler(service GeofenceManager, logger zerolog.Logger) *GeofenceHandler {
	return &GeofenceHandler{
		service: service,
		logger:  logger.With().Str("handler", "geofences").Logger(),
	}
}

func (h *GeofenceHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateGeofenceRequest
	if !decode(w, r, &req) {
		return
	}

	geofence, err := h.service.Create(r.Context(), middleware.GetUserID(r), &req)
	if err != nil {
		writeError(w, h.logger, err, "create geofence")
		return
	}

	response.Created(w, geofence)
}

func (h *GeofenceHandler) BulkCreate(w http.ResponseWriter, r *http.Request) {
	var req domain.BulkCreateGeofenceRequest
	if !decode(w, r, &req) {
		return
	}

	geofences, err := h.service.BulkCreate(r.Context(), middleware.GetUserID(r), &req)
	if err != nil {
		writeError(w, h.logger, err, "create geofences")
		return
	}

	response.Created(w, geofences)
}

func (h *GeofenceHandler) List(w http.ResponseWriter, r *http.Request) {
	geofences, err := h.service.List(r.Context(), middleware.GetUserID(r))
	if err != nil {
		writeError(w, h.logger, err, "list geofences")
		return
	}

	response.Success(w, geofences)
}

func (h *GeofenceHandler) ListByDevice(w http.ResponseWriter, r *http.Request) {
	geofences, err := h.service.ListByDevice(r.Context(), middleware.GetUserID(r), mux.Vars(r)["deviceId"])
	if err != nil {
		writeError(w, h.logger, err, "list device geofences")
		return
	}

	response.Success(w, geofences)
}

func (h *GeofenceHandler) Get(w http.ResponseWriter, r *http.Request) {
	geofence, err := h.service.Get(r.Context(), middleware.GetUserID(r), mux.Vars(r)["geofenceId"])
	if err != nil {
		writeError(w, h.logger, err, "get geofence")
		return
	}

	response.Success(w, geofence)
}

func (h *GeofenceHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req domain.UpdateGeofenceRequest
	if !decode(w, r, &req) {
		return
	}

	geofence, err := h.service.Update(r.Context(), middleware.GetUserID(r), mux.Vars(r)["geofenceId"], &req)
	if err != nil {
		writeError(w, h.logger, err, "update geofence")
		return
	}

	response.Success(w, geofence)
}

func (h *GeofenceHandler) Toggle(w http.ResponseWriter, r *http.Request) {
	geofence, err := h.service.Toggle(r.Context(), middleware.GetUserID(r), mux.Vars(r)["geofenceId"])
	if err != nil {
		writeError(w, h.logger, err, "toggle geofence")
		return
	}

	response.Success(w, geofence)
}

func (h *GeofenceHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Delete(r.Context(), middleware.GetUserID(r), mux.Vars(r)["geofenceId"]); err != nil {
		writeError(w, h.logger, err, "delete geofence")
		return
	}

	response.JSON(w, http.StatusOK, map[string]string{"message": "Geofence deleted"})
}

func (h *GeofenceHandler) Check(w http.ResponseWriter, r *http.Request) {
	var req domain.CheckGeofencesRequest
	if !decode(w, r, &req) {
		return
	}

	results, err := h.service.Check(r.Context(), middleware.GetUserID(r), &req)
	if err != nil {
		writeError(w, h.logger, err, "check geofences")
		return
	}

	response.Success(w, results)
}

func (h *GeofenceHandler) History(w http.ResponseWriter, r *http.Request) {
	entries, err := h.service.History(r.Context(), middleware.GetUserID(r), queryInt(r, "limit"))
	if err != nil {
		writeError(w, h.logger, err, "list geofence history")
		return
	}

	response.Success(w, entries)
}

func (h *GeofenceHandler) DeviceHistory(w http.ResponseWriter, r *http.Request) {
	entries, err := h.service.DeviceHistory(r.Context(), middleware.GetUserID(r), mux.Vars(r)["deviceId"], queryInt(r, "limit"))
	if err != nil {
		writeError(w, h.logger, err, "list device geofence history")
		return
	}

	response.Success(w, entries)
}
