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

type LocationTracker interface {
	UpdateLocation(ctx context.Context, deviceID string, lat, lon float64) (*domain.LocationUpdateResult, error)
	GetLocations(ctx context.Context, userID, deviceID string, limit int) ([]*domain.Location, error)
}

type LocationHandler struct {
	service LocationTracker
	logger  zerolog.Logger
}

func NewLocationHandler(service LocationTracker, logger zerolog.Logger) *LocationHandler {
	return &LocationHandler{
		service: service,
		logger:  logger.With().Str("handler", "locations").Logger(),
	}
}

// Register stores a fix for the device named in the path.
func (h *LocationHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req domain.LocationRequest
	if !decode(w, r, &req) {
		return
	}

	h.update(w, r, mux.Vars(r)["deviceId"], req.Latitude, req.Longitude)
}

// UpdateCurrent stores a fix for the device named in the body.
func (h *LocationHandler) UpdateCurrent(w http.ResponseWriter, r *http.Request) {
	var req domain.UpdateLocationRequest
	if !decode(w, r, &req) {
		return
	}

	h.update(w, r, req.DeviceID, req.Latitude, req.Longitude)
}

func (h *LocationHandler) update(w http.ResponseWriter, r *http.Request, deviceID string, lat, lon float64) {
	result, err := h.service.UpdateLocation(r.Context(), deviceID, lat, lon)
	if err != nil {
		writeError(w, h.logger, err, "update location")
		return
	}

	response.Created(w, result)
}

func (h *LocationHandler) List(w http.ResponseWriter, r *http.Request) {
	locations, err := h.service.GetLocations(r.Context(), middleware.GetUserID(r), mux.Vars(r)["deviceId"], queryInt(r, "limit"))
	if err != nil {
		writeError(w, h.logger, err, "list locations")
		return
	}

	response.Success(w, locations)
}
