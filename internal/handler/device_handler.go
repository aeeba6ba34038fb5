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

type DeviceManager interface {
	Register(ctx context.Context, userID string, req *domain.RegisterDeviceRequest) (*domain.DeviceResponse, error)
	List(ctx context.Context, userID string) ([]*domain.DeviceResponse, error)
	Get(ctx context.Context, userID, deviceID string) (*domain.DeviceResponse, error)
	Delete(ctx context.Context, userID, deviceID string) error
	GetMode(ctx context.Context, deviceID string) (*domain.ModeChangeResponse, error)
	UpdateMode(ctx context.Context, userID, deviceID string, req *domain.UpdateModeRequest) (*domain.ModeChangeResponse, error)
	ValidateActivationCode(ctx context.Context, deviceID string, req *domain.ActivationRequest) (*domain.ModeChangeResponse, error)
	TriggerAlarm(ctx context.Context, userID, deviceID string) (bool, error)
	ConnectedDevices(ctx context.Context, userID string) ([]domain.DeviceConnection, error)
}

type DeviceHandler struct {
	service DeviceManager
	logger  zerolog.Logger
}

func NewDeviceHandler(service DeviceManager, logger zerolog.Logger) *DeviceHandler {
	return &DeviceHandler{
		service: service,
		logger:  logger.With().Str("handler", "devices").Logger(),
	}
}

func (h *DeviceHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req domain.RegisterDeviceRequest
	if !decode(w, r, &req) {
		return
	}

	device, err := h.service.Register(r.Context(), middleware.GetUserID(r), &req)
	if err != nil {
		writeError(w, h.logger, err, "register device")
		return
	}

	response.Created(w, device)
}

func (h *DeviceHandler) List(w http.ResponseWriter, r *http.Request) {
	devices, err := h.service.List(r.Context(), middleware.GetUserID(r))
	if err != nil {
		writeError(w, h.logger, err, "list devices")
		return
	}

	response.Success(w, devices)
}

func (h *DeviceHandler) Get(w http.ResponseWriter, r *http.Request) {
	device, err := h.service.Get(r.Context(), middleware.GetUserID(r), mux.Vars(r)["deviceId"])
	if err != nil {
		writeError(w, h.logger, err, "get device")
		return
	}

	response.Success(w, device)
}

func (h *DeviceHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Delete(r.Context(), middleware.GetUserID(r), mux.Vars(r)["deviceId"]); err != nil {
		writeError(w, h.logger, err, "delete device")
		return
	}

	response.JSON(w, http.StatusOK, map[string]string{"message": "Device deleted"})
}

// GetMode is polled by the device itself.
func (h *DeviceHandler) GetMode(w http.ResponseWriter, r *http.Request) {
	mode, err := h.service.GetMode(r.Context(), mux.Vars(r)["deviceId"])
	if err != nil {
		writeError(w, h.logger, err, "get device mode")
		return
	}

	response.Success(w, mode)
}

func (h *DeviceHandler) UpdateMode(w http.ResponseWriter, r *http.Request) {
	var req domain.UpdateModeRequest
	if !decode(w, r, &req) {
		return
	}

	result, err := h.service.UpdateMode(r.Context(), middleware.GetUserID(r), mux.Vars(r)["deviceId"], &req)
	if err != nil {
		writeError(w, h.logger, err, "update device mode")
		return
	}

	response.Success(w, result)
}

func (h *DeviceHandler) Activate(w http.ResponseWriter, r *http.Request) {
	var req domain.ActivationRequest
	if !decode(w, r, &req) {
		return
	}

	result, err := h.service.ValidateActivationCode(r.Context(), mux.Vars(r)["deviceId"], &req)
	if err != nil {
		writeError(w, h.logger, err, "validate activation code")
		return
	}

	response.SuccessMessage(w, result, "Device reactivated")
}

func (h *DeviceHandler) TriggerAlarm(w http.ResponseWriter, r *http.Request) {
	deviceID := mux.Vars(r)["deviceId"]

	delivered, err := h.service.TriggerAlarm(r.Context(), middleware.GetUserID(r), deviceID)
	if err != nil {
		writeError(w, h.logger, err, "trigger alarm")
		return
	}

	data := map[string]interface{}{"device_id": deviceID, "delivered": delivered}
	if !delivered {
		response.Accepted(w, data, "Device offline, alarm queued")
		return
	}
	response.SuccessMessage(w, data, "Alarm triggered")
}

func (h *DeviceHandler) Connected(w http.ResponseWriter, r *http.Request) {
	conns, err := h.service.ConnectedDevices(r.Context(), middleware.GetUserID(r))
	if err != nil {
		writeError(w, h.logger, err, "list connected devices")
		return
	}

	response.Success(w, conns)
}
