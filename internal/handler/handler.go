package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"findsafe-server/internal/repository"
	"findsafe-server/internal/service"
	"findsafe-server/pkg/response"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
)

var validate = validator.New()

// decode reads a JSON body into v and validates it. It writes the error
// response itself and reports whether the handler should continue.
func decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		response.BadRequest(w, "Invalid request payload")
		return false
	}

	if err := validate.Struct(v); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			response.ValidationError(w, validationDetails(verrs))
			return false
		}
		response.BadRequest(w, err.Error())
		return false
	}
	return true
}

func validationDetails(errs validator.ValidationErrors) map[string]string {
	details := make(map[string]string, len(errs))
	for _, fe := range errs {
		field := strings.ToLower(fe.Field())
		switch fe.Tag() {
		case "required":
			details[field] = "is required"
		case "gt":
			details[field] = fmt.Sprintf("must be greater than %s", fe.Param())
		case "max":
			details[field] = fmt.Sprintf("must be at most %s", fe.Param())
		case "oneof":
			details[field] = fmt.Sprintf("must be one of: %s", fe.Param())
		case "latitude", "longitude":
			details[field] = "must be a valid " + fe.Tag()
		default:
			details[field] = "failed " + fe.Tag() + " validation"
		}
	}
	return details
}

// writeError maps service errors onto HTTP responses. Unexpected errors are
// logged and reported as 500 with a generic message.
func writeError(w http.ResponseWriter, logger zerolog.Logger, err error, action string) {
	switch {
	case errors.Is(err, service.ErrDeviceNotFound):
		response.NotFound(w, "Device not found")
	case errors.Is(err, service.ErrGeofenceNotFound):
		response.NotFound(w, "Geofence not found")
	case errors.Is(err, service.ErrForbidden):
		response.Forbidden(w, "Access denied")
	case errors.Is(err, service.ErrInvalidMode),
		errors.Is(err, service.ErrInvalidModeTransition),
		errors.Is(err, service.ErrInvalidActivationCode):
		response.BadRequest(w, err.Error())
	case errors.Is(err, service.ErrDeviceNotLocked):
		response.Conflict(w, err.Error())
	case errors.Is(err, repository.ErrConflict):
		response.Conflict(w, "Resource was modified concurrently, retry")
	default:
		logger.Error().Err(err).Msg(action)
		response.InternalError(w, "Failed to "+action)
	}
}

// queryInt returns the positive integer query parameter key, or 0.
func queryInt(r *http.Request, key string) int {
	n, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil || n < 0 {
		return 0
	}
	return n
}
