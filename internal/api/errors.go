package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/relay-core/internal/command"
	"github.com/nerrad567/relay-core/internal/device"
	"github.com/nerrad567/relay-core/internal/schedule"
)

// Error represents a structured error response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Common error codes.
const (
	ErrCodeBadRequest  = "bad_request"
	ErrCodeNotFound    = "not_found"
	ErrCodeInternal    = "internal_error"
	ErrCodeValidation  = "validation_error"
	ErrCodeRateLimited = "rate_limited"
	ErrCodeUnknown     = "unknown_device"
	ErrCodeUnknownSw   = "unknown_switch"
	ErrCodeSendFailed  = "send_failed"
)

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeError writes a structured error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{
		Status:  status,
		Code:    code,
		Message: message,
	})
}

// writeBadRequest writes a 400 error response.
func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// writeNotFound writes a 404 error response.
func writeNotFound(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, ErrCodeNotFound, message)
}

// writeInternalError writes a 500 error response.
func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// writeCoreError maps a core error onto an HTTP response. Unexpected errors
// are logged and answered with a generic 500.
func (s *Server) writeCoreError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, command.ErrUnknownDevice), errors.Is(err, device.ErrDeviceNotFound):
		writeError(w, http.StatusNotFound, ErrCodeUnknown, err.Error())
	case errors.Is(err, command.ErrUnknownSwitch), errors.Is(err, device.ErrSwitchNotFound):
		writeError(w, http.StatusNotFound, ErrCodeUnknownSw, err.Error())
	case errors.Is(err, command.ErrCommandNotFound), errors.Is(err, schedule.ErrScheduleNotFound):
		writeNotFound(w, err.Error())
	case errors.Is(err, schedule.ErrInvalidSchedule), errors.Is(err, schedule.ErrInvalidTarget),
		errors.Is(err, command.ErrInvalidReport):
		writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
	case errors.Is(err, command.ErrSendFailed):
		writeError(w, http.StatusBadGateway, ErrCodeSendFailed, err.Error())
	default:
		s.logger.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", r.Context().Value(ctxKeyRequestID),
			"error", err,
		)
		writeInternalError(w, "internal server error")
	}
}

// decodeJSON decodes a request body, rejecting unknown fields.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
