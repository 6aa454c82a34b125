package notif

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"pollcast/internal/common"
)

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", "error", err)
	}
}

func writeErrorMessage(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{
		Error:   http.StatusText(status),
		Message: message,
	})
}

// writeError maps domain errors to status codes. Records owned by someone
// else are reported exactly like missing ones.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, common.ErrNotFound):
		writeErrorMessage(w, http.StatusNotFound, "notification not found")
	case errors.Is(err, common.ErrInvalidInput):
		writeErrorMessage(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, common.ErrUnauthorized):
		writeErrorMessage(w, http.StatusUnauthorized, "authorization required")
	case errors.Is(err, common.ErrDuplicateID):
		writeErrorMessage(w, http.StatusConflict, err.Error())
	default:
		slog.Error("request failed", "error", err)
		writeErrorMessage(w, http.StatusInternalServerError, "internal server error")
	}
}

func decodeJSON(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return &common.ValidationError{Field: "body", Message: err.Error()}
	}
	return nil
}
