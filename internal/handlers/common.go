package handlers

import (
	"encoding/json"
	"net/http"

	"civic-hazard-backend/internal/apperr"

	"github.com/rs/zerolog/log"
)

// hardened suppresses internal error detail in 5xx responses.
var hardened bool

// SetHardened toggles hardened error responses; set once at startup.
func SetHardened(on bool) {
	hardened = on
}

// envelope is the standard response shape.
type envelope struct {
	Success bool          `json:"success"`
	Data    any           `json:"data,omitempty"`
	Error   *apperr.Error `json:"error,omitempty"`
}

// respondData writes a success envelope.
func respondData(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(envelope{Success: true, Data: data})
}

// respondErr maps any error into the error envelope, mirroring the taxonomy
// status in the HTTP status. Internal detail is scrubbed when hardened.
func respondErr(w http.ResponseWriter, err error) {
	ae := apperr.From(err)
	if ae.StatusCode >= http.StatusInternalServerError {
		log.Error().Err(err).Int("status", ae.StatusCode).Msg("Request failed")
		if hardened {
			ae = &apperr.Error{StatusCode: ae.StatusCode, Code: ae.Code, Message: "internal server error"}
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(ae.StatusCode)
	json.NewEncoder(w).Encode(envelope{Success: false, Error: ae})
}

// decodeJSON parses a request body, returning a validation error on bad JSON.
func decodeJSON(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return apperr.Validation("invalid request body", nil)
	}
	return nil
}
