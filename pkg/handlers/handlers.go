// Package handlers provides JSON response helpers shared by domain HTTP handlers.
package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/JaimeStill/steward/pkg/repository"
)

// ErrorResponse is the JSON body written by RespondError.
type ErrorResponse struct {
	Error string `json:"error"`
}

// NotFound is the structured body returned for read lookups that find nothing.
type NotFound struct {
	Found bool   `json:"found"`
	Kind  string `json:"kind"`
	ID    string `json:"id"`
}

// RespondJSON writes data as JSON with the given status code.
func RespondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// RespondError logs err and writes it as a JSON error body.
// Server errors and append-only violations are logged at ERROR, other client errors at WARN.
func RespondError(w http.ResponseWriter, logger *slog.Logger, status int, err error) {
	if errors.Is(err, repository.ErrImmutable) {
		logger.Error("integrity violation", "status", status, "error", err)
	} else if status >= http.StatusInternalServerError {
		logger.Error("request failed", "status", status, "error", err)
	} else {
		logger.Warn("request rejected", "status", status, "error", err)
	}
	RespondJSON(w, status, ErrorResponse{Error: err.Error()})
}

// DecodeJSON decodes the request body into dest, rejecting unknown fields.
// Numbers inside untyped values decode as json.Number so payloads keep their
// exact text.
func DecodeJSON(r *http.Request, dest any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	dec.UseNumber()
	return dec.Decode(dest)
}

// RespondNotFound writes a 404 with a structured NotFound body.
func RespondNotFound(w http.ResponseWriter, kind, id string) {
	RespondJSON(w, http.StatusNotFound, NotFound{Found: false, Kind: kind, ID: id})
}
