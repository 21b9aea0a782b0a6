package signals

import (
	"errors"
	"net/http"
)

var (
	ErrNotFound      = errors.New("signal not found")
	ErrDuplicate     = errors.New("signal already exists")
	ErrInvalidSignal = errors.New("invalid signal")
)

// MapHTTPStatus maps signal domain errors to HTTP status codes.
func MapHTTPStatus(err error) int {
	if errors.Is(err, ErrNotFound) {
		return http.StatusNotFound
	}
	if errors.Is(err, ErrDuplicate) {
		return http.StatusConflict
	}
	if errors.Is(err, ErrInvalidSignal) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}
