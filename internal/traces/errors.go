package traces

import (
	"errors"
	"net/http"
)

var (
	ErrNotFound          = errors.New("agent trace not found")
	ErrDuplicate         = errors.New("agent trace already exists")
	ErrInvalidTrace      = errors.New("invalid agent trace")
	ErrInvalidTransition = errors.New("agent trace is not running")
)

// MapHTTPStatus maps trace domain errors to HTTP status codes.
func MapHTTPStatus(err error) int {
	if errors.Is(err, ErrNotFound) {
		return http.StatusNotFound
	}
	if errors.Is(err, ErrInvalidTransition) || errors.Is(err, ErrDuplicate) {
		return http.StatusConflict
	}
	if errors.Is(err, ErrInvalidTrace) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}
