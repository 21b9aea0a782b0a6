package exceptions

import (
	"errors"
	"net/http"

	"github.com/JaimeStill/steward/pkg/repository"
)

var (
	ErrNotFound          = errors.New("exception not found")
	ErrDuplicate         = errors.New("open exception already exists for fingerprint")
	ErrInvalidTransition = errors.New("exception is not open")
	ErrInvalidContext    = errors.New("invalid exception context")
)

// MapHTTPStatus maps exception domain errors to HTTP status codes.
func MapHTTPStatus(err error) int {
	if errors.Is(err, ErrNotFound) {
		return http.StatusNotFound
	}
	if errors.Is(err, ErrDuplicate) || errors.Is(err, ErrInvalidTransition) {
		return http.StatusConflict
	}
	if errors.Is(err, ErrInvalidContext) || errors.Is(err, repository.ErrConstraint) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}
