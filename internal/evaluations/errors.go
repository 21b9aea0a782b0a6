package evaluations

import (
	"errors"
	"net/http"

	"github.com/JaimeStill/steward/internal/exceptions"
	"github.com/JaimeStill/steward/internal/policies"
)

var (
	ErrNotFound          = errors.New("evaluation not found")
	ErrDuplicate         = errors.New("evaluation already exists")
	ErrNoPolicy          = errors.New("exception has no policy to evaluate")
	ErrInvalidEvaluation = errors.New("invalid evaluation request")
)

// MapHTTPStatus maps evaluation domain errors to HTTP status codes.
func MapHTTPStatus(err error) int {
	if errors.Is(err, ErrNotFound) ||
		errors.Is(err, exceptions.ErrNotFound) ||
		errors.Is(err, policies.ErrVersionNotFound) {
		return http.StatusNotFound
	}
	if errors.Is(err, ErrNoPolicy) || errors.Is(err, policies.ErrNoActiveVersion) {
		return http.StatusConflict
	}
	if errors.Is(err, ErrInvalidEvaluation) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}
