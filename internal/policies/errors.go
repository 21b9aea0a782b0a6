package policies

import (
	"errors"
	"net/http"
)

var (
	ErrNotFound        = errors.New("policy not found")
	ErrVersionNotFound = errors.New("policy version not found")
	ErrNoActiveVersion = errors.New("policy has no active version")
	ErrDuplicate       = errors.New("policy already exists")
	ErrInvalidPolicy   = errors.New("invalid policy")
)

// MapHTTPStatus maps policy domain errors to HTTP status codes.
func MapHTTPStatus(err error) int {
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrVersionNotFound) {
		return http.StatusNotFound
	}
	if errors.Is(err, ErrDuplicate) || errors.Is(err, ErrNoActiveVersion) {
		return http.StatusConflict
	}
	if errors.Is(err, ErrInvalidPolicy) || errors.Is(err, ErrInvalidRule) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}
