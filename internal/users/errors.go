package users

import (
	"errors"
	"net/http"
)

var (
	ErrNotFound     = errors.New("user not found")
	ErrDuplicate    = errors.New("username already exists")
	ErrInvalidUser  = errors.New("invalid user")
	ErrUnauthorized = errors.New("user not authorized")
)

// MapHTTPStatus maps user domain errors to HTTP status codes.
func MapHTTPStatus(err error) int {
	if errors.Is(err, ErrNotFound) {
		return http.StatusNotFound
	}
	if errors.Is(err, ErrDuplicate) {
		return http.StatusConflict
	}
	if errors.Is(err, ErrInvalidUser) {
		return http.StatusBadRequest
	}
	if errors.Is(err, ErrUnauthorized) {
		return http.StatusForbidden
	}
	return http.StatusInternalServerError
}
