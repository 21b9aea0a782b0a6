package audit

import (
	"errors"
	"net/http"

	"github.com/JaimeStill/steward/pkg/repository"
)

var (
	ErrNotFound         = errors.New("audit event not found")
	ErrDuplicate        = errors.New("audit event already exists")
	ErrUnknownEventType = errors.New("unknown audit event type")
	ErrInvalidEntry     = errors.New("invalid audit entry")
)

// MapHTTPStatus maps audit errors to HTTP status codes.
func MapHTTPStatus(err error) int {
	if errors.Is(err, ErrNotFound) {
		return http.StatusNotFound
	}
	if errors.Is(err, ErrUnknownEventType) || errors.Is(err, ErrInvalidEntry) {
		return http.StatusBadRequest
	}
	if errors.Is(err, repository.ErrImmutable) {
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}
