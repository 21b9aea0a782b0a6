package approvals

import (
	"errors"
	"net/http"

	"github.com/JaimeStill/steward/internal/exceptions"
	"github.com/JaimeStill/steward/internal/policies"
	"github.com/JaimeStill/steward/internal/signals"
	"github.com/JaimeStill/steward/internal/users"
	"github.com/JaimeStill/steward/pkg/repository"
)

var (
	ErrNotFound          = errors.New("approval item not found")
	ErrDuplicate         = errors.New("approval item already exists")
	ErrInvalidProposal   = errors.New("invalid proposal")
	ErrInvalidTransition = errors.New("approval item is not pending")
	ErrExempt            = errors.New("context enrichment is exempt from approval and commits directly")
)

// MapHTTPStatus maps approval errors, including errors from the committed
// write, to HTTP status codes.
func MapHTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, exceptions.ErrNotFound),
		errors.Is(err, policies.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidProposal),
		errors.Is(err, ErrExempt),
		errors.Is(err, signals.ErrInvalidSignal),
		errors.Is(err, policies.ErrInvalidPolicy),
		errors.Is(err, policies.ErrInvalidRule),
		errors.Is(err, exceptions.ErrInvalidContext),
		errors.Is(err, repository.ErrConstraint):
		return http.StatusBadRequest
	case errors.Is(err, users.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, ErrInvalidTransition),
		errors.Is(err, exceptions.ErrInvalidTransition),
		errors.Is(err, repository.ErrImmutable):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
