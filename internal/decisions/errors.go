package decisions

import (
	"errors"
	"net/http"

	"github.com/JaimeStill/steward/internal/exceptions"
	"github.com/JaimeStill/steward/internal/users"
	"github.com/JaimeStill/steward/pkg/repository"
	"github.com/JaimeStill/steward/pkg/storage"
)

var (
	ErrNotFound              = errors.New("decision not found")
	ErrEvidenceNotFound      = errors.New("evidence pack not found")
	ErrDuplicate             = errors.New("decision already exists")
	ErrInvalidDecision       = errors.New("invalid decision")
	ErrApprovalRequired      = errors.New("hard override requires approved_by and approved_at")
	ErrInvalidApproval       = errors.New("invalid approval")
	ErrInvalidOption         = errors.New("chosen option is not offered for this exception")
	ErrInvalidAttachment     = errors.New("invalid attachment")
	ErrAttachmentTooLarge    = errors.New("attachment exceeds maximum upload size")
	ErrAttachmentsDisabled   = errors.New("attachments require blob storage")
	ErrExceptionNotDecidable = errors.New("exception is not open")
)

// MapHTTPStatus maps decision domain errors to HTTP status codes.
func MapHTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, ErrEvidenceNotFound),
		errors.Is(err, exceptions.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidDecision),
		errors.Is(err, ErrApprovalRequired),
		errors.Is(err, ErrInvalidApproval),
		errors.Is(err, ErrInvalidOption),
		errors.Is(err, ErrInvalidAttachment),
		errors.Is(err, repository.ErrConstraint):
		return http.StatusBadRequest
	case errors.Is(err, users.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, ErrExceptionNotDecidable),
		errors.Is(err, ErrDuplicate),
		errors.Is(err, repository.ErrImmutable):
		return http.StatusConflict
	case errors.Is(err, ErrAttachmentTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, ErrAttachmentsDisabled), errors.Is(err, storage.ErrDisabled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
