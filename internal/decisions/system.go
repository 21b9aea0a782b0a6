package decisions

import (
	"context"
	"io"

	"github.com/google/uuid"

	"github.com/JaimeStill/steward/internal/exceptions"
	"github.com/JaimeStill/steward/pkg/pagination"
	"github.com/JaimeStill/steward/pkg/repository"
)

// ExceptionLedger locks and resolves the exception a decision closes.
type ExceptionLedger interface {
	Lock(ctx context.Context, q repository.Querier, id uuid.UUID) (*exceptions.Exception, error)
	ResolveTx(ctx context.Context, q repository.Querier, id uuid.UUID, actor, notes string) (*exceptions.Exception, error)
}

// System defines the public contract for the decision ledger. There are no
// update or delete operations.
type System interface {
	Handler(maxUploadSize int64) *Handler

	List(
		ctx context.Context,
		page pagination.PageRequest,
		filters Filters,
	) (*pagination.PageResult[Decision], error)

	Find(ctx context.Context, id uuid.UUID) (*Decision, error)
	EvidencePack(ctx context.Context, decisionID uuid.UUID) (*EvidencePack, error)

	// Archive streams the archived evidence document. The caller must close the reader.
	Archive(ctx context.Context, decisionID uuid.UUID) (io.ReadCloser, error)

	Record(ctx context.Context, cmd RecordCommand) (*RecordResult, error)

	UploadAttachment(ctx context.Context, cmd UploadCommand) (*Attachment, error)
}
