package exceptions

import (
	"context"

	"github.com/google/uuid"

	"github.com/JaimeStill/steward/pkg/pagination"
	"github.com/JaimeStill/steward/pkg/repository"
)

// System defines the public contract for exception operations. Methods
// suffixed Tx run inside the caller's transaction so that ingestion,
// decisions and approvals commit exception changes atomically with their own writes.
type System interface {
	Handler() *Handler

	List(
		ctx context.Context,
		page pagination.PageRequest,
		filters Filters,
	) (*pagination.PageResult[Exception], error)

	Find(ctx context.Context, id uuid.UUID) (*Exception, error)
	Detail(ctx context.Context, id uuid.UUID) (*Detail, error)

	// Lock reads the exception with a row lock held until q commits.
	Lock(ctx context.Context, q repository.Querier, id uuid.UUID) (*Exception, error)

	Deduplicate(ctx context.Context, q repository.Querier, cmd DeduplicateCommand) (*DedupResult, error)

	Resolve(ctx context.Context, id uuid.UUID, actor, notes string) (*Exception, error)
	ResolveTx(ctx context.Context, q repository.Querier, id uuid.UUID, actor, notes string) (*Exception, error)

	Dismiss(ctx context.Context, id uuid.UUID, actor, reason string) (*Exception, error)
	DismissTx(ctx context.Context, q repository.Querier, id uuid.UUID, actor, reason string) (*Exception, error)

	AddContext(ctx context.Context, cmd AddContextCommand) (*Context, error)
	AddContextTx(ctx context.Context, q repository.Querier, cmd AddContextCommand) (*Context, error)
}
