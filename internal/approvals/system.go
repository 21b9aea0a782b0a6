package approvals

import (
	"context"

	"github.com/google/uuid"

	"github.com/JaimeStill/steward/pkg/pagination"
)

// System defines the public contract for the approval queue.
type System interface {
	Handler() *Handler

	List(
		ctx context.Context,
		page pagination.PageRequest,
		filters Filters,
	) (*pagination.PageResult[Item], error)

	Find(ctx context.Context, id uuid.UUID) (*Item, error)

	Propose(ctx context.Context, cmd ProposeCommand) (*Item, error)

	// Approve commits the proposal's write and marks the item approved. It
	// fails with ErrInvalidTransition unless the item is pending at commit time.
	Approve(ctx context.Context, id uuid.UUID, cmd ReviewCommand) (*Item, error)

	// Reject marks a pending item rejected without writing anything else.
	Reject(ctx context.Context, id uuid.UUID, cmd ReviewCommand) (*Item, error)
}
