package audit

import (
	"context"

	"github.com/google/uuid"

	"github.com/JaimeStill/steward/pkg/pagination"
	"github.com/JaimeStill/steward/pkg/repository"
)

// Appender writes audit events inside a caller-owned transaction.
type Appender interface {
	Append(ctx context.Context, q repository.Querier, entry Entry) (*Event, error)
}

// System defines the public contract for the audit trail.
// It deliberately exposes no update or delete operations.
type System interface {
	Appender

	Handler() *Handler

	// AppendOne writes a single event in its own transaction.
	AppendOne(ctx context.Context, entry Entry) (*Event, error)

	List(
		ctx context.Context,
		page pagination.PageRequest,
		filters Filters,
	) (*pagination.PageResult[Event], error)

	Find(ctx context.Context, id uuid.UUID) (*Event, error)

	Registry() *Registry
}
