package users

import (
	"context"

	"github.com/JaimeStill/steward/pkg/pagination"
	"github.com/JaimeStill/steward/pkg/repository"
)

// Authorizer checks a username against allowed roles within a caller's transaction.
type Authorizer interface {
	Authorize(ctx context.Context, q repository.Querier, username string, roles ...Role) (*User, error)
}

// System defines the public contract for user operations.
type System interface {
	Authorizer

	Handler() *Handler

	List(
		ctx context.Context,
		page pagination.PageRequest,
		filters Filters,
	) (*pagination.PageResult[User], error)

	FindByUsername(ctx context.Context, username string) (*User, error)
	Create(ctx context.Context, cmd CreateCommand, actor string) (*User, error)
	Update(ctx context.Context, username string, cmd UpdateCommand, actor string) (*User, error)
	RecordLogin(ctx context.Context, username string) (*User, error)
}
