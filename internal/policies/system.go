package policies

import (
	"context"

	"github.com/google/uuid"

	"github.com/JaimeStill/steward/pkg/repository"
)

// System defines the public contract for policy operations.
type System interface {
	Handler() *Handler

	List(ctx context.Context, filters Filters, includeVersions bool) ([]Policy, error)
	Find(ctx context.Context, id uuid.UUID) (*Policy, error)
	FindVersion(ctx context.Context, id uuid.UUID) (*Version, error)
	ActiveVersion(ctx context.Context, policyID uuid.UUID) (*Version, error)

	Create(ctx context.Context, cmd CreateCommand) (*Policy, error)
	CreateVersion(ctx context.Context, cmd VersionCommand) (*Version, error)

	// CreateVersionTx drafts a version inside the caller's transaction. The
	// approval queue commits approved policy drafts through this path.
	CreateVersionTx(ctx context.Context, q repository.Querier, cmd VersionCommand) (*Version, error)

	Activate(ctx context.Context, versionID uuid.UUID, actor string) (*Version, error)
}
