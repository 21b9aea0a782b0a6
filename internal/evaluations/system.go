package evaluations

import (
	"context"

	"github.com/google/uuid"

	"github.com/JaimeStill/steward/internal/exceptions"
	"github.com/JaimeStill/steward/internal/policies"
	"github.com/JaimeStill/steward/pkg/pagination"
)

// ExceptionReader loads the exception under evaluation.
type ExceptionReader interface {
	Find(ctx context.Context, id uuid.UUID) (*exceptions.Exception, error)
}

// VersionReader loads the policy version to apply.
type VersionReader interface {
	FindVersion(ctx context.Context, id uuid.UUID) (*policies.Version, error)
	ActiveVersion(ctx context.Context, policyID uuid.UUID) (*policies.Version, error)
}

// System defines the public contract for evaluation operations.
type System interface {
	Handler() *Handler

	List(
		ctx context.Context,
		page pagination.PageRequest,
		filters Filters,
	) (*pagination.PageResult[Evaluation], error)

	Find(ctx context.Context, id uuid.UUID) (*Evaluation, error)
	Evaluate(ctx context.Context, cmd EvaluateCommand) (*EvaluateResult, error)
}
