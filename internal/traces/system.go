package traces

import (
	"context"

	"github.com/google/uuid"

	"github.com/JaimeStill/steward/pkg/pagination"
)

// System defines the public contract for the agent trace recorder.
// Complete and Fail succeed only while the trace is running.
type System interface {
	Handler() *Handler

	List(
		ctx context.Context,
		page pagination.PageRequest,
		filters Filters,
	) (*pagination.PageResult[Trace], error)

	Find(ctx context.Context, id uuid.UUID) (*Detail, error)

	Start(ctx context.Context, cmd StartCommand) (*Trace, error)
	RecordToolCall(ctx context.Context, id uuid.UUID, cmd ToolCallCommand) (*Trace, error)
	Complete(ctx context.Context, id uuid.UUID, outputSummary string) (*Trace, error)
	Fail(ctx context.Context, id uuid.UUID, message string) (*Trace, error)
}
