package signals

import (
	"context"

	"github.com/google/uuid"

	"github.com/JaimeStill/steward/internal/exceptions"
	"github.com/JaimeStill/steward/pkg/pagination"
	"github.com/JaimeStill/steward/pkg/repository"
)

// Deduplicator merges a newly stored signal into its exception.
type Deduplicator interface {
	Deduplicate(ctx context.Context, q repository.Querier, cmd exceptions.DeduplicateCommand) (*exceptions.DedupResult, error)
	Find(ctx context.Context, id uuid.UUID) (*exceptions.Exception, error)
}

// System defines the public contract for signal ingestion and lookup.
type System interface {
	Handler() *Handler

	List(
		ctx context.Context,
		page pagination.PageRequest,
		filters Filters,
	) (*pagination.PageResult[Signal], error)

	Find(ctx context.Context, id uuid.UUID) (*Signal, error)

	Ingest(ctx context.Context, cmd IngestCommand, actor string) (*IngestResult, error)

	// IngestTx ingests inside the caller's transaction. The approval queue
	// commits approved signal proposals through this path.
	IngestTx(ctx context.Context, q repository.Querier, cmd IngestCommand, actor string) (*IngestResult, error)
}
