package audit

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/JaimeStill/steward/pkg/canonical"
	"github.com/JaimeStill/steward/pkg/pagination"
	"github.com/JaimeStill/steward/pkg/query"
	"github.com/JaimeStill/steward/pkg/repository"
)

type repo struct {
	db         *sql.DB
	registry   *Registry
	logger     *slog.Logger
	pagination pagination.Config
}

// New creates an audit repository implementing the System interface.
func New(
	db *sql.DB,
	registry *Registry,
	logger *slog.Logger,
	pagination pagination.Config,
) System {
	return &repo{
		db:         db,
		registry:   registry,
		logger:     logger.With("system", "audit"),
		pagination: pagination,
	}
}

func (r *repo) Handler() *Handler {
	return NewHandler(r, r.logger, r.pagination)
}

func (r *repo) Registry() *Registry {
	return r.registry
}

func (r *repo) Append(ctx context.Context, q repository.Querier, entry Entry) (*Event, error) {
	if err := r.registry.Validate(entry.Type); err != nil {
		return nil, err
	}
	if entry.SubjectID == "" || entry.Actor == "" {
		return nil, fmt.Errorf("%w: subject_id and actor required", ErrInvalidEntry)
	}

	var payload any = entry.Payload
	if payload == nil {
		payload = map[string]any{}
	}

	body, err := canonical.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidEntry, err)
	}

	stmt := `
		INSERT INTO audit_events (event_type, subject_id, actor, payload)
		VALUES ($1, $2, $3, $4)
		RETURNING id, event_type, subject_id, actor, payload, occurred_at`

	args := []any{string(entry.Type), entry.SubjectID, entry.Actor, string(body)}

	e, err := repository.QueryOne(ctx, q, stmt, args, scanEvent)
	if err != nil {
		return nil, fmt.Errorf("append %s: %w", entry.Type, repository.MapError(err, ErrNotFound, ErrDuplicate))
	}

	r.logger.Debug("audit event appended", "event_type", e.Type, "subject_id", e.SubjectID, "actor", e.Actor)
	return &e, nil
}

func (r *repo) AppendOne(ctx context.Context, entry Entry) (*Event, error) {
	return repository.WithTx(ctx, r.db, func(tx *sql.Tx) (*Event, error) {
		return r.Append(ctx, tx, entry)
	})
}

func (r *repo) List(
	ctx context.Context,
	page pagination.PageRequest,
	filters Filters,
) (*pagination.PageResult[Event], error) {
	page.Normalize(r.pagination)

	qb := query.
		NewBuilder(projection, defaultSort).
		WhereSearch(page.Search, "SubjectID", "Actor")

	filters.Apply(qb)

	if len(page.Sort) > 0 {
		qb.OrderByFields(page.Sort)
	}

	countSQL, countArgs := qb.BuildCount()
	var total int
	if err := r.db.QueryRowContext(ctx, countSQL, countArgs...).Scan(&total); err != nil {
		return nil, fmt.Errorf("count audit events: %w", err)
	}

	pageSQL, pageArgs := qb.BuildPage(page.Page, page.PageSize)
	events, err := repository.QueryMany(ctx, r.db, pageSQL, pageArgs, scanEvent)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}

	result := pagination.NewPageResult(events, total, page.Page, page.PageSize)
	return &result, nil
}

func (r *repo) Find(ctx context.Context, id uuid.UUID) (*Event, error) {
	q, args := query.NewBuilder(projection).BuildSingle("ID", id)

	e, err := repository.QueryOne(ctx, r.db, q, args, scanEvent)
	if err != nil {
		return nil, repository.MapError(err, ErrNotFound, ErrDuplicate)
	}
	return &e, nil
}
