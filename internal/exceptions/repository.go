package exceptions

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/JaimeStill/steward/internal/audit"
	"github.com/JaimeStill/steward/internal/metrics"
	"github.com/JaimeStill/steward/internal/packs"
	"github.com/JaimeStill/steward/pkg/canonical"
	"github.com/JaimeStill/steward/pkg/pagination"
	"github.com/JaimeStill/steward/pkg/query"
	"github.com/JaimeStill/steward/pkg/repository"
)

type repo struct {
	db         *sql.DB
	packs      *packs.Registry
	audit      audit.Appender
	metrics    *metrics.Metrics
	logger     *slog.Logger
	pagination pagination.Config
}

// New creates an exception repository implementing the System interface.
func New(
	db *sql.DB,
	registry *packs.Registry,
	auditor audit.Appender,
	m *metrics.Metrics,
	logger *slog.Logger,
	pagination pagination.Config,
) System {
	return &repo{
		db:         db,
		packs:      registry,
		audit:      auditor,
		metrics:    m,
		logger:     logger.With("system", "exceptions"),
		pagination: pagination,
	}
}

func (r *repo) Handler() *Handler {
	return NewHandler(r, r.logger, r.pagination)
}

func (r *repo) List(
	ctx context.Context,
	page pagination.PageRequest,
	filters Filters,
) (*pagination.PageResult[Exception], error) {
	page.Normalize(r.pagination)

	qb := query.
		NewBuilder(projection, defaultSort).
		WhereSearch(page.Search, "Title", "SignalType")

	filters.Apply(qb)

	if len(page.Sort) > 0 {
		qb.OrderByFields(page.Sort)
	}

	countSQL, countArgs := qb.BuildCount()
	var total int
	if err := r.db.QueryRowContext(ctx, countSQL, countArgs...).Scan(&total); err != nil {
		return nil, fmt.Errorf("count exceptions: %w", err)
	}

	pageSQL, pageArgs := qb.BuildPage(page.Page, page.PageSize)
	items, err := repository.QueryMany(ctx, r.db, pageSQL, pageArgs, scanException)
	if err != nil {
		return nil, fmt.Errorf("query exceptions: %w", err)
	}

	result := pagination.NewPageResult(items, total, page.Page, page.PageSize)
	return &result, nil
}

func (r *repo) Find(ctx context.Context, id uuid.UUID) (*Exception, error) {
	q, args := query.NewBuilder(projection).BuildSingle("ID", id)

	e, err := repository.QueryOne(ctx, r.db, q, args, scanException)
	if err != nil {
		return nil, repository.MapError(err, ErrNotFound, ErrDuplicate)
	}
	return &e, nil
}

func (r *repo) Lock(ctx context.Context, q repository.Querier, id uuid.UUID) (*Exception, error) {
	stmt, args := query.NewBuilder(projection).BuildSingle("ID", id)

	e, err := repository.QueryOne(ctx, q, stmt+" FOR UPDATE", args, scanException)
	if err != nil {
		return nil, repository.MapError(err, ErrNotFound, ErrDuplicate)
	}
	return &e, nil
}

func (r *repo) Detail(ctx context.Context, id uuid.UUID) (*Detail, error) {
	e, err := r.Find(ctx, id)
	if err != nil {
		return nil, err
	}

	d := &Detail{
		Exception: e,
		Options:   r.packs.Options(e.SignalType),
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		stmt := `
			SELECT s.id, s.signal_type, s.source, s.payload, s.reliability, s.observed_at, l.linked_at
			FROM exception_signals l
			JOIN signals s ON s.id = l.signal_id
			WHERE l.exception_id = $1
			ORDER BY l.linked_at, s.observed_at`
		items, err := repository.QueryMany(gctx, r.db, stmt, []any{id}, scanSignal)
		d.Signals = items
		return err
	})

	g.Go(func() error {
		stmt := `
			SELECT id, exception_id, kind, content, added_by, created_at
			FROM exception_contexts
			WHERE exception_id = $1
			ORDER BY created_at`
		items, err := repository.QueryMany(gctx, r.db, stmt, []any{id}, scanContext)
		d.Contexts = items
		return err
	})

	g.Go(func() error {
		stmt := `
			SELECT id, policy_version_id, replay_namespace, result, evaluated_at
			FROM evaluations
			WHERE exception_id = $1
			ORDER BY evaluated_at DESC`
		items, err := repository.QueryMany(gctx, r.db, stmt, []any{id}, scanEvaluation)
		d.Evaluations = items
		return err
	})

	g.Go(func() error {
		stmt := `
			SELECT id, decision_type, chosen_option_id, decided_by, decided_at
			FROM decisions
			WHERE exception_id = $1
			ORDER BY decided_at DESC`
		items, err := repository.QueryMany(gctx, r.db, stmt, []any{id}, scanDecision)
		d.Decisions = items
		return err
	})

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("load exception detail %s: %w", id, err)
	}

	return d, nil
}

// Deduplicate merges the signal into the open exception for its fingerprint
// or opens a new one. The partial unique index on open fingerprints is the
// arbiter, so concurrent callers with the same fingerprint serialize on it
// and exactly one creates the row.
func (r *repo) Deduplicate(ctx context.Context, q repository.Querier, cmd DeduplicateCommand) (*DedupResult, error) {
	dims := cmd.Key.Dimensions
	if dims == nil {
		dims = map[string]string{}
	}

	dimsJSON, err := canonical.Marshal(dims)
	if err != nil {
		return nil, fmt.Errorf("deduplicate: %w", err)
	}

	observed := cmd.ObservedAt
	if observed.IsZero() {
		observed = time.Now()
	}

	stmt := `
		INSERT INTO exceptions (
			fingerprint, signal_type, pack, dimensions, title, severity, policy_id,
			first_signal_id, last_signal_id, raised_at, last_seen_at
		)
		VALUES (
			$1, $2, $3, $4, $5, $6,
			(SELECT p.id FROM policies p
			 WHERE p.signal_types @> jsonb_build_array($2::text)
			 ORDER BY p.created_at LIMIT 1),
			$7, $7, NOW(), $8
		)
		ON CONFLICT (fingerprint) WHERE status = 'open' DO UPDATE SET
			occurrence_count = exceptions.occurrence_count + 1,
			last_signal_id = EXCLUDED.last_signal_id,
			last_seen_at = GREATEST(exceptions.last_seen_at, EXCLUDED.last_seen_at),
			severity = GREATEST(exceptions.severity, EXCLUDED.severity)
		RETURNING ` + returning + `, (xmax = 0) AS created`

	args := []any{
		cmd.Key.Value,
		cmd.Key.SignalType,
		cmd.Key.Pack,
		string(dimsJSON),
		Title(cmd.Key.SignalType, dims),
		string(SeverityOf(cmd.Payload)),
		cmd.SignalID,
		observed,
	}

	row, err := repository.QueryOne(ctx, q, stmt, args, scanDedup)
	if err != nil {
		return nil, fmt.Errorf("deduplicate %s: %w", cmd.Key.Value, repository.MapError(err, ErrNotFound, ErrDuplicate))
	}

	link := `INSERT INTO exception_signals (exception_id, signal_id) VALUES ($1, $2)`
	if _, err := q.ExecContext(ctx, link, row.ID, cmd.SignalID); err != nil {
		return nil, fmt.Errorf("link signal %s: %w", cmd.SignalID, repository.MapError(err, ErrNotFound, ErrDuplicate))
	}

	eventType := audit.ExceptionMerged
	if row.created {
		eventType = audit.ExceptionRaised
	}

	_, err = r.audit.Append(ctx, q, audit.Entry{
		Type:      eventType,
		SubjectID: row.ID.String(),
		Actor:     cmd.Actor,
		Payload: map[string]any{
			"fingerprint":      row.Fingerprint,
			"signal_id":        cmd.SignalID,
			"severity":         row.Severity,
			"occurrence_count": row.OccurrenceCount,
		},
	})
	if err != nil {
		return nil, err
	}

	r.metrics.ExceptionDeduplicated(row.created, row.Pack)
	r.logger.Debug(
		"signal deduplicated",
		"exception_id", row.ID,
		"created", row.created,
		"occurrence_count", row.OccurrenceCount,
	)

	e := row.Exception
	return &DedupResult{Exception: &e, Created: row.created}, nil
}

func (r *repo) Resolve(ctx context.Context, id uuid.UUID, actor, notes string) (*Exception, error) {
	return repository.WithTx(ctx, r.db, func(tx *sql.Tx) (*Exception, error) {
		return r.ResolveTx(ctx, tx, id, actor, notes)
	})
}

func (r *repo) ResolveTx(ctx context.Context, q repository.Querier, id uuid.UUID, actor, notes string) (*Exception, error) {
	return r.close(ctx, q, id, StatusResolved, audit.ExceptionResolved, actor, notes)
}

func (r *repo) Dismiss(ctx context.Context, id uuid.UUID, actor, reason string) (*Exception, error) {
	return repository.WithTx(ctx, r.db, func(tx *sql.Tx) (*Exception, error) {
		return r.DismissTx(ctx, tx, id, actor, reason)
	})
}

func (r *repo) DismissTx(ctx context.Context, q repository.Querier, id uuid.UUID, actor, reason string) (*Exception, error) {
	return r.close(ctx, q, id, StatusDismissed, audit.ExceptionDismissed, actor, reason)
}

func (r *repo) close(
	ctx context.Context,
	q repository.Querier,
	id uuid.UUID,
	status Status,
	eventType audit.EventType,
	actor, notes string,
) (*Exception, error) {
	stmt := `
		UPDATE exceptions
		SET status = $2, closed_at = NOW(), closed_by = $3
		WHERE id = $1 AND status = 'open'
		RETURNING ` + returning

	e, err := repository.QueryOne(ctx, q, stmt, []any{id, string(status), actor}, scanException)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, r.transitionError(ctx, q, id)
		}
		return nil, repository.MapError(err, ErrNotFound, ErrDuplicate)
	}

	_, err = r.audit.Append(ctx, q, audit.Entry{
		Type:      eventType,
		SubjectID: e.ID.String(),
		Actor:     actor,
		Payload:   map[string]any{"status": e.Status, "notes": notes},
	})
	if err != nil {
		return nil, err
	}

	r.logger.Info("exception closed", "id", e.ID, "status", e.Status, "actor", actor)
	return &e, nil
}

// transitionError distinguishes a missing exception from one already closed.
func (r *repo) transitionError(ctx context.Context, q repository.Querier, id uuid.UUID) error {
	var status Status
	err := q.QueryRowContext(ctx, "SELECT status FROM exceptions WHERE id = $1", id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: status is %s", ErrInvalidTransition, status)
}

func (r *repo) AddContext(ctx context.Context, cmd AddContextCommand) (*Context, error) {
	return repository.WithTx(ctx, r.db, func(tx *sql.Tx) (*Context, error) {
		return r.AddContextTx(ctx, tx, cmd)
	})
}

// AddContextTx appends a context row. Plain context is also merged into the
// exception's context document so that rule conditions on context.<key> see it.
func (r *repo) AddContextTx(ctx context.Context, q repository.Querier, cmd AddContextCommand) (*Context, error) {
	if cmd.Kind == "" {
		cmd.Kind = KindContext
	}
	if cmd.Kind != KindContext && cmd.Kind != KindDecisionContext {
		return nil, fmt.Errorf("%w: unknown kind %q", ErrInvalidContext, cmd.Kind)
	}
	if cmd.AddedBy == "" {
		return nil, fmt.Errorf("%w: added_by required", ErrInvalidContext)
	}
	if len(cmd.Content) == 0 {
		return nil, fmt.Errorf("%w: content required", ErrInvalidContext)
	}

	content, err := canonical.Marshal(cmd.Content)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidContext, err)
	}

	stmt := `
		INSERT INTO exception_contexts (exception_id, kind, content, added_by)
		SELECT e.id, $2, $3, $4 FROM exceptions e WHERE e.id = $1
		RETURNING id, exception_id, kind, content, added_by, created_at`

	c, err := repository.QueryOne(ctx, q, stmt, []any{cmd.ExceptionID, cmd.Kind, string(content), cmd.AddedBy}, scanContext)
	if err != nil {
		return nil, repository.MapError(err, ErrNotFound, ErrDuplicate)
	}

	if cmd.Kind == KindContext {
		merge := `UPDATE exceptions SET context = context || $2::jsonb WHERE id = $1`
		if err := repository.ExecExpectOne(ctx, q, merge, cmd.ExceptionID, string(content)); err != nil {
			return nil, repository.MapError(err, ErrNotFound, ErrDuplicate)
		}
	}

	_, err = r.audit.Append(ctx, q, audit.Entry{
		Type:      audit.ExceptionContextAdded,
		SubjectID: cmd.ExceptionID.String(),
		Actor:     cmd.AddedBy,
		Payload:   map[string]any{"context_id": c.ID, "kind": c.Kind},
	})
	if err != nil {
		return nil, err
	}

	r.logger.Debug("exception context added", "exception_id", cmd.ExceptionID, "kind", c.Kind)
	return &c, nil
}
