package evaluations

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/JaimeStill/steward/internal/audit"
	"github.com/JaimeStill/steward/internal/metrics"
	"github.com/JaimeStill/steward/internal/policies"
	"github.com/JaimeStill/steward/pkg/canonical"
	"github.com/JaimeStill/steward/pkg/pagination"
	"github.com/JaimeStill/steward/pkg/query"
	"github.com/JaimeStill/steward/pkg/repository"
)

type repo struct {
	db         *sql.DB
	exceptions ExceptionReader
	versions   VersionReader
	audit      audit.Appender
	metrics    *metrics.Metrics
	logger     *slog.Logger
	pagination pagination.Config
}

// New creates an evaluation repository implementing the System interface.
func New(
	db *sql.DB,
	exceptions ExceptionReader,
	versions VersionReader,
	auditor audit.Appender,
	m *metrics.Metrics,
	logger *slog.Logger,
	pagination pagination.Config,
) System {
	return &repo{
		db:         db,
		exceptions: exceptions,
		versions:   versions,
		audit:      auditor,
		metrics:    m,
		logger:     logger.With("system", "evaluations"),
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
) (*pagination.PageResult[Evaluation], error) {
	page.Normalize(r.pagination)

	qb := query.
		NewBuilder(projection, defaultSort).
		WhereSearch(page.Search, "Namespace")

	filters.Apply(qb)

	if len(page.Sort) > 0 {
		qb.OrderByFields(page.Sort)
	}

	countSQL, countArgs := qb.BuildCount()
	var total int
	if err := r.db.QueryRowContext(ctx, countSQL, countArgs...).Scan(&total); err != nil {
		return nil, fmt.Errorf("count evaluations: %w", err)
	}

	pageSQL, pageArgs := qb.BuildPage(page.Page, page.PageSize)
	items, err := repository.QueryMany(ctx, r.db, pageSQL, pageArgs, scanEvaluation)
	if err != nil {
		return nil, fmt.Errorf("query evaluations: %w", err)
	}

	result := pagination.NewPageResult(items, total, page.Page, page.PageSize)
	return &result, nil
}

func (r *repo) Find(ctx context.Context, id uuid.UUID) (*Evaluation, error) {
	q, args := query.NewBuilder(projection).BuildSingle("ID", id)

	e, err := repository.QueryOne(ctx, r.db, q, args, scanEvaluation)
	if err != nil {
		return nil, repository.MapError(err, ErrNotFound, ErrDuplicate)
	}
	return &e, nil
}

// Evaluate records the rule outcome for the exception's current state. The
// unique (input_hash, replay_namespace) constraint coalesces repeats and
// concurrent duplicates into the first row.
func (r *repo) Evaluate(ctx context.Context, cmd EvaluateCommand) (*EvaluateResult, error) {
	namespace := strings.TrimSpace(cmd.Namespace)
	if namespace == "" {
		namespace = DefaultNamespace
	}
	actor := cmd.Actor
	if actor == "" {
		actor = "evaluator"
	}

	exc, err := r.exceptions.Find(ctx, cmd.ExceptionID)
	if err != nil {
		return nil, err
	}

	version, err := r.resolveVersion(ctx, cmd, exc.PolicyID)
	if err != nil {
		return nil, err
	}

	snapshot := Snapshot(exc)

	hash, err := InputHash(snapshot, version, cmd.ReplayContext)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidEvaluation, err)
	}

	result, outcomes := version.Rule.Evaluate(snapshot)

	details, err := canonical.Marshal(outcomes)
	if err != nil {
		return nil, fmt.Errorf("encode evaluation details: %w", err)
	}

	stmt := `
		INSERT INTO evaluations (exception_id, policy_version_id, input_hash, replay_namespace, result, details)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (input_hash, replay_namespace) DO NOTHING
		RETURNING ` + returning

	args := []any{exc.ID, version.ID, hash, namespace, string(result), string(details)}

	res, err := repository.WithTx(ctx, r.db, func(tx *sql.Tx) (*EvaluateResult, error) {
		ev, err := repository.QueryOne(ctx, tx, stmt, args, scanEvaluation)
		if errors.Is(err, sql.ErrNoRows) {
			existing, err := r.existing(ctx, tx, hash, namespace)
			if err != nil {
				return nil, err
			}
			return &EvaluateResult{Evaluation: existing}, nil
		}
		if err != nil {
			return nil, repository.MapError(err, ErrNotFound, ErrDuplicate)
		}

		_, err = r.audit.Append(ctx, tx, audit.Entry{
			Type:      audit.EvaluationRecorded,
			SubjectID: ev.ID.String(),
			Actor:     actor,
			Payload: map[string]any{
				"exception_id":      ev.ExceptionID,
				"policy_version_id": ev.PolicyVersionID,
				"replay_namespace":  ev.Namespace,
				"result":            ev.Result,
				"input_hash":        ev.InputHash,
			},
		})
		if err != nil {
			return nil, err
		}

		return &EvaluateResult{Evaluation: &ev, Created: true}, nil
	})
	if err != nil {
		return nil, err
	}

	r.metrics.EvaluationRecorded(string(res.Evaluation.Result), res.Created)
	r.logger.Info(
		"evaluation recorded",
		"id", res.Evaluation.ID,
		"exception_id", exc.ID,
		"namespace", namespace,
		"result", res.Evaluation.Result,
		"created", res.Created,
	)

	return res, nil
}

func (r *repo) resolveVersion(ctx context.Context, cmd EvaluateCommand, policyID *uuid.UUID) (*policies.Version, error) {
	if cmd.PolicyVersionID != nil {
		return r.versions.FindVersion(ctx, *cmd.PolicyVersionID)
	}
	if policyID == nil {
		return nil, ErrNoPolicy
	}
	return r.versions.ActiveVersion(ctx, *policyID)
}

func (r *repo) existing(ctx context.Context, q repository.Querier, hash, namespace string) (*Evaluation, error) {
	stmt, args := query.
		NewBuilder(projection).
		WhereEquals("InputHash", hash).
		WhereEquals("Namespace", namespace).
		BuildSingleOrNull()

	ev, err := repository.QueryOne(ctx, q, stmt, args, scanEvaluation)
	if err != nil {
		return nil, repository.MapError(err, ErrNotFound, ErrDuplicate)
	}
	return &ev, nil
}
