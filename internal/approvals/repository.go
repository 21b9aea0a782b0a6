package approvals

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
	"github.com/JaimeStill/steward/internal/users"
	"github.com/JaimeStill/steward/pkg/canonical"
	"github.com/JaimeStill/steward/pkg/pagination"
	"github.com/JaimeStill/steward/pkg/query"
	"github.com/JaimeStill/steward/pkg/repository"
)

type repo struct {
	db         *sql.DB
	committers Committers
	users      users.Authorizer
	audit      audit.Appender
	metrics    *metrics.Metrics
	logger     *slog.Logger
	pagination pagination.Config
}

// New creates an approval queue implementing the System interface.
func New(
	db *sql.DB,
	committers Committers,
	authorizer users.Authorizer,
	auditor audit.Appender,
	m *metrics.Metrics,
	logger *slog.Logger,
	pagination pagination.Config,
) System {
	return &repo{
		db:         db,
		committers: committers,
		users:      authorizer,
		audit:      auditor,
		metrics:    m,
		logger:     logger.With("system", "approvals"),
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
) (*pagination.PageResult[Item], error) {
	page.Normalize(r.pagination)

	qb := query.
		NewBuilder(projection, defaultSort).
		WhereSearch(page.Search, "Summary", "ProposedBy")

	filters.Apply(qb)

	if len(page.Sort) > 0 {
		qb.OrderByFields(page.Sort)
	}

	countSQL, countArgs := qb.BuildCount()
	var total int
	if err := r.db.QueryRowContext(ctx, countSQL, countArgs...).Scan(&total); err != nil {
		return nil, fmt.Errorf("count approval items: %w", err)
	}

	pageSQL, pageArgs := qb.BuildPage(page.Page, page.PageSize)
	items, err := repository.QueryMany(ctx, r.db, pageSQL, pageArgs, scanItem)
	if err != nil {
		return nil, fmt.Errorf("query approval items: %w", err)
	}

	result := pagination.NewPageResult(items, total, page.Page, page.PageSize)
	return &result, nil
}

func (r *repo) Find(ctx context.Context, id uuid.UUID) (*Item, error) {
	q, args := query.NewBuilder(projection).BuildSingle("ID", id)

	item, err := repository.QueryOne(ctx, r.db, q, args, scanItem)
	if err != nil {
		return nil, repository.MapError(err, ErrNotFound, ErrDuplicate)
	}
	return &item, nil
}

func (r *repo) Propose(ctx context.Context, cmd ProposeCommand) (*Item, error) {
	committer, err := r.validate(&cmd)
	if err != nil {
		return nil, err
	}

	payload, err := canonical.Marshal(cmd.Payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidProposal, err)
	}

	if err := committer.Validate(payload, cmd.ProposedBy); err != nil {
		return nil, err
	}

	return repository.WithTx(ctx, r.db, func(tx *sql.Tx) (*Item, error) {
		stmt := `
			INSERT INTO approval_queue (action_type, payload, proposed_by, trace_id, summary, confidence)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING ` + returning

		args := []any{
			string(cmd.ActionType),
			string(payload),
			cmd.ProposedBy,
			cmd.TraceID,
			cmd.Summary,
			cmd.Confidence,
		}

		item, err := repository.QueryOne(ctx, tx, stmt, args, scanItem)
		if err != nil {
			return nil, repository.MapError(err, ErrNotFound, ErrDuplicate)
		}

		_, err = r.audit.Append(ctx, tx, audit.Entry{
			Type:      audit.ApprovalProposed,
			SubjectID: item.ID.String(),
			Actor:     item.ProposedBy,
			Payload: map[string]any{
				"action_type": item.ActionType,
				"trace_id":    item.TraceID,
				"summary":     item.Summary,
				"confidence":  item.Confidence,
			},
		})
		if err != nil {
			return nil, err
		}

		r.metrics.ApprovalTransition(string(item.ActionType), string(StatusPending))
		r.logger.Info("proposal queued", "id", item.ID, "action_type", item.ActionType, "proposed_by", item.ProposedBy)
		return &item, nil
	})
}

func (r *repo) Approve(ctx context.Context, id uuid.UUID, cmd ReviewCommand) (*Item, error) {
	return r.review(ctx, id, StatusApproved, cmd)
}

func (r *repo) Reject(ctx context.Context, id uuid.UUID, cmd ReviewCommand) (*Item, error) {
	return r.review(ctx, id, StatusRejected, cmd)
}

// review performs the single pending -> terminal transition. The status
// predicate on the UPDATE is the compare-and-swap: a concurrent review blocks
// on the row lock and then matches zero rows. On approval the committed write
// and result_id share the transaction, so any failure leaves the item pending.
func (r *repo) review(ctx context.Context, id uuid.UUID, target Status, cmd ReviewCommand) (*Item, error) {
	cmd.ReviewedBy = strings.TrimSpace(cmd.ReviewedBy)

	item, err := repository.WithTx(ctx, r.db, func(tx *sql.Tx) (*Item, error) {
		if _, err := r.users.Authorize(ctx, tx, cmd.ReviewedBy, users.ReviewerRoles...); err != nil {
			return nil, err
		}

		var notes *string
		if cmd.Notes != "" {
			notes = &cmd.Notes
		}

		stmt := `
			UPDATE approval_queue
			SET status = $2, reviewed_by = $3, reviewed_at = NOW(), review_notes = $4
			WHERE id = $1 AND status = 'pending'
			RETURNING ` + returning

		item, err := repository.QueryOne(ctx, tx, stmt, []any{id, string(target), cmd.ReviewedBy, notes}, scanItem)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, r.transitionError(ctx, tx, id)
			}
			return nil, repository.MapError(err, ErrNotFound, ErrDuplicate)
		}

		eventType := audit.ApprovalRejected
		if target == StatusApproved {
			eventType = audit.ApprovalApproved

			committer, ok := r.committers[item.ActionType]
			if !ok {
				return nil, fmt.Errorf("%w: no committer for %s", ErrInvalidProposal, item.ActionType)
			}

			resultID, err := committer.Commit(ctx, tx, &item, cmd.ReviewedBy)
			if err != nil {
				return nil, fmt.Errorf("commit %s proposal: %w", item.ActionType, err)
			}

			set := `UPDATE approval_queue SET result_id = $2 WHERE id = $1 RETURNING ` + returning
			item, err = repository.QueryOne(ctx, tx, set, []any{id, resultID}, scanItem)
			if err != nil {
				return nil, repository.MapError(err, ErrNotFound, ErrDuplicate)
			}
		}

		_, err = r.audit.Append(ctx, tx, audit.Entry{
			Type:      eventType,
			SubjectID: item.ID.String(),
			Actor:     cmd.ReviewedBy,
			Payload: map[string]any{
				"action_type": item.ActionType,
				"proposed_by": item.ProposedBy,
				"trace_id":    item.TraceID,
				"result_id":   item.ResultID,
				"notes":       cmd.Notes,
			},
		})
		if err != nil {
			return nil, err
		}

		return &item, nil
	})
	if err != nil {
		if errors.Is(err, repository.ErrImmutable) {
			r.logger.Error("integrity violation during review", "id", id, "error", err)
		}
		return nil, err
	}

	r.metrics.ApprovalTransition(string(item.ActionType), string(item.Status))
	r.logger.Info(
		"proposal reviewed",
		"id", item.ID,
		"action_type", item.ActionType,
		"status", item.Status,
		"reviewed_by", cmd.ReviewedBy,
		"result_id", item.ResultID,
	)
	return item, nil
}

func (r *repo) validate(cmd *ProposeCommand) (Committer, error) {
	cmd.ProposedBy = strings.TrimSpace(cmd.ProposedBy)
	cmd.Summary = strings.TrimSpace(cmd.Summary)

	if cmd.ActionType == ActionContext {
		return nil, ErrExempt
	}
	if !cmd.ActionType.Valid() {
		return nil, fmt.Errorf("%w: unknown action_type %q", ErrInvalidProposal, cmd.ActionType)
	}
	if cmd.ProposedBy == "" {
		return nil, fmt.Errorf("%w: proposed_by required", ErrInvalidProposal)
	}
	if cmd.Payload == nil {
		return nil, fmt.Errorf("%w: payload required", ErrInvalidProposal)
	}
	if c := cmd.Confidence; c != nil && (*c < 0 || *c > 1) {
		return nil, fmt.Errorf("%w: confidence %v outside [0, 1]", ErrInvalidProposal, *c)
	}

	committer, ok := r.committers[cmd.ActionType]
	if !ok {
		return nil, fmt.Errorf("%w: no committer for %s", ErrInvalidProposal, cmd.ActionType)
	}
	return committer, nil
}

// transitionError distinguishes a missing item from one already reviewed.
func (r *repo) transitionError(ctx context.Context, q repository.Querier, id uuid.UUID) error {
	var status Status
	err := q.QueryRowContext(ctx, "SELECT status FROM approval_queue WHERE id = $1", id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: status is %s", ErrInvalidTransition, status)
}
