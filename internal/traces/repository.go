package traces

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/JaimeStill/steward/internal/audit"
	"github.com/JaimeStill/steward/internal/metrics"
	"github.com/JaimeStill/steward/pkg/canonical"
	"github.com/JaimeStill/steward/pkg/pagination"
	"github.com/JaimeStill/steward/pkg/query"
	"github.com/JaimeStill/steward/pkg/repository"
)

type repo struct {
	db         *sql.DB
	audit      audit.Appender
	metrics    *metrics.Metrics
	logger     *slog.Logger
	pagination pagination.Config
}

// New creates a trace repository implementing the System interface.
func New(
	db *sql.DB,
	auditor audit.Appender,
	m *metrics.Metrics,
	logger *slog.Logger,
	pagination pagination.Config,
) System {
	return &repo{
		db:         db,
		audit:      auditor,
		metrics:    m,
		logger:     logger.With("system", "traces"),
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
) (*pagination.PageResult[Trace], error) {
	page.Normalize(r.pagination)

	qb := query.
		NewBuilder(projection, defaultSort).
		WhereSearch(page.Search, "SessionID", "InputSummary")

	filters.Apply(qb)

	if len(page.Sort) > 0 {
		qb.OrderByFields(page.Sort)
	}

	countSQL, countArgs := qb.BuildCount()
	var total int
	if err := r.db.QueryRowContext(ctx, countSQL, countArgs...).Scan(&total); err != nil {
		return nil, fmt.Errorf("count agent traces: %w", err)
	}

	pageSQL, pageArgs := qb.BuildPage(page.Page, page.PageSize)
	items, err := repository.QueryMany(ctx, r.db, pageSQL, pageArgs, scanTrace)
	if err != nil {
		return nil, fmt.Errorf("query agent traces: %w", err)
	}

	result := pagination.NewPageResult(items, total, page.Page, page.PageSize)
	return &result, nil
}

func (r *repo) Find(ctx context.Context, id uuid.UUID) (*Detail, error) {
	q, args := query.NewBuilder(projection).BuildSingle("ID", id)

	t, err := repository.QueryOne(ctx, r.db, q, args, scanTrace)
	if err != nil {
		return nil, repository.MapError(err, ErrNotFound, ErrDuplicate)
	}

	stmt := `
		SELECT id, action_type, status, summary, result_id, proposed_at
		FROM approval_queue
		WHERE trace_id = $1
		ORDER BY proposed_at`

	proposals, err := repository.QueryMany(ctx, r.db, stmt, []any{id}, scanProposal)
	if err != nil {
		return nil, fmt.Errorf("query trace proposals: %w", err)
	}

	return &Detail{Trace: &t, Proposals: proposals}, nil
}

func (r *repo) Start(ctx context.Context, cmd StartCommand) (*Trace, error) {
	cmd.SessionID = strings.TrimSpace(cmd.SessionID)
	if !cmd.AgentType.Valid() {
		return nil, fmt.Errorf("%w: unknown agent_type %q", ErrInvalidTrace, cmd.AgentType)
	}
	if cmd.SessionID == "" {
		return nil, fmt.Errorf("%w: session_id required", ErrInvalidTrace)
	}

	return repository.WithTx(ctx, r.db, func(tx *sql.Tx) (*Trace, error) {
		stmt := `
			INSERT INTO agent_traces (agent_type, session_id, input_summary)
			VALUES ($1, $2, $3)
			RETURNING ` + returning

		t, err := repository.QueryOne(ctx, tx, stmt, []any{string(cmd.AgentType), cmd.SessionID, cmd.InputSummary}, scanTrace)
		if err != nil {
			return nil, repository.MapError(err, ErrNotFound, ErrDuplicate)
		}

		_, err = r.audit.Append(ctx, tx, audit.Entry{
			Type:      audit.AgentStarted,
			SubjectID: t.ID.String(),
			Actor:     Actor(t.AgentType),
			Payload:   map[string]any{"session_id": t.SessionID},
		})
		if err != nil {
			return nil, err
		}

		r.metrics.AgentTrace(string(t.AgentType), string(StatusRunning))
		r.logger.Info("agent trace started", "id", t.ID, "agent_type", t.AgentType, "session_id", t.SessionID)
		return &t, nil
	})
}

func (r *repo) RecordToolCall(ctx context.Context, id uuid.UUID, cmd ToolCallCommand) (*Trace, error) {
	cmd.Name = strings.TrimSpace(cmd.Name)
	if cmd.Name == "" {
		return nil, fmt.Errorf("%w: tool name required", ErrInvalidTrace)
	}
	if cmd.DurationMS < 0 {
		return nil, fmt.Errorf("%w: duration_ms must not be negative", ErrInvalidTrace)
	}

	call := ToolCall{
		Name:       cmd.Name,
		Output:     cmd.Output,
		Error:      cmd.Error,
		DurationMS: cmd.DurationMS,
		CalledAt:   time.Now().UTC(),
	}
	if cmd.Input != nil {
		input, err := canonical.Marshal(cmd.Input)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidTrace, err)
		}
		call.Input = input
	}

	body, err := canonical.Marshal(call)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidTrace, err)
	}

	return repository.WithTx(ctx, r.db, func(tx *sql.Tx) (*Trace, error) {
		stmt := `
			UPDATE agent_traces
			SET tool_calls = tool_calls || jsonb_build_array($2::jsonb)
			WHERE id = $1 AND status = 'running'
			RETURNING ` + returning

		t, err := repository.QueryOne(ctx, tx, stmt, []any{id, string(body)}, scanTrace)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, r.transitionError(ctx, tx, id)
			}
			return nil, repository.MapError(err, ErrNotFound, ErrDuplicate)
		}

		_, err = r.audit.Append(ctx, tx, audit.Entry{
			Type:      audit.AgentToolCalled,
			SubjectID: t.ID.String(),
			Actor:     Actor(t.AgentType),
			Payload:   map[string]any{"tool": call.Name, "duration_ms": call.DurationMS, "failed": call.Error != ""},
		})
		if err != nil {
			return nil, err
		}

		r.logger.Debug("agent tool call recorded", "id", t.ID, "tool", call.Name)
		return &t, nil
	})
}

func (r *repo) Complete(ctx context.Context, id uuid.UUID, outputSummary string) (*Trace, error) {
	return r.seal(ctx, id, StatusCompleted, &outputSummary, nil)
}

func (r *repo) Fail(ctx context.Context, id uuid.UUID, message string) (*Trace, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return nil, fmt.Errorf("%w: error message required", ErrInvalidTrace)
	}
	return r.seal(ctx, id, StatusFailed, nil, &message)
}

// seal moves a running trace to its terminal status. The status predicate
// makes concurrent seals race to exactly one winner.
func (r *repo) seal(
	ctx context.Context,
	id uuid.UUID,
	status Status,
	output, message *string,
) (*Trace, error) {
	return repository.WithTx(ctx, r.db, func(tx *sql.Tx) (*Trace, error) {
		stmt := `
			UPDATE agent_traces
			SET status = $2,
				output_summary = COALESCE($3, output_summary),
				error_message = $4,
				completed_at = clock_timestamp(),
				duration_ms = (EXTRACT(EPOCH FROM (clock_timestamp() - started_at)) * 1000)::bigint
			WHERE id = $1 AND status = 'running'
			RETURNING ` + returning

		t, err := repository.QueryOne(ctx, tx, stmt, []any{id, string(status), output, message}, scanTrace)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, r.transitionError(ctx, tx, id)
			}
			return nil, repository.MapError(err, ErrNotFound, ErrDuplicate)
		}

		eventType := audit.AgentCompleted
		payload := map[string]any{"duration_ms": t.DurationMS, "tool_calls": len(t.ToolCalls)}
		if status == StatusFailed {
			eventType = audit.AgentFailed
			payload["error"] = *message
		}

		_, err = r.audit.Append(ctx, tx, audit.Entry{
			Type:      eventType,
			SubjectID: t.ID.String(),
			Actor:     Actor(t.AgentType),
			Payload:   payload,
		})
		if err != nil {
			return nil, err
		}

		r.metrics.AgentTrace(string(t.AgentType), string(t.Status))
		r.logger.Info("agent trace sealed", "id", t.ID, "status", t.Status, "duration_ms", t.DurationMS)
		return &t, nil
	})
}

// transitionError distinguishes a missing trace from one already sealed.
func (r *repo) transitionError(ctx context.Context, q repository.Querier, id uuid.UUID) error {
	var status Status
	err := q.QueryRowContext(ctx, "SELECT status FROM agent_traces WHERE id = $1", id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: status is %s", ErrInvalidTransition, status)
}
