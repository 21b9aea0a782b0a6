package signals

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
	"github.com/JaimeStill/steward/internal/exceptions"
	"github.com/JaimeStill/steward/internal/fingerprint"
	"github.com/JaimeStill/steward/internal/metrics"
	"github.com/JaimeStill/steward/pkg/canonical"
	"github.com/JaimeStill/steward/pkg/pagination"
	"github.com/JaimeStill/steward/pkg/query"
	"github.com/JaimeStill/steward/pkg/repository"
)

type repo struct {
	db         *sql.DB
	engine     *fingerprint.Engine
	dedup      Deduplicator
	audit      audit.Appender
	metrics    *metrics.Metrics
	logger     *slog.Logger
	pagination pagination.Config
}

// New creates a signal repository implementing the System interface.
func New(
	db *sql.DB,
	engine *fingerprint.Engine,
	dedup Deduplicator,
	auditor audit.Appender,
	m *metrics.Metrics,
	logger *slog.Logger,
	pagination pagination.Config,
) System {
	return &repo{
		db:         db,
		engine:     engine,
		dedup:      dedup,
		audit:      auditor,
		metrics:    m,
		logger:     logger.With("system", "signals"),
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
) (*pagination.PageResult[Signal], error) {
	page.Normalize(r.pagination)

	qb := query.
		NewBuilder(projection, defaultSort).
		WhereSearch(page.Search, "SignalType", "Source")

	filters.Apply(qb)

	if len(page.Sort) > 0 {
		qb.OrderByFields(page.Sort)
	}

	countSQL, countArgs := qb.BuildCount()
	var total int
	if err := r.db.QueryRowContext(ctx, countSQL, countArgs...).Scan(&total); err != nil {
		return nil, fmt.Errorf("count signals: %w", err)
	}

	pageSQL, pageArgs := qb.BuildPage(page.Page, page.PageSize)
	items, err := repository.QueryMany(ctx, r.db, pageSQL, pageArgs, scanSignal)
	if err != nil {
		return nil, fmt.Errorf("query signals: %w", err)
	}

	result := pagination.NewPageResult(items, total, page.Page, page.PageSize)
	return &result, nil
}

func (r *repo) Find(ctx context.Context, id uuid.UUID) (*Signal, error) {
	q, args := query.NewBuilder(projection).BuildSingle("ID", id)

	s, err := repository.QueryOne(ctx, r.db, q, args, scanSignal)
	if err != nil {
		return nil, repository.MapError(err, ErrNotFound, ErrDuplicate)
	}
	return &s, nil
}

func (r *repo) Ingest(ctx context.Context, cmd IngestCommand, actor string) (*IngestResult, error) {
	return repository.WithTx(ctx, r.db, func(tx *sql.Tx) (*IngestResult, error) {
		return r.IngestTx(ctx, tx, cmd, actor)
	})
}

func (r *repo) IngestTx(ctx context.Context, q repository.Querier, cmd IngestCommand, actor string) (*IngestResult, error) {
	reliability, observed, err := validate(&cmd)
	if err != nil {
		return nil, err
	}
	if actor == "" {
		actor = cmd.Source
	}

	hash, err := ContentHash(cmd.SignalType, cmd.Source, cmd.Payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSignal, err)
	}

	payload, err := canonical.Marshal(cmd.Payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSignal, err)
	}

	stmt := `
		INSERT INTO signals (signal_type, source, payload, content_hash, reliability, observed_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (content_hash) DO NOTHING
		RETURNING ` + returning

	args := []any{cmd.SignalType, cmd.Source, string(payload), hash, reliability, observed}

	sig, err := repository.QueryOne(ctx, q, stmt, args, scanSignal)
	if errors.Is(err, sql.ErrNoRows) {
		return r.existing(ctx, q, hash)
	}
	if err != nil {
		return nil, fmt.Errorf("insert signal: %w", repository.MapError(err, ErrNotFound, ErrDuplicate))
	}

	key, err := r.engine.Fingerprint(cmd.SignalType, cmd.Payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSignal, err)
	}

	dedup, err := r.dedup.Deduplicate(ctx, q, exceptions.DeduplicateCommand{
		SignalID:   sig.ID,
		Payload:    cmd.Payload,
		ObservedAt: sig.ObservedAt,
		Key:        key,
		Actor:      actor,
	})
	if err != nil {
		return nil, err
	}

	_, err = r.audit.Append(ctx, q, audit.Entry{
		Type:      audit.SignalIngested,
		SubjectID: sig.ID.String(),
		Actor:     actor,
		Payload: map[string]any{
			"signal_type":  sig.SignalType,
			"source":       sig.Source,
			"content_hash": hash,
			"exception_id": dedup.Exception.ID,
			"fingerprint":  key.Value,
		},
	})
	if err != nil {
		return nil, err
	}

	r.metrics.SignalIngested(true)
	r.logger.Info(
		"signal ingested",
		"id", sig.ID,
		"signal_type", sig.SignalType,
		"exception_id", dedup.Exception.ID,
		"exception_created", dedup.Created,
	)

	return &IngestResult{
		Signal:           &sig,
		Created:          true,
		Exception:        dedup.Exception,
		ExceptionCreated: dedup.Created,
	}, nil
}

// existing returns the stored signal for a content hash that lost the insert
// race or was submitted before. No dedup or audit side effects occur.
func (r *repo) existing(ctx context.Context, q repository.Querier, hash string) (*IngestResult, error) {
	stmt, args := query.NewBuilder(projection).BuildSingle("ContentHash", hash)

	sig, err := repository.QueryOne(ctx, q, stmt, args, scanSignal)
	if err != nil {
		return nil, fmt.Errorf("load existing signal: %w", repository.MapError(err, ErrNotFound, ErrDuplicate))
	}

	result := &IngestResult{Signal: &sig}

	var exceptionID uuid.UUID
	err = q.QueryRowContext(ctx, "SELECT exception_id FROM exception_signals WHERE signal_id = $1", sig.ID).Scan(&exceptionID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return nil, fmt.Errorf("load signal link: %w", err)
	default:
		e, err := r.dedup.Find(ctx, exceptionID)
		if err != nil {
			return nil, err
		}
		result.Exception = e
	}

	r.metrics.SignalIngested(false)
	r.logger.Debug("duplicate signal coalesced", "id", sig.ID, "content_hash", hash)
	return result, nil
}

func validate(cmd *IngestCommand) (float64, time.Time, error) {
	cmd.SignalType = strings.TrimSpace(cmd.SignalType)
	cmd.Source = strings.TrimSpace(cmd.Source)

	if cmd.SignalType == "" {
		return 0, time.Time{}, fmt.Errorf("%w: signal_type required", ErrInvalidSignal)
	}
	if cmd.Source == "" {
		return 0, time.Time{}, fmt.Errorf("%w: source required", ErrInvalidSignal)
	}
	if cmd.Payload == nil {
		return 0, time.Time{}, fmt.Errorf("%w: payload required", ErrInvalidSignal)
	}

	reliability := 1.0
	if cmd.Reliability != nil {
		reliability = *cmd.Reliability
	}
	if reliability < 0 || reliability > 1 {
		return 0, time.Time{}, fmt.Errorf("%w: reliability %v outside [0, 1]", ErrInvalidSignal, reliability)
	}

	observed := time.Now().UTC()
	if cmd.ObservedAt != nil {
		observed = *cmd.ObservedAt
	}

	return reliability, observed, nil
}
