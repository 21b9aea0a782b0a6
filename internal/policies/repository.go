package policies

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/JaimeStill/steward/internal/audit"
	"github.com/JaimeStill/steward/pkg/canonical"
	"github.com/JaimeStill/steward/pkg/query"
	"github.com/JaimeStill/steward/pkg/repository"
)

type repo struct {
	db     *sql.DB
	audit  audit.Appender
	logger *slog.Logger
}

// New creates a policy repository implementing the System interface.
func New(db *sql.DB, auditor audit.Appender, logger *slog.Logger) System {
	return &repo{
		db:     db,
		audit:  auditor,
		logger: logger.With("system", "policies"),
	}
}

func (r *repo) Handler() *Handler {
	return NewHandler(r, r.logger)
}

func (r *repo) List(ctx context.Context, filters Filters, includeVersions bool) ([]Policy, error) {
	qb := query.NewBuilder(projection, defaultSort)
	filters.Apply(qb)

	stmt, args := qb.Build()
	items, err := repository.QueryMany(ctx, r.db, stmt, args, scanPolicy)
	if err != nil {
		return nil, fmt.Errorf("query policies: %w", err)
	}

	if !includeVersions || len(items) == 0 {
		return items, nil
	}

	vstmt, vargs := query.NewBuilder(versionProjection, versionSort...).Build()
	versions, err := repository.QueryMany(ctx, r.db, vstmt, vargs, scanVersion)
	if err != nil {
		return nil, fmt.Errorf("query policy versions: %w", err)
	}

	index := make(map[uuid.UUID]int, len(items))
	for i, p := range items {
		index[p.ID] = i
	}
	for _, v := range versions {
		if i, ok := index[v.PolicyID]; ok {
			items[i].Versions = append(items[i].Versions, v)
		}
	}

	return items, nil
}

func (r *repo) Find(ctx context.Context, id uuid.UUID) (*Policy, error) {
	stmt, args := query.NewBuilder(projection).BuildSingle("ID", id)

	p, err := repository.QueryOne(ctx, r.db, stmt, args, scanPolicy)
	if err != nil {
		return nil, repository.MapError(err, ErrNotFound, ErrDuplicate)
	}

	vstmt, vargs := query.
		NewBuilder(versionProjection, versionSort...).
		WhereEquals("PolicyID", id).
		Build()

	p.Versions, err = repository.QueryMany(ctx, r.db, vstmt, vargs, scanVersion)
	if err != nil {
		return nil, fmt.Errorf("query policy versions: %w", err)
	}

	return &p, nil
}

func (r *repo) FindVersion(ctx context.Context, id uuid.UUID) (*Version, error) {
	stmt, args := query.NewBuilder(versionProjection).BuildSingle("ID", id)

	v, err := repository.QueryOne(ctx, r.db, stmt, args, scanVersion)
	if err != nil {
		return nil, repository.MapError(err, ErrVersionNotFound, ErrDuplicate)
	}
	return &v, nil
}

func (r *repo) ActiveVersion(ctx context.Context, policyID uuid.UUID) (*Version, error) {
	active := string(VersionActive)
	stmt, args := query.
		NewBuilder(versionProjection).
		WhereEquals("PolicyID", policyID).
		WhereEquals("Status", active).
		BuildSingleOrNull()

	v, err := repository.QueryOne(ctx, r.db, stmt, args, scanVersion)
	if err != nil {
		return nil, repository.MapError(err, ErrNoActiveVersion, ErrDuplicate)
	}
	return &v, nil
}

func (r *repo) Create(ctx context.Context, cmd CreateCommand) (*Policy, error) {
	cmd.Name = strings.TrimSpace(cmd.Name)
	if cmd.Name == "" || cmd.Pack == "" || cmd.CreatedBy == "" {
		return nil, fmt.Errorf("%w: name, pack and created_by required", ErrInvalidPolicy)
	}
	if cmd.SignalTypes == nil {
		cmd.SignalTypes = []string{}
	}
	if cmd.Rule != nil {
		if err := cmd.Rule.Validate(); err != nil {
			return nil, err
		}
	}

	types, err := canonical.Marshal(cmd.SignalTypes)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPolicy, err)
	}

	stmt := `
		INSERT INTO policies (name, pack, signal_types, description, created_by)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING ` + returning

	args := []any{cmd.Name, cmd.Pack, string(types), cmd.Description, cmd.CreatedBy}

	p, err := repository.WithTx(ctx, r.db, func(tx *sql.Tx) (Policy, error) {
		p, err := repository.QueryOne(ctx, tx, stmt, args, scanPolicy)
		if err != nil {
			return p, err
		}

		_, err = r.audit.Append(ctx, tx, audit.Entry{
			Type:      audit.PolicyCreated,
			SubjectID: p.ID.String(),
			Actor:     cmd.CreatedBy,
			Payload:   map[string]any{"name": p.Name, "pack": p.Pack, "signal_types": p.SignalTypes},
		})
		if err != nil {
			return p, err
		}

		if cmd.Rule != nil {
			v, err := r.CreateVersionTx(ctx, tx, VersionCommand{
				PolicyID:  p.ID,
				Rule:      *cmd.Rule,
				CreatedBy: cmd.CreatedBy,
			})
			if err != nil {
				return p, err
			}
			p.Versions = []Version{*v}
		}

		return p, nil
	})
	if err != nil {
		return nil, repository.MapError(err, ErrNotFound, ErrDuplicate)
	}

	r.logger.Info("policy created", "id", p.ID, "name", p.Name, "pack", p.Pack)
	return &p, nil
}

func (r *repo) CreateVersion(ctx context.Context, cmd VersionCommand) (*Version, error) {
	return repository.WithTx(ctx, r.db, func(tx *sql.Tx) (*Version, error) {
		return r.CreateVersionTx(ctx, tx, cmd)
	})
}

// CreateVersionTx locks the policy row so concurrent drafts number sequentially.
func (r *repo) CreateVersionTx(ctx context.Context, q repository.Querier, cmd VersionCommand) (*Version, error) {
	if cmd.CreatedBy == "" {
		return nil, fmt.Errorf("%w: created_by required", ErrInvalidPolicy)
	}
	if err := cmd.Rule.Validate(); err != nil {
		return nil, err
	}

	rule, err := canonical.Marshal(cmd.Rule)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRule, err)
	}

	var locked uuid.UUID
	err = q.QueryRowContext(ctx, "SELECT id FROM policies WHERE id = $1 FOR UPDATE", cmd.PolicyID).Scan(&locked)
	if err != nil {
		return nil, repository.MapError(err, ErrNotFound, ErrDuplicate)
	}

	stmt := `
		INSERT INTO policy_versions (policy_id, version, rule, notes, created_by)
		SELECT $1, COALESCE(MAX(version), 0) + 1, $2, $3, $4
		FROM policy_versions WHERE policy_id = $1
		RETURNING ` + versionReturning

	v, err := repository.QueryOne(ctx, q, stmt, []any{cmd.PolicyID, string(rule), cmd.Notes, cmd.CreatedBy}, scanVersion)
	if err != nil {
		return nil, repository.MapError(err, ErrNotFound, ErrDuplicate)
	}

	_, err = r.audit.Append(ctx, q, audit.Entry{
		Type:      audit.PolicyVersionCreated,
		SubjectID: v.ID.String(),
		Actor:     cmd.CreatedBy,
		Payload:   map[string]any{"policy_id": v.PolicyID, "version": v.Version},
	})
	if err != nil {
		return nil, err
	}

	r.logger.Info("policy version drafted", "policy_id", v.PolicyID, "version", v.Version)
	return &v, nil
}

// Activate retires the policy's current active version and activates the target.
// Activating the already active version returns it unchanged.
func (r *repo) Activate(ctx context.Context, versionID uuid.UUID, actor string) (*Version, error) {
	if actor == "" {
		return nil, fmt.Errorf("%w: actor required", ErrInvalidPolicy)
	}

	v, err := repository.WithTx(ctx, r.db, func(tx *sql.Tx) (Version, error) {
		var (
			policyID uuid.UUID
			status   VersionStatus
		)
		err := tx.QueryRowContext(ctx,
			"SELECT policy_id, status FROM policy_versions WHERE id = $1",
			versionID,
		).Scan(&policyID, &status)
		if err != nil {
			return Version{}, err
		}

		if _, err := tx.ExecContext(ctx, "SELECT id FROM policies WHERE id = $1 FOR UPDATE", policyID); err != nil {
			return Version{}, err
		}

		retire := `
			UPDATE policy_versions SET status = 'retired'
			WHERE policy_id = $1 AND status = 'active' AND id <> $2`
		if _, err := tx.ExecContext(ctx, retire, policyID, versionID); err != nil {
			return Version{}, err
		}

		activate := `
			UPDATE policy_versions
			SET status = 'active', activated_at = COALESCE(CASE WHEN status = 'active' THEN activated_at END, NOW())
			WHERE id = $1
			RETURNING ` + versionReturning

		v, err := repository.QueryOne(ctx, tx, activate, []any{versionID}, scanVersion)
		if err != nil {
			return v, err
		}

		if status == VersionActive {
			return v, nil
		}

		_, err = r.audit.Append(ctx, tx, audit.Entry{
			Type:      audit.PolicyVersionActivated,
			SubjectID: v.ID.String(),
			Actor:     actor,
			Payload:   map[string]any{"policy_id": v.PolicyID, "version": v.Version},
		})
		return v, err
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrVersionNotFound
		}
		return nil, repository.MapError(err, ErrVersionNotFound, ErrDuplicate)
	}

	r.logger.Info("policy version activated", "policy_id", v.PolicyID, "version", v.Version, "actor", actor)
	return &v, nil
}
