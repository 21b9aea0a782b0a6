package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/JaimeStill/steward/internal/audit"
	"github.com/JaimeStill/steward/pkg/pagination"
	"github.com/JaimeStill/steward/pkg/query"
	"github.com/JaimeStill/steward/pkg/repository"
)

type repo struct {
	db         *sql.DB
	audit      audit.Appender
	logger     *slog.Logger
	pagination pagination.Config
}

// New creates a user repository implementing the System interface.
func New(
	db *sql.DB,
	auditor audit.Appender,
	logger *slog.Logger,
	pagination pagination.Config,
) System {
	return &repo{
		db:         db,
		audit:      auditor,
		logger:     logger.With("system", "users"),
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
) (*pagination.PageResult[User], error) {
	page.Normalize(r.pagination)

	qb := query.
		NewBuilder(projection, defaultSort).
		WhereSearch(page.Search, "Username", "DisplayName")

	filters.Apply(qb)

	if len(page.Sort) > 0 {
		qb.OrderByFields(page.Sort)
	}

	countSQL, countArgs := qb.BuildCount()
	var total int
	if err := r.db.QueryRowContext(ctx, countSQL, countArgs...).Scan(&total); err != nil {
		return nil, fmt.Errorf("count users: %w", err)
	}

	pageSQL, pageArgs := qb.BuildPage(page.Page, page.PageSize)
	items, err := repository.QueryMany(ctx, r.db, pageSQL, pageArgs, scanUser)
	if err != nil {
		return nil, fmt.Errorf("query users: %w", err)
	}

	result := pagination.NewPageResult(items, total, page.Page, page.PageSize)
	return &result, nil
}

func (r *repo) FindByUsername(ctx context.Context, username string) (*User, error) {
	return r.find(ctx, r.db, username)
}

func (r *repo) find(ctx context.Context, q repository.Querier, username string) (*User, error) {
	stmt, args := query.NewBuilder(projection).BuildSingle("Username", username)

	u, err := repository.QueryOne(ctx, q, stmt, args, scanUser)
	if err != nil {
		return nil, repository.MapError(err, ErrNotFound, ErrDuplicate)
	}
	return &u, nil
}

func (r *repo) Create(ctx context.Context, cmd CreateCommand, actor string) (*User, error) {
	cmd.Username = strings.TrimSpace(cmd.Username)
	if cmd.Username == "" {
		return nil, fmt.Errorf("%w: username required", ErrInvalidUser)
	}
	if cmd.Role == "" {
		cmd.Role = RoleViewer
	}
	if !cmd.Role.Valid() {
		return nil, fmt.Errorf("%w: unknown role %q", ErrInvalidUser, cmd.Role)
	}

	stmt := `
		INSERT INTO users (username, display_name, role)
		VALUES ($1, $2, $3)
		RETURNING ` + returning

	u, err := repository.WithTx(ctx, r.db, func(tx *sql.Tx) (User, error) {
		u, err := repository.QueryOne(ctx, tx, stmt, []any{cmd.Username, cmd.DisplayName, string(cmd.Role)}, scanUser)
		if err != nil {
			return u, err
		}

		_, err = r.audit.Append(ctx, tx, audit.Entry{
			Type:      audit.UserCreated,
			SubjectID: u.ID.String(),
			Actor:     actor,
			Payload:   map[string]any{"username": u.Username, "role": u.Role},
		})
		return u, err
	})
	if err != nil {
		return nil, repository.MapError(err, ErrNotFound, ErrDuplicate)
	}

	r.logger.Info("user created", "username", u.Username, "role", u.Role)
	return &u, nil
}

func (r *repo) Update(ctx context.Context, username string, cmd UpdateCommand, actor string) (*User, error) {
	if cmd.Role != nil && !cmd.Role.Valid() {
		return nil, fmt.Errorf("%w: unknown role %q", ErrInvalidUser, *cmd.Role)
	}

	var role *string
	if cmd.Role != nil {
		s := string(*cmd.Role)
		role = &s
	}

	stmt := `
		UPDATE users
		SET role = COALESCE($2::user_role, role),
		    is_active = COALESCE($3, is_active)
		WHERE username = $1
		RETURNING ` + returning

	u, err := repository.WithTx(ctx, r.db, func(tx *sql.Tx) (User, error) {
		u, err := repository.QueryOne(ctx, tx, stmt, []any{username, role, cmd.IsActive}, scanUser)
		if err != nil {
			return u, err
		}

		_, err = r.audit.Append(ctx, tx, audit.Entry{
			Type:      audit.UserUpdated,
			SubjectID: u.ID.String(),
			Actor:     actor,
			Payload:   map[string]any{"username": u.Username, "role": u.Role, "is_active": u.IsActive},
		})
		return u, err
	})
	if err != nil {
		return nil, repository.MapError(err, ErrNotFound, ErrDuplicate)
	}

	r.logger.Info("user updated", "username", u.Username, "role", u.Role, "is_active", u.IsActive)
	return &u, nil
}

func (r *repo) RecordLogin(ctx context.Context, username string) (*User, error) {
	stmt := `
		UPDATE users SET last_login_at = NOW()
		WHERE username = $1 AND is_active
		RETURNING ` + returning

	u, err := repository.QueryOne(ctx, r.db, stmt, []any{username}, scanUser)
	if err != nil {
		return nil, repository.MapError(err, ErrNotFound, ErrDuplicate)
	}
	return &u, nil
}

// Authorize loads username through q and checks it is active and holds one of roles.
// Unknown and inactive users are unauthorized rather than not found.
func (r *repo) Authorize(ctx context.Context, q repository.Querier, username string, roles ...Role) (*User, error) {
	if username == "" {
		return nil, fmt.Errorf("%w: username required", ErrUnauthorized)
	}

	u, err := r.find(ctx, q, username)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("%w: %s is not a known user", ErrUnauthorized, username)
		}
		return nil, err
	}

	if !u.IsActive {
		return nil, fmt.Errorf("%w: %s is inactive", ErrUnauthorized, username)
	}
	if !slices.Contains(roles, u.Role) {
		return nil, fmt.Errorf("%w: %s has role %s", ErrUnauthorized, username, u.Role)
	}

	return u, nil
}
