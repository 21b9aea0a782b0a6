package repository

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

const (
	pgDuplicateKeyCode = "23505"
	pgCheckCode        = "23514"
	pgForeignKeyCode   = "23503"

	// PgImmutableCode is raised by the reject_mutation() trigger attached to
	// append-only tables.
	PgImmutableCode = "GV001"
)

var (
	// ErrImmutable indicates an UPDATE, DELETE or TRUNCATE was attempted against an
	// append-only table. It is always fatal to the attempted operation.
	ErrImmutable = errors.New("append-only record cannot be modified")
	// ErrConstraint indicates a CHECK or foreign key constraint rejected the write.
	ErrConstraint = errors.New("constraint violation")
)

// ImmutableError identifies the append-only table that rejected a mutation.
type ImmutableError struct {
	Table     string
	Operation string
}

func (e *ImmutableError) Error() string {
	return fmt.Sprintf("%s on %s rejected: %s", e.Operation, e.Table, ErrImmutable)
}

func (e *ImmutableError) Unwrap() error {
	return ErrImmutable
}

// MapError translates database errors to domain errors.
// It maps sql.ErrNoRows to notFoundErr and PostgreSQL unique violation (23505)
// to duplicateErr. Immutability trigger rejections become *ImmutableError and
// CHECK / foreign key violations wrap ErrConstraint. Other errors are returned unchanged.
func MapError(err error, notFoundErr, duplicateErr error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, sql.ErrNoRows) {
		return notFoundErr
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgDuplicateKeyCode:
			return duplicateErr
		case PgImmutableCode:
			return &ImmutableError{Table: pgErr.TableName, Operation: pgErr.Detail}
		case pgCheckCode, pgForeignKeyCode:
			return fmt.Errorf("%w: %s", ErrConstraint, pgErr.ConstraintName)
		}
	}

	return err
}

// IsImmutable reports whether err originated from an append-only table trigger.
func IsImmutable(err error) bool {
	if errors.Is(err, ErrImmutable) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == PgImmutableCode
}
