package store

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"
	"gorm.io/gorm"
)

var (
	// ErrNotFound is returned when an update or delete matches no row.
	ErrNotFound = errors.New("record not found")
	// ErrDuplicate wraps unique constraint violations (username, email, session token).
	ErrDuplicate = errors.New("duplicate value violates unique constraint")
	// ErrForeignKey wraps foreign key violations.
	ErrForeignKey = errors.New("referenced record does not exist")
	// ErrConstraint wraps CHECK and NOT NULL violations (role, input type, rating).
	ErrConstraint = errors.New("value violates check constraint")
)

// translateError maps driver-level constraint failures onto the store's
// sentinel errors while keeping the driver error in the chain.
func translateError(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return fmt.Errorf("%w: %w", ErrDuplicate, err)
	case errors.Is(err, gorm.ErrForeignKeyViolated):
		return fmt.Errorf("%w: %w", ErrForeignKey, err)
	case errors.Is(err, gorm.ErrCheckConstraintViolated):
		return fmt.Errorf("%w: %w", ErrConstraint, err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return fmt.Errorf("%w: %w", ErrDuplicate, err)
		case "23503":
			return fmt.Errorf("%w: %w", ErrForeignKey, err)
		case "23514", "23502":
			return fmt.Errorf("%w: %w", ErrConstraint, err)
		}
		return err
	}

	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) && liteErr.Code == sqlite3.ErrConstraint {
		switch liteErr.ExtendedCode {
		case sqlite3.ErrConstraintUnique, sqlite3.ErrConstraintPrimaryKey:
			return fmt.Errorf("%w: %w", ErrDuplicate, err)
		case sqlite3.ErrConstraintForeignKey:
			return fmt.Errorf("%w: %w", ErrForeignKey, err)
		default:
			return fmt.Errorf("%w: %w", ErrConstraint, err)
		}
	}
	return err
}
