// Package repository provides data access layer implementations.
package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Storage error taxonomy. Every error returned by a repository wraps at most
// one of these sentinels together with the underlying cause.
var (
	// ErrNotFound means the operation referenced an entity that does not exist
	// or is not in the state the operation requires.
	ErrNotFound = errors.New("not found")
	// ErrConflict means the write would violate an invariant.
	ErrConflict = errors.New("conflict")
	// ErrTransient means the failure is an I/O or concurrency hiccup and the
	// operation is safe to retry if it is idempotent.
	ErrTransient = errors.New("transient storage failure")
)

// SQLSTATE codes the repositories react to.
const (
	codeUniqueViolation      = "23505"
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeCannotConnectNow     = "57P03"
	codeAdminShutdown        = "57P01"
)

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}

// classify wraps err with the matching sentinel. op names the failed operation.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == codeUniqueViolation:
			return fmt.Errorf("%s: %w: %s", op, ErrConflict, pgErr.ConstraintName)
		case pgErr.Code == codeSerializationFailure,
			pgErr.Code == codeDeadlockDetected,
			pgErr.Code == codeCannotConnectNow,
			pgErr.Code == codeAdminShutdown,
			len(pgErr.Code) == 5 && pgErr.Code[:2] == "08":
			return fmt.Errorf("%s: %w: %w", op, ErrTransient, err)
		}
		return fmt.Errorf("%s: %w", op, err)
	}

	if pgconn.SafeToRetry(err) || pgconn.Timeout(err) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w: %w", op, ErrTransient, err)
	}

	return fmt.Errorf("%s: %w", op, err)
}
