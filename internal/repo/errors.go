package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

// Kind classifies store failures so callers never inspect driver errors.
type Kind string

const (
	KindNotFound    Kind = "not_found"
	KindConflict    Kind = "conflict"
	KindUnavailable Kind = "unavailable"
	KindInternal    Kind = "internal"
)

// PersistenceError is the only error type returned by this package.
type PersistenceError struct {
	Op   string
	Kind Kind
	// PGCode is the SQLSTATE when the failure came from PostgreSQL.
	PGCode string
	Err    error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("repo: %s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// IsNotFound reports whether err is a PersistenceError of KindNotFound.
func IsNotFound(err error) bool { return KindOf(err) == KindNotFound }

// KindOf returns the kind of a PersistenceError in err's chain, or "" if none.
func KindOf(err error) Kind {
	var pe *PersistenceError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ""
}

func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var already *PersistenceError
	if errors.As(err, &already) {
		return err
	}
	pe := &PersistenceError{Op: op, Kind: KindInternal, Err: err}
	var pgErr *pgconn.PgError
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		pe.Kind = KindNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		pe.Kind = KindConflict
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		pe.Kind = KindUnavailable
	case errors.As(err, &pgErr):
		pe.PGCode = pgErr.Code
		switch pgErr.Code {
		case "23505", "40001", "40P01":
			// unique_violation, serialization_failure, deadlock_detected
			pe.Kind = KindConflict
		case "57014", "57P01", "53300":
			// query_canceled, admin_shutdown, too_many_connections
			pe.Kind = KindUnavailable
		}
	case errors.Is(err, gorm.ErrInvalidDB), errors.Is(err, gorm.ErrInvalidTransaction):
		pe.Kind = KindUnavailable
	}
	return pe
}
