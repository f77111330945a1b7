package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/mattn/go-sqlite3"

	"github.com/fr4iser90/dashsync/internal/dashboard"
)

var (
	// ErrNotFound is returned when the addressed row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicate is returned when a UNIQUE constraint rejects a write.
	ErrDuplicate = errors.New("duplicate")

	// ErrInUse is returned when a row is still referenced by another table.
	ErrInUse = errors.New("still referenced")
)

// classify maps driver errors onto the store's sentinel errors and the
// dashboard error taxonomy. Missing tables and unreadable database files are
// reported as INFRASTRUCTURE so operators look for a missing migration
// instead of a code defect.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}

	var se sqlite3.Error
	if errors.As(err, &se) {
		switch se.ExtendedCode {
		case sqlite3.ErrConstraintUnique, sqlite3.ErrConstraintPrimaryKey:
			return fmt.Errorf("%s: %w: %v", op, ErrDuplicate, err)
		case sqlite3.ErrConstraintForeignKey:
			return fmt.Errorf("%s: %w: %v", op, ErrInUse, err)
		}
		switch se.Code & 0xff {
		case sqlite3.ErrCantOpen, sqlite3.ErrNotADB, sqlite3.ErrCorrupt, sqlite3.ErrIoErr, sqlite3.ErrReadonly:
			return dashboard.NewInfrastructureError(op, "database unavailable", err)
		case sqlite3.ErrError:
			if strings.Contains(se.Error(), "no such table") || strings.Contains(se.Error(), "no such column") {
				return dashboard.NewInfrastructureError(op, "schema missing (run migrations)", err)
			}
		}
	}

	if strings.Contains(err.Error(), "database is closed") {
		return dashboard.NewInfrastructureError(op, "database closed", err)
	}

	return fmt.Errorf("%s: %w", op, err)
}
