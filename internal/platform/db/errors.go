package db

import (
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/therapyconnect/api/internal/platform/apperr"
)

const (
	codeUniqueViolation    = "23505"
	codeExclusionViolation = "23P01"
)

// Violation is the user-facing message for a named constraint. An empty
// Field reports the message as a non-field error.
type Violation struct {
	Field   string
	Message string
}

// Translate maps driver errors onto the apperr taxonomy: pgx.ErrNoRows
// becomes NotFound(resource) and unique/exclusion violations become
// ValidationErrors, using known to word the message by constraint name.
// Anything else is returned unchanged.
func Translate(err error, resource string, known map[string]Violation) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return apperr.NotFound(resource)
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case codeUniqueViolation, codeExclusionViolation:
		if v, ok := known[pgErr.ConstraintName]; ok {
			if v.Field == "" {
				return apperr.Invalid(v.Message)
			}
			return apperr.InvalidField(v.Field, v.Message)
		}
		return apperr.Invalid("This " + resource + " conflicts with an existing record.")
	}
	return err
}
