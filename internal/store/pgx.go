package store

import (
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"
	"gitlab.com/tozd/go/errors"
)

// ErrorDetails flattens a PostgreSQL error (or notice, which shares the
// same wire shape) into structured log fields, skipping empty ones.
func ErrorDetails(e *pgconn.PgError) map[string]interface{} {
	details := map[string]interface{}{}
	strFields := map[string]string{
		"severity":       e.Severity,
		"code":           e.Code,
		"details":        e.Detail,
		"hint":           e.Hint,
		"internalQuery":  e.InternalQuery,
		"where":          e.Where,
		"schemaName":     e.SchemaName,
		"tableName":      e.TableName,
		"columnName":     e.ColumnName,
		"dataTypeName":   e.DataTypeName,
		"constraintName": e.ConstraintName,
		"file":           e.File,
		"routine":        e.Routine,
		// The message field keeps zerolog's message key so a logged
		// notice's message becomes the log line's message.
		zerolog.MessageFieldName: e.Message,
	}
	for key, value := range strFields {
		if value != "" {
			details[key] = value
		}
	}
	intFields := map[string]int32{
		"position":         e.Position,
		"internalPosition": e.InternalPosition,
		"line":             e.Line,
	}
	for key, value := range intFields {
		if value != 0 {
			details[key] = value
		}
	}
	return details
}

// WithPgxError wraps err with a stack trace and, when it carries a
// PostgreSQL error, attaches its details to the wrapped error so they
// surface in logs alongside the message.
func WithPgxError(err error) errors.E {
	errE := errors.WithStack(err)
	var e *pgconn.PgError
	if errors.As(err, &e) {
		details := errors.Details(errE)
		for key, value := range ErrorDetails(e) {
			details[key] = value
		}
	}
	return errE
}
