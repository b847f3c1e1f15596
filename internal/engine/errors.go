package engine

import (
	"errors"

	"github.com/tuannm99/novats/internal/predicate"
	"github.com/tuannm99/novats/internal/record"
)

var (
	ErrDatabaseClosed = errors.New("novats: database is closed")
	ErrTableNotFound  = errors.New("novats: table not found")
	ErrTableExists    = errors.New("novats: table already exists")
	ErrBadTableName   = errors.New("novats: bad table name")
	// ErrFlushAbort means a flush failed before its commit point. The table
	// is unchanged and the flush may be retried.
	ErrFlushAbort = errors.New("novats: flush aborted")
)

// Re-exported so callers can match errors without importing internal packages.
var (
	ErrInvalidPredicate = predicate.ErrInvalidPredicate
	ErrUnknownColumn    = predicate.ErrUnknownColumn
	ErrTypeMismatch     = record.ErrTypeMismatch
	ErrValueTooLong     = record.ErrValueTooLong
	ErrCorruption       = record.ErrCorruption
	ErrBadSchema        = record.ErrBadSchema
)
