// Package novats is the top-level facade for the novats time-series engine.
package novats

import (
	"github.com/tuannm99/novats/internal/engine"
	"github.com/tuannm99/novats/internal/predicate"
	"github.com/tuannm99/novats/internal/record"
)

type (
	Database   = engine.Database
	Options    = engine.Options
	Result     = engine.Result
	FlushStats = engine.FlushStats
	TableStats = engine.TableStats

	Column     = record.Column
	ColumnType = record.ColumnType
	Value      = record.Value

	Expr = predicate.Expr
	Cmp  = predicate.Cmp
	And  = predicate.And
	Or   = predicate.Or
	Op   = predicate.Op
)

const (
	Eq = predicate.OpEq
	Ne = predicate.OpNe
	Lt = predicate.OpLt
	Le = predicate.OpLe
	Gt = predicate.OpGt
	Ge = predicate.OpGe
)

var (
	ErrDatabaseClosed   = engine.ErrDatabaseClosed
	ErrTableNotFound    = engine.ErrTableNotFound
	ErrTableExists      = engine.ErrTableExists
	ErrBadTableName     = engine.ErrBadTableName
	ErrFlushAbort       = engine.ErrFlushAbort
	ErrInvalidPredicate = engine.ErrInvalidPredicate
	ErrUnknownColumn    = engine.ErrUnknownColumn
	ErrTypeMismatch     = engine.ErrTypeMismatch
	ErrValueTooLong     = engine.ErrValueTooLong
	ErrCorruption       = engine.ErrCorruption
	ErrBadSchema        = engine.ErrBadSchema
)

// Open opens (or creates) a database under opts.Workdir.
func Open(opts Options) (*Database, error) { return engine.Open(opts) }

// ParseColumnType parses names such as "int unsigned" or "nchar(20)".
func ParseColumnType(s string) (ColumnType, int, error) { return record.ParseColumnType(s) }
