package ntswire

import (
	"errors"
	"fmt"
	"strings"

	"github.com/tuannm99/novats/internal/engine"
	"github.com/tuannm99/novats/internal/predicate"
	"github.com/tuannm99/novats/internal/record"
)

// Op names a request.
type Op string

const (
	OpCreate     Op = "create"
	OpDrop       Op = "drop"
	OpTables     Op = "tables"
	OpInsert     Op = "insert"
	OpDelete     Op = "delete"
	OpFlush      Op = "flush"
	OpFlushAll   Op = "flush_all"
	OpCompact    Op = "compact"
	OpResetCache Op = "reset_cache"
	OpQuery      Op = "query"
)

type Request struct {
	ID    uint64 `json:"id"`
	Op    Op     `json:"op"`
	Table string `json:"table,omitempty"`

	// create
	Columns []ColumnDef `json:"columns,omitempty"`
	// insert; values follow the non-timestamp columns
	Ts     any   `json:"ts,omitempty"`
	Values []any `json:"values,omitempty"`
	// query
	Select []string `json:"select,omitempty"`
	// delete and query
	Where *Expr `json:"where,omitempty"`
}

type Response struct {
	ID    uint64 `json:"id"`
	Error string `json:"error,omitempty"`
	Code  string `json:"code,omitempty"`

	Affected int         `json:"affected,omitempty"`
	Tables   []string    `json:"tables,omitempty"`
	Columns  []ColumnDef `json:"columns,omitempty"`
	Rows     [][]any     `json:"rows,omitempty"`
	Flush    *FlushInfo  `json:"flush,omitempty"`
}

type FlushInfo struct {
	Noop        bool   `json:"noop"`
	Compacted   bool   `json:"compacted"`
	FlushedSeq  uint64 `json:"flushed_seq"`
	RowsWritten int    `json:"rows_written"`
	RowsDropped int    `json:"rows_dropped"`
	Segments    int    `json:"segments"`
}

// ColumnDef is a column in wire form, e.g. {"name":"c8","type":"binary(20)"}.
type ColumnDef struct {
	Name    string `json:"name"`
	Type    string `json:"type"`
	NotNull bool   `json:"not_null,omitempty"`
}

func (d ColumnDef) Column() (record.Column, error) {
	t, n, err := record.ParseColumnType(d.Type)
	if err != nil {
		return record.Column{}, fmt.Errorf("column %q: %w", d.Name, err)
	}
	return record.Column{Name: d.Name, Type: t, Length: n, Nullable: !d.NotNull && t != record.ColTimestamp}, nil
}

func ColumnDefOf(c record.Column) ColumnDef {
	typ := c.Type.String()
	if c.Type.IsVarLen() {
		typ = fmt.Sprintf("%s(%d)", typ, c.Length)
	}
	return ColumnDef{Name: c.Name, Type: typ, NotNull: !c.Nullable && c.Type != record.ColTimestamp}
}

// Expr is a filter expression tree. Leaves set Column, Op and Value; inner
// nodes set Op to "and" or "or" plus Left and Right.
type Expr struct {
	Op     string `json:"op"`
	Column string `json:"column,omitempty"`
	Value  any    `json:"value,omitempty"`
	Left   *Expr  `json:"left,omitempty"`
	Right  *Expr  `json:"right,omitempty"`
}

var ErrBadExpr = errors.New("ntswire: bad expression")

// Predicate converts e; a nil Expr is a nil predicate.
func (e *Expr) Predicate() (predicate.Expr, error) {
	if e == nil {
		return nil, nil
	}
	switch strings.ToLower(e.Op) {
	case "and", "or":
		if e.Left == nil || e.Right == nil {
			return nil, fmt.Errorf("%w: %s needs two operands", ErrBadExpr, e.Op)
		}
		l, err := e.Left.Predicate()
		if err != nil {
			return nil, err
		}
		r, err := e.Right.Predicate()
		if err != nil {
			return nil, err
		}
		if strings.EqualFold(e.Op, "and") {
			return &predicate.And{Left: l, Right: r}, nil
		}
		return &predicate.Or{Left: l, Right: r}, nil
	}
	op, err := predicate.ParseOp(e.Op)
	if err != nil {
		return nil, err
	}
	if e.Column == "" {
		return nil, fmt.Errorf("%w: %s without a column", ErrBadExpr, e.Op)
	}
	return &predicate.Cmp{Column: e.Column, Op: op, Value: e.Value}, nil
}

// ExprOf converts a predicate tree to wire form.
func ExprOf(p predicate.Expr) *Expr {
	switch n := p.(type) {
	case *predicate.Cmp:
		return &Expr{Op: n.Op.String(), Column: n.Column, Value: n.Value}
	case *predicate.And:
		return &Expr{Op: "and", Left: ExprOf(n.Left), Right: ExprOf(n.Right)}
	case *predicate.Or:
		return &Expr{Op: "or", Left: ExprOf(n.Left), Right: ExprOf(n.Right)}
	}
	return nil
}

// error codes carried in Response.Code
var errCodes = []struct {
	code string
	err  error
}{
	{"flush_abort", engine.ErrFlushAbort},
	{"invalid_predicate", engine.ErrInvalidPredicate},
	{"unknown_column", engine.ErrUnknownColumn},
	{"type_mismatch", engine.ErrTypeMismatch},
	{"value_too_long", engine.ErrValueTooLong},
	{"corruption", engine.ErrCorruption},
	{"table_not_found", engine.ErrTableNotFound},
	{"table_exists", engine.ErrTableExists},
	{"bad_table_name", engine.ErrBadTableName},
	{"bad_schema", engine.ErrBadSchema},
	{"database_closed", engine.ErrDatabaseClosed},
	{"bad_expression", ErrBadExpr},
	{"bad_operator", predicate.ErrBadOperator},
	{"unsupported_type", record.ErrUnsupportedType},
}

// CodeOf returns the wire code of err, or "" if it has none.
func CodeOf(err error) string {
	for _, c := range errCodes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return ""
}

// ErrorOf rebuilds an error from a response so errors.Is works client side.
func ErrorOf(code, msg string) error {
	for _, c := range errCodes {
		if c.code == code {
			return fmt.Errorf("%w (server: %s)", c.err, msg)
		}
	}
	return errors.New(msg)
}

// WireValue renders v for JSON. Binary values travel as strings.
func WireValue(v record.Value) any {
	if v.IsNull() {
		return nil
	}
	if v.Type() == record.ColBinary {
		return string(v.Bytes())
	}
	return v.Interface()
}
