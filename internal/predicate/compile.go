package predicate

import (
	"fmt"
	"strings"

	"github.com/tuannm99/novats/internal/record"
)

// CompileDelete turns a delete filter into tombstone predicates, one per OR
// branch. A nil expression deletes everything. Any reference to a column other
// than the timestamp key fails with ErrInvalidPredicate before anything is
// compiled, so a mixed "ts = x AND col = y" is rejected as a whole.
func CompileDelete(e Expr, schema record.Schema) ([]TimePredicate, error) {
	if e == nil {
		return []TimePredicate{All()}, nil
	}
	tsName := schema.TsName()
	for _, col := range Columns(e) {
		if !strings.EqualFold(col, tsName) {
			return nil, fmt.Errorf("%w: %q in %s", ErrInvalidPredicate, col, e)
		}
	}
	preds, err := timeRanges(e)
	if err != nil {
		return nil, err
	}
	out := preds[:0]
	for _, p := range preds {
		if !p.Empty() {
			out = append(out, p)
		}
	}
	return out, nil
}

// timeRanges expands a timestamp-only expression into a union of intervals.
func timeRanges(e Expr) ([]TimePredicate, error) {
	switch n := e.(type) {
	case *Cmp:
		ts, err := tsLiteral(n)
		if err != nil {
			return nil, err
		}
		return fromCmp(n.Op, ts)
	case *Or:
		l, err := timeRanges(n.Left)
		if err != nil {
			return nil, err
		}
		r, err := timeRanges(n.Right)
		if err != nil {
			return nil, err
		}
		return append(l, r...), nil
	case *And:
		l, err := timeRanges(n.Left)
		if err != nil {
			return nil, err
		}
		r, err := timeRanges(n.Right)
		if err != nil {
			return nil, err
		}
		out := make([]TimePredicate, 0, len(l)*len(r))
		for _, a := range l {
			for _, b := range r {
				if x := a.Intersect(b); !x.Empty() {
					out = append(out, x)
				}
			}
		}
		return out, nil
	}
	return nil, fmt.Errorf("predicate: unsupported expression %T", e)
}

func tsLiteral(c *Cmp) (int64, error) {
	v, err := record.FromAny(record.ColTimestamp, c.Value)
	if err != nil {
		return 0, fmt.Errorf("predicate: %s: %w", c, err)
	}
	if v.IsNull() {
		return 0, fmt.Errorf("predicate: %s: %w: timestamp cannot be NULL", c, record.ErrTypeMismatch)
	}
	return v.Int64(), nil
}

// Filter is an expression bound to a schema: column names resolved and
// literals coerced to the column types.
type Filter struct {
	root   node
	bounds TimePredicate
}

type node interface {
	match(row record.Row) bool
}

type cmpNode struct {
	col int // schema position; 0 is the timestamp key
	op  Op
	lit record.Value
}

type andNode struct{ l, r node }
type orNode struct{ l, r node }

func (n andNode) match(row record.Row) bool { return n.l.match(row) && n.r.match(row) }
func (n orNode) match(row record.Row) bool  { return n.l.match(row) || n.r.match(row) }

func (n cmpNode) match(row record.Row) bool {
	var v record.Value
	if n.col == 0 {
		v = record.Timestamp(row.Ts)
	} else {
		v = row.Values[n.col-1]
	}
	// NULL never satisfies a comparison.
	if v.IsNull() || n.lit.IsNull() {
		return false
	}
	c, err := v.Compare(n.lit)
	if err != nil {
		return false
	}
	switch n.op {
	case OpEq:
		return c == 0
	case OpNe:
		return c != 0
	case OpLt:
		return c < 0
	case OpLe:
		return c <= 0
	case OpGt:
		return c > 0
	case OpGe:
		return c >= 0
	}
	return false
}

// Bind resolves e against schema. A nil expression yields a nil *Filter,
// which matches every row.
func Bind(e Expr, schema record.Schema) (*Filter, error) {
	if e == nil {
		return nil, nil
	}
	root, err := bind(e, schema)
	if err != nil {
		return nil, err
	}
	return &Filter{root: root, bounds: hull(e, schema.TsName())}, nil
}

func bind(e Expr, schema record.Schema) (node, error) {
	switch n := e.(type) {
	case *Cmp:
		pos := schema.ColIndex(n.Column)
		if pos < 0 {
			return nil, fmt.Errorf("%w: %q", ErrUnknownColumn, n.Column)
		}
		if _, ok := opNames[n.Op]; !ok {
			return nil, fmt.Errorf("%w: %v", ErrBadOperator, n.Op)
		}
		lit, err := record.FromAny(schema.Cols[pos].Type, n.Value)
		if err != nil {
			return nil, fmt.Errorf("predicate: %s: %w", n, err)
		}
		return cmpNode{col: pos, op: n.Op, lit: lit}, nil
	case *And:
		l, err := bind(n.Left, schema)
		if err != nil {
			return nil, err
		}
		r, err := bind(n.Right, schema)
		if err != nil {
			return nil, err
		}
		return andNode{l: l, r: r}, nil
	case *Or:
		l, err := bind(n.Left, schema)
		if err != nil {
			return nil, err
		}
		r, err := bind(n.Right, schema)
		if err != nil {
			return nil, err
		}
		return orNode{l: l, r: r}, nil
	}
	return nil, fmt.Errorf("predicate: unsupported expression %T", e)
}

// hull is a conservative timestamp interval containing every row e can match.
func hull(e Expr, tsName string) TimePredicate {
	switch n := e.(type) {
	case *Cmp:
		if !strings.EqualFold(n.Column, tsName) {
			return All()
		}
		ts, err := tsLiteral(n)
		if err != nil {
			return All()
		}
		preds, err := fromCmp(n.Op, ts)
		if err != nil || len(preds) != 1 {
			return All()
		}
		return preds[0]
	case *And:
		return hull(n.Left, tsName).Intersect(hull(n.Right, tsName))
	case *Or:
		l, r := hull(n.Left, tsName), hull(n.Right, tsName)
		switch {
		case l.Empty():
			return r
		case r.Empty():
			return l
		}
		return Between(min(l.Lo, r.Lo), max(l.Hi, r.Hi))
	}
	return All()
}

// Match reports whether row passes the filter. A nil filter matches all rows.
func (f *Filter) Match(row record.Row) bool {
	if f == nil {
		return true
	}
	return f.root.match(row)
}

// Bounds returns the timestamp interval outside of which Match is always false.
func (f *Filter) Bounds() TimePredicate {
	if f == nil {
		return All()
	}
	return f.bounds
}
