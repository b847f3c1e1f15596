package predicate

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidPredicate is returned when a delete predicate references a
	// column other than the timestamp key, anywhere in the expression.
	ErrInvalidPredicate = errors.New("predicate: delete may only filter on the timestamp column")
	ErrUnknownColumn    = errors.New("predicate: unknown column")
	ErrBadOperator      = errors.New("predicate: bad operator")
)

// Op is a comparison operator.
type Op uint8

const (
	OpEq Op = iota + 1
	OpNe
	OpLt
	OpLe
	OpGt
	OpGe
)

var opNames = map[Op]string{OpEq: "=", OpNe: "!=", OpLt: "<", OpLe: "<=", OpGt: ">", OpGe: ">="}

func (o Op) String() string {
	if s, ok := opNames[o]; ok {
		return s
	}
	return fmt.Sprintf("op(%d)", uint8(o))
}

// ParseOp accepts =, ==, !=, <>, <, <=, >, >=.
func ParseOp(s string) (Op, error) {
	switch strings.TrimSpace(s) {
	case "=", "==":
		return OpEq, nil
	case "!=", "<>":
		return OpNe, nil
	case "<":
		return OpLt, nil
	case "<=":
		return OpLe, nil
	case ">":
		return OpGt, nil
	case ">=":
		return OpGe, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrBadOperator, s)
}

// Expr is a boolean filter over one table row.
type Expr interface {
	exprNode()
	String() string
}

// Cmp compares a column with a literal. Value is coerced to the column type
// when the expression is bound to a schema.
type Cmp struct {
	Column string
	Op     Op
	Value  any
}

type And struct{ Left, Right Expr }

type Or struct{ Left, Right Expr }

func (*Cmp) exprNode() {}
func (*And) exprNode() {}
func (*Or) exprNode()  {}

func (c *Cmp) String() string { return fmt.Sprintf("%s %s %v", c.Column, c.Op, c.Value) }
func (a *And) String() string { return "(" + a.Left.String() + " AND " + a.Right.String() + ")" }
func (o *Or) String() string  { return "(" + o.Left.String() + " OR " + o.Right.String() + ")" }

// Columns returns every column name referenced by e, in visit order.
func Columns(e Expr) []string {
	var out []string
	var walk func(Expr)
	walk = func(e Expr) {
		switch n := e.(type) {
		case *Cmp:
			out = append(out, n.Column)
		case *And:
			walk(n.Left)
			walk(n.Right)
		case *Or:
			walk(n.Left)
			walk(n.Right)
		}
	}
	if e != nil {
		walk(e)
	}
	return out
}
