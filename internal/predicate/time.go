package predicate

import (
	"fmt"
	"math"
)

// TimeOp is the shape of a tombstone predicate.
type TimeOp uint8

const (
	TimeEq TimeOp = iota + 1
	TimeLt
	TimeLe
	TimeGt
	TimeGe
	TimeRange
)

// TimePredicate matches timestamps in the closed interval [Lo, Hi]. Op keeps
// the shape the predicate was written in; Lt/Gt are stored with their bound
// already moved inside the interval.
type TimePredicate struct {
	Op TimeOp `cbor:"1,keyasint"`
	Lo int64  `cbor:"2,keyasint"`
	Hi int64  `cbor:"3,keyasint"`
}

func Point(ts int64) TimePredicate { return TimePredicate{Op: TimeEq, Lo: ts, Hi: ts} }

func Before(ts int64) TimePredicate {
	if ts == math.MinInt64 {
		return empty(TimeLt)
	}
	return TimePredicate{Op: TimeLt, Lo: math.MinInt64, Hi: ts - 1}
}

func AtOrBefore(ts int64) TimePredicate {
	return TimePredicate{Op: TimeLe, Lo: math.MinInt64, Hi: ts}
}

func After(ts int64) TimePredicate {
	if ts == math.MaxInt64 {
		return empty(TimeGt)
	}
	return TimePredicate{Op: TimeGt, Lo: ts + 1, Hi: math.MaxInt64}
}

func AtOrAfter(ts int64) TimePredicate {
	return TimePredicate{Op: TimeGe, Lo: ts, Hi: math.MaxInt64}
}

// Between matches lo <= ts <= hi.
func Between(lo, hi int64) TimePredicate { return TimePredicate{Op: TimeRange, Lo: lo, Hi: hi} }

// All matches every timestamp.
func All() TimePredicate { return Between(math.MinInt64, math.MaxInt64) }

func empty(op TimeOp) TimePredicate { return TimePredicate{Op: op, Lo: 1, Hi: 0} }

func (p TimePredicate) Matches(ts int64) bool { return ts >= p.Lo && ts <= p.Hi }

func (p TimePredicate) Empty() bool { return p.Lo > p.Hi }

// Overlaps reports whether any timestamp in [minTs, maxTs] matches.
func (p TimePredicate) Overlaps(minTs, maxTs int64) bool {
	return !p.Empty() && p.Lo <= maxTs && minTs <= p.Hi
}

// Covers reports whether every timestamp in [minTs, maxTs] matches.
func (p TimePredicate) Covers(minTs, maxTs int64) bool {
	return !p.Empty() && p.Lo <= minTs && maxTs <= p.Hi
}

// Intersect narrows p by q and re-derives the shape from the bounds.
func (p TimePredicate) Intersect(q TimePredicate) TimePredicate {
	lo, hi := max(p.Lo, q.Lo), min(p.Hi, q.Hi)
	switch {
	case lo > hi:
		return empty(TimeRange)
	case lo == hi:
		return Point(lo)
	case lo == math.MinInt64 && hi != math.MaxInt64:
		return AtOrBefore(hi)
	case hi == math.MaxInt64 && lo != math.MinInt64:
		return AtOrAfter(lo)
	}
	return Between(lo, hi)
}

func (p TimePredicate) String() string {
	if p.Empty() {
		return "ts in {}"
	}
	switch p.Op {
	case TimeEq:
		return fmt.Sprintf("ts = %d", p.Lo)
	case TimeLt:
		return fmt.Sprintf("ts < %d", p.Hi+1)
	case TimeLe:
		return fmt.Sprintf("ts <= %d", p.Hi)
	case TimeGt:
		return fmt.Sprintf("ts > %d", p.Lo-1)
	case TimeGe:
		return fmt.Sprintf("ts >= %d", p.Lo)
	}
	if p.Lo == math.MinInt64 && p.Hi == math.MaxInt64 {
		return "ts in (-inf, +inf)"
	}
	return fmt.Sprintf("ts in [%d, %d]", p.Lo, p.Hi)
}

func fromCmp(op Op, ts int64) ([]TimePredicate, error) {
	switch op {
	case OpEq:
		return []TimePredicate{Point(ts)}, nil
	case OpLt:
		return []TimePredicate{Before(ts)}, nil
	case OpLe:
		return []TimePredicate{AtOrBefore(ts)}, nil
	case OpGt:
		return []TimePredicate{After(ts)}, nil
	case OpGe:
		return []TimePredicate{AtOrAfter(ts)}, nil
	case OpNe:
		return []TimePredicate{Before(ts), After(ts)}, nil
	}
	return nil, fmt.Errorf("%w: %v", ErrBadOperator, op)
}
