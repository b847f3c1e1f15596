package predicate

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tuannm99/novats/internal/record"
)

func testSchema() record.Schema {
	return record.Schema{Cols: []record.Column{
		{Name: "ts", Type: record.ColTimestamp},
		{Name: "c1", Type: record.ColInt, Nullable: true},
		{Name: "c2", Type: record.ColNChar, Length: 20, Nullable: true},
	}}
}

func ts(op Op, v int64) Expr { return &Cmp{Column: "ts", Op: op, Value: v} }

func TestCompileDelete_TimeShapes(t *testing.T) {
	s := testSchema()
	const base = int64(1537146000000)

	cases := []struct {
		name string
		expr Expr
		want []TimePredicate
	}{
		{"nil deletes all", nil, []TimePredicate{All()}},
		{"eq", ts(OpEq, base), []TimePredicate{Point(base)}},
		{"lt", ts(OpLt, base), []TimePredicate{Before(base)}},
		{"le", ts(OpLe, base), []TimePredicate{AtOrBefore(base)}},
		{"gt", ts(OpGt, base+3), []TimePredicate{After(base + 3)}},
		{"ge", ts(OpGe, base), []TimePredicate{AtOrAfter(base)}},
		{"ne splits", ts(OpNe, base), []TimePredicate{Before(base), After(base)}},
		{"and becomes range", &And{ts(OpGe, base), ts(OpLe, base+5)}, []TimePredicate{Between(base, base+5)}},
		{"and collapses to point", &And{ts(OpGe, base), ts(OpLe, base)}, []TimePredicate{Point(base)}},
		{"or keeps both", &Or{ts(OpEq, base), ts(OpEq, base+9)}, []TimePredicate{Point(base), Point(base + 9)}},
		{"disjoint and is empty", &And{ts(OpLt, base), ts(OpGt, base)}, []TimePredicate{}},
		{"string literal", &Cmp{Column: "TS", Op: OpEq, Value: "1537146000000"}, []TimePredicate{Point(base)}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := CompileDelete(tc.expr, s)
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestCompileDelete_RejectsNonTimeColumns(t *testing.T) {
	s := testSchema()
	const base = int64(1537146000000)

	cases := []struct {
		name string
		expr Expr
	}{
		{"value column alone", &Cmp{Column: "c1", Op: OpEq, Value: 1}},
		{"ts and value", &And{ts(OpEq, base), &Cmp{Column: "c1", Op: OpEq, Value: 1}}},
		{"ts or value", &Or{ts(OpEq, base), &Cmp{Column: "c2", Op: OpEq, Value: "x"}}},
		{"unknown column", &Cmp{Column: "nope", Op: OpGt, Value: 0}},
		{"nested", &Or{ts(OpLt, base), &And{ts(OpGt, base), &Cmp{Column: "c1", Op: OpNe, Value: 2}}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := CompileDelete(tc.expr, s)
			require.ErrorIs(t, err, ErrInvalidPredicate)
		})
	}
}

func TestCompileDelete_BadLiteral(t *testing.T) {
	_, err := CompileDelete(&Cmp{Column: "ts", Op: OpEq, Value: "not-a-time"}, testSchema())
	require.ErrorIs(t, err, record.ErrTypeMismatch)

	_, err = CompileDelete(&Cmp{Column: "ts", Op: OpEq, Value: nil}, testSchema())
	require.ErrorIs(t, err, record.ErrTypeMismatch)
}

func TestTimePredicate_Bounds(t *testing.T) {
	require.True(t, Before(10).Matches(9))
	require.False(t, Before(10).Matches(10))
	require.True(t, AtOrBefore(10).Matches(10))
	require.False(t, After(10).Matches(10))
	require.True(t, AtOrAfter(10).Matches(10))
	require.True(t, Before(math.MinInt64).Empty())
	require.True(t, After(math.MaxInt64).Empty())

	p := Between(10, 20)
	require.True(t, p.Overlaps(20, 30))
	require.False(t, p.Overlaps(21, 30))
	require.True(t, p.Covers(12, 18))
	require.False(t, p.Covers(5, 18))

	require.Equal(t, "ts < 10", Before(10).String())
	require.Equal(t, "ts > 10", After(10).String())
	require.Equal(t, "ts in [10, 20]", p.String())
}

func TestBind_Match(t *testing.T) {
	s := testSchema()
	rows := []record.Row{
		{Ts: 1, Values: []record.Value{record.Int(10), record.NChar("a")}},
		{Ts: 2, Values: []record.Value{record.Int(20), record.NChar("b")}},
		{Ts: 3, Values: []record.Value{record.Null(record.ColInt), record.NChar("c")}},
	}

	matchTs := func(f *Filter) []int64 {
		var out []int64
		for _, r := range rows {
			if f.Match(r) {
				out = append(out, r.Ts)
			}
		}
		return out
	}

	f, err := Bind(nil, s)
	require.NoError(t, err)
	require.Equal(t, []int64{1, 2, 3}, matchTs(f))
	require.Equal(t, All(), f.Bounds())

	f, err = Bind(&Cmp{Column: "c1", Op: OpGe, Value: 10}, s)
	require.NoError(t, err)
	require.Equal(t, []int64{1, 2}, matchTs(f), "NULL never matches")

	f, err = Bind(&Cmp{Column: "c1", Op: OpNe, Value: 10}, s)
	require.NoError(t, err)
	require.Equal(t, []int64{2}, matchTs(f))

	f, err = Bind(&Or{&Cmp{Column: "c2", Op: OpEq, Value: "c"}, ts(OpLe, 1)}, s)
	require.NoError(t, err)
	require.Equal(t, []int64{1, 3}, matchTs(f))
	require.Equal(t, All(), f.Bounds(), "non-time branch widens the hull")

	f, err = Bind(&And{ts(OpGe, 2), &Cmp{Column: "c1", Op: OpLt, Value: 100}}, s)
	require.NoError(t, err)
	require.Equal(t, []int64{2}, matchTs(f))
	require.Equal(t, AtOrAfter(2), f.Bounds())
}

func TestBind_Errors(t *testing.T) {
	s := testSchema()

	_, err := Bind(&Cmp{Column: "missing", Op: OpEq, Value: 1}, s)
	require.ErrorIs(t, err, ErrUnknownColumn)

	_, err = Bind(&Cmp{Column: "c1", Op: Op(99), Value: 1}, s)
	require.ErrorIs(t, err, ErrBadOperator)

	_, err = Bind(&Cmp{Column: "c1", Op: OpEq, Value: "abc"}, s)
	require.ErrorIs(t, err, record.ErrTypeMismatch)
}

func TestParseOpAndColumns(t *testing.T) {
	for in, want := range map[string]Op{"=": OpEq, "==": OpEq, "<>": OpNe, "!=": OpNe, "<": OpLt, "<=": OpLe, ">": OpGt, ">=": OpGe} {
		got, err := ParseOp(in)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
	_, err := ParseOp("~")
	require.ErrorIs(t, err, ErrBadOperator)

	e := &And{ts(OpGt, 1), &Or{&Cmp{Column: "c1", Op: OpEq, Value: 1}, &Cmp{Column: "c2", Op: OpEq, Value: "x"}}}
	require.Equal(t, []string{"ts", "c1", "c2"}, Columns(e))
}
