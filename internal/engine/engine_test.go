package engine

import (
	"context"
	"fmt"
	"math"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/tuannm99/novats/internal/predicate"
	"github.com/tuannm99/novats/internal/record"
)

const (
	baseTs = int64(1537146000000)
	rowNum = 10
)

func newTestDB(t *testing.T, fs afero.Fs, mutate ...func(*Options)) *Database {
	t.Helper()
	opts := Options{Workdir: "/novats", Fs: fs}
	for _, m := range mutate {
		m(&opts)
	}
	db, err := Open(opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func allTypeColumns() []record.Column {
	return []record.Column{
		{Name: "ts", Type: record.ColTimestamp},
		{Name: "c1", Type: record.ColTinyInt, Nullable: true},
		{Name: "c2", Type: record.ColSmallInt, Nullable: true},
		{Name: "c3", Type: record.ColInt, Nullable: true},
		{Name: "c4", Type: record.ColBigInt, Nullable: true},
		{Name: "c5", Type: record.ColFloat, Nullable: true},
		{Name: "c6", Type: record.ColDouble, Nullable: true},
		{Name: "c7", Type: record.ColBool, Nullable: true},
		{Name: "c8", Type: record.ColBinary, Length: 20, Nullable: true},
		{Name: "c9", Type: record.ColNChar, Length: 20, Nullable: true},
		{Name: "c10", Type: record.ColUTinyInt, Nullable: true},
		{Name: "c11", Type: record.ColUSmallInt, Nullable: true},
		{Name: "c12", Type: record.ColUInt, Nullable: true},
		{Name: "c13", Type: record.ColUBigInt, Nullable: true},
	}
}

func allTypeValues(i int) []record.Value {
	return []record.Value{
		record.TinyInt(int8(i)),
		record.SmallInt(int16(i)),
		record.Int(int32(i)),
		record.BigInt(int64(i)),
		record.Float(float32(i) + 0.1),
		record.Double(float64(i) + 0.1),
		record.Bool(i%2 == 0),
		record.Binary([]byte(fmt.Sprintf("binary%d", i))),
		record.NChar(fmt.Sprintf("nchar_测试_%d", i)),
		record.UTinyInt(uint8(i)),
		record.USmallInt(uint16(i)),
		record.UInt(uint32(i)),
		record.UBigInt(uint64(i)),
	}
}

func createAllTypes(t *testing.T, db *Database, name string) {
	t.Helper()
	require.NoError(t, db.CreateTable(name, allTypeColumns()))
	for i := 0; i < rowNum; i++ {
		require.NoError(t, db.InsertRow(name, baseTs+int64(i), allTypeValues(i)))
	}
}

func queryAll(t *testing.T, db *Database, table string, expr predicate.Expr) *Result {
	t.Helper()
	res, err := db.QueryRows(context.Background(), table, nil, expr)
	require.NoError(t, err)
	return res
}

func resultTs(res *Result) []int64 {
	out := make([]int64, len(res.Rows))
	for i, r := range res.Rows {
		out[i] = r[0].Int64()
	}
	return out
}

func tsRange(from, to int) []int64 {
	out := []int64{}
	for i := from; i < to; i++ {
		out = append(out, baseTs+int64(i))
	}
	return out
}

// requireRow checks ts plus every value of row i as produced by allTypeValues.
func requireRow(t *testing.T, row []record.Value, i int) {
	t.Helper()
	require.Equal(t, baseTs+int64(i), row[0].Int64())
	want := allTypeValues(i)
	for c, v := range want {
		require.True(t, v.ApproxEqual(row[c+1]), "row %d column c%d: want %v got %v", i, c+1, v, row[c+1])
	}
}

func tsCmp(op predicate.Op, i int) predicate.Expr {
	return &predicate.Cmp{Column: "ts", Op: op, Value: baseTs + int64(i)}
}

func flush(t *testing.T, db *Database, table string) FlushStats {
	t.Helper()
	st, err := db.FlushTable(context.Background(), table)
	require.NoError(t, err)
	return st
}

func deleteRows(t *testing.T, db *Database, table string, expr predicate.Expr) int {
	t.Helper()
	n, err := db.DeleteRows(context.Background(), table, expr)
	require.NoError(t, err)
	return n
}

func TestRoundTrip_AllTypes(t *testing.T) {
	db := newTestDB(t, afero.NewMemMapFs())
	createAllTypes(t, db, "stb")

	check := func() {
		res := queryAll(t, db, "stb", nil)
		require.Len(t, res.Rows, rowNum)
		for i, row := range res.Rows {
			requireRow(t, row, i)
		}
	}
	check()
	flush(t, db, "stb")
	db.ResetQueryCache()
	check()
}

func TestDeleteAll_Idempotent(t *testing.T) {
	db := newTestDB(t, afero.NewMemMapFs())
	createAllTypes(t, db, "stb")

	require.Equal(t, rowNum, deleteRows(t, db, "stb", nil))
	require.Empty(t, queryAll(t, db, "stb", nil).Rows)

	require.Equal(t, 0, deleteRows(t, db, "stb", nil))
	flush(t, db, "stb")
	db.ResetQueryCache()
	require.Empty(t, queryAll(t, db, "stb", nil).Rows)

	require.Equal(t, 0, deleteRows(t, db, "stb", nil))
	flush(t, db, "stb")
	require.Empty(t, queryAll(t, db, "stb", nil).Rows)

	st, err := db.Stats("stb")
	require.NoError(t, err)
	require.Zero(t, st.SegmentRows)
	require.Zero(t, st.Tombstones)
}

func TestPointDeleteReinsert(t *testing.T) {
	db := newTestDB(t, afero.NewMemMapFs())
	createAllTypes(t, db, "stb")
	flush(t, db, "stb")

	for i := 0; i < rowNum; i++ {
		require.Equal(t, 1, deleteRows(t, db, "stb", tsCmp(predicate.OpEq, i)))
		require.Len(t, queryAll(t, db, "stb", nil).Rows, rowNum-1)

		// reinsert with the values of a different row; no flush in between
		require.NoError(t, db.InsertRow("stb", baseTs+int64(i), allTypeValues(i+100)))
		res := queryAll(t, db, "stb", tsCmp(predicate.OpEq, i))
		require.Len(t, res.Rows, 1)
		require.True(t, record.Int(int32(i+100)).Equal(res.Rows[0][3]))

		flush(t, db, "stb")
		db.ResetQueryCache()
		res = queryAll(t, db, "stb", tsCmp(predicate.OpEq, i))
		require.Len(t, res.Rows, 1)
		require.True(t, record.NChar(fmt.Sprintf("nchar_测试_%d", i+100)).Equal(res.Rows[0][9]))
		require.Len(t, queryAll(t, db, "stb", nil).Rows, rowNum)
	}
}

func TestRangeDelete_Monotonic(t *testing.T) {
	for _, op := range []predicate.Op{predicate.OpGt, predicate.OpGe} {
		t.Run(op.String(), func(t *testing.T) {
			db := newTestDB(t, afero.NewMemMapFs())
			createAllTypes(t, db, "stb")

			for i := rowNum - 1; i >= 0; i-- {
				deleteRows(t, db, "stb", tsCmp(op, i))
				keep := i + 1
				if op == predicate.OpGe {
					keep = i
				}
				require.Equal(t, tsRange(0, keep), resultTs(queryAll(t, db, "stb", nil)))

				flush(t, db, "stb")
				db.ResetQueryCache()
				res := queryAll(t, db, "stb", nil)
				require.Equal(t, tsRange(0, keep), resultTs(res))
				for j, row := range res.Rows {
					requireRow(t, row, j)
				}
			}
		})
	}
}

func TestRangeDelete_LessThan(t *testing.T) {
	db := newTestDB(t, afero.NewMemMapFs())
	createAllTypes(t, db, "stb")
	flush(t, db, "stb")

	for i := 1; i <= rowNum; i++ {
		require.Equal(t, 1, deleteRows(t, db, "stb", tsCmp(predicate.OpLt, i)))
		require.Equal(t, tsRange(i, rowNum), resultTs(queryAll(t, db, "stb", nil)))
	}
	flush(t, db, "stb")
	require.Empty(t, queryAll(t, db, "stb", nil).Rows)
}

func TestDeleteRows_RejectsNonTimePredicates(t *testing.T) {
	db := newTestDB(t, afero.NewMemMapFs())
	createAllTypes(t, db, "stb")

	exprs := []predicate.Expr{}
	for _, col := range allTypeColumns()[1:] {
		exprs = append(exprs,
			&predicate.Cmp{Column: col.Name, Op: predicate.OpEq, Value: 1},
			&predicate.And{Left: tsCmp(predicate.OpEq, 1), Right: &predicate.Cmp{Column: col.Name, Op: predicate.OpEq, Value: 1}},
			&predicate.Or{Left: tsCmp(predicate.OpEq, 1), Right: &predicate.Cmp{Column: col.Name, Op: predicate.OpEq, Value: 1}},
		)
	}
	for _, e := range exprs {
		_, err := db.DeleteRows(context.Background(), "stb", e)
		require.ErrorIs(t, err, ErrInvalidPredicate, e.String())
	}

	st, err := db.Stats("stb")
	require.NoError(t, err)
	require.Zero(t, st.Tombstones)
	require.Len(t, queryAll(t, db, "stb", nil).Rows, rowNum)
}

func TestDeleteRows_OutOfRangeLiteral(t *testing.T) {
	db := newTestDB(t, afero.NewMemMapFs())
	createAllTypes(t, db, "stb")
	flush(t, db, "stb")

	for _, v := range []any{float64(1e19), -1e19, 1.5, math.Inf(1), math.NaN()} {
		_, err := db.DeleteRows(context.Background(), "stb", &predicate.Cmp{Column: "ts", Op: predicate.OpGt, Value: v})
		require.ErrorIs(t, err, ErrTypeMismatch, "%v", v)
	}

	st, err := db.Stats("stb")
	require.NoError(t, err)
	require.Zero(t, st.Tombstones)
	flush(t, db, "stb")
	require.Len(t, queryAll(t, db, "stb", nil).Rows, rowNum)
}

func TestReadAfterFlush_EachType(t *testing.T) {
	cols := allTypeColumns()
	for c := 1; c < len(cols); c++ {
		col := cols[c]
		t.Run(col.Type.String(), func(t *testing.T) {
			db := newTestDB(t, afero.NewMemMapFs())
			require.NoError(t, db.CreateTable("t", []record.Column{cols[0], col}))
			for i := 0; i < rowNum; i++ {
				require.NoError(t, db.InsertRow("t", baseTs+int64(i), allTypeValues(i)[c-1:c]))
			}

			deleteRows(t, db, "t", tsCmp(predicate.OpEq, 3))
			flush(t, db, "t")
			db.ResetQueryCache()

			res := queryAll(t, db, "t", nil)
			require.Len(t, res.Rows, rowNum-1)
			for _, row := range res.Rows {
				i := int(row[0].Int64() - baseTs)
				require.NotEqual(t, 3, i)
				require.True(t, allTypeValues(i)[c-1].ApproxEqual(row[1]), "row %d: %v", i, row[1])
			}
		})
	}
}

func TestInsertRow_Validation(t *testing.T) {
	db := newTestDB(t, afero.NewMemMapFs())
	require.NoError(t, db.CreateTable("t", []record.Column{
		{Name: "ts", Type: record.ColTimestamp},
		{Name: "v", Type: record.ColInt},
		{Name: "s", Type: record.ColNChar, Length: 4, Nullable: true},
	}))

	err := db.InsertRow("t", baseTs, []record.Value{record.BigInt(1), record.NChar("a")})
	require.ErrorIs(t, err, ErrTypeMismatch)

	err = db.InsertRow("t", baseTs, []record.Value{record.Int(1)})
	require.ErrorIs(t, err, ErrTypeMismatch)

	err = db.InsertRow("t", baseTs, []record.Value{record.Null(record.ColInt), record.NChar("a")})
	require.Error(t, err)

	err = db.InsertRow("t", baseTs, []record.Value{record.Int(1), record.NChar("toolong")})
	require.ErrorIs(t, err, ErrValueTooLong)

	require.NoError(t, db.InsertRow("t", baseTs, []record.Value{record.Int(1), record.NChar("测试ab")}))
	require.NoError(t, db.InsertAny("t", "1537146000001", []any{2, nil}))
	require.ErrorIs(t, db.InsertAny("t", baseTs+2, []any{"x", nil}), ErrTypeMismatch)
	require.ErrorIs(t, db.InsertAny("t", nil, []any{1, nil}), ErrTypeMismatch)

	res := queryAll(t, db, "t", nil)
	require.Len(t, res.Rows, 2)
	require.True(t, res.Rows[1][2].IsNull())

	err = db.InsertRow("missing", baseTs, nil)
	require.ErrorIs(t, err, ErrTableNotFound)
}

func TestTables_CreateDrop(t *testing.T) {
	db := newTestDB(t, afero.NewMemMapFs())
	cols := allTypeColumns()[:3]

	require.ErrorIs(t, db.CreateTable("bad name", cols), ErrBadTableName)
	require.ErrorIs(t, db.CreateTable("t", cols[1:]), ErrBadSchema)
	require.NoError(t, db.CreateTable("b", cols))
	require.NoError(t, db.CreateTable("a", cols))
	require.ErrorIs(t, db.CreateTable("A", cols), ErrTableExists)
	require.Equal(t, []string{"a", "b"}, db.Tables())

	require.NoError(t, db.InsertRow("a", baseTs, allTypeValues(1)[:2]))
	flush(t, db, "a")
	require.NoError(t, db.DropTable("a"))
	require.ErrorIs(t, db.DropTable("a"), ErrTableNotFound)
	_, err := db.QueryRows(context.Background(), "a", nil, nil)
	require.ErrorIs(t, err, ErrTableNotFound)

	// recreated table starts empty
	require.NoError(t, db.CreateTable("a", cols))
	require.Empty(t, queryAll(t, db, "a", nil).Rows)
	require.Equal(t, []string{"a", "b"}, db.Tables())
}

func TestQueryRows_ProjectionAndFilter(t *testing.T) {
	db := newTestDB(t, afero.NewMemMapFs())
	createAllTypes(t, db, "stb")
	flush(t, db, "stb")
	require.NoError(t, db.InsertRow("stb", baseTs+20, allTypeValues(20)))

	res, err := db.QueryRows(context.Background(), "stb", []string{"c9", "ts"},
		&predicate.And{
			Left:  &predicate.Cmp{Column: "c3", Op: predicate.OpGe, Value: 5},
			Right: &predicate.Cmp{Column: "c7", Op: predicate.OpEq, Value: true},
		})
	require.NoError(t, err)
	require.Equal(t, []string{"c9", "ts"}, []string{res.Columns[0].Name, res.Columns[1].Name})
	got := []int64{}
	for _, r := range res.Rows {
		got = append(got, r[1].Int64()-baseTs)
	}
	require.Equal(t, []int64{6, 8, 20}, got)
	require.True(t, record.NChar("nchar_测试_20").Equal(res.Rows[2][0]))

	_, err = db.QueryRows(context.Background(), "stb", []string{"nope"}, nil)
	require.ErrorIs(t, err, ErrUnknownColumn)
}

func TestDatabase_Closed(t *testing.T) {
	db, err := Open(Options{Workdir: "/x", Fs: afero.NewMemMapFs()})
	require.NoError(t, err)
	require.NoError(t, db.Close())
	require.ErrorIs(t, db.Close(), ErrDatabaseClosed)
	require.ErrorIs(t, db.CreateTable("t", allTypeColumns()), ErrDatabaseClosed)
	_, err = db.QueryRows(context.Background(), "t", nil, nil)
	require.ErrorIs(t, err, ErrDatabaseClosed)
}
