package tsclient

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/tuannm99/novats/internal/engine"
	"github.com/tuannm99/novats/internal/predicate"
	"github.com/tuannm99/novats/internal/record"
	"github.com/tuannm99/novats/server/ntswire"
)

func startServer(t *testing.T) *Client {
	t.Helper()
	db, err := engine.Open(engine.Options{Workdir: "/srv", Fs: afero.NewMemMapFs()})
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ntswire.NewServer(db, nil).Serve(ctx, ln) }()

	c, err := Dial(ln.Addr().String(), time.Second)
	require.NoError(t, err)
	c.SetRWTimeout(5 * time.Second)

	t.Cleanup(func() {
		_ = c.Close()
		cancel()
		require.NoError(t, <-done)
		require.NoError(t, db.Close())
	})
	return c
}

func TestClient_EndToEnd(t *testing.T) {
	c := startServer(t)
	ctx := context.Background()

	require.NoError(t, c.CreateTable(ctx, "meters", []ntswire.ColumnDef{
		{Name: "ts", Type: "timestamp"},
		{Name: "current", Type: "double"},
		{Name: "id", Type: "bigint unsigned"},
		{Name: "loc", Type: "nchar(16)"},
		{Name: "tag", Type: "binary(8)"},
	}))
	tables, err := c.Tables(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"meters"}, tables)

	for i := int64(0); i < 10; i++ {
		require.NoError(t, c.Insert(ctx, "meters", 1537146000000+i, 10.5+float64(i), uint64(1)<<63+uint64(i), "北京", nil))
	}

	n, err := c.Delete(ctx, "meters", &predicate.Cmp{Column: "ts", Op: predicate.OpLt, Value: int64(1537146000003)})
	require.NoError(t, err)
	require.Equal(t, 3, n)

	info, err := c.Flush(ctx, "meters")
	require.NoError(t, err)
	require.False(t, info.Noop)
	require.Equal(t, 7, info.RowsWritten)

	res, err := c.Query(ctx, "meters", nil, nil)
	require.NoError(t, err)
	require.Len(t, res.Rows, 7)
	require.Equal(t, record.ColUBigInt, res.Columns[2].Type)

	first := res.Rows[0]
	require.True(t, first[0].Equal(record.Timestamp(1537146000003)))
	require.True(t, first[1].ApproxEqual(record.Double(13.5)))
	require.True(t, first[2].Equal(record.UBigInt(uint64(1)<<63+3)))
	require.True(t, first[3].Equal(record.NChar("北京")))
	require.True(t, first[4].IsNull())

	res, err = c.Query(ctx, "meters", []string{"ts"}, &predicate.Cmp{Column: "id", Op: predicate.OpEq, Value: uint64(1)<<63 + 9})
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)
	require.Equal(t, int64(1537146000009), res.Rows[0][0].Int64())

	require.NoError(t, c.ResetQueryCache(ctx))
	require.NoError(t, c.FlushAll(ctx))
	_, err = c.Compact(ctx, "meters")
	require.NoError(t, err)
	require.NoError(t, c.DropTable(ctx, "meters"))
}

func TestClient_ErrorsKeepTheirIdentity(t *testing.T) {
	c := startServer(t)
	ctx := context.Background()

	_, err := c.Query(ctx, "nope", nil, nil)
	require.ErrorIs(t, err, engine.ErrTableNotFound)

	require.NoError(t, c.CreateTable(ctx, "t", []ntswire.ColumnDef{{Name: "ts", Type: "timestamp"}, {Name: "v", Type: "tinyint"}}))
	err = c.Insert(ctx, "t", 1, 1000)
	require.ErrorIs(t, err, engine.ErrTypeMismatch)

	_, err = c.Delete(ctx, "t", &predicate.Cmp{Column: "v", Op: predicate.OpEq, Value: 1})
	require.ErrorIs(t, err, engine.ErrInvalidPredicate)

	err = c.CreateTable(ctx, "t", []ntswire.ColumnDef{{Name: "ts", Type: "timestamp"}, {Name: "v", Type: "int"}})
	require.ErrorIs(t, err, engine.ErrTableExists)
}

func TestClient_ContextDeadline(t *testing.T) {
	c := startServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	tables, err := c.Tables(ctx)
	require.NoError(t, err)
	require.Empty(t, tables)

	var nilClient *Client
	_, err = nilClient.Tables(context.Background())
	require.Error(t, err)
	require.NoError(t, nilClient.Close())
}
