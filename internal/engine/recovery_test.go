package engine

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/tuannm99/novats/internal/predicate"
	"github.com/tuannm99/novats/internal/record"
)

func reopen(t *testing.T, db *Database, opts Options) *Database {
	t.Helper()
	require.NoError(t, db.Close())
	next, err := Open(opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = next.Close() })
	return next
}

func TestRecovery_ReplaysUnflushedWrites(t *testing.T) {
	opts := Options{Workdir: t.TempDir()}
	db, err := Open(opts)
	require.NoError(t, err)

	createAllTypes(t, db, "stb")
	deleteRows(t, db, "stb", tsCmp(predicate.OpEq, 3))
	require.NoError(t, db.InsertRow("stb", baseTs+20, allTypeValues(20)))

	db = reopen(t, db, opts)
	require.Equal(t, []string{"stb"}, db.Tables())

	want := append(without(tsRange(0, rowNum), 3), baseTs+20)
	res := queryAll(t, db, "stb", nil)
	require.Equal(t, want, resultTs(res))
	for _, row := range res.Rows {
		requireRow(t, row, int(row[0].Int64()-baseTs))
	}

	st, err := db.Stats("stb")
	require.NoError(t, err)
	require.Equal(t, rowNum, st.ActiveRows)
	require.Equal(t, 1, st.Tombstones)

	flush(t, db, "stb")
	db = reopen(t, db, opts)
	require.Equal(t, want, resultTs(queryAll(t, db, "stb", nil)))
	st, _ = db.Stats("stb")
	require.Zero(t, st.ActiveRows)
	require.Zero(t, st.Tombstones)
	require.Equal(t, rowNum, st.SegmentRows)
}

func TestRecovery_TombstoneOverSegmentsSurvivesRestart(t *testing.T) {
	fs := afero.NewMemMapFs()
	opts := Options{Workdir: "/novats", Fs: fs}
	db, err := Open(opts)
	require.NoError(t, err)

	createAllTypes(t, db, "stb")
	flush(t, db, "stb")
	deleteRows(t, db, "stb", tsCmp(predicate.OpGt, 4))
	require.NoError(t, db.InsertRow("stb", baseTs+8, allTypeValues(88)))

	db = reopen(t, db, opts)
	res := queryAll(t, db, "stb", nil)
	require.Equal(t, append(tsRange(0, 5), baseTs+8), resultTs(res))
	require.True(t, record.Int(88).Equal(res.Rows[5][3]))

	// sequence numbers continue after the replayed ones
	deleteRows(t, db, "stb", tsCmp(predicate.OpEq, 8))
	require.Equal(t, tsRange(0, 5), resultTs(queryAll(t, db, "stb", nil)))
	flush(t, db, "stb")
	db = reopen(t, db, opts)
	require.Equal(t, tsRange(0, 5), resultTs(queryAll(t, db, "stb", nil)))
}

func TestRecovery_RemovesOrphanSegments(t *testing.T) {
	fs := afero.NewMemMapFs()
	opts := Options{Workdir: "/novats", Fs: fs}
	db, err := Open(opts)
	require.NoError(t, err)
	createAllTypes(t, db, "stb")
	flush(t, db, "stb")
	require.Len(t, segmentFiles(t, fs, "stb"), 1)

	orphan := filepath.Join("/novats/tables/stb/segments", "seg-leftover.seg")
	require.NoError(t, afero.WriteFile(fs, orphan, []byte("partial"), 0o644))

	db = reopen(t, db, opts)
	exists, err := afero.Exists(fs, orphan)
	require.NoError(t, err)
	require.False(t, exists)
	require.Len(t, queryAll(t, db, "stb", nil).Rows, rowNum)
}

func TestRecovery_CorruptSegmentFailsReadOnly(t *testing.T) {
	fs := afero.NewMemMapFs()
	db := newTestDB(t, fs)
	createAllTypes(t, db, "stb")
	flush(t, db, "stb")

	files := segmentFiles(t, fs, "stb")
	require.Len(t, files, 1)
	path := filepath.Join("/novats/tables/stb/segments", files[0])
	data, err := afero.ReadFile(fs, path)
	require.NoError(t, err)
	require.NoError(t, afero.WriteFile(fs, path, data[:len(data)-3], 0o644))

	db.ResetQueryCache()
	_, err = db.QueryRows(context.Background(), "stb", nil, nil)
	require.ErrorIs(t, err, ErrCorruption)

	// other tables and buffered rows are unaffected
	createAllTypes(t, db, "other")
	require.Len(t, queryAll(t, db, "other", nil).Rows, rowNum)
}
