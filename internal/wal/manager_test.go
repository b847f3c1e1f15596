package wal

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/tuannm99/novats/internal/predicate"
	"github.com/tuannm99/novats/internal/tombstone"
)

func openTestWAL(t *testing.T, fs afero.Fs) *Manager {
	t.Helper()
	m, err := Open(fs, "/db/tables/t1/wal", false)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func collect(t *testing.T, m *Manager) []Record {
	t.Helper()
	var out []Record
	require.NoError(t, m.Replay(func(r Record) error {
		out = append(out, r)
		return nil
	}))
	return out
}

func gens(t *testing.T, fs afero.Fs, dir string) []uint64 {
	t.Helper()
	out, err := listGens(fs, dir)
	require.NoError(t, err)
	return out
}

var errInjected = errors.New("injected fault")

// flakyFs fails opens of new log files, and writes that land half a buffer.
type flakyFs struct {
	afero.Fs
	failOpen  bool
	failWrite bool
}

type flakyFile struct {
	afero.File
	fs *flakyFs
}

func (f flakyFile) Write(p []byte) (int, error) {
	if !f.fs.failWrite {
		return f.File.Write(p)
	}
	n, _ := f.File.Write(p[:len(p)/2])
	return n, errInjected
}

func (f *flakyFs) OpenFile(name string, flag int, perm os.FileMode) (afero.File, error) {
	if f.failOpen {
		return nil, errInjected
	}
	file, err := f.Fs.OpenFile(name, flag, perm)
	if err != nil {
		return nil, err
	}
	return flakyFile{File: file, fs: f}, nil
}

func TestWAL_AppendReplay(t *testing.T) {
	fs := afero.NewMemMapFs()
	m := openTestWAL(t, fs)
	require.Equal(t, []uint64{1}, gens(t, fs, "/db/tables/t1/wal"))

	require.NoError(t, m.AppendInsert(1, []byte("row-1")))
	require.NoError(t, m.AppendInsert(2, []byte("row-2")))
	tomb := tombstone.Tombstone{Pred: predicate.Before(1537146000005), Seq: 3}
	require.NoError(t, m.AppendTombstones(tomb))

	recs := collect(t, m)
	require.Len(t, recs, 3)
	require.Equal(t, RecInsert, recs[0].Type)
	require.Equal(t, uint64(1), recs[0].Seq)
	require.Equal(t, []byte("row-1"), recs[0].Payload)
	require.Equal(t, uint64(2), recs[1].Seq)

	got, err := recs[2].Tombstone()
	require.NoError(t, err)
	require.Equal(t, tomb, got)

	_, err = recs[0].Tombstone()
	require.ErrorIs(t, err, ErrBadRecord)
}

func TestWAL_RotateAndRemove(t *testing.T) {
	fs := afero.NewMemMapFs()
	m := openTestWAL(t, fs)

	require.NoError(t, m.AppendInsert(1, []byte("a")))
	sealed, err := m.Rotate()
	require.NoError(t, err)
	require.Equal(t, uint64(1), sealed)
	require.Equal(t, []uint64{1, 2}, gens(t, fs, "/db/tables/t1/wal"))

	require.NoError(t, m.AppendInsert(2, []byte("b")))
	require.Len(t, collect(t, m), 2)

	require.NoError(t, m.RemoveThrough(sealed))
	recs := collect(t, m)
	require.Len(t, recs, 1)
	require.Equal(t, uint64(2), recs[0].Seq)

	// the live generation is never removed
	require.NoError(t, m.RemoveThrough(100))
	require.Len(t, collect(t, m), 1)
}

func TestWAL_TombstonesShareOneWrite(t *testing.T) {
	fs := afero.NewMemMapFs()
	m := openTestWAL(t, fs)
	lo := tombstone.Tombstone{Pred: predicate.Before(10), Seq: 4}
	hi := tombstone.Tombstone{Pred: predicate.After(10), Seq: 5}
	require.NoError(t, m.AppendTombstones(lo, hi))
	require.NoError(t, m.AppendTombstones())

	recs := collect(t, m)
	require.Len(t, recs, 2)
	for i, want := range []tombstone.Tombstone{lo, hi} {
		require.Equal(t, RecTombstone, recs[i].Type)
		require.Equal(t, want.Seq, recs[i].Seq)
		got, err := recs[i].Tombstone()
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
}

func TestWAL_FailedWriteLeavesNoTornRecord(t *testing.T) {
	fs := &flakyFs{Fs: afero.NewMemMapFs()}
	m, err := Open(fs, "/w", false)
	require.NoError(t, err)
	defer m.Close()

	require.NoError(t, m.AppendInsert(1, []byte("first")))
	fs.failWrite = true
	err = m.AppendTombstones(
		tombstone.Tombstone{Pred: predicate.Before(10), Seq: 2},
		tombstone.Tombstone{Pred: predicate.After(10), Seq: 3},
	)
	require.ErrorIs(t, err, errInjected)
	fs.failWrite = false

	require.NoError(t, m.AppendInsert(4, []byte("after")))
	recs := collect(t, m)
	require.Len(t, recs, 2)
	require.Equal(t, uint64(1), recs[0].Seq)
	require.Equal(t, uint64(4), recs[1].Seq)
	require.Equal(t, []byte("after"), recs[1].Payload)
}

func TestWAL_FailedRotateKeepsCurrentGeneration(t *testing.T) {
	fs := &flakyFs{Fs: afero.NewMemMapFs()}
	m, err := Open(fs, "/w", false)
	require.NoError(t, err)
	defer m.Close()
	require.NoError(t, m.AppendInsert(1, []byte("a")))

	fs.failOpen = true
	_, err = m.Rotate()
	require.ErrorIs(t, err, errInjected)
	require.NoError(t, m.AppendInsert(2, []byte("b")))
	require.Equal(t, []uint64{1}, gens(t, fs, "/w"))

	fs.failOpen = false
	sealed, err := m.Rotate()
	require.NoError(t, err)
	require.Equal(t, uint64(1), sealed)
	require.NoError(t, m.AppendInsert(3, []byte("c")))

	recs := collect(t, m)
	require.Len(t, recs, 3)
	for i, r := range recs {
		require.Equal(t, uint64(i+1), r.Seq)
	}
}

func TestWAL_ReopenStartsNewGeneration(t *testing.T) {
	fs := afero.NewMemMapFs()
	m, err := Open(fs, "/w", false)
	require.NoError(t, err)
	require.NoError(t, m.AppendInsert(7, []byte("x")))
	require.NoError(t, m.Close())
	require.ErrorIs(t, m.AppendInsert(8, nil), ErrClosed)

	m2, err := Open(fs, "/w", true)
	require.NoError(t, err)
	defer m2.Close()
	require.Equal(t, []uint64{1, 2}, gens(t, fs, "/w"))
	require.NoError(t, m2.AppendInsert(8, []byte("y")))

	recs := collect(t, m2)
	require.Len(t, recs, 2)
	require.Equal(t, uint64(7), recs[0].Seq)
	require.Equal(t, uint64(8), recs[1].Seq)
}

func TestWAL_TornTailIsIgnored(t *testing.T) {
	fs := afero.NewMemMapFs()
	m := openTestWAL(t, fs)
	require.NoError(t, m.AppendInsert(1, []byte("complete")))
	require.NoError(t, m.Close())

	path := filepath.Join("/db/tables/t1/wal", fileName(1))
	data, err := afero.ReadFile(fs, path)
	require.NoError(t, err)

	// append the first half of a second record
	m2, err := Open(afero.NewMemMapFs(), "/scratch", false)
	require.NoError(t, err)
	require.NoError(t, m2.AppendInsert(2, []byte("second")))
	require.NoError(t, m2.Close())
	second, err := afero.ReadFile(m2.fs, filepath.Join("/scratch", fileName(1)))
	require.NoError(t, err)
	require.NoError(t, afero.WriteFile(fs, path, append(data, second[:len(second)/2]...), 0o644))

	m3, err := Open(fs, "/db/tables/t1/wal", false)
	require.NoError(t, err)
	defer m3.Close()
	recs := collect(t, m3)
	require.Len(t, recs, 1)
	require.Equal(t, []byte("complete"), recs[0].Payload)
}

func TestWAL_CorruptRecordFails(t *testing.T) {
	fs := afero.NewMemMapFs()
	m := openTestWAL(t, fs)
	require.NoError(t, m.AppendInsert(1, []byte("payload")))
	require.NoError(t, m.Close())

	path := filepath.Join("/db/tables/t1/wal", fileName(1))
	data, err := afero.ReadFile(fs, path)
	require.NoError(t, err)
	data[len(data)-1] ^= 0xFF
	require.NoError(t, afero.WriteFile(fs, path, data, 0o644))

	err = m.Replay(func(Record) error { return nil })
	require.ErrorIs(t, err, ErrBadCRC)
}
