package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sourcegraph/conc/pool"
	"github.com/spf13/afero"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/tuannm99/novats/internal/cache"
	"github.com/tuannm99/novats/internal/predicate"
	"github.com/tuannm99/novats/internal/record"
)

var tableNameRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,191}$`)

// Database is a set of tables under one working directory.
type Database struct {
	opts Options
	log  *zap.Logger

	mu     sync.RWMutex
	tables map[string]*Table
	closed bool

	cache *cache.LRU[*Result]
}

// Open loads every table found under opts.Workdir, replaying WALs.
func Open(opts Options) (*Database, error) {
	opts = opts.withDefaults()
	db := &Database{
		opts:   opts,
		log:    opts.Logger,
		tables: make(map[string]*Table),
		cache:  cache.NewLRU[*Result](opts.CacheCapacity),
	}
	if err := opts.Fs.MkdirAll(db.tableDir(), 0o755); err != nil {
		return nil, err
	}

	entries, err := db.listTableDirs()
	if err != nil {
		return nil, err
	}
	for _, name := range entries {
		dir := filepath.Join(db.tableDir(), name)
		if !hasTableMeta(opts.Fs, dir) {
			continue
		}
		meta, err := readTableMeta(opts.Fs, dir)
		if err != nil {
			return nil, multierr.Append(fmt.Errorf("table %q: read meta: %w", name, err), db.closeTables())
		}
		t, err := openTable(dir, meta, opts)
		if err != nil {
			return nil, multierr.Append(err, db.closeTables())
		}
		db.tables[strings.ToLower(meta.Name)] = t
	}
	db.log.Info("database opened",
		zap.String("workdir", opts.Workdir),
		zap.Int("tables", len(db.tables)))
	return db, nil
}

func (db *Database) listTableDirs() ([]string, error) {
	infos, err := afero.ReadDir(db.opts.Fs, db.tableDir())
	if err != nil {
		return nil, err
	}
	var names []string
	for _, fi := range infos {
		if fi.IsDir() {
			names = append(names, fi.Name())
		}
	}
	return names, nil
}

func (db *Database) tableDir() string {
	return filepath.Join(db.opts.Workdir, "tables")
}

func (db *Database) closeTables() error {
	var err error
	for _, t := range db.tables {
		err = multierr.Append(err, t.close())
	}
	return err
}

// Close releases every table. Unflushed rows stay in the WAL and come back on
// the next Open.
func (db *Database) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return ErrDatabaseClosed
	}
	db.closed = true
	err := db.closeTables()
	db.cache.Purge()
	return err
}

func (db *Database) table(name string) (*Table, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if db.closed {
		return nil, ErrDatabaseClosed
	}
	t, ok := db.tables[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrTableNotFound, name)
	}
	return t, nil
}

// Tables lists table names in sorted order.
func (db *Database) Tables() []string {
	db.mu.RLock()
	defer db.mu.RUnlock()
	names := make([]string, 0, len(db.tables))
	for _, t := range db.tables {
		names = append(names, t.name)
	}
	sort.Strings(names)
	return names
}

func (db *Database) Schema(table string) (record.Schema, error) {
	t, err := db.table(table)
	if err != nil {
		return record.Schema{}, err
	}
	return t.schema, nil
}

func (db *Database) Stats(table string) (TableStats, error) {
	t, err := db.table(table)
	if err != nil {
		return TableStats{}, err
	}
	return t.stats(), nil
}

// CreateTable creates a table whose first column is the timestamp key.
func (db *Database) CreateTable(name string, columns []record.Column) error {
	if !tableNameRe.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrBadTableName, name)
	}
	schema := record.Schema{Cols: columns}
	if err := schema.Validate(); err != nil {
		return err
	}

	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return ErrDatabaseClosed
	}
	key := strings.ToLower(name)
	if _, ok := db.tables[key]; ok {
		return fmt.Errorf("%w: %q", ErrTableExists, name)
	}

	dir := filepath.Join(db.tableDir(), key)
	if hasTableMeta(db.opts.Fs, dir) {
		return fmt.Errorf("%w: %q has leftover files", ErrTableExists, name)
	}
	now := time.Now()
	meta := &TableMeta{Name: name, Schema: schema, CreatedAt: now}
	if err := writeTableMeta(db.opts.Fs, dir, meta); err != nil {
		return err
	}
	t, err := openTable(dir, meta, db.opts)
	if err != nil {
		_ = db.opts.Fs.RemoveAll(dir)
		return err
	}
	db.tables[key] = t
	db.log.Info("table created", zap.String("table", name), zap.Int("columns", len(columns)))
	return nil
}

// DropTable removes a table and all of its files.
func (db *Database) DropTable(name string) error {
	db.mu.Lock()
	if db.closed {
		db.mu.Unlock()
		return ErrDatabaseClosed
	}
	key := strings.ToLower(name)
	t, ok := db.tables[key]
	if !ok {
		db.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrTableNotFound, name)
	}
	delete(db.tables, key)
	db.mu.Unlock()

	// wait for an in-flight flush before removing its files
	t.flushMu.Lock()
	defer t.flushMu.Unlock()
	err := t.close()
	db.cache.InvalidateTable(t.name)
	if rmErr := db.opts.Fs.RemoveAll(t.dir); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
		err = multierr.Append(err, rmErr)
	}
	db.log.Info("table dropped", zap.String("table", t.name))
	return err
}

// InsertRow writes one row. values follow the non-timestamp columns in
// schema order and must carry exactly the column types.
func (db *Database) InsertRow(table string, ts int64, values []record.Value) error {
	t, err := db.table(table)
	if err != nil {
		return err
	}
	return t.insert(record.Row{Ts: ts, Values: values})
}

// InsertAny coerces loosely typed input, e.g. decoded JSON, to the column
// types before inserting.
func (db *Database) InsertAny(table string, ts any, values []any) error {
	t, err := db.table(table)
	if err != nil {
		return err
	}
	if len(values) != len(t.schema.Cols)-1 {
		return fmt.Errorf("%w: got %d values for %d columns", ErrTypeMismatch, len(values), len(t.schema.Cols)-1)
	}
	tsv, err := record.FromAny(record.ColTimestamp, ts)
	if err != nil {
		return fmt.Errorf("column %q: %w", t.schema.TsName(), err)
	}
	if tsv.IsNull() {
		return fmt.Errorf("%w: timestamp cannot be NULL", ErrTypeMismatch)
	}
	row := record.Row{Ts: tsv.Int64(), Values: make([]record.Value, len(values))}
	for i, in := range values {
		col := t.schema.Cols[i+1]
		v, err := record.FromAny(col.Type, in)
		if err != nil {
			return fmt.Errorf("column %q: %w", col.Name, err)
		}
		row.Values[i] = v
	}
	return t.insert(row)
}

// DeleteRows deletes the rows matching expr, which may only reference the
// timestamp column. A nil expr deletes every row. It returns the number of
// rows that were visible and are now deleted.
func (db *Database) DeleteRows(ctx context.Context, table string, expr predicate.Expr) (int, error) {
	t, err := db.table(table)
	if err != nil {
		return 0, err
	}
	preds, err := predicate.CompileDelete(expr, t.schema)
	if err != nil {
		return 0, err
	}
	n, err := t.delete(ctx, preds)
	if err != nil {
		return 0, err
	}
	db.log.Debug("rows deleted",
		zap.String("table", t.name),
		zap.Int("tombstones", len(preds)),
		zap.Int("rows", n))
	return n, nil
}

// FlushTable makes every write to table so far durable in segments and
// applies pending tombstones.
func (db *Database) FlushTable(ctx context.Context, table string) (FlushStats, error) {
	return db.flush(ctx, table, false)
}

// Compact flushes table and merges its segments into one.
func (db *Database) Compact(ctx context.Context, table string) (FlushStats, error) {
	return db.flush(ctx, table, true)
}

func (db *Database) flush(ctx context.Context, table string, compact bool) (st FlushStats, err error) {
	ctx, span := db.opts.Tracer.Start(ctx, "engine.FlushTable", trace.WithAttributes(
		attribute.String("table", table),
		attribute.Bool("compact", compact),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetAttributes(
				attribute.Int("rows_written", st.RowsWritten),
				attribute.Int("segments", st.Segments),
				attribute.Bool("noop", st.Noop))
		}
		span.End()
	}()

	t, err := db.table(table)
	if err != nil {
		return FlushStats{}, err
	}
	st, err = t.flush(ctx, compact)
	if err != nil {
		return st, err
	}
	if !st.Noop && !db.opts.KeepCacheOnFlush {
		db.cache.InvalidateTable(t.name)
	}
	return st, nil
}

// FlushAll flushes every table concurrently and reports every failure.
func (db *Database) FlushAll(ctx context.Context) error {
	base := pool.New()
	if db.opts.FlushParallelism > 0 {
		base = base.WithMaxGoroutines(db.opts.FlushParallelism)
	}
	p := base.WithErrors().WithContext(ctx)
	for _, name := range db.Tables() {
		name := name
		p.Go(func(ctx context.Context) error {
			_, err := db.FlushTable(ctx, name)
			if errors.Is(err, ErrTableNotFound) {
				return nil // dropped meanwhile
			}
			return err
		})
	}
	return p.Wait()
}

// ResetQueryCache drops every cached query result.
func (db *Database) ResetQueryCache() {
	n := db.cache.Purge()
	db.log.Debug("query cache reset", zap.Int("entries", n))
}

// CacheStats returns result-cache hit and miss counters.
func (db *Database) CacheStats() (hits, misses uint64) { return db.cache.Stats() }

// QueryRows returns the visible rows of table that match expr, ascending by
// timestamp, projected onto columns. Empty columns or "*" selects all. expr
// may reference any column; nil matches every row.
func (db *Database) QueryRows(ctx context.Context, table string, columns []string, expr predicate.Expr) (res *Result, err error) {
	ctx, span := db.opts.Tracer.Start(ctx, "engine.QueryRows", trace.WithAttributes(attribute.String("table", table)))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetAttributes(attribute.Int("rows", res.Len()))
		}
		span.End()
	}()

	t, err := db.table(table)
	if err != nil {
		return nil, err
	}
	proj, err := projection(t.schema, columns)
	if err != nil {
		return nil, err
	}
	filter, err := predicate.Bind(expr, t.schema)
	if err != nil {
		return nil, err
	}
	snap, release, err := t.snapshot(filter.Bounds())
	if err != nil {
		return nil, err
	}
	defer release()

	key := cache.Key{Table: t.name, Version: snap.version, Query: queryKey(proj, expr)}
	if cached, ok := db.cache.Get(key); ok {
		span.SetAttributes(attribute.Bool("cache_hit", true))
		return cached, nil
	}
	res, err = t.query(ctx, proj, filter, snap)
	if err != nil {
		return nil, err
	}
	db.cache.Put(key, res)
	return res, nil
}
