package engine

import (
	"github.com/spf13/afero"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/tuannm99/novats/internal"
)

const (
	DefaultMaxSegments   = 8
	DefaultCacheCapacity = 256
	tracerName           = "github.com/tuannm99/novats/internal/engine"
)

type Options struct {
	Workdir string
	// Fs defaults to the OS filesystem.
	Fs     afero.Fs
	Logger *zap.Logger
	Tracer trace.Tracer

	// A flush that would leave more segments than this compacts the table
	// into a single segment.
	MaxSegments int
	// WALSync fsyncs the WAL after every record.
	WALSync bool
	// CacheCapacity <= 0 picks the default; use DisableCache to turn it off.
	CacheCapacity int
	DisableCache  bool
	// KeepCacheOnFlush skips invalidating a table's cached results after a
	// flush. Results stay correct because cache keys carry the data version.
	KeepCacheOnFlush bool
	// FlushParallelism bounds FlushAll; 0 means one goroutine per table.
	FlushParallelism int
}

// OptionsFromConfig maps the config file onto engine options.
func OptionsFromConfig(cfg *internal.NovaTSConfig, logger *zap.Logger) Options {
	return Options{
		Workdir:          cfg.Storage.Workdir,
		Logger:           logger,
		MaxSegments:      cfg.Storage.MaxSegments,
		WALSync:          cfg.Storage.WALSync,
		CacheCapacity:    cfg.Cache.Capacity,
		DisableCache:     cfg.Cache.Capacity <= 0,
		KeepCacheOnFlush: !cfg.Cache.InvalidateOnFlush,
	}
}

func (o Options) withDefaults() Options {
	if o.Fs == nil {
		o.Fs = afero.NewOsFs()
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.Tracer == nil {
		o.Tracer = otel.Tracer(tracerName)
	}
	if o.MaxSegments <= 0 {
		o.MaxSegments = DefaultMaxSegments
	}
	if o.CacheCapacity <= 0 {
		o.CacheCapacity = DefaultCacheCapacity
	}
	if o.DisableCache {
		o.CacheCapacity = 0
	}
	return o
}
