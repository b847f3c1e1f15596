package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/tuannm99/novats/internal"
	"github.com/tuannm99/novats/internal/engine"
	"github.com/tuannm99/novats/server/ntswire"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "novats: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) (err error) {
	fs := pflag.NewFlagSet("novats-server", pflag.ContinueOnError)
	configPath := fs.StringP("config", "c", "", "yaml config file")
	fs.String("workdir", "", "data directory (storage.workdir)")
	fs.String("addr", "", "listen address (server.addr)")
	fs.Bool("debug", false, "debug logging (server.debug)")
	fs.String("log-level", "", "log level (log.level)")
	fs.Bool("wal-sync", false, "fsync every WAL append (storage.wal_sync)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	v := internal.NewViper()
	for key, flag := range map[string]string{
		"storage.workdir":  "workdir",
		"server.addr":      "addr",
		"server.debug":     "debug",
		"log.level":        "log-level",
		"storage.wal_sync": "wal-sync",
	} {
		if err := v.BindPFlag(key, fs.Lookup(flag)); err != nil {
			return err
		}
	}
	if *configPath != "" {
		v.SetConfigFile(*configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config: %w", err)
		}
	}
	cfg, err := internal.Unmarshal(v)
	if err != nil {
		return err
	}

	logger, err := internal.NewLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	db, err := engine.Open(engine.OptionsFromConfig(cfg, logger))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer func() { err = multierr.Append(err, db.Close()) }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("starting",
		zap.String("workdir", cfg.Storage.Workdir),
		zap.String("addr", cfg.Server.Addr))
	if err := ntswire.NewServer(db, logger).Run(ctx, cfg.Server.Addr); err != nil {
		return err
	}

	// persist what is still buffered so the next start has no WAL to replay
	if ferr := db.FlushAll(context.Background()); ferr != nil {
		logger.Warn("flush on shutdown", zap.Error(ferr))
	}
	logger.Info("stopped")
	return nil
}
