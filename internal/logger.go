package internal

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger builds the process logger from the log section of cfg.
func NewLogger(cfg *NovaTSConfig) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, fmt.Errorf("log.level: %w", err)
	}

	var zc zap.Config
	switch strings.ToLower(cfg.Log.Format) {
	case "json":
		zc = zap.NewProductionConfig()
	case "console", "":
		zc = zap.NewDevelopmentConfig()
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	default:
		return nil, fmt.Errorf("log.format: unknown format %q", cfg.Log.Format)
	}
	if cfg.Server.Debug && lvl > zapcore.DebugLevel {
		lvl = zapcore.DebugLevel
	}
	zc.Level = zap.NewAtomicLevelAt(lvl)
	zc.DisableStacktrace = !cfg.Server.Debug

	logger, err := zc.Build()
	if err != nil {
		return nil, err
	}
	return logger.Named(cfg.AppName), nil
}
